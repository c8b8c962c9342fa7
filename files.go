//----------------------------------------------------------------------
// This file is part of wifiprobe.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifiprobe is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifiprobe is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifiprobe

// File interface for file handler implementations:
// The interface method is called by the 9p protocol handler on demand.
// The implementation is free to handle the read calls according
// to its own logic.
type File interface {
	Read() ([]byte, error)
}

//----------------------------------------------------------------------

// TextFile with (small) static text content.
type TextFile struct {
	body string
}

// NewTextFile with given text content.
func NewTextFile(content string) *TextFile {
	return &TextFile{
		body: content,
	}
}

// Read implementation: return file content.
func (f *TextFile) Read() ([]byte, error) {
	return []byte(f.body), nil
}

//----------------------------------------------------------------------

// FuncFile content is returned by a function.
type FuncFile struct {
	fcn func() ([]byte, error)
}

// NewFuncFile with specified function.
func NewFuncFile(fcn func() ([]byte, error)) *FuncFile {
	return &FuncFile{
		fcn: fcn,
	}
}

// NewLineFile returns a line of text produced by a function.
func NewLineFile(fcn func() string) *FuncFile {
	return NewFuncFile(func() ([]byte, error) {
		return []byte(fcn() + "\n"), nil
	})
}

// Read implementation: return file content.
func (f *FuncFile) Read() ([]byte, error) {
	return f.fcn()
}
