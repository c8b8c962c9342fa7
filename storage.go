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

import (
	"errors"
	"log/slog"
)

// Error messages
var (
	ErrNoFreePages = errors.New("storage has no free pages")
	ErrNewVersion  = errors.New("storage contains data in a new format")
)

// Storage is the persistent key-value storage of a device.
type Storage interface {
	Init() error
	Erase() error
}

// InitStorage initializes the device storage. If the storage is full or
// has an incompatible layout it is erased and initialized again.
func InitStorage(s Storage, logger *slog.Logger) error {
	err := s.Init()
	if errors.Is(err, ErrNoFreePages) || errors.Is(err, ErrNewVersion) {
		orDiscard(logger).Warn("erasing storage", slog.String("err", err.Error()))
		if err = s.Erase(); err != nil {
			return err
		}
		err = s.Init()
	}
	return err
}

// NopStorage is used on devices without persistent storage.
type NopStorage struct{}

// Init does nothing
func (s *NopStorage) Init() error { return nil }

// Erase does nothing
func (s *NopStorage) Erase() error { return nil }
