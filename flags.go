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
	"context"
	"sync"
)

// Flag bits of the station connection outcome.
type Flag uint32

// condition flags
const (
	FlagConnected Flag = 1 << iota // connected to the AP with an IP
	FlagFailed                     // failed after the maximum number of retries
)

// Flags is a set of independently settable boolean signals. Waiters
// block until any flag of a mask is set; flags are never cleared.
type Flags struct {
	mu      sync.Mutex
	bits    Flag
	changed chan struct{} // closed (and replaced) on every change
}

// NewFlags returns an empty flag set.
func NewFlags() *Flags {
	return &Flags{
		changed: make(chan struct{}),
	}
}

// Set flags and wake up all waiters.
func (f *Flags) Set(bits Flag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bits&bits == bits {
		return
	}
	f.bits |= bits
	close(f.changed)
	f.changed = make(chan struct{})
}

// Get the current flags.
func (f *Flags) Get() Flag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bits
}

// Wait until any flag in mask is set or ctx is done. Returns the flags
// set at the time the wait resolved.
func (f *Flags) Wait(ctx context.Context, mask Flag) (Flag, error) {
	for {
		f.mu.Lock()
		bits, ch := f.bits, f.changed
		f.mu.Unlock()
		if bits&mask != 0 {
			return bits, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return bits, ctx.Err()
		}
	}
}
