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
	"sync/atomic"
)

var errBusy = errors.New("connect attempt in progress")

// Device is a hardware abstraction
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)
}

// Station is the WiFi client side of a device.
type Station interface {
	Connector
	// StartStation brings up the client interface; the platform then
	// reports EvStaStart.
	StartStation(cfg StationConfig) error
	// Events delivers station events.
	Events() <-chan Event
}

// StationDevice can join an AP and open TCP connections.
type StationDevice interface {
	Device
	Station
	Dialer
}

// APDevice can run a soft access point.
type APDevice interface {
	Device
	AccessPoint
}

//----------------------------------------------------------------------

// attempt runs at most one connect attempt at a time.
type attempt struct {
	busy atomic.Bool
}

// start runs the attempt in the background. The outcome is reported
// after the guard is released, so report may start the next attempt.
func (a *attempt) start(run func() Event, report func(Event)) error {
	if !a.busy.CompareAndSwap(false, true) {
		return errBusy
	}
	go func() {
		ev := run()
		a.busy.Store(false)
		report(ev)
	}()
	return nil
}
