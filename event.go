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
	"fmt"
	"net"
	"net/netip"
)

// EventKind identifies a platform network event.
type EventKind int

// event kinds delivered by the platform
const (
	EvStaStart        EventKind = iota // station interface started
	EvStaDisconnected                  // station lost (or failed to get) an AP link
	EvStaGotIP                         // station acquired an IP address
	EvAPStaJoined                      // a station joined our access point
	EvAPStaLeft                        // a station left our access point
)

// String returns a human-readable event name.
func (k EventKind) String() string {
	switch k {
	case EvStaStart:
		return "STA_START"
	case EvStaDisconnected:
		return "STA_DISCONNECTED"
	case EvStaGotIP:
		return "STA_GOT_IP"
	case EvAPStaJoined:
		return "AP_STACONNECTED"
	case EvAPStaLeft:
		return "AP_STADISCONNECTED"
	}
	return fmt.Sprintf("EVENT(%d)", int(k))
}

// Event from the network platform. Only the fields relevant to the
// event kind are set.
type Event struct {
	Kind   EventKind
	IP     netip.Addr       // EvStaGotIP
	MAC    net.HardwareAddr // EvAPStaJoined, EvAPStaLeft
	AID    uint16           // EvAPStaJoined, EvAPStaLeft
	Reason uint8            // EvStaDisconnected
}

// Handler reacts to platform events.
type Handler interface {
	Handle(ev Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev Event)

// Handle calls f(ev).
func (f HandlerFunc) Handle(ev Event) {
	f(ev)
}

//----------------------------------------------------------------------

// ConnState of the station connection.
type ConnState int

// connection states
const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the state name
func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	}
	return "INVALID"
}
