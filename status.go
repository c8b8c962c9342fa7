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
	"fmt"
	"sync/atomic"
	"time"
)

// status codes
const (
	StatUNK     = iota // unknown status (init)
	StatOK             // processing active
	StatDEV            // device failure
	StatCFG            // invalid configuration
	StatSTORE          // storage initialization failed
	StatWIFI           // can't connect to AP
	StatTIME           // no connection outcome before deadline
	StatDHCP1          // DHCP request failed
	StatDHCP2          // no DHCP reply
	StatPROBE          // TCP probe terminated
	StatAP             // can't start access point
	StatLISTEN1        // failed to create listener
	StatLISTEN2        // failed to initialize listener
	StatSRV            // can't serve status namespace
	StatEXCP           // exception (panic) occured
)

var statNames = []string{
	"UNK", "OK", "DEV", "CFG", "STORE", "WIFI", "TIME", "DHCP1", "DHCP2",
	"PROBE", "AP", "LISTEN1", "LISTEN2", "SRV", "EXCP",
}

// StatusName returns the name of a status code.
func StatusName(code int) string {
	if code < 0 || code >= len(statNames) {
		return fmt.Sprintf("STAT(%d)", code)
	}
	return statNames[code]
}

// Status handler.
// Show current status depending on hardware device.
type Status struct {
	dev    Device        // reference to device
	tick   time.Duration // blink time unit
	curr   atomic.Int32  // current state
	repeat atomic.Int32  // current repeat counter
}

// NewStatus creates a new status display
func NewStatus(dev Device) (state *Status) {
	state = new(Status)
	state.dev = dev
	state.tick = 50 * time.Millisecond
	state.curr.Store(StatOK)
	return
}

// Run the status display until ctx is done:
// blink LED <state>; <repeat> times. The display must outlive the
// application it reports on, so ctx is usually the process context.
func (state *Status) Run(ctx context.Context) error {
	pause := func(d time.Duration) bool {
		return sleep(ctx, d) == nil
	}
	blink := func(on, off time.Duration) bool {
		state.dev.LED(true)
		ok := pause(on)
		state.dev.LED(false)
		return ok && pause(off)
	}
	for {
		if !pause(100 * state.tick) {
			return ctx.Err()
		}
		num := state.curr.Load()
		for num > 5 {
			if !blink(20*state.tick, 6*state.tick) {
				return ctx.Err()
			}
			num -= 5
		}
		for i := int32(0); i < num; i++ {
			if !blink(3*state.tick, 3*state.tick) {
				return ctx.Err()
			}
		}
		if state.repeat.Add(-1) == 0 {
			state.curr.Store(StatOK)
		}
	}
}

// Set status and repeat <num> times (0 = forever).
func (state *Status) Set(flag, num int) {
	if state != nil {
		state.curr.Store(int32(flag))
		state.repeat.Store(int32(num))
	}
}

// Get current state and repeat counter
func (state *Status) Get() (int, int) {
	return int(state.curr.Load()), int(state.repeat.Load())
}

// Trap critical failures (panic)
func (state *Status) Trap(t time.Duration) {
	s, _ := state.Get()
	if r := recover(); r != nil {
		fmt.Printf("EXCP: %v\n", r)
		if s == StatOK {
			state.Set(StatEXCP, 0)
		}
	} else if s == StatOK {
		state.Set(StatUNK, 0)
	}
	time.Sleep(t)
}
