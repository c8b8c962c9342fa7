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
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Error messages
var (
	ErrWifiFailed = errors.New("failed to connect to AP")
)

// Connector issues a single (asynchronous) connect attempt to the AP.
// The outcome is reported later as EvStaDisconnected or EvStaGotIP.
type Connector interface {
	Connect() error
}

// Manager drives the station connection: it reacts to platform events,
// retries a failed connection up to a maximum number of times and
// signals the final outcome through condition flags.
type Manager struct {
	sta        Connector
	maxRetries int
	log        *slog.Logger

	mu      sync.Mutex
	state   ConnState
	retries int
	addr    string
	flags   *Flags
}

// NewManager creates a connection manager for the given station.
func NewManager(sta Connector, maxRetries int, logger *slog.Logger) *Manager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Manager{
		sta:        sta,
		maxRetries: maxRetries,
		log:        orDiscard(logger),
		state:      StateIdle,
		flags:      NewFlags(),
	}
}

// Handle a platform event. Safe for concurrent use.
func (m *Manager) Handle(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Kind {
	case EvStaStart:
		m.state = StateConnecting
		m.connect()

	case EvStaDisconnected:
		if m.state == StateFailed {
			return
		}
		if m.retries < m.maxRetries {
			m.state = StateConnecting
			m.connect()
			m.retries++
			m.log.Info("retry to connect to the AP", slog.Int("retry", m.retries), slog.Int("max", m.maxRetries))
		} else {
			m.state = StateFailed
			m.flags.Set(FlagFailed)
		}
		m.log.Info("connect to the AP fail", slog.Int("reason", int(ev.Reason)))

	case EvStaGotIP:
		m.addr = ev.IP.String()
		m.log.Info("got ip", slog.String("ip", m.addr))
		m.retries = 0
		m.state = StateConnected
		m.flags.Set(FlagConnected)
	}
}

// issue a connect attempt; caller holds the lock.
func (m *Manager) connect() {
	if err := m.sta.Connect(); err != nil {
		m.log.Error("connect attempt failed", slog.String("err", err.Error()))
	}
}

// Run feeds events from the channel into the manager until the channel
// is closed or ctx is done.
func (m *Manager) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.Handle(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Wait blocks until the station is either connected or has failed
// permanently. FlagConnected takes precedence over FlagFailed.
func (m *Manager) Wait(ctx context.Context) (Flag, error) {
	bits, err := m.flags.Wait(ctx, FlagConnected|FlagFailed)
	if err != nil {
		return 0, err
	}
	if bits&FlagConnected != 0 {
		return FlagConnected, nil
	}
	return FlagFailed, nil
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries returns the current retry counter.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Addr returns the last acquired IP address (or an empty string).
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Flags returns the condition flags of the manager.
func (m *Manager) Flags() *Flags {
	return m.flags
}

// return a logger that does no logging if none is given.
func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127), // Make temporary logger that does no logging.
		}))
	}
	return logger
}
