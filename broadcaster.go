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
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Error messages
var (
	ErrUnsupported = errors.New("not supported by device")
)

// AccessPoint is the soft-AP side of a device.
type AccessPoint interface {
	// StartAP brings up the access point with the given configuration.
	StartAP(cfg APConfig) error
	// Events delivers station join/leave events.
	Events() <-chan Event
}

// StationInfo is an entry in the table of associated stations.
type StationInfo struct {
	MAC string
	AID uint16
}

// Broadcaster logs stations joining and leaving the access point and
// keeps track of the associated stations.
type Broadcaster struct {
	cfg APConfig
	log *slog.Logger

	mu       sync.Mutex
	stations map[string]uint16 // MAC -> AID
}

// NewBroadcaster creates a broadcaster for the given AP configuration.
func NewBroadcaster(cfg APConfig, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		cfg:      cfg,
		log:      orDiscard(logger),
		stations: make(map[string]uint16),
	}
}

// Start the access point and log its configuration.
func (b *Broadcaster) Start(ap AccessPoint) error {
	if err := b.cfg.Validate(); err != nil {
		return err
	}
	if err := ap.StartAP(b.cfg); err != nil {
		return fmt.Errorf("start AP: %w", err)
	}
	b.log.Info("wifi_init_softap finished.",
		slog.String("ssid", b.cfg.SSID),
		slog.Int("passlen", len(b.cfg.Password)),
		slog.Int("channel", b.cfg.Channel),
		slog.String("auth", b.cfg.Auth.String()),
	)
	return nil
}

// Handle a platform event. Events other than station join/leave are
// ignored.
func (b *Broadcaster) Handle(ev Event) {
	mac := ev.MAC.String()
	b.mu.Lock()
	defer b.mu.Unlock()
	switch ev.Kind {
	case EvAPStaJoined:
		b.log.Info(fmt.Sprintf("station %s join, AID=%d", mac, ev.AID))
		b.stations[mac] = ev.AID
		if len(b.stations) > b.cfg.MaxStations {
			b.log.Warn("more stations than configured", slog.Int("stations", len(b.stations)), slog.Int("max", b.cfg.MaxStations))
		}
	case EvAPStaLeft:
		b.log.Info(fmt.Sprintf("station %s leave, AID=%d", mac, ev.AID))
		delete(b.stations, mac)
	}
}

// Run feeds events from the channel into the broadcaster until the
// channel is closed or ctx is done.
func (b *Broadcaster) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.Handle(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stations returns the associated stations sorted by AID.
func (b *Broadcaster) Stations() []StationInfo {
	b.mu.Lock()
	list := make([]StationInfo, 0, len(b.stations))
	for mac, aid := range b.stations {
		list = append(list, StationInfo{MAC: mac, AID: aid})
	}
	b.mu.Unlock()
	slices.SortFunc(list, func(a, b StationInfo) int {
		if a.AID != b.AID {
			return int(a.AID) - int(b.AID)
		}
		return strings.Compare(a.MAC, b.MAC)
	})
	return list
}
