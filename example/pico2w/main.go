//go:build tinygo

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

package main

import (
	"context"
	"log/slog"
	"machine"
	"strconv"
	"time"

	"github.com/bfix/wifiprobe"
)

// Build settings (set with -ldflags "-X main.SSID=...")
var (
	Mode      string // "sta" (default) or "ap"
	SSID      string
	Passwd    string
	Host      string
	IP        string
	Port      string // 9p status port
	ProbeHost string
	ProbePort string
	Retries   string
)

// run the station (or report AP mode as failed)
func main() {
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	time.Sleep(2 * time.Second)

	cfg := wifiprobe.DefaultConfig()
	if len(Mode) > 0 {
		cfg.Mode = Mode
	}
	if len(SSID) > 0 {
		cfg.Station.SSID, cfg.Station.Password = SSID, Passwd
		cfg.AP.SSID, cfg.AP.Password = SSID, Passwd
	}
	if len(Host) > 0 {
		cfg.Station.Hostname = Host
	}
	cfg.Station.RequestedIP = IP
	if len(ProbeHost) > 0 {
		cfg.Probe.Host = ProbeHost
	}
	if p, err := strconv.ParseUint(ProbePort, 10, 16); err == nil {
		cfg.Probe.Port = uint16(p)
	}
	if n, err := strconv.Atoi(Retries); err == nil {
		cfg.Station.MaxRetries = n
	}
	cfg.Status.Listen = ":564"
	if len(Port) > 0 {
		cfg.Status.Listen = ":" + Port
	}

	dev, err := wifiprobe.InitDevice(logger)
	if err != nil {
		logger.Error("device init failed", slog.String("err", err.Error()))
		return
	}
	app := wifiprobe.NewApp(cfg, dev, logger)
	state := app.Status()
	go state.Run(context.Background())
	defer state.Trap(30 * time.Second)

	if err = app.Boot(new(wifiprobe.NopStorage)); err != nil {
		logger.Error("boot failed", slog.String("err", err.Error()))
		return
	}
	if err = app.Run(context.Background()); err != nil {
		logger.Error("terminated", slog.String("err", err.Error()))
	}
	// srv tcp!<host>!9fs probe
	// mount /srv/probe /n/probe
	// cat /n/probe/probe/stats
}
