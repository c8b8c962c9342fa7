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
	"log/slog"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Listener is implemented by devices that accept TCP connections.
type Listener interface {
	SetupListener(listen string) (net.Listener, int)
}

// App is the device application: either a station running the TCP
// probe or an access point logging its stations.
type App struct {
	cfg    *Config
	dev    Device
	log    *slog.Logger
	status *Status
	boots  uint64

	sta StationDevice
	ap  APDevice

	Manager     *Manager     // station connection (nil if not a station)
	Probe       *Probe       // TCP probe (nil if not a station)
	Broadcaster *Broadcaster // AP station log (nil if not an AP)
}

// NewApp creates the application for a device. The components are
// chosen by the capabilities of the device.
func NewApp(cfg *Config, dev Device, logger *slog.Logger) *App {
	app := &App{
		cfg:    cfg,
		dev:    dev,
		log:    orDiscard(logger),
		status: NewStatus(dev),
	}
	if sta, ok := dev.(StationDevice); ok {
		app.sta = sta
		app.Manager = NewManager(sta, cfg.Station.MaxRetries, app.log.With("comp", "wifi"))
		app.Probe = NewProbe(sta, cfg.Probe, app.log.With("comp", "probe"))
	}
	if ap, ok := dev.(APDevice); ok {
		app.ap = ap
		app.Broadcaster = NewBroadcaster(cfg.AP, app.log.With("comp", "ap"))
	}
	return app
}

// Status display of the application.
func (app *App) Status() *Status {
	return app.status
}

// Boot initializes the device storage. Storage errors are fatal.
func (app *App) Boot(s Storage) error {
	if err := InitStorage(s, app.log); err != nil {
		app.status.Set(StatSTORE, 0)
		return fmt.Errorf("init storage: %w", err)
	}
	if b, ok := s.(interface{ Boots() uint64 }); ok {
		app.boots = b.Boots()
	}
	return nil
}

// Run the application in the configured mode until ctx is done or a
// component fails. The status display is not part of Run; see
// Status.Run.
func (app *App) Run(ctx context.Context) error {
	if err := app.cfg.Validate(); err != nil {
		app.status.Set(StatCFG, 0)
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		switch app.cfg.Mode {
		case ModeAP:
			app.log.Info("ESP_WIFI_MODE_AP")
			return app.runAP(ctx, g)
		default:
			app.log.Info("ESP_WIFI_MODE_STA")
			return app.runStation(ctx, g)
		}
	})
	return g.Wait()
}

// bring up the station, wait for the connection and run the probe.
func (app *App) runStation(ctx context.Context, g *errgroup.Group) error {
	if app.sta == nil {
		app.status.Set(StatDEV, 0)
		return fmt.Errorf("station mode: %w", ErrUnsupported)
	}
	g.Go(func() error {
		return app.Manager.Run(ctx, app.sta.Events())
	})
	if err := app.sta.StartStation(app.cfg.Station); err != nil {
		app.status.Set(StatDEV, 0)
		return fmt.Errorf("start station: %w", err)
	}

	wctx, cancel := ctx, context.CancelFunc(func() {})
	if t := app.cfg.Station.ConnectTimeout; t > 0 {
		wctx, cancel = context.WithTimeout(ctx, t)
	}
	flag, err := app.Manager.Wait(wctx)
	cancel()
	ssid := slog.String("ssid", app.cfg.Station.SSID)
	if err != nil {
		if ctx.Err() == nil {
			app.status.Set(StatTIME, 0)
			app.log.Error("no connection outcome", ssid, slog.String("err", err.Error()))
		}
		return fmt.Errorf("wait for connection: %w", err)
	}
	if flag == FlagFailed {
		app.status.Set(StatWIFI, 0)
		app.log.Info("Failed to connect to", ssid)
		return ErrWifiFailed
	}
	app.log.Info("connected to ap", ssid)

	app.serveStatus(ctx, g)
	if err = app.Probe.Run(ctx); err != nil && ctx.Err() == nil {
		app.status.Set(StatPROBE, 0)
	}
	return err
}

// start the access point and log station events.
func (app *App) runAP(ctx context.Context, g *errgroup.Group) error {
	if app.ap == nil {
		app.status.Set(StatDEV, 0)
		return fmt.Errorf("AP mode: %w", ErrUnsupported)
	}
	if err := app.Broadcaster.Start(app.ap); err != nil {
		app.status.Set(StatAP, 0)
		return err
	}
	app.serveStatus(ctx, g)
	return app.Broadcaster.Run(ctx, app.ap.Events())
}

// serve the status namespace if configured. Failures are not fatal.
func (app *App) serveStatus(ctx context.Context, g *errgroup.Group) {
	listen := app.cfg.Status.Listen
	if len(listen) == 0 {
		return
	}
	dev, ok := app.dev.(Listener)
	if !ok {
		app.log.Warn("device can't serve status namespace")
		return
	}
	lst, state := dev.SetupListener(listen)
	if state != StatOK {
		app.status.Set(state, 3)
		app.log.Error("status listener failed", slog.String("listen", listen), slog.String("stat", StatusName(state)))
		return
	}
	ns, err := app.Namespace()
	if err != nil {
		lst.Close()
		app.status.Set(StatSRV, 3)
		return
	}
	app.log.Info("serving status namespace", slog.String("listen", lst.Addr().String()))
	g.Go(func() error {
		if err := ns.Serve(ctx, lst, app.log.With("comp", "9p")); err != nil && ctx.Err() == nil {
			app.status.Set(StatSRV, 3)
			app.log.Error("status namespace", slog.String("err", err.Error()))
		}
		return nil
	})
}

// Namespace builds the status filesystem of the application.
func (app *App) Namespace() (*Namespace, error) {
	ns := NewNamespace(app.cfg.Status.User, app.cfg.Status.Group)
	type file struct {
		path string
		impl File
	}
	line := func(p string, fcn func() string) file {
		return file{p, NewLineFile(fcn)}
	}
	files := []file{
		line("/status", func() string { s, _ := app.status.Get(); return StatusName(s) }),
		{"/mode", NewTextFile(app.cfg.Mode + "\n")},
		line("/sys/boots", func() string { return strconv.FormatUint(app.boots, 10) }),
	}
	if m := app.Manager; m != nil {
		files = append(files,
			line("/wifi/state", func() string { return m.State().String() }),
			line("/wifi/retries", func() string { return strconv.Itoa(m.Retries()) }),
			line("/wifi/ip", m.Addr),
		)
	}
	if p := app.Probe; p != nil {
		files = append(files,
			line("/probe/stats", func() string {
				s := p.Stats()
				return fmt.Sprintf("rounds %d\nsent %d\nreceived %d\nreconnects %d", s.Rounds, s.Sent, s.Received, s.Reconnects)
			}),
			line("/probe/last", func() string { return p.Stats().Last }),
		)
	}
	if b := app.Broadcaster; b != nil {
		files = append(files, line("/ap/stations", func() string {
			var lines []string
			for _, s := range b.Stations() {
				lines = append(lines, fmt.Sprintf("%s %d", s.MAC, s.AID))
			}
			return strings.Join(lines, "\n")
		}))
	}
	for _, f := range files {
		if dir := f.path[:strings.LastIndexByte(f.path, '/')]; len(dir) > 0 {
			if _, err := ns.Get(dir); err != nil {
				if err = ns.NewDir(dir, 0555); err != nil {
					return nil, err
				}
			}
		}
		if err := ns.NewFile(f.path, 0444, f.impl); err != nil {
			return nil, err
		}
	}
	return ns, nil
}
