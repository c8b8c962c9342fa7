//go:build !tinygo

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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bfix/wifiprobe"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "wifiprobe",
		Usage: "connect to a WiFi network and probe a TCP echo service, or log AP stations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML configuration file"},
			&cli.StringFlag{Name: "mode", Usage: "run mode (sta or ap)"},
			&cli.StringFlag{Name: "ssid", Usage: "network name"},
			&cli.StringFlag{Name: "password", Usage: "network passphrase"},
			&cli.StringFlag{Name: "iface", Usage: "station network interface"},
			&cli.StringFlag{Name: "host", Usage: "probe target IPv4 address"},
			&cli.UintFlag{Name: "port", Usage: "probe target port"},
			&cli.IntFlag{Name: "max-retry", Usage: "connect retries before giving up"},
			&cli.StringFlag{Name: "policy", Usage: "probe dial failure policy (unified or legacy)"},
			&cli.StringFlag{Name: "status-listen", Usage: "9p status namespace address (empty = off)"},
			&cli.StringFlag{Name: "hostapd-ctrl", Usage: "hostapd control socket (AP mode)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "storage", Usage: "boot record file"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "wifiprobe:", err)
		os.Exit(1)
	}
}

// load the configuration and apply command line overrides.
func config(c *cli.Context) (*wifiprobe.Config, error) {
	cfg := wifiprobe.DefaultConfig()
	if path := c.String("config"); len(path) > 0 {
		var err error
		if cfg, err = wifiprobe.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	str := map[string]*string{
		"mode":          &cfg.Mode,
		"iface":         &cfg.Station.Interface,
		"host":          &cfg.Probe.Host,
		"status-listen": &cfg.Status.Listen,
		"hostapd-ctrl":  &cfg.AP.CtrlSocket,
		"log-level":     &cfg.LogLevel,
		"storage":       &cfg.Storage,
	}
	for name, v := range str {
		if c.IsSet(name) {
			*v = c.String(name)
		}
	}
	if c.IsSet("ssid") {
		cfg.Station.SSID = c.String("ssid")
		cfg.AP.SSID = cfg.Station.SSID
	}
	if c.IsSet("password") {
		cfg.Station.Password = c.String("password")
		cfg.AP.Password = cfg.Station.Password
	}
	if c.IsSet("port") {
		p := c.Uint("port")
		if p > 0xffff {
			return nil, fmt.Errorf("%w: port %d", wifiprobe.ErrConfig, p)
		}
		cfg.Probe.Port = uint16(p)
	}
	if c.IsSet("max-retry") {
		cfg.Station.MaxRetries = c.Int("max-retry")
	}
	if c.IsSet("policy") {
		if err := cfg.Probe.Policy.UnmarshalText([]byte(c.String("policy"))); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := config(c)
	if err != nil {
		return err
	}
	level, err := wifiprobe.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dev, err := wifiprobe.InitDevice(logger.With("comp", "dev"))
	if err != nil {
		return err
	}
	defer dev.Close()

	app := wifiprobe.NewApp(cfg, dev, logger)
	var store wifiprobe.Storage = new(wifiprobe.NopStorage)
	if len(cfg.Storage) > 0 {
		bs := wifiprobe.NewBoltStorage(cfg.Storage)
		defer bs.Close()
		store = bs
	}
	if err = app.Boot(store); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go app.Status().Run(ctx)
	if err = app.Run(ctx); errors.Is(err, context.Canceled) {
		logger.Info("shutdown")
		return nil
	}
	return err
}
