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
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Error messages
var (
	ErrConnect = errors.New("socket unable to connect")
)

// Dialer opens TCP connections on the active network interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ProbeStats are the running counters of a probe.
type ProbeStats struct {
	Rounds     uint64 // completed send/receive round-trips
	Sent       uint64 // bytes sent
	Received   uint64 // bytes received
	Reconnects uint64 // socket teardowns followed by a new connection attempt
	Last       string // last echo received
}

// Probe repeatedly sends a fixed payload to a TCP server and logs the
// echoed response. Socket errors tear down the connection and start
// over with a fresh one.
type Probe struct {
	dialer Dialer
	cfg    ProbeConfig
	log    *slog.Logger

	mu    sync.Mutex
	stats ProbeStats
}

// NewProbe creates a TCP probe.
func NewProbe(dialer Dialer, cfg ProbeConfig, logger *slog.Logger) *Probe {
	if cfg.BufSize < 2 {
		cfg.BufSize = DefaultBufSize
	}
	return &Probe{
		dialer: dialer,
		cfg:    cfg,
		log:    orDiscard(logger),
	}
}

// Stats returns a snapshot of the probe counters.
func (p *Probe) Stats() ProbeStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run the probe loop until ctx is done. With PolicyLegacy a failed
// connect terminates the loop with ErrConnect.
func (p *Probe) Run(ctx context.Context) error {
	addr := p.cfg.Addr()
	for {
		p.log.Info("TCP_Sock_Connecting", slog.String("addr", addr))
		conn, err := p.dial(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %w", ErrConnect, err)
		}
		p.log.Info("Successfully connected", slog.String("addr", addr))

		err = p.session(ctx, conn)
		p.log.Error("Shutting down socket and restarting...", slog.String("reason", err.Error()))
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.mu.Lock()
		p.stats.Reconnects++
		p.mu.Unlock()
		if err = sleep(ctx, p.cfg.Interval); err != nil {
			return err
		}
	}
}

// dial the server according to the recovery policy.
func (p *Probe) dial(ctx context.Context, addr string) (net.Conn, error) {
	var conn net.Conn
	op := func() (err error) {
		conn, err = p.dialer.DialContext(ctx, "tcp4", addr)
		return
	}
	notify := func(err error, next time.Duration) {
		p.log.Error("Socket unable to connect", slog.String("err", err.Error()), slog.Duration("retry", next))
	}
	var b backoff.BackOff = &backoff.StopBackOff{}
	if p.cfg.Policy == PolicyUnified {
		b = backoff.NewConstantBackOff(p.cfg.Interval)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if p.cfg.Policy == PolicyLegacy {
			p.log.Error("Socket unable to connect", slog.String("err", err.Error()))
		}
		return nil, err
	}
	return conn, nil
}

// run send/receive round-trips on an established connection. Returns
// the error that ended the session.
func (p *Probe) session(ctx context.Context, conn net.Conn) error {
	// unblock pending reads/writes on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload := []byte(p.cfg.Payload)
	buf := make([]byte, p.cfg.BufSize-1)
	host := p.cfg.Host
	for {
		n, err := conn.Write(payload)
		p.count(func(s *ProbeStats) { s.Sent += uint64(n) })
		if err != nil {
			p.log.Error("Error occurred during sending", slog.String("err", err.Error()))
			return err
		}
		if n, err = conn.Read(buf); n > 0 {
			msg := string(buf[:n])
			p.log.Info(fmt.Sprintf("Received %d bytes from %s:", n, host))
			p.log.Info(msg)
			p.count(func(s *ProbeStats) {
				s.Received += uint64(n)
				s.Rounds++
				s.Last = msg
			})
		}
		if err != nil || n == 0 {
			if err == nil {
				err = io.EOF
			}
			p.log.Error("recv failed", slog.String("err", err.Error()))
			return err
		}
		if err = sleep(ctx, p.cfg.Interval); err != nil {
			return err
		}
	}
}

// update counters
func (p *Probe) count(f func(*ProbeStats)) {
	p.mu.Lock()
	f(&p.stats)
	p.mu.Unlock()
}

// sleep for the given duration or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
