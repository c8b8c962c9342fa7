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
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// logBuffer collects log output of concurrent writers.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) Count(s string) int {
	return strings.Count(b.String(), s)
}

func newTestLogger() (*slog.Logger, *logBuffer) {
	buf := new(logBuffer)
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

//----------------------------------------------------------------------

// fakeConnector counts connect attempts.
type fakeConnector struct {
	calls atomic.Int32
	err   error
}

func (c *fakeConnector) Connect() error {
	c.calls.Add(1)
	return c.err
}

//----------------------------------------------------------------------

// fakeDialer fails the first <fail> dials, then uses a real dialer
// (or fails forever if fail < 0).
type fakeDialer struct {
	fail  int32
	calls atomic.Int32
}

var errDial = errors.New("connection refused")

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	n := d.calls.Add(1)
	if d.fail < 0 || n <= d.fail {
		return nil, errDial
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, address)
}

//----------------------------------------------------------------------

// echoServer is a loopback TCP server with a per-connection handler.
type echoServer struct {
	lst      net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    []net.Conn
	accepted atomic.Int32
}

// echo everything back
func echoAll(c net.Conn) {
	io.Copy(c, c)
}

// echo one read, then hang up
func echoOnce(c net.Conn) {
	buf := make([]byte, 512)
	if n, err := c.Read(buf); err == nil {
		c.Write(buf[:n])
	}
}

func newEchoServer(t *testing.T, handle func(net.Conn)) *echoServer {
	lst, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &echoServer{lst: lst}
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		for {
			c, err := lst.Accept()
			if err != nil {
				return
			}
			srv.accepted.Add(1)
			srv.mu.Lock()
			srv.conns = append(srv.conns, c)
			srv.mu.Unlock()
			srv.wg.Add(1)
			go func() {
				defer srv.wg.Done()
				defer c.Close()
				handle(c)
			}()
		}
	}()
	return srv
}

func (srv *echoServer) HostPort() (string, uint16) {
	addr := srv.lst.Addr().(*net.TCPAddr)
	return addr.IP.String(), uint16(addr.Port)
}

func (srv *echoServer) Addr() string {
	host, port := srv.HostPort()
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

func (srv *echoServer) Close() {
	srv.lst.Close()
	srv.mu.Lock()
	for _, c := range srv.conns {
		c.Close()
	}
	srv.mu.Unlock()
	srv.wg.Wait()
}
