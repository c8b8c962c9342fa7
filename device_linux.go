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

package wifiprobe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// default hostapd control socket
const DefaultCtrlSocket = "/var/run/hostapd/wlan0"

// disconnect reason: no usable address on the interface
const reasonNoAP uint8 = 201

var (
	errNoAddr   = errors.New("no IPv4 address on interface")
	errAttach   = errors.New("hostapd refused to attach")
	errBadEvent = errors.New("invalid hostapd event")
)

// LinuxDevice (for testing purposes): the "station" is a host network
// interface, the access point is a running hostapd instance.
type LinuxDevice struct {
	log    *slog.Logger
	dialer net.Dialer
	events chan Event
	done   chan struct{}
	once   sync.Once

	// station
	iface   string
	lookup  func(name string) (netip.Addr, error)
	probing attempt

	// access point
	ctrl  *net.UnixConn
	local string
	mu    sync.Mutex
	aids  map[string]uint16 // MAC -> AID
}

// InitDevice initializes the host device.
func InitDevice(logger *slog.Logger) (*LinuxDevice, error) {
	return &LinuxDevice{
		log:    orDiscard(logger),
		dialer: net.Dialer{Timeout: 5 * time.Second},
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		lookup: interfaceAddr,
		aids:   make(map[string]uint16),
	}, nil
}

// LED on or off (not applicable)
func (dev *LinuxDevice) LED(on bool) {}

// Events delivered by the device.
func (dev *LinuxDevice) Events() <-chan Event {
	return dev.events
}

// Close the device.
func (dev *LinuxDevice) Close() (err error) {
	dev.once.Do(func() {
		close(dev.done)
		if dev.ctrl != nil {
			dev.ctrl.Write([]byte("DETACH"))
			err = dev.ctrl.Close()
			os.Remove(dev.local)
		}
	})
	return
}

// emit an event unless the device is closed
func (dev *LinuxDevice) emit(ev Event) {
	select {
	case dev.events <- ev:
	case <-dev.done:
	}
}

//----------------------------------------------------------------------
// Station

// StartStation selects the network interface to use.
func (dev *LinuxDevice) StartStation(cfg StationConfig) error {
	auth, err := cfg.JoinAuth()
	if err != nil {
		return err
	}
	dev.iface = cfg.Interface
	dev.log.Info("wifi_init_sta finished.", slog.String("ssid", cfg.SSID), slog.String("iface", cfg.Interface), slog.String("auth", auth.String()))
	go dev.emit(Event{Kind: EvStaStart})
	return nil
}

// Connect checks the interface for an address and reports the outcome.
func (dev *LinuxDevice) Connect() error {
	return dev.probing.start(dev.check, dev.emit)
}

// look up the interface address
func (dev *LinuxDevice) check() Event {
	ip, err := dev.lookup(dev.iface)
	if err != nil {
		dev.log.Debug("station link down", slog.String("err", err.Error()))
		return Event{Kind: EvStaDisconnected, Reason: reasonNoAP}
	}
	return Event{Kind: EvStaGotIP, IP: ip}
}

// DialContext opens a connection to the address.
func (dev *LinuxDevice) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return dev.dialer.DialContext(ctx, network, address)
}

// SetupListener returns a TCP listener on the given address.
func (dev *LinuxDevice) SetupListener(listen string) (lst net.Listener, state int) {
	ctx := context.Background()
	cfg := new(net.ListenConfig)
	lis, err := cfg.Listen(ctx, "tcp", listen)
	if err != nil {
		return nil, StatLISTEN1
	}
	return lis, StatOK
}

// interfaceAddr returns the first IPv4 address of an interface that is
// up. An empty name selects the first non-loopback interface.
func interfaceAddr(name string) (netip.Addr, error) {
	var ifaces []net.Interface
	if len(name) > 0 {
		ifc, err := net.InterfaceByName(name)
		if err != nil {
			return netip.Addr{}, err
		}
		ifaces = []net.Interface{*ifc}
	} else {
		list, err := net.Interfaces()
		if err != nil {
			return netip.Addr{}, err
		}
		for _, ifc := range list {
			if ifc.Flags&net.FlagLoopback == 0 {
				ifaces = append(ifaces, ifc)
			}
		}
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipn.IP); ok && ip.Unmap().Is4() {
				return ip.Unmap(), nil
			}
		}
	}
	return netip.Addr{}, errNoAddr
}

//----------------------------------------------------------------------
// Access point

// StartAP attaches to the hostapd control socket and forwards station
// events.
func (dev *LinuxDevice) StartAP(cfg APConfig) (err error) {
	path := cfg.CtrlSocket
	if len(path) == 0 {
		path = DefaultCtrlSocket
	}
	dev.local = filepath.Join(os.TempDir(), fmt.Sprintf("wifiprobe-%d.sock", os.Getpid()))
	os.Remove(dev.local)
	laddr := &net.UnixAddr{Name: dev.local, Net: "unixgram"}
	raddr := &net.UnixAddr{Name: path, Net: "unixgram"}
	if dev.ctrl, err = net.DialUnix("unixgram", laddr, raddr); err != nil {
		return err
	}
	if _, err = dev.ctrl.Write([]byte("ATTACH")); err != nil {
		return err
	}
	buf := make([]byte, 4096)
	dev.ctrl.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := dev.ctrl.Read(buf)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(buf[:n])) != "OK" {
		return errAttach
	}
	dev.ctrl.SetReadDeadline(time.Time{})
	dev.log.Info("attached to hostapd", slog.String("ctrl", path), slog.String("ssid", cfg.SSID))
	go dev.ctrlLoop()
	return nil
}

// read hostapd messages until the device is closed
func (dev *LinuxDevice) ctrlLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := dev.ctrl.Read(buf)
		if err != nil {
			select {
			case <-dev.done:
			default:
				dev.log.Error("hostapd control socket", slog.String("err", err.Error()))
			}
			return
		}
		sc := bufio.NewScanner(strings.NewReader(string(buf[:n])))
		for sc.Scan() {
			if ev, err := dev.stationEvent(sc.Text()); err == nil {
				dev.emit(ev)
			}
		}
	}
}

// convert a hostapd message into a station event with an AID
func (dev *LinuxDevice) stationEvent(line string) (ev Event, err error) {
	var aid int
	if ev.Kind, ev.MAC, aid, err = parseHostapdEvent(line); err != nil {
		return
	}
	key := ev.MAC.String()
	dev.mu.Lock()
	defer dev.mu.Unlock()
	switch ev.Kind {
	case EvAPStaJoined:
		if aid == 0 {
			aid = dev.freeAID()
		}
		dev.aids[key] = uint16(aid)
		ev.AID = uint16(aid)
	case EvAPStaLeft:
		if aid == 0 {
			aid = int(dev.aids[key])
		}
		delete(dev.aids, key)
		ev.AID = uint16(aid)
	}
	return
}

// lowest association id not in use; caller holds the lock
func (dev *LinuxDevice) freeAID() int {
	used := make(map[uint16]bool, len(dev.aids))
	for _, aid := range dev.aids {
		used[aid] = true
	}
	aid := 1
	for used[uint16(aid)] {
		aid++
	}
	return aid
}

// parseHostapdEvent parses a hostapd control message like
// "<3>AP-STA-CONNECTED 02:00:00:00:01:00 aid=1".
func parseHostapdEvent(line string) (kind EventKind, mac net.HardwareAddr, aid int, err error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "<") {
		if i := strings.IndexByte(line, '>'); i > 0 {
			line = line[i+1:]
		}
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		err = errBadEvent
		return
	}
	switch fields[0] {
	case "AP-STA-CONNECTED":
		kind = EvAPStaJoined
	case "AP-STA-DISCONNECTED":
		kind = EvAPStaLeft
	default:
		err = errBadEvent
		return
	}
	if mac, err = net.ParseMAC(fields[1]); err != nil {
		return
	}
	for _, f := range fields[2:] {
		if v, ok := strings.CutPrefix(f, "aid="); ok {
			if aid, err = strconv.Atoi(v); err != nil {
				return
			}
		}
	}
	return
}
