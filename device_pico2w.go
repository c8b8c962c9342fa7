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

package wifiprobe

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
)

const mtu = cyw43439.MTU

// reasons reported with EvStaDisconnected
const (
	reasonJoinFailed uint8 = 202 // WPA2 join failed
	reasonNoDHCP     uint8 = 203 // no address assigned
	reasonLinkLost   uint8 = 204 // link down after got-ip
)

var (
	errNoStack  = errors.New("network stack not ready")
	errNoRouter = errors.New("gateway hardware address unknown")
	errTimeout  = errors.New("tcp establish timed out")
)

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref     *cyw43439.Device // reference to device
	log     *slog.Logger
	events  chan Event
	cfg     StationConfig
	joining attempt
	linked  atomic.Bool // link up with an address

	mu     sync.Mutex
	stack  *stacks.PortStack
	dhcp   *stacks.DHCPClient
	router [6]byte // gateway hardware address
	routed bool
}

// InitDevice initializes the radio.
func InitDevice(logger *slog.Logger) (*Pico2WDevice, error) {
	dev := new(Pico2WDevice)
	dev.log = orDiscard(logger)
	dev.events = make(chan Event, 16)
	dev.ref = cyw43439.NewPicoWDevice()

	wificfg := cyw43439.DefaultWifiConfig()
	// wificfg.Logger = dev.log // Uncomment to see in depth info on wifi device functioning.
	dev.log.Info("initializing pico W device...")
	devInitTime := time.Now()
	if err := dev.ref.Init(wificfg); err != nil {
		return nil, err
	}
	dev.log.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))
	return dev, nil
}

// LED on or off (if applicable)
func (dev *Pico2WDevice) LED(on bool) {
	dev.ref.GPIOSet(0, on)
}

// Events delivered by the device.
func (dev *Pico2WDevice) Events() <-chan Event {
	return dev.events
}

// StartAP brings up a soft access point. The driver does not report
// stations joining or leaving.
func (dev *Pico2WDevice) StartAP(cfg APConfig) error {
	pass, err := cfg.RadioPassphrase()
	if err != nil {
		return err
	}
	if err = dev.ref.StartAP(cfg.SSID, pass, uint8(cfg.Channel)); err != nil {
		return err
	}
	dev.log.Info("soft AP up", slog.String("ssid", cfg.SSID), slog.Int("channel", cfg.Channel))
	return nil
}

//----------------------------------------------------------------------
// Station

// StartStation stores the station configuration and reports the start.
func (dev *Pico2WDevice) StartStation(cfg StationConfig) error {
	auth, err := cfg.JoinAuth()
	if err != nil {
		return err
	}
	dev.cfg = cfg
	if auth == AuthOpen {
		dev.log.Info("joining open network:", slog.String("ssid", cfg.SSID))
	} else {
		dev.log.Info("joining WPA secure network", slog.String("ssid", cfg.SSID), slog.Int("passlen", len(cfg.Password)))
	}
	go func() { dev.events <- Event{Kind: EvStaStart} }()
	return nil
}

// Connect runs one join attempt followed by DHCP in the background.
func (dev *Pico2WDevice) Connect() error {
	return dev.joining.start(dev.join, func(ev Event) { dev.events <- ev })
}

// join the network and request an address; returns the outcome.
func (dev *Pico2WDevice) join() Event {
	if err := dev.ref.JoinWPA2(dev.cfg.SSID, dev.cfg.Password); err != nil {
		dev.log.Error("wifi join failed", slog.String("err", err.Error()))
		return Event{Kind: EvStaDisconnected, Reason: reasonJoinFailed}
	}
	mac, _ := dev.ref.HardwareAddr6()
	dev.log.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))
	ip, err := dev.setupIP(mac)
	if err != nil {
		dev.log.Error("no address", slog.String("err", err.Error()))
		return Event{Kind: EvStaDisconnected, Reason: reasonNoDHCP}
	}
	dev.linked.Store(true)
	return Event{Kind: EvStaGotIP, IP: ip}
}

// setupIP creates the network stack (once) and requests an address.
// If DHCP fails, the requested IP is used as a static address.
func (dev *Pico2WDevice) setupIP(mac [6]byte) (netip.Addr, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var reqAddr netip.Addr
	if dev.cfg.RequestedIP != "" {
		reqAddr, _ = netip.ParseAddr(dev.cfg.RequestedIP)
	}
	if dev.stack == nil {
		dev.stack = stacks.NewPortStack(stacks.PortStackConfig{
			MAC:             mac,
			MaxOpenPortsUDP: 1, // DHCP client
			MaxOpenPortsTCP: 2, // probe + status listener
			MTU:             mtu,
			Logger:          dev.log,
		})
		dev.ref.RecvEthHandle(dev.stack.RecvEth)

		// Begin asynchronous packet handling.
		go dev.nicLoop()
		dev.dhcp = stacks.NewDHCPClient(dev.stack, dhcp.DefaultClientPort)
	}

	err := dev.dhcp.BeginRequest(stacks.DHCPRequestConfig{
		RequestedAddr: reqAddr,
		Xid:           uint32(time.Now().Nanosecond()),
		Hostname:      dev.cfg.Hostname,
	})
	if err != nil {
		return netip.Addr{}, err
	}
	for i := 0; dev.dhcp.State() != dhcp.StateBound; i++ {
		dev.log.Info("DHCP ongoing...")
		time.Sleep(time.Second / 2)
		if i > 15 {
			if !reqAddr.IsValid() {
				return netip.Addr{}, errors.New("no DHCP reply")
			}
			dev.log.Info("DHCP did not complete, assigning static IP", slog.String("ip", dev.cfg.RequestedIP))
			dev.stack.SetAddr(reqAddr)
			return reqAddr, nil
		}
	}
	ip := dev.dhcp.Offer()
	dev.log.Info("DHCP complete",
		slog.Uint64("cidrbits", uint64(dev.dhcp.CIDRBits())),
		slog.String("ourIP", ip.String()),
		slog.String("gateway", dev.dhcp.Gateway().String()),
		slog.String("router", dev.dhcp.Router().String()),
		slog.Duration("lease", dev.dhcp.IPLeaseTime()),
	)
	dev.stack.SetAddr(ip) // It's important to set the IP address after DHCP completes.

	if hw, err := ResolveHardwareAddr(dev.stack, dev.dhcp.Router()); err == nil {
		dev.router, dev.routed = hw, true
	} else {
		dev.log.Error("router ARP failed", slog.String("err", err.Error()))
	}
	return ip, nil
}

// DialContext opens a TCP connection to "ip:port" via the gateway.
func (dev *Pico2WDevice) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	raddr, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, err
	}
	dev.mu.Lock()
	stack, router, routed := dev.stack, dev.router, dev.routed
	dev.mu.Unlock()
	if stack == nil {
		return nil, errNoStack
	}
	if !routed {
		return nil, errNoRouter
	}
	conn, err := stacks.NewTCPConn(stack, stacks.TCPConnConfig{TxBufSize: 512, RxBufSize: 512})
	if err != nil {
		return nil, err
	}
	lport := uint16(rand.Intn(65535-1024) + 1024)
	if err = conn.OpenDialTCP(lport, router, raddr, seqs.Value(rand.Uint32())); err != nil {
		return nil, err
	}
	for retries := 50; conn.State() != seqs.StateEstablished; retries-- {
		if retries == 0 || ctx.Err() != nil {
			closeWait(conn)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errTimeout
		}
		time.Sleep(100 * time.Millisecond)
	}
	return &picoConn{conn}, nil
}

// picoConn sends written data immediately and releases the port on close.
type picoConn struct {
	*stacks.TCPConn
}

func (c *picoConn) Write(b []byte) (int, error) {
	n, err := c.TCPConn.Write(b)
	if err != nil {
		return n, err
	}
	return n, c.TCPConn.FlushOutputBuffer()
}

func (c *picoConn) Close() error {
	return closeWait(c.TCPConn)
}

// close the connection and give the stack time to release the port.
func closeWait(c *stacks.TCPConn) error {
	err := c.Close()
	for retries := 10; retries > 0 && !c.State().IsClosed(); retries-- {
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

// SetupListener returns a TCP listener on the port of the listen address.
func (dev *Pico2WDevice) SetupListener(listen string) (lst net.Listener, state int) {
	_, ps, err := net.SplitHostPort(listen)
	if err != nil {
		return nil, StatLISTEN1
	}
	port, err := strconv.ParseUint(ps, 10, 16)
	if err != nil {
		return nil, StatLISTEN1
	}
	dev.mu.Lock()
	stack := dev.stack
	dev.mu.Unlock()
	if stack == nil {
		return nil, StatDEV
	}
	listener, err := stacks.NewTCPListener(stack, stacks.TCPListenerConfig{
		MaxConnections: 3,
		ConnTxBufSize:  512,
		ConnRxBufSize:  512,
	})
	if err != nil {
		return nil, StatLISTEN1
	}
	if listener.StartListening(uint16(port)) != nil {
		return nil, StatLISTEN2
	}
	return listener, StatOK
}

// ResolveHardwareAddr obtains the hardware address of the given IP address.
func ResolveHardwareAddr(stack *stacks.PortStack, ip netip.Addr) ([6]byte, error) {
	if !ip.IsValid() {
		return [6]byte{}, errors.New("invalid ip")
	}
	arpc := stack.ARP()
	arpc.Abort() // Remove any previous ARP requests.
	err := arpc.BeginResolve(ip)
	if err != nil {
		return [6]byte{}, err
	}
	time.Sleep(4 * time.Millisecond)
	// ARP exchanges should be fast, don't wait too long for them.
	const timeout = time.Second
	const maxretries = 20
	retries := maxretries
	for !arpc.IsDone() && retries > 0 {
		retries--
		if retries == 0 {
			return [6]byte{}, errors.New("arp timed out")
		}
		time.Sleep(timeout / maxretries)
	}
	_, hw, err := arpc.ResultAs6()
	return hw, err
}

// move packets between radio and stack; report a lost link.
func (dev *Pico2WDevice) nicLoop() {
	stack, logger := dev.stack, dev.log
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		lenBuf[i] = 0
		retries[i] = 0
	}
	lastCheck := time.Now()
	for {
		if time.Since(lastCheck) > time.Second {
			lastCheck = time.Now()
			if !dev.ref.IsLinkUp() && dev.linked.CompareAndSwap(true, false) {
				logger.Warn("wifi link lost")
				go func() { dev.events <- Event{Kind: EvStaDisconnected, Reason: reasonLinkLost} }()
			}
		}
		stallRx := true
		gotPacket, err := dev.ref.PollOne()
		if err != nil {
			logger.Error("poll error", slog.String("err", err.Error()))
		}
		if gotPacket {
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			lenBuf[i], err = stack.HandleEth(queue[i][:])
			if err != nil {
				logger.Error("stack error", slog.Int("n", lenBuf[i]), slog.String("err", err.Error()))
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		if lenBuf == [queueSize]int{} {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			if err := dev.ref.SendEth(queue[i][:n]); err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					logger.Error("dropped outgoing packet", slog.String("err", err.Error()))
				}
			} else {
				markSent(i)
			}
		}
	}
}
