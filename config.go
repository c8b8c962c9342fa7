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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Error messages
var (
	ErrConfig = errors.New("invalid configuration")
)

// defaults
const (
	DefaultChannel     = 11
	DefaultMaxStations = 4
	DefaultMaxRetries  = 5
	DefaultProbeHost   = "192.168.0.10"
	DefaultProbePort   = 8080
	DefaultPayload     = "Message from ESP32 "
	DefaultInterval    = 2 * time.Second
	DefaultBufSize     = 128
	DefaultStatusPort  = 5640
)

//----------------------------------------------------------------------

// AuthMode of a WiFi network.
type AuthMode int

// authentication modes (weakest first)
const (
	AuthOpen AuthMode = iota
	AuthWEP
	AuthWPA_PSK
	AuthWPA2_PSK
	AuthWPA_WPA2_PSK
	AuthWPA3_PSK
	AuthWPA2_WPA3_PSK
	AuthWAPI_PSK
)

var authNames = []string{
	"OPEN", "WEP", "WPA_PSK", "WPA2_PSK", "WPA_WPA2_PSK",
	"WPA3_PSK", "WPA2_WPA3_PSK", "WAPI_PSK",
}

// String returns the name of the mode
func (a AuthMode) String() string {
	if a < 0 || int(a) >= len(authNames) {
		return "AUTH(" + strconv.Itoa(int(a)) + ")"
	}
	return authNames[a]
}

// ParseAuthMode returns the auth mode for a (case-insensitive) name.
func ParseAuthMode(s string) (AuthMode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range authNames {
		if s == name {
			return AuthMode(i), nil
		}
	}
	return AuthOpen, fmt.Errorf("%w: unknown auth mode %q", ErrConfig, s)
}

// MarshalText implements encoding.TextMarshaler
func (a AuthMode) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *AuthMode) UnmarshalText(text []byte) (err error) {
	*a, err = ParseAuthMode(string(text))
	return
}

// needs a WPA-style passphrase
func (a AuthMode) usesPassphrase() bool {
	return a >= AuthWPA_PSK
}

//----------------------------------------------------------------------

// Policy for recovering from a failed TCP connect.
type Policy int

// recovery policies
const (
	PolicyUnified Policy = iota // connect failures are retried like send/receive failures
	PolicyLegacy                // a connect failure terminates the probe
)

// String returns the policy name
func (p Policy) String() string {
	if p == PolicyLegacy {
		return "legacy"
	}
	return "unified"
}

// MarshalText implements encoding.TextMarshaler
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Policy) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "unified":
		*p = PolicyUnified
	case "legacy":
		*p = PolicyLegacy
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrConfig, text)
	}
	return nil
}

//----------------------------------------------------------------------

// APConfig for the soft access point.
type APConfig struct {
	SSID        string   `toml:"ssid"`
	Password    string   `toml:"password"`
	Channel     int      `toml:"channel"`
	MaxStations int      `toml:"max_stations"`
	Auth        AuthMode `toml:"auth"`
	PMFRequired bool     `toml:"pmf_required"`
	CtrlSocket  string   `toml:"ctrl_socket"` // hostapd control socket (linux)
}

// Validate the AP configuration. An empty password switches the
// access point to an open network.
func (c *APConfig) Validate() error {
	if n := len(c.SSID); n == 0 || n > 32 {
		return fmt.Errorf("%w: AP SSID length %d", ErrConfig, n)
	}
	if c.Channel < 1 || c.Channel > 13 {
		return fmt.Errorf("%w: AP channel %d", ErrConfig, c.Channel)
	}
	if c.MaxStations < 1 || c.MaxStations > 10 {
		return fmt.Errorf("%w: AP max stations %d", ErrConfig, c.MaxStations)
	}
	if len(c.Password) == 0 {
		c.Auth = AuthOpen
		return nil
	}
	if c.Auth.usesPassphrase() {
		if n := len(c.Password); n < 8 || n > 63 {
			return fmt.Errorf("%w: AP password length %d", ErrConfig, n)
		}
	}
	return nil
}

// RadioPassphrase validates the configuration for a radio that runs
// open or WPA/WPA2-PSK access points without management frame
// protection. Returns the passphrase to use (empty for open).
func (c *APConfig) RadioPassphrase() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if c.PMFRequired {
		return "", fmt.Errorf("%w: protected management frames", ErrUnsupported)
	}
	switch c.Auth {
	case AuthOpen:
		return "", nil
	case AuthWPA_PSK, AuthWPA2_PSK, AuthWPA_WPA2_PSK:
		return c.Password, nil
	}
	return "", fmt.Errorf("%w: AP auth mode %s", ErrUnsupported, c.Auth)
}

// StationConfig for the WiFi client.
type StationConfig struct {
	SSID           string        `toml:"ssid"`
	Password       string        `toml:"password"`
	AuthThreshold  AuthMode      `toml:"auth_threshold"`
	MaxRetries     int           `toml:"max_retries"`
	ConnectTimeout time.Duration `toml:"connect_timeout"` // 0 = wait forever
	Hostname       string        `toml:"hostname"`
	RequestedIP    string        `toml:"requested_ip"` // DHCP request / static fallback
	Interface      string        `toml:"interface"`    // network interface (linux)
}

// Validate the station configuration.
func (c *StationConfig) Validate() error {
	if n := len(c.SSID); n > 32 {
		return fmt.Errorf("%w: station SSID length %d", ErrConfig, n)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: negative max retries", ErrConfig)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: negative connect timeout", ErrConfig)
	}
	if c.RequestedIP != "" {
		if _, err := netip.ParseAddr(c.RequestedIP); err != nil {
			return fmt.Errorf("%w: requested IP: %w", ErrConfig, err)
		}
	}
	return nil
}

// JoinAuth returns the authentication mode used to join the network
// with a radio that supports open and WPA2 networks only. The mode
// must not fall below the configured threshold.
func (c *StationConfig) JoinAuth() (AuthMode, error) {
	if c.AuthThreshold > AuthWPA_WPA2_PSK {
		return AuthOpen, fmt.Errorf("%w: auth threshold %s", ErrUnsupported, c.AuthThreshold)
	}
	if len(c.Password) == 0 {
		if c.AuthThreshold > AuthOpen {
			return AuthOpen, fmt.Errorf("%w: open network below auth threshold %s", ErrConfig, c.AuthThreshold)
		}
		return AuthOpen, nil
	}
	return AuthWPA2_PSK, nil
}

// ProbeConfig for the TCP probe loop.
type ProbeConfig struct {
	Host     string        `toml:"host"`
	Port     uint16        `toml:"port"`
	Payload  string        `toml:"payload"`
	Interval time.Duration `toml:"interval"`
	BufSize  int           `toml:"buf_size"`
	Policy   Policy        `toml:"policy"`
}

// Addr returns the server address as "host:port".
func (c ProbeConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// Validate the probe configuration.
func (c *ProbeConfig) Validate() error {
	ip, err := netip.ParseAddr(c.Host)
	if err != nil || !ip.Is4() {
		return fmt.Errorf("%w: probe host %q is not an IPv4 address", ErrConfig, c.Host)
	}
	if c.Port == 0 {
		return fmt.Errorf("%w: probe port", ErrConfig)
	}
	if len(c.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: probe interval %s", ErrConfig, c.Interval)
	}
	if c.BufSize < 2 {
		return fmt.Errorf("%w: probe buffer size %d", ErrConfig, c.BufSize)
	}
	return nil
}

// StatusConfig for the 9p status namespace.
type StatusConfig struct {
	Listen string `toml:"listen"` // empty = disabled
	User   string `toml:"user"`
	Group  string `toml:"group"`
}

// Config of the application
type Config struct {
	Mode     string        `toml:"mode"` // "sta" or "ap"
	LogLevel string        `toml:"log_level"`
	Storage  string        `toml:"storage"` // storage file (linux)
	Station  StationConfig `toml:"station"`
	AP       APConfig      `toml:"ap"`
	Probe    ProbeConfig   `toml:"probe"`
	Status   StatusConfig  `toml:"status"`
}

// run modes
const (
	ModeStation = "sta"
	ModeAP      = "ap"
)

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:     ModeStation,
		LogLevel: "info",
		Station: StationConfig{
			SSID:          "YOUR SSID",
			Password:      "YOUR PASSWORD",
			AuthThreshold: AuthWPA2_PSK,
			MaxRetries:    DefaultMaxRetries,
			Hostname:      "wifiprobe",
		},
		AP: APConfig{
			SSID:        "wifiprobe",
			Password:    "YOUR PASSWORD",
			Channel:     DefaultChannel,
			MaxStations: DefaultMaxStations,
			Auth:        AuthWPA_WPA2_PSK,
		},
		Probe: ProbeConfig{
			Host:     DefaultProbeHost,
			Port:     DefaultProbePort,
			Payload:  DefaultPayload,
			Interval: DefaultInterval,
			BufSize:  DefaultBufSize,
			Policy:   PolicyUnified,
		},
		Status: StatusConfig{
			Listen: ":" + strconv.Itoa(DefaultStatusPort),
			User:   "sys",
			Group:  "sys",
		},
	}
}

// Validate the configuration for the selected mode.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Mode {
	case ModeStation:
		if err := c.Station.Validate(); err != nil {
			return err
		}
		return c.Probe.Validate()
	case ModeAP:
		return c.AP.Validate()
	}
	return fmt.Errorf("%w: unknown mode %q", ErrConfig, c.Mode)
}

// ParseLevel returns the log level for a name.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return lvl, fmt.Errorf("%w: log level: %w", ErrConfig, err)
	}
	return lvl, nil
}
