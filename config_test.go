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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeStation, cfg.Mode)
	assert.Equal(t, 5, cfg.Station.MaxRetries)
	assert.Equal(t, "192.168.0.10:8080", cfg.Probe.Addr())
	assert.Equal(t, "Message from ESP32 ", cfg.Probe.Payload)
	assert.Equal(t, 2*time.Second, cfg.Probe.Interval)
	assert.Equal(t, PolicyUnified, cfg.Probe.Policy)

	cfg.Mode = ModeAP
	require.NoError(t, cfg.Validate())
	cfg.Mode = "mesh"
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
}

func TestAPConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*APConfig)
		ok     bool
	}{
		{"default", func(c *APConfig) {}, true},
		{"empty ssid", func(c *APConfig) { c.SSID = "" }, false},
		{"long ssid", func(c *APConfig) { c.SSID = "0123456789012345678901234567890123" }, false},
		{"channel 0", func(c *APConfig) { c.Channel = 0 }, false},
		{"channel 13", func(c *APConfig) { c.Channel = 13 }, true},
		{"no stations", func(c *APConfig) { c.MaxStations = 0 }, false},
		{"short password", func(c *APConfig) { c.Password = "short" }, false},
		{"short WEP key", func(c *APConfig) { c.Password = "short"; c.Auth = AuthWEP }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig().AP
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrConfig)
			}
		})
	}
}

func TestAPConfig_EmptyPasswordIsOpen(t *testing.T) {
	cfg := DefaultConfig().AP
	cfg.Password = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, AuthOpen, cfg.Auth)
}

func TestStationConfig_Validate(t *testing.T) {
	cfg := DefaultConfig().Station
	cfg.RequestedIP = "192.168.0.77"
	assert.NoError(t, cfg.Validate())
	cfg.RequestedIP = "not-an-ip"
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
	cfg.RequestedIP = ""
	cfg.MaxRetries = -1
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
}

func TestStationConfig_JoinAuth(t *testing.T) {
	tests := []struct {
		name      string
		password  string
		threshold AuthMode
		auth      AuthMode
		err       error
	}{
		{"open network", "", AuthOpen, AuthOpen, nil},
		{"open below threshold", "", AuthWPA2_PSK, AuthOpen, ErrConfig},
		{"wpa2", "YOUR PASSWORD", AuthWPA2_PSK, AuthWPA2_PSK, nil},
		{"wpa2 over weak threshold", "YOUR PASSWORD", AuthWEP, AuthWPA2_PSK, nil},
		{"wpa/wpa2", "YOUR PASSWORD", AuthWPA_WPA2_PSK, AuthWPA2_PSK, nil},
		{"wpa3", "YOUR PASSWORD", AuthWPA3_PSK, AuthOpen, ErrUnsupported},
		{"wapi", "YOUR PASSWORD", AuthWAPI_PSK, AuthOpen, ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := StationConfig{SSID: "net", Password: tt.password, AuthThreshold: tt.threshold}
			auth, err := cfg.JoinAuth()
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.auth, auth)
		})
	}
	cfg := DefaultConfig().Station
	auth, err := cfg.JoinAuth()
	require.NoError(t, err)
	assert.Equal(t, AuthWPA2_PSK, auth)
}

func TestAPConfig_RadioPassphrase(t *testing.T) {
	cfg := DefaultConfig().AP
	pass, err := cfg.RadioPassphrase()
	require.NoError(t, err)
	assert.Equal(t, cfg.Password, pass)

	open := cfg
	open.Password = ""
	pass, err = open.RadioPassphrase()
	require.NoError(t, err)
	assert.Empty(t, pass)

	pmf := cfg
	pmf.PMFRequired = true
	_, err = pmf.RadioPassphrase()
	assert.ErrorIs(t, err, ErrUnsupported)

	wpa3 := cfg
	wpa3.Auth = AuthWPA3_PSK
	_, err = wpa3.RadioPassphrase()
	assert.ErrorIs(t, err, ErrUnsupported)

	bad := cfg
	bad.Channel = 0
	_, err = bad.RadioPassphrase()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestProbeConfig_Validate(t *testing.T) {
	cfg := DefaultConfig().Probe
	cfg.Host = "::1"
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
	cfg = DefaultConfig().Probe
	cfg.Interval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
	cfg = DefaultConfig().Probe
	cfg.Payload = ""
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
}

func TestAuthMode_Parse(t *testing.T) {
	for i, name := range authNames {
		mode, err := ParseAuthMode(name)
		require.NoError(t, err)
		assert.Equal(t, AuthMode(i), mode)
		assert.Equal(t, name, mode.String())
	}
	mode, err := ParseAuthMode(" wpa2_wpa3_psk ")
	require.NoError(t, err)
	assert.Equal(t, AuthWPA2_WPA3_PSK, mode)
	_, err = ParseAuthMode("WPA4")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestPolicy_Text(t *testing.T) {
	var p Policy
	require.NoError(t, p.UnmarshalText([]byte("legacy")))
	assert.Equal(t, PolicyLegacy, p)
	require.NoError(t, p.UnmarshalText([]byte("Unified")))
	assert.Equal(t, PolicyUnified, p)
	assert.ErrorIs(t, p.UnmarshalText([]byte("sometimes")), ErrConfig)
}

func TestParseLevel(t *testing.T) {
	_, err := ParseLevel("debug")
	assert.NoError(t, err)
	_, err = ParseLevel("chatty")
	assert.ErrorIs(t, err, ErrConfig)
}
