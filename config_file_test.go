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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "wifiprobe.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
mode = "sta"
log_level = "debug"

[station]
ssid = "Hosmart"
password = "secret-password"
auth_threshold = "wpa3_psk"
max_retries = 3
connect_timeout = "30s"

[probe]
host = "10.0.0.1"
port = 9000
interval = "500ms"
policy = "legacy"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Hosmart", cfg.Station.SSID)
	assert.Equal(t, AuthWPA3_PSK, cfg.Station.AuthThreshold)
	assert.Equal(t, 3, cfg.Station.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Station.ConnectTimeout)
	assert.Equal(t, "10.0.0.1:9000", cfg.Probe.Addr())
	assert.Equal(t, 500*time.Millisecond, cfg.Probe.Interval)
	assert.Equal(t, PolicyLegacy, cfg.Probe.Policy)
	// untouched values keep their defaults
	assert.Equal(t, DefaultPayload, cfg.Probe.Payload)
	assert.Equal(t, DefaultChannel, cfg.AP.Channel)
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
[probe]
hots = "10.0.0.1"
`)
	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "probe.hots")
}

func TestLoadConfig_BadValue(t *testing.T) {
	path := writeConfig(t, `
[ap]
auth = "WPA4"
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.conf"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
