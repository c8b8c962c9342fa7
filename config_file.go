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
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadConfig reads a TOML configuration file on top of the defaults.
// Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not read %q: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %q: %s", ErrConfig, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}
