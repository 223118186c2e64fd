// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config holds the only recognized on-disk option surface for
// a distribution.Distribution's cache behavior.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Config is the recognized option surface.
type Config struct {
	// Enabled turns spill-to-disk on or off. When false, the
	// resident buffer grows unbounded.
	Enabled bool `json:"enabled"`
	// Window is W: the chunk size in rows, and the in-memory
	// target (the buffer is flushed when it exceeds 2*W).
	Window int `json:"window"`
	// CachePath is the directory for on-disk files. An empty path
	// force-disables caching regardless of Enabled.
	CachePath string `json:"cache_path"`
}

// Default matches the zero-configuration behavior of a Distribution
// constructed without a config file: caching off, a 100-row window.
func Default() Config {
	return Config{Enabled: false, Window: 100, CachePath: "./cache/"}
}

// Load reads a YAML config file from path.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// Disabled reports whether caching should be skipped entirely: either
// because it was never enabled, or because no cache directory was
// configured.
func (c Config) Disabled() bool {
	return !c.Enabled || c.CachePath == ""
}
