// Copyright 2024 Mediatheque Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigDir overrides the default config directory; used for test
// isolation the same way throughout the tooling.
const EnvConfigDir = "MEDIATHEQUE_CONFIG_DIR"

// CollisionPolicy selects how ingestion handles a destination name clash.
type CollisionPolicy string

const (
	// CollisionReject refuses the upload; the caller must rename.
	CollisionReject CollisionPolicy = "reject"
	// CollisionRename deterministically suffixes the name (" (2)", " (3)", ...).
	CollisionRename CollisionPolicy = "rename"
)

// ThumbSize is one entry of the derivative ladder.
type ThumbSize struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Config is the engine configuration.
type Config struct {
	// StorageRoot is the base directory holding the public/ and private/
	// visibility branches.
	StorageRoot string `yaml:"storage_root"`
	// DatabasePath is the SQLite metadata database file.
	DatabasePath string `yaml:"database_path"`
	// QuotaBytes caps per-user storage; 0 disables the cap.
	QuotaBytes int64 `yaml:"quota_bytes"`
	// Collision selects the upload name-clash policy.
	Collision CollisionPolicy `yaml:"collision_policy"`
	// BlocklistFile holds gitignore-style patterns of rejected filenames.
	BlocklistFile string `yaml:"blocklist_file"`
	// StagingTTL is the age (seconds) after which orphaned staging files
	// are swept.
	StagingTTL int `yaml:"staging_ttl"`
	// ThumbSizes is the derivative ladder; empty selects the defaults.
	ThumbSizes []ThumbSize `yaml:"thumb_sizes"`
	// LogLevel is a logrus level name.
	LogLevel string `yaml:"log_level"`
}

// ConfigDir returns the configuration directory, honoring EnvConfigDir.
func ConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mediatheque")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := ConfigDir()
	return &Config{
		StorageRoot:  filepath.Join(dir, "storage"),
		DatabasePath: filepath.Join(dir, "metadata.db"),
		QuotaBytes:   0,
		Collision:    CollisionReject,
		StagingTTL:   int((24 * time.Hour).Seconds()),
		LogLevel:     "info",
	}
}

// Load reads the config file at path, falling back to defaults for absent
// fields. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StagingTTLDuration returns the staging sweep TTL as a duration.
func (c *Config) StagingTTLDuration() time.Duration {
	return time.Duration(c.StagingTTL) * time.Second
}

// Validate checks field consistency.
func (c *Config) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("storage_root must be set")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must be set")
	}
	if c.QuotaBytes < 0 {
		return fmt.Errorf("quota_bytes must be >= 0")
	}
	if c.StagingTTL < 0 {
		return fmt.Errorf("staging_ttl must be >= 0")
	}
	switch c.Collision {
	case CollisionReject, CollisionRename:
	default:
		return fmt.Errorf("collision_policy must be %q or %q", CollisionReject, CollisionRename)
	}
	for _, s := range c.ThumbSizes {
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("thumb size %dx%d invalid", s.Width, s.Height)
		}
	}
	return nil
}
