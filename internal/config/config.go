// Package config implements the two halves of the ambient configuration
// stack named in SPEC_FULL.md §10: a static, operator-authored YAML
// configuration file (this file), and an agent-owned mutable preferences
// document persisted as a property list (preferences.go, §6).
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "MDMCLIENT_CONFIG"
	DefaultConfigPath = "/etc/mdmclient/config.yaml"
)

// Config is the static, operator-authored configuration (§10). Unlike
// Preferences, this document is never written by the agent itself.
type Config struct {
	Repo    RepoConfig    `yaml:"repo"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Install InstallConfig `yaml:"install"`
}

// RepoConfig names the software repository and the on-disk layout rooted
// beneath ManagedInstallsDir (§6).
type RepoConfig struct {
	URL                string `yaml:"url"`
	ManagedInstallsDir string `yaml:"managed_installs_dir"`
}

// FetchConfig configures the Fetcher's network policy (§4.B, §5).
type FetchConfig struct {
	Timeout               time.Duration `yaml:"timeout"`
	MinTLSVersion         string        `yaml:"min_tls_version"`
	CABundlePath          string        `yaml:"ca_bundle_path"`
	BandwidthLimitBytesPS int64         `yaml:"bandwidth_limit_bytes_per_sec"`
	FollowRedirects       bool          `yaml:"follow_redirects"`
}

// InstallConfig configures the Install Executor (§4.E).
type InstallConfig struct {
	LaunchdJobsDir string        `yaml:"launchd_jobs_dir"`
	DefaultOwner   string        `yaml:"default_owner"`
	DefaultGroup   string        `yaml:"default_group"`
	ScriptTimeout  time.Duration `yaml:"script_timeout"`
}

// Load reads and parses the YAML configuration at path.
func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv reads the configuration path from MDMCLIENT_CONFIG, falling
// back to DefaultConfigPath.
func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}
