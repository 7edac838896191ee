// Package config loads node-level runtime configuration from YAML.
//
// Identity and schema persistence are explicitly out of core scope, so
// this package only covers what the core itself needs to start: where
// its transaction log lives, which address it listens on, and which
// peers it dials on startup.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/interstice-network/interstice-core/internal/ierr"
)

// Config is a node's runtime configuration.
type Config struct {
	NodeID  string        `yaml:"node_id"`
	Network NetworkConfig `yaml:"network"`
	Storage StorageConfig `yaml:"storage"`
	Modules []ModuleEntry `yaml:"modules"`
}

// NetworkConfig describes the listen address and initial peer set.
type NetworkConfig struct {
	Listen    string   `yaml:"listen"`
	Bootstrap []string `yaml:"bootstrap"`

	MaxConns       int `yaml:"max_connections"`
	MaxMessageSize int `yaml:"max_message_size"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// StorageConfig describes where per-node state lives on disk.
//
// data_dir is the parent of `{data_dir}/{node_id}/transactions.log`;
// the core only ever opens that one file under it.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ModuleEntry names one WASM module loaded automatically at startup.
type ModuleEntry struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Default returns a configuration usable on a single local node with
// no peers, suitable as a starting point for Load when no file exists.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		NodeID: "local",
		Network: NetworkConfig{
			Listen:           "/ip4/0.0.0.0/tcp/4010",
			Bootstrap:        []string{},
			MaxConns:         256,
			MaxMessageSize:   4 * 1024 * 1024,
			HandshakeTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: filepath.Join(homeDir, ".interstice", "data"),
		},
		Modules: []ModuleEntry{},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".interstice", "config.yaml")
}

// Load reads and parses a node config file, applying Default for any
// field the file omits. A missing file is not an error: Load returns
// Default() so a fresh node can start with no config at all.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, ierr.Wrap(ierr.Internal, "reading config file", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, ierr.Wrap(ierr.Internal, "parsing config yaml", err)
	}
	return cfg, nil
}

// LogPath returns the transaction log path this config implies for
// its node.
func (c *Config) LogPath() string {
	return filepath.Join(c.Storage.DataDir, c.NodeID, "transactions.log")
}

// Save writes cfg to path as YAML, creating parent directories as
// needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return ierr.Wrap(ierr.Internal, "creating config directory", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return ierr.Wrap(ierr.Internal, "marshalling config yaml", err)
	}
	return os.WriteFile(path, data, 0o600)
}
