// Package config is the ambient process configuration: where the daemon
// binds, where its data files live, and the handful of settings that are
// not appropriate to store in the Activity Store itself (the store's own
// path, for one). Everything the Monitor Loop reads every tick
// (polling_interval, idle_threshold, ...) lives in the Store's settings
// table instead -- see internal/model.DefaultSettings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const appDirName = "activity-tracker"

// Config is the daemon's YAML-file configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	URLIngest URLIngestConfig `yaml:"url_ingest"`
	Store     StoreConfig     `yaml:"store"`
	Logs      LogsConfig      `yaml:"logs"`
}

// ServerConfig controls the local HTTP/WS façade.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
	MaxConnections int      `yaml:"max_connections"`
}

// URLIngestConfig controls the browser-extension WebSocket listener.
type URLIngestConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// StoreConfig locates the durable database file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogsConfig locates the daily/recent/monthly text-log directory tree.
type LogsConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads and parses the YAML config file at path, filling any unset
// fields from defaultConfig.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the default config if
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8000,
			Host:           "127.0.0.1",
			MaxConnections: 100,
		},
		URLIngest: URLIngestConfig{
			Port: 8766,
			Host: "127.0.0.1",
		},
		Store: StoreConfig{
			Path: filepath.Join(defaultStateDir(), appDirName, "activity_tracker.db"),
		},
		Logs: LogsConfig{
			Dir: filepath.Join(defaultStateDir(), appDirName, "activity_logs"),
		},
	}
}

func defaultStateDir() string {
	if value := os.Getenv("XDG_STATE_HOME"); value != "" {
		return value
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".local", "state")
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), appDirName, "config.yaml")
}

// MediaDir returns the directory holding sound/image assets, a sibling of
// the store's database file.
func (c *Config) MediaDir(kind string) string {
	return filepath.Join(filepath.Dir(c.Store.Path), kind)
}

// RestorePendingPaths returns the staging file paths used by the deferred
// database restore flow.
func (c *Config) RestorePendingPaths() (meta, db, media string) {
	dir := filepath.Dir(c.Store.Path)
	return filepath.Join(dir, "restore_pending.json"),
		filepath.Join(dir, "restore_pending.db"),
		filepath.Join(dir, "restore_pending_media.zip")
}
