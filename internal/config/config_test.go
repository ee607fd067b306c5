package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrDefaultReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8766, cfg.URLIngest.Port)
}

func TestLoadParsesYAMLAndOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9001
  host: 0.0.0.0
  max_connections: 5
url_ingest:
  port: 9002
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Server.MaxConnections)
	assert.Equal(t, 9002, cfg.URLIngest.Port)
	// fields the YAML omitted keep their defaults
	assert.Equal(t, "127.0.0.1", cfg.URLIngest.Host)
}

func TestLoadReturnsErrorOnMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultConfigPathRespectsXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
	assert.Equal(t, "/tmp/xdg-config/activity-tracker/config.yaml", DefaultConfigPath())
}

func TestMediaDirIsSiblingOfStorePath(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Path: "/data/activity-tracker/activity_tracker.db"}}
	assert.Equal(t, "/data/activity-tracker/sounds", cfg.MediaDir("sounds"))
	assert.Equal(t, "/data/activity-tracker/images", cfg.MediaDir("images"))
}

func TestRestorePendingPathsAreSiblingsOfStorePath(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Path: "/data/activity-tracker/activity_tracker.db"}}
	meta, db, media := cfg.RestorePendingPaths()
	assert.Equal(t, "/data/activity-tracker/restore_pending.json", meta)
	assert.Equal(t, "/data/activity-tracker/restore_pending.db", db)
	assert.Equal(t, "/data/activity-tracker/restore_pending_media.zip", media)
}
