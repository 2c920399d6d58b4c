package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scada.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: scada.example.com
  port: 10005
  username: ScadaApp
  password: secret
  ping_interval: 10s
cache:
  capacity: 50
  validity: 2s
logging:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scada.example.com", cfg.Server.Host)
	assert.Equal(t, 10005, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.PingInterval)
	assert.Equal(t, 50, cfg.Cache.Capacity)
	assert.Equal(t, 2*time.Second, cfg.Cache.Validity)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset fields picked up their defaults.
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Server.ReconnectInterval)
	assert.Equal(t, 4096, cfg.Server.ChunkSize)
	assert.Equal(t, time.Hour, cfg.Cache.Retention)
}

func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, `
server:
  username: ScadaApp
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 10000, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Cache.Capacity)
	assert.Equal(t, time.Second, cfg.Cache.Validity)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing username", "server:\n  host: localhost\n"},
		{"bad port", "server:\n  username: u\n  port: 99999\n"},
		{"negative capacity", "server:\n  username: u\ncache:\n  capacity: -1\n"},
		{"malformed yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
