package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Len(t, cfg.Roster, 28)

	rs := cfg.Rooms()
	assert.Equal(t, "201", rs[0].ID)
	assert.Equal(t, 1, rs[0].DisplayOrder)
	assert.Equal(t, "special", rs[len(rs)-1].Category)
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*ServerConfig)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *ServerConfig) {}},
		{name: "memory needs no path", modify: func(c *ServerConfig) { c.Storage = StorageConfig{Driver: "memory"} }},
		{name: "missing listen", modify: func(c *ServerConfig) { c.Listen = "" }, wantErr: true},
		{name: "unknown driver", modify: func(c *ServerConfig) { c.Storage.Driver = "mongo" }, wantErr: true},
		{name: "json without path", modify: func(c *ServerConfig) { c.Storage = StorageConfig{Driver: "json"} }, wantErr: true},
		{name: "postgres without dsn", modify: func(c *ServerConfig) { c.Storage = StorageConfig{Driver: "postgres"} }, wantErr: true},
		{name: "redis without channel", modify: func(c *ServerConfig) { c.Redis = RedisConfig{Addr: "localhost:6379"} }, wantErr: true},
		{name: "viewer password alone", modify: func(c *ServerConfig) { c.Auth.ViewerPassword = "look" }, wantErr: true},
		{name: "viewer password equals password", modify: func(c *ServerConfig) {
			c.Auth.Password = "same"
			c.Auth.ViewerPassword = "same"
		}, wantErr: true},
		{name: "empty roster", modify: func(c *ServerConfig) { c.Roster = nil }, wantErr: true},
		{name: "duplicate room", modify: func(c *ServerConfig) { c.Roster = append(c.Roster, c.Roster[0]) }, wantErr: true},
		{name: "bad category", modify: func(c *ServerConfig) { c.Roster[0].Category = "penthouse" }, wantErr: true},
		{name: "zero heartbeat", modify: func(c *ServerConfig) { c.Push.Heartbeat = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadServerConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
storage:
  driver: json
  path: /var/lib/roomboard/rooms.json
push:
  heartbeat: 10s
roster:
  - id: "201"
    order: 1
    category: general
  - id: "202"
    order: 2
    category: special
`), 0o644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "json", cfg.Storage.Driver)
	assert.Equal(t, 10*time.Second, cfg.Push.Heartbeat)
	assert.Equal(t, 64, cfg.Push.Buffer)
	assert.Equal(t, "roomboard_session", cfg.Auth.CookieName)
	require.Len(t, cfg.Roster, 2)
	assert.Equal(t, "special", cfg.Roster[1].Category)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ROOMBOARD_STORAGE_DRIVER", "memory")
	t.Setenv("ROOMBOARD_AUTH_PASSWORD", "sekrit")
	t.Setenv("ROOMBOARD_POLL_INTERVAL", "5s")

	server, err := LoadServerConfig("")
	require.NoError(t, err)
	assert.Equal(t, "memory", server.Storage.Driver)
	assert.Equal(t, "sekrit", server.Auth.Password)

	client, err := LoadClientConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.PollInterval)
	assert.Equal(t, 2*time.Second, client.SuppressWindow)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadClientConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestClientConfigValidate(t *testing.T) {
	cfg := DefaultClientConfig()
	require.NoError(t, cfg.Validate())

	cfg.Transport = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultClientConfig()
	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultClientConfig()
	cfg.SuppressWindow = 0
	assert.NoError(t, cfg.Validate())
}

func TestSaveToFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	want := DefaultClientConfig()
	want.Password = "pw"
	require.NoError(t, SaveToFile(path, want))

	got, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
