// Package config provides configuration loading for the roomboard server and client.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/astromechza/roomboard/pkg/rooms"
)

const EnvPrefix = "ROOMBOARD_"

// ServerConfig is the complete configuration of the server binary
type ServerConfig struct {
	Listen  string        `yaml:"listen"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Push    PushConfig    `yaml:"push"`
	Roster  []RosterEntry `yaml:"roster"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	// Driver is one of memory, json, sqlite, postgres
	Driver string `yaml:"driver"`
	// Path is the file used by the json and sqlite drivers
	Path string `yaml:"path"`
	// DSN is the postgres connection string
	DSN string `yaml:"dsn"`
}

// RedisConfig enables cross-instance change relay when Addr is set
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// AuthConfig configures the shared-password session gate. An empty
// Password disables the gate.
type AuthConfig struct {
	Password       string `yaml:"password"`
	ViewerPassword string `yaml:"viewer_password"`
	CookieName     string `yaml:"cookie_name"`
}

// PushConfig tunes the server push channel
type PushConfig struct {
	Heartbeat time.Duration `yaml:"heartbeat"`
	Buffer    int           `yaml:"buffer"`
}

// RosterEntry is one provisioned room
type RosterEntry struct {
	ID       string `yaml:"id"`
	Order    int    `yaml:"order"`
	Category string `yaml:"category"`
}

// ClientConfig is the complete configuration of the viewer binary
type ClientConfig struct {
	Server         string        `yaml:"server"`
	Password       string        `yaml:"password"`
	Transport      string        `yaml:"transport"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	SuppressWindow time.Duration `yaml:"suppress_window"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// DefaultServerConfig returns sensible defaults with the built-in roster
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen: "localhost:8080",
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "roomboard.sqlite3",
		},
		Redis: RedisConfig{
			Channel: "roomboard:changes",
		},
		Auth: AuthConfig{
			CookieName: "roomboard_session",
		},
		Push: PushConfig{
			Heartbeat: 30 * time.Second,
			Buffer:    64,
		},
		Roster: DefaultRoster(),
	}
}

// DefaultRoster is two general floors and a special annex.
func DefaultRoster() []RosterEntry {
	var out []RosterEntry
	order := 0
	for _, floor := range []int{200, 300} {
		for n := 1; n <= 12; n++ {
			order++
			out = append(out, RosterEntry{ID: strconv.Itoa(floor + n), Order: order, Category: rooms.CategoryGeneral})
		}
	}
	for n := 1; n <= 4; n++ {
		order++
		out = append(out, RosterEntry{ID: strconv.Itoa(400 + n), Order: order, Category: rooms.CategorySpecial})
	}
	return out
}

func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Server:         "http://localhost:8080",
		Transport:      "sse",
		PollInterval:   3 * time.Second,
		SuppressWindow: 2 * time.Second,
		RequestTimeout: 5 * time.Second,
		ReconnectDelay: 2 * time.Second,
	}
}

// Rooms converts the roster into seed records.
func (c *ServerConfig) Rooms() []rooms.Room {
	out := make([]rooms.Room, 0, len(c.Roster))
	for _, e := range c.Roster {
		out = append(out, rooms.Room{ID: e.ID, DisplayOrder: e.Order, Category: e.Category})
	}
	return out
}

// Validate checks that the configuration is usable
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	switch c.Storage.Driver {
	case "memory":
	case "json", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver)
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		return fmt.Errorf("redis.channel is required when redis.addr is set")
	}
	if c.Auth.ViewerPassword != "" && c.Auth.Password == "" {
		return fmt.Errorf("auth.viewer_password requires auth.password")
	}
	if c.Auth.ViewerPassword != "" && c.Auth.ViewerPassword == c.Auth.Password {
		return fmt.Errorf("auth.viewer_password must differ from auth.password")
	}
	if c.Push.Heartbeat <= 0 {
		return fmt.Errorf("push.heartbeat must be positive")
	}
	if len(c.Roster) == 0 {
		return fmt.Errorf("roster must not be empty")
	}
	seen := make(map[string]bool, len(c.Roster))
	for _, e := range c.Roster {
		if e.ID == "" {
			return fmt.Errorf("roster entry with empty id")
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate roster id %q", e.ID)
		}
		seen[e.ID] = true
		if e.Category != rooms.CategoryGeneral && e.Category != rooms.CategorySpecial {
			return fmt.Errorf("roster entry %q has unknown category %q", e.ID, e.Category)
		}
	}
	return nil
}

func (c *ClientConfig) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server is required")
	}
	if c.Transport != "sse" && c.Transport != "websocket" {
		return fmt.Errorf("transport must be sse or websocket")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.SuppressWindow < 0 {
		return fmt.Errorf("suppress_window must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive")
	}
	return nil
}

// LoadServerConfig reads path over the defaults. An empty path yields the defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func loadFile(path string, into any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *ServerConfig) applyEnv() {
	setString(&c.Listen, "LISTEN")
	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	setString(&c.Storage.Path, "STORAGE_PATH")
	setString(&c.Storage.DSN, "STORAGE_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Auth.Password, "AUTH_PASSWORD")
	setString(&c.Auth.ViewerPassword, "AUTH_VIEWER_PASSWORD")
}

func (c *ClientConfig) applyEnv() {
	setString(&c.Server, "SERVER")
	setString(&c.Password, "PASSWORD")
	setString(&c.Transport, "TRANSPORT")
	setDuration(&c.PollInterval, "POLL_INTERVAL")
	setDuration(&c.SuppressWindow, "SUPPRESS_WINDOW")
}

func setString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// SaveToFile writes the configuration as YAML
func SaveToFile(path string, cfg any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
