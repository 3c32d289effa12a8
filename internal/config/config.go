package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.courier/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Client         Client `toml:"client"`
	Server         Server `toml:"server"`
}

// Client configures the transport connection and REST seed endpoints.
type Client struct {
	Endpoint             string `toml:"endpoint"`
	HeartbeatSeconds     int    `toml:"heartbeat_seconds"`
	BackoffBaseMillis    int    `toml:"backoff_base_millis"`
	BackoffMaxSeconds    int    `toml:"backoff_max_seconds"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
}

// Server configures the courierd daemon.
type Server struct {
	ListenAddr string `toml:"listen_addr"`
	DBPath     string `toml:"db_path"`
	AuthSecret string `toml:"auth_secret"`
	TokenTTL   int    `toml:"token_ttl_seconds"`
}

// Default returns a config with working defaults for every field the rest of
// the system reads. Load starts from this and overlays the file on top.
func Default() *Config {
	return &Config{
		Client: Client{
			Endpoint:             "http://127.0.0.1:7465",
			HeartbeatSeconds:     15,
			BackoffBaseMillis:    1000,
			BackoffMaxSeconds:    30,
			MaxReconnectAttempts: 0, // unbounded
		},
		Server: Server{
			ListenAddr: "127.0.0.1:7465",
			TokenTTL:   86400,
		},
	}
}

// Heartbeat returns the heartbeat interval as a duration.
func (c Client) Heartbeat() time.Duration {
	if c.HeartbeatSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// BackoffBase returns the initial reconnect delay.
func (c Client) BackoffBase() time.Duration {
	if c.BackoffBaseMillis <= 0 {
		return time.Second
	}
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

// BackoffMax returns the reconnect delay ceiling.
func (c Client) BackoffMax() time.Duration {
	if c.BackoffMaxSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

// TokenDuration returns the lifetime for locally issued bearer tokens.
func (s Server) TokenDuration() time.Duration {
	if s.TokenTTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.TokenTTL) * time.Second
}

// Load reads config from the given path, overlaying it on Default().
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
