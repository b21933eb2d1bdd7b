// Package config loads client and relay settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Client configures cmd/client.
type Client struct {
	ServerURL    string        `mapstructure:"server"`
	Debug        bool          `mapstructure:"debug"`
	LogFile      string        `mapstructure:"log_file"`
	Profile      string        `mapstructure:"profile"`
	NotifyDelay  time.Duration `mapstructure:"notify_delay"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`

	// ServerFromEnv is set when RELAYCHAT_SERVER was given explicitly, so a
	// remembered server must not override it.
	ServerFromEnv bool `mapstructure:"-"`
}

// Relay configures cmd/relay.
type Relay struct {
	Port                string `mapstructure:"port"`
	DatabaseURL         string `mapstructure:"database_url"`
	MaxConnectionsPerIP int    `mapstructure:"max_connections_per_ip"`
	JoinAttemptsPerMin  int    `mapstructure:"join_attempts_per_min"`
	HistoryLimit        int    `mapstructure:"history_limit"`
}

// loadDotEnv reads .env from the working directory. A missing file is fine.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func newViper(defaults map[string]interface{}, env map[string]string) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return v, nil
}

// LoadClient reads RELAYCHAT_* variables.
func LoadClient() (Client, error) {
	if err := loadDotEnv(); err != nil {
		return Client{}, err
	}

	v, err := newViper(map[string]interface{}{
		"server":        "ws://localhost:3567/ws",
		"debug":         false,
		"log_file":      "debug.log",
		"profile":       "default",
		"notify_delay":  100 * time.Millisecond,
		"reconnect_min": 500 * time.Millisecond,
		"reconnect_max": 10 * time.Second,
	}, map[string]string{
		"server":        "RELAYCHAT_SERVER",
		"debug":         "RELAYCHAT_DEBUG",
		"log_file":      "RELAYCHAT_LOG_FILE",
		"profile":       "RELAYCHAT_PROFILE",
		"notify_delay":  "RELAYCHAT_NOTIFY_DELAY",
		"reconnect_min": "RELAYCHAT_RECONNECT_MIN",
		"reconnect_max": "RELAYCHAT_RECONNECT_MAX",
	})
	if err != nil {
		return Client{}, err
	}

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return Client{}, fmt.Errorf("decode client config: %w", err)
	}
	_, cfg.ServerFromEnv = os.LookupEnv("RELAYCHAT_SERVER")
	return cfg, cfg.Validate()
}

func (c Client) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server url %q: scheme must be ws or wss", c.ServerURL)
	}
	if c.NotifyDelay < 0 {
		return fmt.Errorf("notify delay must not be negative")
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("reconnect range %s..%s is invalid", c.ReconnectMin, c.ReconnectMax)
	}
	return nil
}

// LoadRelay reads the relay's variables. An empty DatabaseURL keeps history in
// memory.
func LoadRelay() (Relay, error) {
	if err := loadDotEnv(); err != nil {
		return Relay{}, err
	}

	v, err := newViper(map[string]interface{}{
		"port":                   "3567",
		"database_url":           "",
		"max_connections_per_ip": 10,
		"join_attempts_per_min":  5,
		"history_limit":          100,
	}, map[string]string{
		"port":                   "PORT",
		"database_url":           "DATABASE_URL",
		"max_connections_per_ip": "MAX_CONNECTIONS_PER_IP",
		"join_attempts_per_min":  "JOIN_ATTEMPTS_PER_MIN",
		"history_limit":          "HISTORY_LIMIT",
	})
	if err != nil {
		return Relay{}, err
	}

	var cfg Relay
	if err := v.Unmarshal(&cfg); err != nil {
		return Relay{}, fmt.Errorf("decode relay config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (r Relay) Validate() error {
	if r.Port == "" {
		return fmt.Errorf("port is required")
	}
	if r.MaxConnectionsPerIP <= 0 || r.JoinAttemptsPerMin <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if r.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive")
	}
	return nil
}
