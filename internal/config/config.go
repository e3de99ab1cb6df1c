package config

import (
	"net"
	"strconv"
	"time"

	"github.com/emberchat/ember/internal/logging"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Hub      HubConfig      `json:"hub" yaml:"hub"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Logging  logging.Config `json:"logging" yaml:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig represents storage configuration
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// HubConfig represents broadcast hub configuration
type HubConfig struct {
	SendTimeout     time.Duration `json:"send_timeout" yaml:"send_timeout"`
	EventBufferSize int           `json:"event_buffer_size" yaml:"event_buffer_size"`
}

// AuthConfig represents session configuration
type AuthConfig struct {
	SessionTTL time.Duration `json:"session_ttl" yaml:"session_ttl"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "ember.db",
		},
		Hub: HubConfig{
			SendTimeout:     5 * time.Second,
			EventBufferSize: 1000,
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if c.Database.Path == "" {
		return NewConfigError("database.path", "database path is required")
	}

	if c.Hub.SendTimeout <= 0 {
		return NewConfigError("hub.send_timeout", "send timeout must be positive")
	}

	if c.Auth.SessionTTL <= 0 {
		return NewConfigError("auth.session_ttl", "session TTL must be positive")
	}

	return nil
}
