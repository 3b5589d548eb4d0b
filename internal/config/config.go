// Package config loads the gateway configuration from a TOML file, filling
// unset fields with defaults so a minimal config file is enough to boot.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultJWTExpiresIn      = "24h"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "waflow"
	DefaultPGSSLMode         = "disable"
	DefaultRedisAddr         = "127.0.0.1:6379"
	DefaultDedupeTTLHours    = 168
	DefaultGraphBaseURL      = "https://graph.facebook.com"
	DefaultGraphAPIVersion   = "v18.0"
	DefaultSendTimeoutSec    = 12
	DefaultDispatchTimeout   = 8
	DefaultDispatchRetries   = 4
	DefaultDispatchQueueSize = 256
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	WhatsApp   WhatsAppConfig   `toml:"whatsapp"`
	Automation AutomationConfig `toml:"automation"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addr           string `toml:"addr"`
	Password       string `toml:"password"`
	DB             int    `toml:"db"`
	DedupeTTLHours int    `toml:"dedupe_ttl_hours"`
}

// DedupeTTL returns the retention window for webhook dedupe records.
func (c RedisConfig) DedupeTTL() time.Duration {
	hours := c.DedupeTTLHours
	if hours <= 0 {
		hours = DefaultDedupeTTLHours
	}
	return time.Duration(hours) * time.Hour
}

type WhatsAppConfig struct {
	BaseURL            string `toml:"base_url"`
	APIVersion         string `toml:"api_version"`
	SendTimeoutSeconds int    `toml:"send_timeout_seconds"`
}

// SendTimeout bounds a single channel API call.
func (c WhatsAppConfig) SendTimeout() time.Duration {
	sec := c.SendTimeoutSeconds
	if sec <= 0 {
		sec = DefaultSendTimeoutSec
	}
	return time.Duration(sec) * time.Second
}

type AutomationConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
	QueueSize      int    `toml:"queue_size"`
}

// Timeout bounds a single delivery attempt to the automation engine.
func (c AutomationConfig) Timeout() time.Duration {
	sec := c.TimeoutSeconds
	if sec <= 0 {
		sec = DefaultDispatchTimeout
	}
	return time.Duration(sec) * time.Second
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			Addr:           DefaultRedisAddr,
			DedupeTTLHours: DefaultDedupeTTLHours,
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:            DefaultGraphBaseURL,
			APIVersion:         DefaultGraphAPIVersion,
			SendTimeoutSeconds: DefaultSendTimeoutSec,
		},
		Automation: AutomationConfig{
			TimeoutSeconds: DefaultDispatchTimeout,
			MaxRetries:     DefaultDispatchRetries,
			QueueSize:      DefaultDispatchQueueSize,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
