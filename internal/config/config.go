// Package config loads application configuration from a YAML file and
// environment variables. Environment variables use the PANTRYWATCH_ prefix
// with double underscores as section separators (PANTRYWATCH_SERVER__PORT)
// and override file values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	JWT           JWTConfig           `koanf:"jwt"`
	CORS          CORSConfig          `koanf:"cors"`
	Realtime      RealtimeConfig      `koanf:"realtime"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	Migrate         bool          `koanf:"migrate"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// JWTConfig contains token verification settings.
type JWTConfig struct {
	SecretKey string `koanf:"secret_key"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// RealtimeConfig contains SSE registry settings.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
}

// NotificationsConfig contains queue and channel settings.
type NotificationsConfig struct {
	MaxRetries    int           `koanf:"max_retries"`
	DrainInterval time.Duration `koanf:"drain_interval"`
	SendTimeout   time.Duration `koanf:"send_timeout"`
	Chat          ChatConfig    `koanf:"chat"`
}

// ChatConfig contains chat-bot channel settings.
type ChatConfig struct {
	Enabled   bool          `koanf:"enabled"`
	BotURL    string        `koanf:"bot_url"`
	BotToken  string        `koanf:"bot_token"`
	RateLimit float64       `koanf:"rate_limit"`
	Timeout   time.Duration `koanf:"timeout"`
}

// SchedulerConfig contains expiry scan settings.
type SchedulerConfig struct {
	Enabled      bool   `koanf:"enabled"`
	RunAt        string `koanf:"run_at"`
	Timezone     string `koanf:"timezone"`
	CriticalDays int    `koanf:"critical_days"`
	WarningDays  int    `koanf:"warning_days"`
}

// Defaults returns the baseline configuration before file/env overrides.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			Migrate:         true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: 30 * time.Second,
		},
		Notifications: NotificationsConfig{
			MaxRetries:    3,
			DrainInterval: 2 * time.Second,
			SendTimeout:   15 * time.Second,
			Chat: ChatConfig{
				RateLimit: 25,
				Timeout:   10 * time.Second,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			RunAt:        "07:00",
			Timezone:     "UTC",
			CriticalDays: 3,
			WarningDays:  7,
		},
	}
}

// Load reads configuration from the given YAML file (optional) and the
// environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// Double underscore separates sections, single underscore stays in the
	// key: PANTRYWATCH_DATABASE__URL -> database.url,
	// PANTRYWATCH_NOTIFICATIONS__CHAT__BOT_TOKEN -> notifications.chat.bot_token.
	err := k.Load(env.Provider("PANTRYWATCH_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "PANTRYWATCH_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key is required")
	}
	if c.Notifications.Chat.Enabled && c.Notifications.Chat.BotURL == "" {
		return fmt.Errorf("notifications.chat.bot_url is required when chat is enabled")
	}
	return nil
}
