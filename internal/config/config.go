package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Backup     BackupConfig     `yaml:"backup"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Slots      []SlotConfig     `yaml:"slots"`
}

type ServerConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	MaxFrameBytes          int    `yaml:"max_frame_bytes"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

type SessionConfig struct {
	RequireLogin       bool    `yaml:"require_login"`
	IdleTimeoutSeconds int     `yaml:"idle_timeout_seconds"`
	CommandsPerSecond  float64 `yaml:"commands_per_second"`
	CommandBurst       int     `yaml:"command_burst"`
	WelcomeMessage     string  `yaml:"welcome_message"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type AuthConfig struct {
	BcryptCost               int `yaml:"bcrypt_cost"`
	MaxFailedLogins          int `yaml:"max_failed_logins"`
	FailedLoginWindowSeconds int `yaml:"failed_login_window_seconds"`
}

type MonitoringConfig struct {
	HealthCheckPort   int  `yaml:"health_check_port"`
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	GRPCHealthPort    int  `yaml:"grpc_health_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type TelegramConfig struct {
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
	Debug    bool    `yaml:"debug"`
}

// SlotConfig seeds one time slot at startup.
type SlotConfig struct {
	Start       time.Time `yaml:"start"`
	End         time.Time `yaml:"end"`
	Description string    `yaml:"description"`
}

// Load reads the YAML config at path (configs/config.yaml when empty).
// A .env file next to the working directory is loaded first if present and
// ${ENV_VAR} placeholders in the YAML are expanded.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Database.Driver == DriverSQLite {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 9090
	}
	if c.Server.MaxFrameBytes <= 0 {
		c.Server.MaxFrameBytes = 64 * 1024
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}
	if c.Session.WelcomeMessage == "" {
		c.Session.WelcomeMessage = "Welcome to the Enterprise Booking System!"
	}
	if c.Session.CommandBurst <= 0 {
		c.Session.CommandBurst = 20
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/slotbook.db"
	}
	if c.Auth.MaxFailedLogins <= 0 {
		c.Auth.MaxFailedLogins = 5
	}
	if c.Auth.FailedLoginWindowSeconds <= 0 {
		c.Auth.FailedLoginWindowSeconds = 300
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not one of sqlite, memory", c.Database.Driver))
	}
	if c.Session.CommandsPerSecond < 0 {
		problems = append(problems, "session.commands_per_second must not be negative")
	}
	if c.Session.IdleTimeoutSeconds < 0 {
		problems = append(problems, "session.idle_timeout_seconds must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of console, json", c.Logging.Format))
	}
	for i, s := range c.Slots {
		if !s.End.After(s.Start) {
			problems = append(problems, fmt.Sprintf("slots[%d]: end must be after start", i))
		}
		if strings.TrimSpace(s.Description) == "" {
			problems = append(problems, fmt.Sprintf("slots[%d]: description is required", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// IdleTimeout is zero when sessions may idle forever.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSeconds) * time.Second
}

func (c *Config) FailedLoginWindow() time.Duration {
	return time.Duration(c.Auth.FailedLoginWindowSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}
