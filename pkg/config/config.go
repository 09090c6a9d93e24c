package config

import (
	"fmt"
	"os"
	"time"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/retry"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Google   GoogleConfig   `yaml:"google"`
	Sync     SyncConfig     `yaml:"sync"`
	Auth     AuthConfig     `yaml:"auth"`
	NATS     NATSConfig     `yaml:"nats"`
	Retry    retry.Config   `yaml:"retry"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// GoogleConfig holds the OAuth client registration. Endpoint overrides are
// only needed for tests and proxies.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	APIEndpoint  string `yaml:"api_endpoint"`
}

type SyncConfig struct {
	WindowDays         int           `yaml:"window_days"`
	RefreshBuffer      time.Duration `yaml:"refresh_buffer"`
	WebhookTimeout     time.Duration `yaml:"webhook_timeout"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
	SessionDuration    time.Duration `yaml:"session_duration"`
	Timezone           string        `yaml:"timezone"`
	TitlePrefix        string        `yaml:"title_prefix"`
	NamePrefixes       []string      `yaml:"name_prefixes"`
	NameSeparators     []string      `yaml:"name_separators"`
	DefaultDirection   string        `yaml:"default_direction"`
}

// Location returns the configured timezone
func (s SyncConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// Window returns the reconciliation half-width
func (s SyncConfig) Window() time.Duration {
	return time.Duration(s.WindowDays) * 24 * time.Hour
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file, expanding ${VAR} references from the environment
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates config bytes
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Google.ClientID == "" {
		return fmt.Errorf("google client_id is required")
	}
	if c.Google.ClientSecret == "" {
		return fmt.Errorf("google client_secret is required")
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}

	if err := c.Sync.applyDefaults(); err != nil {
		return err
	}

	if c.Sync.WebhookTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("sync webhook_timeout (%v) must be shorter than server write_timeout (%v)",
			c.Sync.WebhookTimeout, c.Server.WriteTimeout)
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		c.NATS.Subject = "calendar.sync.reports"
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry = *retry.DefaultConfig()
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

func (s *SyncConfig) applyDefaults() error {
	if s.WindowDays == 0 {
		s.WindowDays = 30
	}
	if s.WindowDays < 0 {
		return fmt.Errorf("sync window_days must be positive")
	}
	if s.RefreshBuffer == 0 {
		s.RefreshBuffer = 5 * time.Minute
	}
	if s.WebhookTimeout == 0 {
		s.WebhookTimeout = 25 * time.Second
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = 15 * time.Minute
	}
	if s.RateLimitPerSecond == 0 {
		s.RateLimitPerSecond = 10
	}
	if s.RateLimitBurst == 0 {
		s.RateLimitBurst = 1
	}
	if s.SessionDuration == 0 {
		s.SessionDuration = 60 * time.Minute
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("sync timezone %q: %w", s.Timezone, err)
	}
	if s.TitlePrefix == "" {
		s.TitlePrefix = "Workout"
	}
	if len(s.NamePrefixes) == 0 {
		s.NamePrefixes = []string{"Workout", "אימון"}
	}
	if len(s.NameSeparators) == 0 {
		s.NameSeparators = []string{",", "&", "+", " and "}
	}
	for i, sep := range s.NameSeparators {
		if sep == "" {
			return fmt.Errorf("sync name_separators[%d] is empty", i)
		}
	}
	if s.DefaultDirection == "" {
		s.DefaultDirection = string(models.DirectionBidirectional)
	}
	if _, err := models.ParseSyncDirection(s.DefaultDirection); err != nil {
		return fmt.Errorf("sync default_direction: %w", err)
	}
	return nil
}
