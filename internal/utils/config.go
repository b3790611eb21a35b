package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Browser providers.
const (
	ProviderInstalled = "installed"
	ProviderBundled   = "bundled"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Limits struct {
		MaxBodyBytes int `yaml:"max_body_bytes"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Render RenderConfig `yaml:"render"`

	Browser BrowserConfig `yaml:"browser"`

	Auth struct {
		Postgres       PostgresConfig `yaml:"postgres"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
	} `yaml:"auth"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
		UserLimit         int           `yaml:"user_limit"`
	} `yaml:"rate_limiter"`

	Redis struct {
		Addr        string `yaml:"addr"`
		RateLimitDB int    `yaml:"rate_limit_db"`
	} `yaml:"redis"`
}

// RenderConfig holds screenshot defaults and bounds.
type RenderConfig struct {
	DefaultWidth  int           `yaml:"default_width"`
	DefaultHeight int           `yaml:"default_height"`
	DefaultFormat string        `yaml:"default_format"`
	MaxWidth      int           `yaml:"max_width"`
	MaxHeight     int           `yaml:"max_height"`
	LoadTimeout   time.Duration `yaml:"load_timeout"`
	NetworkIdle   time.Duration `yaml:"network_idle"`
	Timeout       time.Duration `yaml:"timeout"`
}

// BrowserConfig selects how the Chromium binary is provisioned and launched.
type BrowserConfig struct {
	Provider        string   `yaml:"provider"`
	ChromePath      string   `yaml:"chrome_path"`
	UserDataDir     string   `yaml:"user_data_dir"`
	BundledDir      string   `yaml:"bundled_dir"`
	BundledRevision int      `yaml:"bundled_revision"`
	ExtraFlags      []string `yaml:"extra_flags"`
}

// PostgresConfig points at the token database. An empty Host disables auth.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":8080"
	cfg.Limits.MaxBodyBytes = 4 * 1024 * 1024
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 50
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 14
	cfg.Render = RenderConfig{
		DefaultWidth:  1200,
		DefaultHeight: 800,
		DefaultFormat: "png",
		MaxWidth:      8000,
		MaxHeight:     8000,
		LoadTimeout:   30 * time.Second,
		NetworkIdle:   500 * time.Millisecond,
		Timeout:       60 * time.Second,
	}
	cfg.Browser.Provider = ProviderInstalled
	cfg.Auth.ReloadInterval = time.Minute
	cfg.RateLimiter.Interval = time.Minute
	return cfg
}

// LoadConfig reads the file named by CONFIG_PATH (default config.yaml),
// applies environment overrides and validates the result.
// It panics on invalid values.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadConfigFrom(path)
}

// LoadConfigFrom is LoadConfig with an explicit path. A missing file yields
// the defaults.
func LoadConfigFrom(path string) Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("invalid config %s: %v", path, err))
		}
	case os.IsNotExist(err):
	default:
		panic(fmt.Sprintf("cannot read config %s: %v", path, err))
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}

	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if cfg.Browser.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.Browser.ChromePath = v
		}
	}
	if v := os.Getenv("BROWSER_PROVIDER"); v != "" {
		cfg.Browser.Provider = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = ":" + strings.TrimPrefix(v, ":")
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	r := c.Render
	switch {
	case r.DefaultWidth <= 0 || r.DefaultHeight <= 0:
		return fmt.Errorf("render: default dimensions must be positive")
	case r.MaxWidth < r.DefaultWidth || r.MaxHeight < r.DefaultHeight:
		return fmt.Errorf("render: max dimensions must not be below defaults")
	case r.LoadTimeout <= 0:
		return fmt.Errorf("render: load_timeout must be positive")
	case r.NetworkIdle <= 0:
		return fmt.Errorf("render: network_idle must be positive")
	case r.Timeout < r.LoadTimeout:
		return fmt.Errorf("render: timeout must be at least load_timeout")
	}
	switch strings.ToLower(r.DefaultFormat) {
	case "png", "jpeg", "jpg", "webp":
	default:
		return fmt.Errorf("render: unsupported default_format %q", r.DefaultFormat)
	}
	switch c.Browser.Provider {
	case ProviderInstalled, ProviderBundled:
	default:
		return fmt.Errorf("browser: unknown provider %q", c.Browser.Provider)
	}
	if c.Limits.MaxBodyBytes <= 0 {
		return fmt.Errorf("limits: max_body_bytes must be positive")
	}
	if c.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter: user_limit must not be negative")
	}
	if c.RateLimiter.Interval <= 0 {
		return fmt.Errorf("rate_limiter: interval must be positive")
	}
	if c.Auth.Postgres.Host != "" && c.Auth.ReloadInterval <= 0 {
		return fmt.Errorf("auth: reload_interval must be positive")
	}
	return nil
}
