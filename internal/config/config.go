package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every variable, e.g. DIVISA_SERVER_PORT.
const EnvPrefix = "DIVISA"

type Config struct {
	Server ServerConfig `envconfig:"SERVER"`
	API    APIConfig    `envconfig:"API"`
	Shell  ShellConfig  `envconfig:"SHELL"`
	Cache  CacheConfig  `envconfig:"CACHE"`
	Log    LogConfig    `envconfig:"LOG"`
}

type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

type APIConfig struct {
	BaseURL       string        `envconfig:"BASE_URL" default:"http://localhost:5000"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"30s"`
	LocalCurrency string        `envconfig:"LOCAL_CURRENCY" default:"VES"`
}

// ShellConfig drives the offline shell worker.
type ShellConfig struct {
	UpstreamURL      string        `envconfig:"UPSTREAM_URL" default:"http://localhost:5000"`
	CachePrefix      string        `envconfig:"CACHE_PREFIX" default:"divisa"`
	Version          string        `envconfig:"VERSION" default:"v1.1.0"`
	StaticFiles      []string      `envconfig:"STATIC_FILES" default:"/,/static/manifest.json,/static/icons/icon-192x192.png,/static/icons/icon-512x512.png,/static/css/app.css,/static/js/app.js"`
	APIRoutes        []string      `envconfig:"API_ROUTES" default:"/api/rates,/api/status,/api/health"`
	ManifestPath     string        `envconfig:"MANIFEST_PATH" default:"/static/manifest.json"`
	DocumentPaths    []string      `envconfig:"DOCUMENT_PATHS" default:"/,/index.html"`
	SyncInterval     time.Duration `envconfig:"SYNC_INTERVAL" default:"30m"`
	ReloadDelay      time.Duration `envconfig:"RELOAD_DELAY" default:"1s"`
	VersionPoll      time.Duration `envconfig:"VERSION_POLL" default:"1m"`
	ConnectivityPoll time.Duration `envconfig:"CONNECTIVITY_POLL" default:"15s"`
}

type CacheConfig struct {
	Backend   string `envconfig:"BACKEND" default:"memory"`
	RedisURL  string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"divisa:shell"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"text"`
}

// CacheName is the worker version tag, e.g. divisa-api-v1.1.0.
func (s ShellConfig) CacheName() string {
	return fmt.Sprintf("%s-api-%s", s.CachePrefix, s.Version)
}

func (s ShellConfig) StaticCacheName() string {
	return fmt.Sprintf("%s-static-%s", s.CachePrefix, s.Version)
}

func (s ShellConfig) DynamicCacheName() string {
	return fmt.Sprintf("%s-dynamic-%s", s.CachePrefix, s.Version)
}

// LoadConfig reads the optional env files (or ./.env) and then the
// process environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	files := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if f != "" {
			files = append(files, f)
		}
	}
	// A missing .env is normal outside development.
	_ = godotenv.Load(files...)

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if err := validateURL("api base url", c.API.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("shell upstream url", c.Shell.UpstreamURL); err != nil {
		errs = append(errs, err)
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api timeout must be positive"))
	}
	if len(strings.TrimSpace(c.API.LocalCurrency)) != 3 {
		errs = append(errs, fmt.Errorf("invalid local currency: %q", c.API.LocalCurrency))
	}
	if c.Shell.SyncInterval <= 0 {
		errs = append(errs, errors.New("shell sync interval must be positive"))
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend: %q", c.Cache.Backend))
	}

	return errors.Join(errs...)
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid %s: %q", name, raw)
	}
	return nil
}
