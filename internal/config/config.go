// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads Gatehouse configuration from defaults, an optional
// YAML file and command-line flags, in that order of precedence.
package config

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-auth/gatehouse/internal/auth"
	"github.com/gatehouse-auth/gatehouse/internal/logging"
	"github.com/gatehouse-auth/gatehouse/internal/xdg"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the complete service configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Store    StoreConfig    `koanf:"store"`
	Sessions SessionsConfig `koanf:"sessions"`
	Hasher   HasherConfig   `koanf:"hasher"`
	Web      WebConfig      `koanf:"web"`
}

// HTTPConfig configures the application listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the observability listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// StoreConfig selects the user store.
type StoreConfig struct {
	Driver      string `koanf:"driver"`
	DSN         string `koanf:"dsn"`
	AutoMigrate bool   `koanf:"auto_migrate"` // postgres only
}

// SessionsConfig selects the session store. The sqlite and postgres drivers
// share the user store's database.
type SessionsConfig struct {
	Driver        string        `koanf:"driver"`
	RedisAddr     string        `koanf:"redis_addr"`
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// HasherConfig selects the password hashing algorithm.
type HasherConfig struct {
	Algorithm string `koanf:"algorithm"`
	Cost      int    `koanf:"cost"`
}

// WebConfig configures the HTTP surface.
type WebConfig struct {
	LoginPath    string `koanf:"login_path"`
	LandingPath  string `koanf:"landing_path"`
	CookieName   string `koanf:"cookie_name"`
	CookieSecure bool   `koanf:"cookie_secure"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8080"},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Store:   StoreConfig{Driver: DriverMemory, AutoMigrate: true},
		Sessions: SessionsConfig{
			Driver:        DriverMemory,
			RedisAddr:     "127.0.0.1:6379",
			TTL:           auth.DefaultSessionTTL,
			SweepInterval: 5 * time.Minute,
		},
		Hasher: HasherConfig{Algorithm: auth.AlgorithmBcrypt, Cost: auth.DefaultBcryptCost},
		Web: WebConfig{
			LoginPath:   auth.DefaultLoginPath,
			LandingPath: auth.DefaultLandingPath,
			CookieName:  "gatehouse_session",
		},
	}
}

// RegisterFlags adds the serve flags to fs with defaults from Default.
// Flag names are config keys with "." and "_" replaced by "-".
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "application listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics listen address (empty disables)")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("store-driver", d.Store.Driver, "user store driver (memory, sqlite, postgres)")
	fs.String("store-dsn", d.Store.DSN, "user store data source name")
	fs.Bool("store-auto-migrate", d.Store.AutoMigrate, "apply pending migrations on startup (postgres)")
	fs.String("sessions-driver", d.Sessions.Driver, "session store driver (memory, sqlite, postgres, redis)")
	fs.String("sessions-redis-addr", d.Sessions.RedisAddr, "redis address for the redis session driver")
	fs.Duration("sessions-ttl", d.Sessions.TTL, "session lifetime")
	fs.Duration("sessions-sweep-interval", d.Sessions.SweepInterval, "expired session sweep interval")
	fs.String("hasher-algorithm", d.Hasher.Algorithm, "password hashing algorithm (bcrypt, argon2id)")
	fs.Int("hasher-cost", d.Hasher.Cost, "bcrypt cost")
	fs.Bool("web-cookie-secure", d.Web.CookieSecure, "mark the session cookie Secure")
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"http-addr":               "http.addr",
	"metrics-addr":            "metrics.addr",
	"log-format":              "log.format",
	"log-level":               "log.level",
	"store-driver":            "store.driver",
	"store-dsn":               "store.dsn",
	"store-auto-migrate":      "store.auto_migrate",
	"sessions-driver":         "sessions.driver",
	"sessions-redis-addr":     "sessions.redis_addr",
	"sessions-ttl":            "sessions.ttl",
	"sessions-sweep-interval": "sessions.sweep_interval",
	"hasher-algorithm":        "hasher.algorithm",
	"hasher-cost":             "hasher.cost",
	"web-cookie-secure":       "web.cookie_secure",
}

// ResolvePath returns explicit when set, otherwise the XDG config file if it
// exists, otherwise "".
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	candidate := xdg.ConfigFile()
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

// Load builds the configuration. path may be empty; fs may be nil. Flags
// override the file only when set explicitly or when the file omits the key.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").With("path", path).Wrap(err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Sessions.Driver = strings.ToLower(strings.TrimSpace(c.Sessions.Driver))
	c.Hasher.Algorithm = strings.ToLower(strings.TrimSpace(c.Hasher.Algorithm))
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return invalid("http.addr", c.HTTP.Addr, "must not be empty")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", c.Log.Format, "must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}

	if !slices.Contains([]string{DriverMemory, DriverSQLite, DriverPostgres}, c.Store.Driver) {
		return invalid("store.driver", c.Store.Driver, "must be memory, sqlite or postgres")
	}
	if c.Store.Driver != DriverMemory && c.Store.DSN == "" {
		return invalid("store.dsn", c.Store.DSN, "required for the "+c.Store.Driver+" driver")
	}

	switch c.Sessions.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Sessions.RedisAddr == "" {
			return invalid("sessions.redis_addr", c.Sessions.RedisAddr, "required for the redis driver")
		}
	case DriverSQLite, DriverPostgres:
		if c.Sessions.Driver != c.Store.Driver {
			return invalid("sessions.driver", c.Sessions.Driver, "requires store.driver "+c.Sessions.Driver)
		}
	default:
		return invalid("sessions.driver", c.Sessions.Driver, "must be memory, sqlite, postgres or redis")
	}
	if c.Sessions.TTL <= 0 {
		return invalid("sessions.ttl", c.Sessions.TTL.String(), "must be positive")
	}
	if c.Sessions.SweepInterval <= 0 {
		return invalid("sessions.sweep_interval", c.Sessions.SweepInterval.String(), "must be positive")
	}

	if c.Hasher.Algorithm != auth.AlgorithmBcrypt && c.Hasher.Algorithm != auth.AlgorithmArgon2id {
		return invalid("hasher.algorithm", c.Hasher.Algorithm, "must be bcrypt or argon2id")
	}
	if c.Hasher.Cost < bcrypt.MinCost || c.Hasher.Cost > bcrypt.MaxCost {
		return invalid("hasher.cost", c.Hasher.Cost, "out of range")
	}

	if !strings.HasPrefix(c.Web.LoginPath, "/") {
		return invalid("web.login_path", c.Web.LoginPath, "must be an absolute path")
	}
	if !strings.HasPrefix(c.Web.LandingPath, "/") {
		return invalid("web.landing_path", c.Web.LandingPath, "must be an absolute path")
	}
	if c.Web.CookieName == "" {
		return invalid("web.cookie_name", c.Web.CookieName, "must not be empty")
	}
	return nil
}

func invalid(key string, value any, reason string) error {
	return oops.Code("CONFIG_INVALID").
		With("key", key).
		With("value", value).
		Errorf("invalid %s: %s", key, reason)
}
