// Package daemon loads configuration and wires the anoncredits process:
// storage backend, application services and the HTTP server.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultConfigFile is read when no --config path is given. It is optional.
const DefaultConfigFile = "anoncredits.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ANONCREDITS_"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the full anoncredits configuration, mapped from TOML.
type Config struct {
	API       APIConfig       `toml:"api"`
	CORS      CORSConfig      `toml:"cors"`
	Identity  IdentityConfig  `toml:"identity"`
	Credits   CreditsConfig   `toml:"credits"`
	Bonus     BonusConfig     `toml:"bonus"`
	Storage   StorageConfig   `toml:"storage"`
	Bridge    BridgeConfig    `toml:"bridge"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	RequestTimeout  string `toml:"request_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// IdentityConfig names the transports of the anonymous id.
type IdentityConfig struct {
	Header       string `toml:"header"`
	Cookie       string `toml:"cookie"`
	CookieMaxAge string `toml:"cookie_max_age"`
	CookieSecure bool   `toml:"cookie_secure"`
	CookieDomain string `toml:"cookie_domain"`
}

// CreditsConfig sets grant amounts.
type CreditsConfig struct {
	InitialAmount    int64 `toml:"initial_amount"`
	DailyBonusAmount int64 `toml:"daily_bonus_amount"`
	LedgerLimit      int   `toml:"ledger_limit"`
}

// BonusConfig tunes the daily-bonus gates.
type BonusConfig struct {
	RateWindow  string `toml:"rate_window"`
	MaxAttempts int    `toml:"max_attempts"`
	Timezone    string `toml:"timezone"`
}

// StorageConfig selects the persistence backend explicitly.
type StorageConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"` // sqlite
	DSN     string `toml:"dsn"`  // postgres
}

// BridgeConfig lists origins the storage bridge answers.
type BridgeConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// RateLimitConfig bounds requests per client. RequestsPerSecond 0 disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			RequestTimeout:  "30s",
			ShutdownTimeout: "10s",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Identity: IdentityConfig{
			Header:       "X-Anon-Id",
			Cookie:       "anon_id",
			CookieMaxAge: "8760h",
		},
		Credits: CreditsConfig{
			InitialAmount:    100,
			DailyBonusAmount: 10,
			LedgerLimit:      50,
		},
		Bonus: BonusConfig{
			RateWindow:  "1h",
			MaxAttempts: 1,
			Timezone:    "Local",
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Path:    "anoncredits.db",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// LoadConfig builds the configuration: defaults, then the TOML file, then
// a .env file in the working directory, then ANONCREDITS_* variables.
// An empty path reads DefaultConfigFile if it exists; an explicit path
// must exist.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return loadConfig(path, os.LookupEnv)
}

func loadConfig(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	required := path != ""
	if path == "" {
		path = DefaultConfigFile
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays ANONCREDITS_<SECTION>_<KEY> variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	list := func(dst *[]string) func(string) error {
		return func(v string) error { *dst = splitList(v); return nil }
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			*dst = n
			return err
		}
	}
	int64v := func(dst *int64) func(string) error {
		return func(v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			*dst = n
			return err
		}
	}
	float := func(dst *float64) func(string) error {
		return func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			*dst = f
			return err
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			*dst = b
			return err
		}
	}

	overrides := []struct {
		name  string
		apply func(string) error
	}{
		{"API_HOST", str(&c.API.Host)},
		{"API_PORT", integer(&c.API.Port)},
		{"API_REQUEST_TIMEOUT", str(&c.API.RequestTimeout)},
		{"API_SHUTDOWN_TIMEOUT", str(&c.API.ShutdownTimeout)},
		{"CORS_ALLOWED_ORIGINS", list(&c.CORS.AllowedOrigins)},
		{"IDENTITY_HEADER", str(&c.Identity.Header)},
		{"IDENTITY_COOKIE", str(&c.Identity.Cookie)},
		{"IDENTITY_COOKIE_MAX_AGE", str(&c.Identity.CookieMaxAge)},
		{"IDENTITY_COOKIE_SECURE", boolean(&c.Identity.CookieSecure)},
		{"IDENTITY_COOKIE_DOMAIN", str(&c.Identity.CookieDomain)},
		{"CREDITS_INITIAL_AMOUNT", int64v(&c.Credits.InitialAmount)},
		{"CREDITS_DAILY_BONUS_AMOUNT", int64v(&c.Credits.DailyBonusAmount)},
		{"CREDITS_LEDGER_LIMIT", integer(&c.Credits.LedgerLimit)},
		{"BONUS_RATE_WINDOW", str(&c.Bonus.RateWindow)},
		{"BONUS_MAX_ATTEMPTS", integer(&c.Bonus.MaxAttempts)},
		{"BONUS_TIMEZONE", str(&c.Bonus.Timezone)},
		{"STORAGE_BACKEND", str(&c.Storage.Backend)},
		{"STORAGE_PATH", str(&c.Storage.Path)},
		{"STORAGE_DSN", str(&c.Storage.DSN)},
		{"BRIDGE_ALLOWED_ORIGINS", list(&c.Bridge.AllowedOrigins)},
		{"LOG_LEVEL", str(&c.Log.Level)},
		{"LOG_FORMAT", str(&c.Log.Format)},
		{"LOG_FILE", str(&c.Log.File)},
		{"METRICS_ENABLED", boolean(&c.Metrics.Enabled)},
		{"RATELIMIT_REQUESTS_PER_SECOND", float(&c.RateLimit.RequestsPerSecond)},
		{"RATELIMIT_BURST", integer(&c.RateLimit.Burst)},
	}
	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.apply(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks cross-field constraints and that every duration and the
// timezone parse.
func (c Config) Validate() error {
	var errs []error
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	for name, v := range map[string]string{
		"api.request_timeout":     c.API.RequestTimeout,
		"api.shutdown_timeout":    c.API.ShutdownTimeout,
		"identity.cookie_max_age": c.Identity.CookieMaxAge,
		"bonus.rate_window":       c.Bonus.RateWindow,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("bonus.timezone: %w", err))
	}
	if c.Credits.InitialAmount < 0 {
		errs = append(errs, errors.New("credits.initial_amount must not be negative"))
	}
	if c.Credits.DailyBonusAmount <= 0 {
		errs = append(errs, errors.New("credits.daily_bonus_amount must be positive"))
	}
	if c.Credits.LedgerLimit <= 0 {
		errs = append(errs, errors.New("credits.ledger_limit must be positive"))
	}
	if c.Bonus.MaxAttempts <= 0 {
		errs = append(errs, errors.New("bonus.max_attempts must be positive"))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be one of memory, sqlite, postgres", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// Location resolves bonus.timezone; "Local" and "" mean the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.Bonus.Timezone == "" || c.Bonus.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Bonus.Timezone)
}

// duration parses a value already checked by Validate.
func duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}
