// Package config loads CLI configuration from a YAML file, SITESTATS_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SITESTATS_TTL.
const EnvPrefix = "SITESTATS"

// DefaultFile is searched for in the working directory when no file is given.
const DefaultFile = "sitestats"

// Store kinds.
const (
	StoreMemory = "memory"
	StoreDisk   = "disk"
	StoreGCS    = "gcs"
	StoreS3     = "s3"
	StoreSQL    = "sql"
)

// ErrNoEndpoints is returned by Validate when neither server_url nor
// endpoints is set.
var ErrNoEndpoints = errors.New("config: no server_url or endpoints configured")

// Endpoint is one configured pageview service.
type Endpoint struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Parser   string `mapstructure:"parser"`
	Priority int    `mapstructure:"priority"`
}

// Store selects and configures the persisted cache backend.
type Store struct {
	Kind  string `mapstructure:"kind"`
	Dir   string `mapstructure:"dir"`
	Codec string `mapstructure:"codec"`

	// Object storage.
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`

	// SQL.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`

	// MemoSize is the in-process LRU size in entries; 0 disables it.
	MemoSize int `mapstructure:"memo_size"`
}

// Config is the full CLI configuration.
type Config struct {
	ServerURL      string        `mapstructure:"server_url"`
	SiteURL        string        `mapstructure:"site_url"`
	Endpoints      []Endpoint    `mapstructure:"endpoints"`
	CacheKey       string        `mapstructure:"cache_key"`
	TTL            time.Duration `mapstructure:"ttl"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Lang           string        `mapstructure:"lang"`
	Selector       string        `mapstructure:"selector"`
	PathPrefixes   []string      `mapstructure:"path_prefixes"`
	Store          Store         `mapstructure:"store"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"server":          "server_url",
	"site":            "site_url",
	"cache-key":       "cache_key",
	"ttl":             "ttl",
	"max-attempts":    "max_attempts",
	"retry-delay":     "retry_delay",
	"attempt-timeout": "attempt_timeout",
	"rate-limit":      "rate_limit",
	"lang":            "lang",
	"store":           "store.kind",
	"store-dir":       "store.dir",
	"store-codec":     "store.codec",
	"store-bucket":    "store.bucket",
	"store-prefix":    "store.prefix",
	"store-endpoint":  "store.endpoint",
	"store-region":    "store.region",
	"store-driver":    "store.driver",
	"store-dsn":       "store.dsn",
	"memo-size":       "store.memo_size",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "")
	v.SetDefault("site_url", "")
	v.SetDefault("cache_key", "waline_global_stats")
	v.SetDefault("ttl", 5*time.Minute)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("retry_delay", time.Second)
	v.SetDefault("attempt_timeout", 10*time.Second)
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("lang", "")
	v.SetDefault("selector", "time")
	v.SetDefault("path_prefixes", []string{"/posts/", "/archives/"})

	v.SetDefault("store.kind", StoreDisk)
	v.SetDefault("store.dir", "./.sitestats")
	v.SetDefault("store.codec", "none")
	v.SetDefault("store.bucket", "")
	v.SetDefault("store.prefix", "")
	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.region", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "")
	v.SetDefault("store.memo_size", 16)
}

// Load reads the configuration. An empty file searches for sitestats.yaml in
// the working directory and tolerates its absence. Flags that were set on the
// command line override both the file and the environment.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	} else {
		v.SetConfigName(DefaultFile)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvedEndpoints returns the configured endpoints, or a single endpoint
// built from ServerURL when none are listed.
func (c *Config) ResolvedEndpoints() []Endpoint {
	if len(c.Endpoints) > 0 {
		return c.Endpoints
	}
	if c.ServerURL == "" {
		return nil
	}
	return []Endpoint{{Name: "default", URL: c.ServerURL}}
}

// Validate checks value ranges and required settings.
func (c *Config) Validate() error {
	if len(c.ResolvedEndpoints()) == 0 {
		return ErrNoEndpoints
	}
	for i, ep := range c.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("config: endpoints[%d] has no url", i)
		}
	}
	if c.SiteURL != "" {
		u, err := url.Parse(c.SiteURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config: site_url must be an absolute http(s) URL, got %q", c.SiteURL)
		}
	}
	if c.CacheKey == "" {
		return errors.New("config: cache_key must not be empty")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("config: ttl must be positive, got %s", c.TTL)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryDelay < 0 || c.AttemptTimeout <= 0 {
		return errors.New("config: retry_delay and attempt_timeout must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate_limit must not be negative, got %v", c.RateLimit)
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreDisk:
		if c.Store.Dir == "" {
			return errors.New("config: store.dir is required for the disk store")
		}
	case StoreGCS, StoreS3:
		if c.Store.Bucket == "" {
			return fmt.Errorf("config: store.bucket is required for the %s store", c.Store.Kind)
		}
	case StoreSQL:
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for the sql store")
		}
	default:
		return fmt.Errorf("config: unknown store kind %q", c.Store.Kind)
	}
	return nil
}
