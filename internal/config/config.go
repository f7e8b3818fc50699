package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/offline"
	"github.com/spf13/viper"
)

const (
	envPrefix             = "SOLOLEVELING"
	defaultHTTPAddress    = "127.0.0.1:8080"
	defaultDatabasePath   = "sololeveling.db"
	defaultLogLevel       = "info"
	defaultCacheOrigin    = "http://127.0.0.1:3000"
	defaultCacheBackend   = CacheBackendSQLite
	defaultBadgerPath     = "sololeveling-cache"
	defaultFetchTimeout   = 10
	defaultInstallAttempt = 5
	defaultStoreBackend   = StoreBackendSQLite
	defaultRedisAddress   = "127.0.0.1:6379"
)

// Cache storage backends.
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendBadger = "badger"
	CacheBackendMemory = "memory"
)

// Player store backends.
const (
	StoreBackendSQLite = "sqlite"
	StoreBackendRedis  = "redis"
)

// AppConfig captures runtime configuration for the local server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	DatabasePath   string
	LogLevel       string

	CacheVersion         string
	CacheOrigin          string
	CacheManifest        []string
	CacheBackend         string
	CacheBadgerPath      string
	CacheFetchTimeout    time.Duration
	CacheInstallAttempts int

	StoreBackend string
	RedisAddress string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)

	configViper.SetDefault("cache.version", offline.DefaultVersion)
	configViper.SetDefault("cache.origin", defaultCacheOrigin)
	configViper.SetDefault("cache.manifest", offline.DefaultManifest)
	configViper.SetDefault("cache.backend", defaultCacheBackend)
	configViper.SetDefault("cache.badger_path", defaultBadgerPath)
	configViper.SetDefault("cache.fetch_timeout_seconds", defaultFetchTimeout)
	configViper.SetDefault("cache.install_attempts", defaultInstallAttempt)

	configViper.SetDefault("store.backend", defaultStoreBackend)
	configViper.SetDefault("redis.address", defaultRedisAddress)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),

		CacheVersion:         strings.TrimSpace(configViper.GetString("cache.version")),
		CacheOrigin:          strings.TrimSpace(configViper.GetString("cache.origin")),
		CacheManifest:        configViper.GetStringSlice("cache.manifest"),
		CacheBackend:         strings.ToLower(strings.TrimSpace(configViper.GetString("cache.backend"))),
		CacheBadgerPath:      configViper.GetString("cache.badger_path"),
		CacheFetchTimeout:    time.Duration(configViper.GetInt("cache.fetch_timeout_seconds")) * time.Second,
		CacheInstallAttempts: configViper.GetInt("cache.install_attempts"),

		StoreBackend: strings.ToLower(strings.TrimSpace(configViper.GetString("store.backend"))),
		RedisAddress: configViper.GetString("redis.address"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.CacheVersion == "" {
		return fmt.Errorf("cache.version is required")
	}
	origin, err := url.Parse(c.CacheOrigin)
	if err != nil || !origin.IsAbs() || origin.Host == "" {
		return fmt.Errorf("cache.origin must be an absolute url, got %q", c.CacheOrigin)
	}
	for _, path := range c.CacheManifest {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("cache.manifest entries must be absolute paths, got %q", path)
		}
	}
	switch c.CacheBackend {
	case CacheBackendSQLite, CacheBackendMemory:
	case CacheBackendBadger:
		if strings.TrimSpace(c.CacheBadgerPath) == "" {
			return fmt.Errorf("cache.badger_path is required for the badger backend")
		}
	default:
		return fmt.Errorf("unsupported cache.backend %q", c.CacheBackend)
	}
	if c.CacheFetchTimeout <= 0 {
		return fmt.Errorf("cache.fetch_timeout_seconds must be positive")
	}
	if c.CacheInstallAttempts <= 0 {
		return fmt.Errorf("cache.install_attempts must be positive")
	}
	switch c.StoreBackend {
	case StoreBackendSQLite:
	case StoreBackendRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis store backend")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", c.StoreBackend)
	}
	return nil
}
