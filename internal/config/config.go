package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/lrucache/internal/caches"
	perrors "github.com/p-blackswan/lrucache/internal/errors"
)

// Config holds process configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Admin API
	AdminListenAddr   string `envconfig:"ADMIN_LISTEN_ADDR" default:":8090"`
	AdminAuthMode     string `envconfig:"ADMIN_AUTH_MODE" default:"api-key"` // "api-key", "jwt" or "none"
	AdminAPIKey       string `envconfig:"ADMIN_API_KEY"`
	AdminJWTSecret    string `envconfig:"ADMIN_JWT_SECRET"`
	AdminRateLimitRPS int    `envconfig:"ADMIN_RATE_LIMIT_RPS" default:"100"`

	// Caches
	CacheConfigPath  string  `envconfig:"CACHE_CONFIG_PATH"`
	CacheFactor      float64 `envconfig:"CACHE_FACTOR" default:"0.5"`
	TrackMemoryUsage bool    `envconfig:"CACHE_TRACK_MEMORY_USAGE" default:"false"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}

// CacheFile is the YAML cache configuration file.
//
//	caches:
//	  global_factor: 1.0
//	  per_cache_factors:
//	    get_users_in_room: 2.0
//	  track_memory_usage: false
type CacheFile struct {
	Caches CacheSection `yaml:"caches"`
}

// CacheSection is the caches block. Pointer fields distinguish "unset" from
// zero so the environment defaults still apply.
type CacheSection struct {
	GlobalFactor     *float64           `yaml:"global_factor"`
	PerCacheFactors  map[string]float64 `yaml:"per_cache_factors"`
	TrackMemoryUsage *bool              `yaml:"track_memory_usage"`
}

// LoadCacheFile reads and parses a YAML cache config file, expanding env vars.
func LoadCacheFile(path string) (*CacheFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cf, err := LoadCacheFileBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cf, nil
}

// LoadCacheFileBytes parses a YAML cache config from bytes.
func LoadCacheFileBytes(data []byte) (*CacheFile, error) {
	expanded := expandEnvVars(string(data))
	var cf CacheFile
	if err := yaml.Unmarshal([]byte(expanded), &cf); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return &cf, nil
}

// CacheFactorEnvPrefix prefixes per-cache factor overrides, e.g.
// CACHE_FACTOR_GET_USERS_IN_ROOM=2.
const CacheFactorEnvPrefix = "CACHE_FACTOR_"

// CacheProperties resolves the cache sizing: environment defaults, then the
// cache file (if configured), then CACHE_FACTOR_<NAME> overrides.
func (c *Config) CacheProperties() (caches.Properties, error) {
	props := caches.Properties{
		GlobalFactor:     c.CacheFactor,
		PerCacheFactors:  map[string]float64{},
		TrackMemoryUsage: c.TrackMemoryUsage,
	}

	if c.CacheConfigPath != "" {
		cf, err := LoadCacheFile(c.CacheConfigPath)
		if err != nil {
			return caches.Properties{}, err
		}
		cf.apply(&props)
	}

	overrides, err := perCacheEnvFactors(os.Environ())
	if err != nil {
		return caches.Properties{}, err
	}
	for name, f := range overrides {
		props.PerCacheFactors[name] = f
	}

	if err := props.Validate(); err != nil {
		return caches.Properties{}, fmt.Errorf("%w: %w", perrors.ErrInvalidConfig, err)
	}
	return props, nil
}

func (cf *CacheFile) apply(props *caches.Properties) {
	if cf.Caches.GlobalFactor != nil {
		props.GlobalFactor = *cf.Caches.GlobalFactor
	}
	if cf.Caches.TrackMemoryUsage != nil {
		props.TrackMemoryUsage = *cf.Caches.TrackMemoryUsage
	}
	for name, f := range cf.Caches.PerCacheFactors {
		props.PerCacheFactors[caches.CanonicalName(name)] = f
	}
}

func perCacheEnvFactors(environ []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, CacheFactorEnvPrefix) {
			continue
		}
		name := caches.CanonicalName(strings.TrimPrefix(key, CacheFactorEnvPrefix))
		if name == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q: %w", perrors.ErrInvalidConfig, key, value, err)
		}
		out[name] = f
	}
	return out, nil
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the corresponding environment
// variable value. Missing vars are replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
