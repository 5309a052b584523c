// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the broker's runtime configuration and the logic
// that loads it from flags, OAUTH_BROKER_* environment variables and an
// optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stacklok/oauth-broker/pkg/networking"
	"github.com/stacklok/oauth-broker/pkg/storage"
)

// EnvPrefix is prepended to every environment variable the broker reads.
const EnvPrefix = "OAUTH_BROKER"

// Keys shared by flags, env vars and the config file.
const (
	KeyConfigFile     = "config"
	KeyListenAddress  = "listen-address"
	KeyPublicURL      = "public-url"
	KeyServicesDir    = "services-dir"
	KeyStorage        = "storage"
	KeyRedisAddress   = "redis-address"
	KeyRedisUsername  = "redis-username"
	KeyRedisPassword  = "redis-password"
	KeyRedisDB        = "redis-db"
	KeyRedisKeyPrefix = "redis-key-prefix"
	KeySQLitePath     = "sqlite-path"
	KeyJWTSecret      = "jwt-secret"
	KeyHTTPTimeout    = "http-timeout"
	KeyCABundle       = "ca-bundle"
	KeyInsecureHTTP   = "allow-insecure-http"
	KeyAllowPlaintext = "allow-plaintext"
	KeyMetrics        = "metrics"
)

// Config is the broker's runtime configuration.
type Config struct {
	ListenAddress string `mapstructure:"listen-address"`
	// PublicURL is the externally visible base URL, used for custAuthUrl.
	PublicURL string `mapstructure:"public-url"`
	// ServicesDir overrides the embedded provider configs when set.
	ServicesDir string `mapstructure:"services-dir"`

	Storage        string `mapstructure:"storage"`
	RedisAddress   string `mapstructure:"redis-address"`
	RedisUsername  string `mapstructure:"redis-username"`
	RedisPassword  string `mapstructure:"redis-password"`
	RedisDB        int    `mapstructure:"redis-db"`
	RedisKeyPrefix string `mapstructure:"redis-key-prefix"`
	SQLitePath     string `mapstructure:"sqlite-path"`

	JWTSecret      string        `mapstructure:"jwt-secret"`
	HTTPTimeout    time.Duration `mapstructure:"http-timeout"`
	CABundle       string        `mapstructure:"ca-bundle"`
	InsecureHTTP   bool          `mapstructure:"allow-insecure-http"`
	AllowPlaintext bool          `mapstructure:"allow-plaintext"`
	Metrics        bool          `mapstructure:"metrics"`
}

// AddFlags registers the broker's flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(KeyConfigFile, "", "Path to a YAML config file")
	fs.String(KeyListenAddress, "127.0.0.1:8080", "Address the HTTP server listens on")
	fs.String(KeyPublicURL, "", "Public base URL of the broker (defaults to http://<listen-address>)")
	fs.String(KeyServicesDir, "", "Directory of provider YAML files (defaults to the built-in set)")
	fs.String(KeyStorage, string(storage.TypeRedis), "Storage backend: redis, sqlite or memory")
	fs.String(KeyRedisAddress, "localhost:6379", "Redis address")
	fs.String(KeyRedisUsername, "", "Redis username")
	fs.String(KeyRedisPassword, "", "Redis password")
	fs.Int(KeyRedisDB, 0, "Redis database number")
	fs.String(KeyRedisKeyPrefix, "", "Prefix for every Redis key")
	fs.String(KeySQLitePath, "", "SQLite database path (defaults to the XDG data dir)")
	fs.String(KeyJWTSecret, "", "HMAC secret for session tokens; session auth is disabled when empty")
	fs.Duration(KeyHTTPTimeout, networking.HttpTimeout, "Timeout for provider requests")
	fs.String(KeyCABundle, "", "Extra CA certificates for provider TLS")
	fs.Bool(KeyInsecureHTTP, false, "Allow plain-http provider endpoints (testing only)")
	fs.Bool(KeyAllowPlaintext, false, "Store payloads unencrypted for services without a key (development only)")
	fs.Bool(KeyMetrics, true, "Serve Prometheus metrics on /metrics")
}

// Load reads the configuration from v after binding it to fs and the
// environment. An explicit config file that cannot be read is an error.
func Load(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	switch storage.Type(c.Storage) {
	case storage.TypeRedis:
		if c.RedisAddress == "" {
			errs = append(errs, errors.New("redis-address is required for redis storage"))
		}
	case storage.TypeMemory, storage.TypeSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}

	if c.ListenAddress == "" {
		errs = append(errs, errors.New("listen-address is required"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http-timeout must be positive"))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("jwt-secret must be at least 32 bytes"))
	}

	return errors.Join(errs...)
}

// StorageConfig translates the flat settings into a storage.Config.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Type: storage.Type(c.Storage),
		Redis: storage.RedisConfig{
			Addr:      c.RedisAddress,
			Username:  c.RedisUsername,
			Password:  c.RedisPassword,
			DB:        c.RedisDB,
			KeyPrefix: c.RedisKeyPrefix,
		},
		SQLitePath: c.SQLitePath,
	}
}

// Origin returns the public base URL, falling back to the listen address.
func (c *Config) Origin() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return "http://" + c.ListenAddress
}

// HTTPClient builds the client used for provider requests.
func (c *Config) HTTPClient() (*http.Client, error) {
	return networking.NewHttpClientBuilder().
		WithTimeout(c.HTTPTimeout).
		WithCABundle(c.CABundle).
		WithInsecureHTTP(c.InsecureHTTP).
		Build()
}
