package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
)

// Config captures runtime settings for a single issuer's membership ledger.
type Config struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`

	Issuer struct {
		Name     string `yaml:"name"`
		Key      string `yaml:"key"`
		KeyPath  string `yaml:"key_path"`
		Timezone string `yaml:"timezone"`
	} `yaml:"issuer"`

	Storage struct {
		Backend     string `yaml:"backend"`
		PostgresDSN string `yaml:"postgres_dsn"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
		Badger      struct {
			Path       string `yaml:"path"`
			InMemory   bool   `yaml:"in_memory"`
			SyncWrites bool   `yaml:"sync_writes"`
		} `yaml:"badger"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"storage"`

	Events struct {
		RedisAddr string `yaml:"redis_addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		Channel   string `yaml:"channel"`
	} `yaml:"events"`

	Security struct {
		WriteToken         string   `yaml:"write_token"`
		EnableWriteAuth    *bool    `yaml:"enable_write_auth"`
		EnforceSecureTLS   *bool    `yaml:"enforce_secure_transport"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		TrustedCIDRs       []string `yaml:"trusted_cidrs"`
		EnableIPAllow      *bool    `yaml:"enable_ip_allow_list"`
	} `yaml:"security"`

	API struct {
		DefaultLastN int   `yaml:"default_last_n"`
		MaxLastN     int   `yaml:"max_last_n"`
		MaxBodyBytes int64 `yaml:"max_body_bytes"`
	} `yaml:"api"`

	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`

	Logging struct {
		Service string `yaml:"service"`
		Version string `yaml:"version"`
		Commit  string `yaml:"commit"`
		Region  string `yaml:"region"`
		Level   string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads and validates config from disk.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(buf)
}

func Parse(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location resolves issuer.timezone, falling back to the host zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Issuer.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func (c *Config) WriteAuthEnabled() bool {
	return c.Security.EnableWriteAuth != nil && *c.Security.EnableWriteAuth
}

func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

// ListensOnLoopback reports whether server.listen is bound to a loopback host.
func (c *Config) ListensOnLoopback() bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(c.Server.Listen))
	if err != nil {
		return false
	}
	return isLoopbackHost(host)
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:5000"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 20
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}
	if c.Issuer.Name == "" {
		c.Issuer.Name = "gymchain"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 8
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	if c.Events.Channel == "" {
		c.Events.Channel = "gymchain:blocks"
	}
	if c.Security.EnableWriteAuth == nil {
		c.Security.EnableWriteAuth = boolPtr(c.Security.WriteToken != "")
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	if c.Security.EnableIPAllow == nil {
		c.Security.EnableIPAllow = boolPtr(false)
	}
	if len(c.Security.CORSAllowedOrigins) == 0 {
		c.Security.CORSAllowedOrigins = []string{"*"}
	}
	if c.API.DefaultLastN <= 0 {
		c.API.DefaultLastN = 5
	}
	if c.API.MaxLastN <= 0 {
		c.API.MaxLastN = 1000
	}
	if c.API.MaxBodyBytes <= 0 {
		c.API.MaxBodyBytes = 1 << 20
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "gymchain-ledger"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "dev"
	}
	if c.Logging.Commit == "" {
		c.Logging.Commit = "unknown"
	}
	if c.Logging.Region == "" {
		c.Logging.Region = "local"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Issuer.Key) == "" && c.Issuer.KeyPath == "" {
		return errors.New("issuer.key or issuer.key_path is required")
	}
	if c.Issuer.Key != "" && c.Issuer.KeyPath != "" {
		return errors.New("issuer.key and issuer.key_path are mutually exclusive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("issuer.timezone is invalid: %w", err)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres backend")
		}
		if *c.Security.EnforceSecureTLS && dsnUsesInsecureSSL(c.Storage.PostgresDSN) {
			return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full when enforce_secure_transport is enabled")
		}
		if c.Storage.MinConns > c.Storage.MaxConns {
			return errors.New("storage.min_conns must not exceed storage.max_conns")
		}
	case BackendBadger:
		if c.Storage.Badger.Path == "" && !c.Storage.Badger.InMemory {
			return errors.New("storage.badger.path is required unless storage.badger.in_memory is set")
		}
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return errors.New("storage.sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory|postgres|badger|sqlite, got %q", c.Storage.Backend)
	}
	if c.Events.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.Events.RedisAddr); err != nil {
			return fmt.Errorf("events.redis_addr is invalid: %w", err)
		}
		if c.Events.DB < 0 {
			return errors.New("events.db must not be negative")
		}
	}
	if c.WriteAuthEnabled() && strings.TrimSpace(c.Security.WriteToken) == "" {
		return errors.New("security.write_token is required when write auth is enabled")
	}
	if *c.Security.EnableIPAllow && len(c.Security.TrustedCIDRs) == 0 {
		return errors.New("security.trusted_cidrs is required when ip allow list is enabled")
	}
	for i, cidr := range c.Security.TrustedCIDRs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("security.trusted_cidrs[%d] is invalid: %w", i, err)
		}
	}
	if c.API.DefaultLastN > c.API.MaxLastN {
		return errors.New("api.default_last_n must not exceed api.max_last_n")
	}
	return nil
}

func (c *Config) expandEnv() {
	c.Issuer.Key = os.ExpandEnv(strings.TrimSpace(c.Issuer.Key))
	c.Issuer.KeyPath = os.ExpandEnv(strings.TrimSpace(c.Issuer.KeyPath))
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.Storage.Badger.Path = os.ExpandEnv(strings.TrimSpace(c.Storage.Badger.Path))
	c.Storage.SQLite.Path = os.ExpandEnv(strings.TrimSpace(c.Storage.SQLite.Path))
	c.Events.RedisAddr = os.ExpandEnv(strings.TrimSpace(c.Events.RedisAddr))
	c.Events.Password = os.ExpandEnv(c.Events.Password)
	c.Security.WriteToken = os.ExpandEnv(strings.TrimSpace(c.Security.WriteToken))
}

func boolPtr(v bool) *bool {
	return &v
}
