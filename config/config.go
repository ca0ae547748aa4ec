// Package config loads recordkit configuration from YAML, .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/satishbabariya/recordkit/dialect"
)

// AppFs is the filesystem used when no other is supplied
var AppFs = afero.NewOsFs()

// Config holds the application configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Log        LogConfig        `mapstructure:"log"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// DatabaseConfig is the static map of named connections
type DatabaseConfig struct {
	Default     string                      `mapstructure:"default"`
	Connections map[string]ConnectionConfig `mapstructure:"connections"`
}

// ConnectionConfig describes one named connection
type ConnectionConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	File            string        `mapstructure:"file"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Charset         string        `mapstructure:"charset"`
	Schema          string        `mapstructure:"schema"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig selects the count-cache backend
type CacheConfig struct {
	Driver     string        `mapstructure:"driver"` // memory or file
	Path       string        `mapstructure:"path"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// PaginationConfig bounds page sizes
type PaginationConfig struct {
	PerPage    int `mapstructure:"per_page"`
	MaxPerPage int `mapstructure:"max_per_page"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig configures statement statistics
type TelemetryConfig struct {
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// Kind returns the parsed driver kind
func (c ConnectionConfig) Kind() (dialect.Kind, error) {
	return dialect.ParseKind(c.Driver)
}

type loadOptions struct {
	fs          afero.Fs
	configFile  string
	searchPaths []string
	envFiles    bool
}

// Option configures Load
type Option func(*loadOptions)

// WithFs reads configuration and .env files from fs
func WithFs(fs afero.Fs) Option {
	return func(o *loadOptions) { o.fs = fs }
}

// WithConfigFile reads exactly this file instead of searching
func WithConfigFile(path string) Option {
	return func(o *loadOptions) { o.configFile = path }
}

// WithSearchPaths replaces the default search paths
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) { o.searchPaths = paths }
}

// WithoutEnvFiles skips .env and .env.local
func WithoutEnvFiles() Option {
	return func(o *loadOptions) { o.envFiles = false }
}

// Load reads recordkit.yaml, applies .env files and RECORDKIT_* variables
// and validates the result
func Load(opts ...Option) (*Config, error) {
	o := &loadOptions{fs: AppFs, envFiles: true}
	for _, opt := range opts {
		opt(o)
	}

	if o.envFiles {
		if err := loadEnvFiles(o.fs); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetFs(o.fs)
	setDefaults(v)

	v.SetEnvPrefix("RECORDKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", o.configFile, err)
		}
	} else {
		v.SetConfigName("recordkit")
		v.SetConfigType("yaml")
		paths := o.searchPaths
		if paths == nil {
			paths = defaultSearchPaths()
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.default", "default")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.path", filepath.Join("storage", "cache"))
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("pagination.per_page", 15)
	v.SetDefault("pagination.max_per_page", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("telemetry.slow_threshold", 200*time.Millisecond)
}

func defaultSearchPaths() []string {
	paths := []string{"."}
	if home, err := homedir.Dir(); err == nil {
		paths = append(paths, home, filepath.Join(home, ".config", "recordkit"))
	}
	return paths
}

// loadEnvFiles applies .env (without overriding) then .env.local (overriding)
func loadEnvFiles(fs afero.Fs) error {
	for _, f := range []struct {
		name     string
		override bool
	}{{".env", false}, {".env.local", true}} {
		file, err := fs.Open(f.name)
		if err != nil {
			continue
		}
		vars, err := godotenv.Parse(file)
		file.Close()
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		for k, val := range vars {
			if _, set := os.LookupEnv(k); set && !f.override {
				continue
			}
			os.Setenv(k, val)
		}
	}
	return nil
}

// expand substitutes ${VAR} references in connection settings
func (c *Config) expand() {
	for name, conn := range c.Database.Connections {
		conn.Host = os.ExpandEnv(conn.Host)
		conn.Database = os.ExpandEnv(conn.Database)
		conn.File = os.ExpandEnv(conn.File)
		conn.Username = os.ExpandEnv(conn.Username)
		conn.Password = os.ExpandEnv(conn.Password)
		if expanded, err := homedir.Expand(conn.File); err == nil {
			conn.File = expanded
		}
		c.Database.Connections[name] = conn
	}
	c.Cache.Path = os.ExpandEnv(c.Cache.Path)
}

// Validate checks the connection map and limits
func (c *Config) Validate() error {
	for _, name := range c.Database.Names() {
		conn := c.Database.Connections[name]
		kind, err := conn.Kind()
		if err != nil {
			return fmt.Errorf("connection %q: %w", name, err)
		}
		if kind == dialect.SQLite && conn.File == "" {
			return fmt.Errorf("connection %q: sqlite needs a file", name)
		}
		if kind != dialect.SQLite && conn.Database == "" {
			return fmt.Errorf("connection %q: database name is required", name)
		}
	}
	if len(c.Database.Connections) > 0 {
		if _, ok := c.Database.Connections[c.Database.Default]; !ok {
			return fmt.Errorf("default connection %q is not configured", c.Database.Default)
		}
	}
	switch c.Cache.Driver {
	case "memory", "file":
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if c.Pagination.PerPage <= 0 || c.Pagination.MaxPerPage < c.Pagination.PerPage {
		return fmt.Errorf("invalid pagination: per_page=%d max_per_page=%d", c.Pagination.PerPage, c.Pagination.MaxPerPage)
	}
	return nil
}

// Names returns the configured connection names in sorted order
func (d DatabaseConfig) Names() []string {
	names := make([]string, 0, len(d.Connections))
	for name := range d.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
