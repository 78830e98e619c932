// The application's root configuration for the container matching engine.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	mu       sync.RWMutex
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Server   ServerConfig   `mapstructure:"server"`
	Library  LibraryConfig  `mapstructure:"library"`
	Matcher  MatcherConfig  `mapstructure:"matcher"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" json:"level" yaml:"level"`
	Format      string `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" json:"compress" yaml:"compress"`
}

// ServerConfig holds settings for the HTTP action boundary.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LibraryConfig locates the persisted container library.
type LibraryConfig struct {
	Path string `mapstructure:"path"`
}

// MatcherConfig holds settings for the container matcher.
type MatcherConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	DefaultMaxDepth    int           `mapstructure:"default_max_depth"`
	DefaultMaxChildren int           `mapstructure:"default_max_children"`
}

// CacheConfig holds settings for the snapshot cache.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// FetchConfig holds settings for the static document fetcher.
type FetchConfig struct {
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// BrowserConfig points at an externally running browser for live documents.
// When DebugURL is empty, documents are fetched statically.
type BrowserConfig struct {
	DebugURL string `mapstructure:"debug_url"`
}

// PostgresConfig holds settings for the optional match-audit store.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// SetDefaults registers defaults so the app can run with a minimal config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "webauto")
	v.SetDefault("server.addr", ":8710")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("library.path", "containers.json")
	v.SetDefault("matcher.poll_interval", 50*time.Millisecond)
	v.SetDefault("matcher.default_max_depth", 3)
	v.SetDefault("matcher.default_max_children", 10)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.default_ttl", 30*time.Second)
	v.SetDefault("fetch.timeout", 30*time.Second)
}

// Validate checks the loaded configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.Library.Path == "" {
		return fmt.Errorf("library.path must not be empty")
	}
	if c.Matcher.PollInterval <= 0 {
		return fmt.Errorf("matcher.poll_interval must be positive")
	}
	if c.Cache.Enabled && c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be positive when the cache is enabled")
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	Set(&cfg)
	return nil
}

// Set stores the configuration globally. Exposed for tests and the root
// command.
func Set(cfg *Config) {
	mu.Lock()
	instance = cfg
	mu.Unlock()
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
