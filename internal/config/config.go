package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/boostorg/boost-archives/pkg/logger"
	"github.com/spf13/viper"
)

const envPrefix = "BOOST_ARCHIVES"

// Config holds all application configuration
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	SourceForge SourceForgeConfig `mapstructure:"sourceforge"`
	Release     ReleaseConfig     `mapstructure:"release"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Versions    VersionsConfig    `mapstructure:"versions"`
	Reviews     ReviewsConfig     `mapstructure:"reviews"`
	Database    DatabaseConfig    `mapstructure:"database"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// HTTPConfig holds the outbound HTTP client configuration shared by every
// remote call the tool makes.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Retry             RetryConfig   `mapstructure:"retry"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// RetryConfig mirrors httpclient.RetryPolicy
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	BackoffFactor   time.Duration `mapstructure:"backoff_factor"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	StatusForcelist []int         `mapstructure:"status_forcelist"`
	Methods         []string      `mapstructure:"methods"`
}

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// SourceForgeConfig holds the upstream listing endpoints
type SourceForgeConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	RSSURL        string `mapstructure:"rss_url"`
	RSSPathPrefix string `mapstructure:"rss_path_prefix"`
}

// ReleaseConfig holds release import settings
type ReleaseConfig struct {
	Format    string `mapstructure:"format"`
	Threshold string `mapstructure:"threshold"`
}

// StorageConfig selects and configures the blob storage backend
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	LocalRoot string `mapstructure:"local_root"`
}

// VersionsConfig selects where the version catalogue is read from
type VersionsConfig struct {
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
}

// ReviewsConfig holds the review schedule import settings
type ReviewsConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig holds the SQLite database location
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.boost-archives")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.max_size", def.Logging.MaxSize)
	v.SetDefault("logging.max_age", def.Logging.MaxAge)
	v.SetDefault("logging.max_backups", def.Logging.MaxBackups)

	v.SetDefault("http.timeout", def.HTTP.Timeout)
	v.SetDefault("http.idle_timeout", def.HTTP.IdleTimeout)
	v.SetDefault("http.user_agent", def.HTTP.UserAgent)
	v.SetDefault("http.requests_per_second", def.HTTP.RequestsPerSecond)
	v.SetDefault("http.burst", def.HTTP.Burst)
	v.SetDefault("http.retry.max_retries", def.HTTP.Retry.MaxRetries)
	v.SetDefault("http.retry.backoff_factor", def.HTTP.Retry.BackoffFactor)
	v.SetDefault("http.retry.max_backoff", def.HTTP.Retry.MaxBackoff)
	v.SetDefault("http.retry.status_forcelist", def.HTTP.Retry.StatusForcelist)
	v.SetDefault("http.retry.methods", def.HTTP.Retry.Methods)
	v.SetDefault("http.breaker.consecutive_failures", def.HTTP.Breaker.ConsecutiveFailures)
	v.SetDefault("http.breaker.timeout", def.HTTP.Breaker.Timeout)

	v.SetDefault("sourceforge.base_url", def.SourceForge.BaseURL)
	v.SetDefault("sourceforge.rss_url", def.SourceForge.RSSURL)
	v.SetDefault("sourceforge.rss_path_prefix", def.SourceForge.RSSPathPrefix)

	v.SetDefault("release.format", def.Release.Format)
	v.SetDefault("release.threshold", def.Release.Threshold)

	v.SetDefault("storage.backend", def.Storage.Backend)
	v.SetDefault("storage.prefix", def.Storage.Prefix)
	v.SetDefault("storage.bucket", def.Storage.Bucket)
	v.SetDefault("storage.region", def.Storage.Region)
	v.SetDefault("storage.local_root", def.Storage.LocalRoot)

	v.SetDefault("versions.source", def.Versions.Source)
	v.SetDefault("versions.file", def.Versions.File)

	v.SetDefault("reviews.url", def.Reviews.URL)
	v.SetDefault("database.path", def.Database.Path)
}

// Validate checks enumerated settings
func (c *Config) Validate() error {
	switch c.Release.Format {
	case "html", "rss":
	default:
		return fmt.Errorf("invalid release.format %q (want html or rss)", c.Release.Format)
	}

	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	case "local":
		if c.Storage.LocalRoot == "" {
			return fmt.Errorf("storage.local_root is required for the local backend")
		}
	default:
		return fmt.Errorf("invalid storage.backend %q (want s3 or local)", c.Storage.Backend)
	}

	switch c.Versions.Source {
	case "yaml":
		if c.Versions.File == "" {
			return fmt.Errorf("versions.file is required for the yaml source")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite source")
		}
	default:
		return fmt.Errorf("invalid versions.source %q (want yaml or sqlite)", c.Versions.Source)
	}

	if c.HTTP.Retry.MaxRetries < 0 {
		return fmt.Errorf("http.retry.max_retries must not be negative")
	}

	return nil
}

// LoggerConfig converts the logging section for logger.Init
func (c *Config) LoggerConfig(module string) logger.Config {
	return logger.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Module:     module,
		File:       c.Logging.File,
		MaxSize:    c.Logging.MaxSize,
		MaxAge:     c.Logging.MaxAge,
		MaxBackups: c.Logging.MaxBackups,
		Compress:   c.Logging.Compress,
	}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    50,
			MaxAge:     30,
			MaxBackups: 5,
		},
		HTTP: HTTPConfig{
			Timeout:           time.Minute,
			IdleTimeout:       time.Minute,
			UserAgent:         "boost-archives/1.0",
			RequestsPerSecond: 5,
			Burst:             10,
			Retry: RetryConfig{
				MaxRetries:      5,
				BackoffFactor:   time.Second,
				MaxBackoff:      2 * time.Minute,
				StatusForcelist: []int{429, 500, 502, 503, 504},
				Methods:         []string{"HEAD", "GET", "OPTIONS"},
			},
			Breaker: BreakerConfig{
				ConsecutiveFailures: 10,
				Timeout:             60 * time.Second,
			},
		},
		SourceForge: SourceForgeConfig{
			BaseURL:       "https://sourceforge.net/projects/boost/files/boost",
			RSSURL:        "https://sourceforge.net/projects/boost/rss",
			RSSPathPrefix: "/boost",
		},
		Release: ReleaseConfig{
			Format:    "html",
			Threshold: "1.61.0",
		},
		Storage: StorageConfig{
			Backend:   "local",
			Prefix:    "test/boost-archives/release",
			Bucket:    "stage-rob.boost.org.v2",
			Region:    "us-east-2",
			LocalRoot: "./archives",
		},
		Versions: VersionsConfig{
			Source: "yaml",
			File:   "versions.yaml",
		},
		Reviews: ReviewsConfig{
			URL: "https://www.boost.org/community/review_schedule.html",
		},
		Database: DatabaseConfig{
			Path: "boost-archives.db",
		},
	}
}
