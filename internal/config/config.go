// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	DB          DBConfig          `mapstructure:"db"`
	Media       MediaConfig       `mapstructure:"media"`
	Source      SourceConfig      `mapstructure:"source"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	AutoArchive AutoArchiveConfig `mapstructure:"auto_archive"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DBConfig controls access to the catalog database. An empty DSN selects the in-memory catalog.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// MediaConfig locates the media tree and its ownership.
type MediaConfig struct {
	Root string `mapstructure:"root"`
	// UID and GID are applied to written files when both are >= 0.
	UID int `mapstructure:"uid"`
	GID int `mapstructure:"gid"`
}

// SourceConfig configures the content source.
type SourceConfig struct {
	DumpDir  string `mapstructure:"dump_dir"`
	Username string `mapstructure:"username"`
}

// CrawlerConfig governs pacing and media downloads.
type CrawlerConfig struct {
	MaxSleep        time.Duration `mapstructure:"max_sleep"`
	UserAgent       string        `mapstructure:"user_agent"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	DownloadRPS     float64       `mapstructure:"download_rps"`
	DownloadBurst   int           `mapstructure:"download_burst"`
	// RetryInterval and MaxRetryInterval bound the backoff after a task queue error.
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	MaxRetryInterval time.Duration `mapstructure:"max_retry_interval"`
}

// AutoArchiveConfig controls the periodic auto-archive selector.
type AutoArchiveConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Schedule          string        `mapstructure:"schedule"`
	OutdatedThreshold time.Duration `mapstructure:"outdated_threshold"`
}

// PubSubConfig holds metadata for task lifecycle notifications.
// Events are kept in memory when ProjectID is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("media.root", "data")
	v.SetDefault("media.uid", -1)
	v.SetDefault("media.gid", -1)
	v.SetDefault("source.dump_dir", "dump")
	v.SetDefault("source.username", "")
	v.SetDefault("crawler.max_sleep", 5*time.Second)
	v.SetDefault("crawler.user_agent", "post-archiver/0.1")
	v.SetDefault("crawler.download_timeout", 30*time.Second)
	v.SetDefault("crawler.download_rps", 2.0)
	v.SetDefault("crawler.download_burst", 1)
	v.SetDefault("crawler.retry_interval", time.Second)
	v.SetDefault("crawler.max_retry_interval", time.Minute)
	v.SetDefault("auto_archive.enabled", false)
	v.SetDefault("auto_archive.schedule", "@every 10m")
	v.SetDefault("auto_archive.outdated_threshold", 3*time.Hour)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "archiver-tasks")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Media.Root == "" {
		return errors.New("media.root must be set")
	}
	if c.Source.DumpDir == "" {
		return errors.New("source.dump_dir must be set")
	}
	if c.Crawler.MaxSleep < 0 {
		return errors.New("crawler.max_sleep must be >= 0")
	}
	if c.Crawler.DownloadTimeout <= 0 {
		return errors.New("crawler.download_timeout must be > 0")
	}
	if c.Crawler.DownloadRPS < 0 {
		return errors.New("crawler.download_rps must be >= 0")
	}
	if c.Crawler.RetryInterval <= 0 {
		return errors.New("crawler.retry_interval must be > 0")
	}
	if c.Crawler.MaxRetryInterval < c.Crawler.RetryInterval {
		return errors.New("crawler.max_retry_interval must be >= crawler.retry_interval")
	}
	if c.DB.DSN != "" && c.DB.MaxConns <= 0 {
		return errors.New("db.max_conns must be > 0")
	}
	if c.AutoArchive.Enabled {
		if c.AutoArchive.OutdatedThreshold <= 0 {
			return errors.New("auto_archive.outdated_threshold must be > 0")
		}
		if _, err := cron.ParseStandard(c.AutoArchive.Schedule); err != nil {
			return fmt.Errorf("auto_archive.schedule: %w", err)
		}
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return errors.New("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// Address returns the HTTP listen address.
func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
