// Package config loads and validates swdedup configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SWDEDUP_CRAWLER_WORKERS.
const EnvPrefix = "SWDEDUP"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Detect     DetectConfig     `mapstructure:"detect"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CrawlerConfig governs the resumable fetch stage.
type CrawlerConfig struct {
	URLsFile       string `mapstructure:"urls_file"`
	IndexPath      string `mapstructure:"index_path"`
	OutputDir      string `mapstructure:"output_dir"`
	Workers        int    `mapstructure:"workers"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`

	// PerHostRPS paces fetches to one host; zero disables pacing.
	PerHostRPS   float64 `mapstructure:"per_host_rps"`
	PerHostBurst int     `mapstructure:"per_host_burst"`
}

// SimilarityConfig controls hashing, pairwise comparison and artifact output.
type SimilarityConfig struct {
	Threshold   int    `mapstructure:"threshold"`
	Workers     int    `mapstructure:"workers"`
	ArtifactDir string `mapstructure:"artifact_dir"`
}

// DetectConfig controls the provider detector stage.
type DetectConfig struct {
	ProvidersFile string `mapstructure:"providers_file"`
	OutputDir     string `mapstructure:"output_dir"`
}

// StorageConfig configures the optional GCS artifact mirror.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres report export.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ServerConfig controls the optional metrics/health listener.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith builds a Config using v, which may already carry bound CLI flags.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

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

// SetDefaults registers the default value of every known key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("crawler.urls_file", "output/no_known_provider.json")
	v.SetDefault("crawler.index_path", "output/unknown-providers-index.json")
	v.SetDefault("crawler.output_dir", "output/unknown-providers")
	v.SetDefault("crawler.workers", 30)
	v.SetDefault("crawler.timeout_seconds", 5)
	v.SetDefault("crawler.user_agent", "swdedup/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_body_bytes", 0)
	v.SetDefault("crawler.per_host_rps", 0)
	v.SetDefault("crawler.per_host_burst", 1)
	v.SetDefault("similarity.threshold", 90)
	v.SetDefault("similarity.workers", 8)
	v.SetDefault("similarity.artifact_dir", "output/ssdeep-comparison")
	v.SetDefault("detect.providers_file", "dataset/known-providers.json")
	v.SetDefault("detect.output_dir", "output/push-provider-detection")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "swdedup")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "dedup_representatives")
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.IndexPath == "" {
		return fmt.Errorf("crawler.index_path must be set")
	}
	if c.Crawler.OutputDir == "" {
		return fmt.Errorf("crawler.output_dir must be set")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxBodyBytes < 0 {
		return fmt.Errorf("crawler.max_body_bytes must be >= 0")
	}
	if c.Crawler.PerHostRPS < 0 {
		return fmt.Errorf("crawler.per_host_rps must be >= 0")
	}
	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 100 {
		return fmt.Errorf("similarity.threshold must be within [0,100]")
	}
	if c.Similarity.Workers <= 0 {
		return fmt.Errorf("similarity.workers must be > 0")
	}
	if c.Similarity.ArtifactDir == "" {
		return fmt.Errorf("similarity.artifact_dir must be set")
	}
	if c.Detect.OutputDir == "" {
		return fmt.Errorf("detect.output_dir must be set")
	}
	if c.DB.DSN != "" && c.DB.Table == "" {
		return fmt.Errorf("db.table must be set when db.dsn is set")
	}
	return nil
}

// FetchTimeout converts the crawler timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}
