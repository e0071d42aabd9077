package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Workers != 30 {
		t.Fatalf("expected 30 workers, got %d", cfg.Crawler.Workers)
	}
	if cfg.Similarity.Threshold != 90 {
		t.Fatalf("expected threshold 90, got %d", cfg.Similarity.Threshold)
	}
	if got := cfg.FetchTimeout(); got != 5*time.Second {
		t.Fatalf("expected fetch timeout 5s, got %v", got)
	}
	if cfg.Crawler.RespectRobots {
		t.Fatal("expected robots.txt to be ignored by default")
	}
	if cfg.Crawler.PerHostRPS != 0 || cfg.Crawler.PerHostBurst != 1 {
		t.Fatalf("expected unpaced crawling by default, got %+v", cfg.Crawler)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  urls_file: in/urls.json
  index_path: out/index.json
  output_dir: out/scripts
  workers: 12
  timeout_seconds: 9
  user_agent: test-agent
similarity:
  threshold: 85
  workers: 3
  artifact_dir: out/ssdeep
detect:
  providers_file: in/providers.json
  output_dir: out/detect
storage:
  gcs_bucket: bucket
db:
  dsn: postgres://localhost/swdedup
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.Workers != 12 || cfg.Crawler.UserAgent != "test-agent" {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.IndexPath != "out/index.json" || cfg.Crawler.OutputDir != "out/scripts" {
		t.Fatalf("expected path overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Similarity.Threshold != 85 || cfg.Similarity.Workers != 3 {
		t.Fatalf("expected similarity overrides to apply: %+v", cfg.Similarity)
	}
	if cfg.Storage.GCSBucket != "bucket" || cfg.Storage.Prefix != "swdedup" {
		t.Fatalf("expected storage config merged with defaults: %+v", cfg.Storage)
	}
	if cfg.DB.Table != "dedup_representatives" {
		t.Fatalf("expected default table, got %q", cfg.DB.Table)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
	if got := cfg.FetchTimeout(); got != 9*time.Second {
		t.Fatalf("expected fetch timeout 9s, got %v", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SWDEDUP_CRAWLER_WORKERS", "7")
	t.Setenv("SWDEDUP_SIMILARITY_THRESHOLD", "70")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Workers != 7 {
		t.Fatalf("expected env override for workers, got %d", cfg.Crawler.Workers)
	}
	if cfg.Similarity.Threshold != 70 {
		t.Fatalf("expected env override for threshold, got %d", cfg.Similarity.Threshold)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Crawler: CrawlerConfig{
			IndexPath:      "index.json",
			OutputDir:      "out",
			Workers:        1,
			TimeoutSeconds: 1,
		},
		Similarity: SimilarityConfig{Threshold: 90, Workers: 1, ArtifactDir: "artifacts"},
		Detect:     DetectConfig{OutputDir: "detect"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got %v", err)
	}

	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"missing index", func(c *Config) { c.Crawler.IndexPath = "" }, "crawler.index_path"},
		{"missing output", func(c *Config) { c.Crawler.OutputDir = "" }, "crawler.output_dir"},
		{"invalid workers", func(c *Config) { c.Crawler.Workers = 0 }, "crawler.workers"},
		{"invalid timeout", func(c *Config) { c.Crawler.TimeoutSeconds = 0 }, "crawler.timeout_seconds"},
		{"negative body cap", func(c *Config) { c.Crawler.MaxBodyBytes = -1 }, "crawler.max_body_bytes"},
		{"negative rate", func(c *Config) { c.Crawler.PerHostRPS = -1 }, "crawler.per_host_rps"},
		{"threshold too high", func(c *Config) { c.Similarity.Threshold = 101 }, "similarity.threshold"},
		{"threshold negative", func(c *Config) { c.Similarity.Threshold = -1 }, "similarity.threshold"},
		{"invalid hash workers", func(c *Config) { c.Similarity.Workers = 0 }, "similarity.workers"},
		{"missing artifact dir", func(c *Config) { c.Similarity.ArtifactDir = "" }, "similarity.artifact_dir"},
		{"missing detect dir", func(c *Config) { c.Detect.OutputDir = "" }, "detect.output_dir"},
		{"dsn without table", func(c *Config) { c.DB.DSN = "postgres://x" }, "db.table"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mut(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
