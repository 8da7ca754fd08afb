package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sbenjam1n/seopatch/internal/chunker"
)

// Config holds all configuration for the seopatch CLI and workers.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Workspace   string
	BackupDir   string
	LockDir     string
	LogMode     string
	ProfilePath string
	MetricsAddr string

	Chunk            chunker.Config
	MaxConcurrent    int
	BreakerThreshold int

	AnthropicAPIKey string
	Model           string
	SiteURL         string
	SiteLanguage    string
	Keywords        []string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	workspace := getEnv("SEOPATCH_WORKSPACE", cwd)
	defaults := chunker.DefaultConfig()

	cfg := &Config{
		DatabaseURL: getEnv("SEOPATCH_DATABASE_URL", "postgres://localhost:5432/seopatch?sslmode=disable"),
		RedisURL:    getEnv("SEOPATCH_REDIS_URL", "redis://localhost:6379/0"),
		Workspace:   workspace,
		BackupDir:   getEnv("SEOPATCH_BACKUP_DIR", filepath.Join(workspace, ".seopatch", "backups")),
		LockDir:     getEnv("SEOPATCH_LOCK_DIR", filepath.Join(workspace, ".seopatch", "locks")),
		LogMode:     getEnv("SEOPATCH_LOG_MODE", "dev"),
		ProfilePath: os.Getenv("SEOPATCH_PROFILES"),
		MetricsAddr: getEnv("SEOPATCH_METRICS_ADDR", ":9090"),

		Chunk: chunker.Config{
			MaxLines:     Int("SEOPATCH_CHUNK_SIZE", defaults.MaxLines),
			Overlap:      Int("SEOPATCH_CHUNK_OVERLAP", defaults.Overlap),
			ContextLines: Int("SEOPATCH_CONTEXT_LINES", defaults.ContextLines),
		},
		MaxConcurrent:    Int("SEOPATCH_MAX_CONCURRENT", 3),
		BreakerThreshold: Int("SEOPATCH_BREAKER_THRESHOLD", 5),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		Model:           os.Getenv("SEOPATCH_MODEL"),
		SiteURL:         os.Getenv("SEOPATCH_SITE_URL"),
		SiteLanguage:    getEnv("SEOPATCH_SITE_LANGUAGE", "en"),
		Keywords:        List("SEOPATCH_KEYWORDS"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if err := c.Chunk.Validate(); err != nil {
		return err
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("SEOPATCH_MAX_CONCURRENT must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("SEOPATCH_BREAKER_THRESHOLD must be at least 1, got %d", c.BreakerThreshold)
	}
	return nil
}

// Int reads an integer variable, falling back to def when unset or malformed.
func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// List reads a comma-separated variable, dropping empty entries.
func List(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
