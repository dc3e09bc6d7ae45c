package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgallion1/examseg/internal/extract"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Image output
	ImageDir string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// Validation baselines; zero disables a check.
	ExpectedQuestions int
	ExpectedMinImages int
	IssueBudget       int

	// Pathstore export, disabled when PathstoreURL is empty.
	PathstoreURL    string
	PathstoreAPIKey string
	PathstorePrefix string

	MaxConcurrentStore int
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("EXAMSEG_API_KEY"),

		ImageDir: envOr("IMAGE_DIR", "images"),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 50),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 104857600), // 100MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		ExpectedQuestions: envInt("EXPECTED_QUESTIONS", extract.DefaultExpectedQuestions),
		ExpectedMinImages: envInt("EXPECTED_MIN_IMAGES", extract.DefaultMinImages),
		IssueBudget:       envInt("ISSUE_BUDGET", extract.DefaultIssueBudget),

		PathstoreURL:    os.Getenv("PATHSTORE_URL"),
		PathstoreAPIKey: os.Getenv("PATHSTORE_API_KEY"),
		PathstorePrefix: envOr("PATHSTORE_PREFIX", "exams"),

		MaxConcurrentStore: envInt("MAX_CONCURRENT_STORE", 10),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 104857600
	}
	if cfg.MaxConcurrentStore <= 0 {
		cfg.MaxConcurrentStore = 10
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.ExpectedQuestions < 0 {
		cfg.ExpectedQuestions = 0
	}
	if cfg.ExpectedMinImages < 0 {
		cfg.ExpectedMinImages = 0
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("EXAMSEG_API_KEY is required")
	}
	if c.ImageDir == "" {
		return fmt.Errorf("IMAGE_DIR must not be empty")
	}
	if c.PathstoreURL != "" && c.PathstoreAPIKey == "" {
		return fmt.Errorf("PATHSTORE_API_KEY is required when PATHSTORE_URL is set")
	}
	return nil
}

// Baselines returns the validation baselines for the extraction engine.
func (c Config) Baselines() extract.Baselines {
	return extract.Baselines{
		Questions:   c.ExpectedQuestions,
		MinImages:   c.ExpectedMinImages,
		IssueBudget: c.IssueBudget,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
