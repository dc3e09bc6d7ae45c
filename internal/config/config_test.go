package config

import (
	"testing"
	"time"

	"github.com/dgallion1/examseg/internal/extract"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "EXAMSEG_API_KEY", "IMAGE_DIR", "WORKER_COUNT", "MAX_QUEUE_SIZE",
		"MAX_UPLOAD_BYTES", "JOB_TTL", "EXPECTED_QUESTIONS", "EXPECTED_MIN_IMAGES", "ISSUE_BUDGET",
		"PATHSTORE_URL", "PATHSTORE_API_KEY", "PATHSTORE_PREFIX", "MAX_CONCURRENT_STORE"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Port != "8090" || cfg.ImageDir != "images" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.WorkerCount != 2 || cfg.MaxQueueSize != 50 || cfg.MaxUploadBytes != 104857600 {
		t.Fatalf("unexpected pool defaults %+v", cfg)
	}
	if cfg.JobTTL != time.Hour {
		t.Fatalf("expected 1h TTL, got %s", cfg.JobTTL)
	}
	if cfg.Baselines() != extract.DefaultBaselines() {
		t.Fatalf("expected default baselines, got %+v", cfg.Baselines())
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing API key to fail validation")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EXAMSEG_API_KEY", "secret")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("MAX_QUEUE_SIZE", "-1")
	t.Setenv("JOB_TTL", "15m")
	t.Setenv("EXPECTED_QUESTIONS", "0")
	t.Setenv("EXPECTED_MIN_IMAGES", "garbage")
	t.Setenv("ISSUE_BUDGET", "20")
	t.Setenv("PATHSTORE_URL", "")

	cfg := Load()
	if cfg.WorkerCount != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.WorkerCount)
	}
	if cfg.MaxQueueSize != 50 {
		t.Fatalf("expected invalid queue size to fall back to 50, got %d", cfg.MaxQueueSize)
	}
	if cfg.JobTTL != 15*time.Minute {
		t.Fatalf("expected 15m, got %s", cfg.JobTTL)
	}
	b := cfg.Baselines()
	if b.Questions != 0 || b.MinImages != extract.DefaultMinImages || b.IssueBudget != 20 {
		t.Fatalf("unexpected baselines %+v", b)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_PathstoreNeedsKey(t *testing.T) {
	cfg := Config{APIKey: "k", ImageDir: "images", PathstoreURL: "http://localhost:8080"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without PATHSTORE_API_KEY")
	}
	cfg.PathstoreAPIKey = "p"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
