package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dialwatch/internal/config"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := config.Default()
	if cfg.Tracker.PollInterval != 10 {
		t.Errorf("poll interval default = %d, want 10", cfg.Tracker.PollInterval)
	}
	if cfg.Tracker.StatusRetryBudget != 5 {
		t.Errorf("retry budget default = %d, want 5", cfg.Tracker.StatusRetryBudget)
	}
	if cfg.Vendor.MaxEnrichmentFetches != 4 {
		t.Errorf("max enrichment fetches default = %d, want 4", cfg.Vendor.MaxEnrichmentFetches)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("log format default = %q, want console", cfg.Logging.Format)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[vendor]
base_url = "https://vendor.example.com/"
api_key = "  key-123  "
request_timeout = -5

[tracker]
poll_interval = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be detected")
	}
	if resolved != path {
		t.Errorf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Vendor.BaseURL != "https://vendor.example.com" {
		t.Errorf("base url not trimmed: %q", cfg.Vendor.BaseURL)
	}
	if cfg.Vendor.APIKey != "key-123" {
		t.Errorf("api key not trimmed: %q", cfg.Vendor.APIKey)
	}
	if cfg.Vendor.RequestTimeout != 15 {
		t.Errorf("negative timeout should fall back to default, got %d", cfg.Vendor.RequestTimeout)
	}
	if cfg.Tracker.PollInterval != 2 {
		t.Errorf("poll interval = %d, want 2", cfg.Tracker.PollInterval)
	}
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[vendor]\nbase_url = \"https://v.example.com\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "vendor.api_key") {
		t.Fatalf("expected api key validation error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "bad base url",
			mutate: func(c *config.Config) { c.Vendor.BaseURL = "not-a-url" },
			want:   "base_url",
		},
		{
			name:   "bad log format",
			mutate: func(c *config.Config) { c.Logging.Format = "yaml" },
			want:   "logging.format",
		},
		{
			name:   "zero retry budget",
			mutate: func(c *config.Config) { c.Tracker.StatusRetryBudget = 0 },
			want:   "status_retry_budget",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Vendor.APIKey = "key"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[vendor]") {
		t.Error("sample config missing [vendor] section")
	}
}
