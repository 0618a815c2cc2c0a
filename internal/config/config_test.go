package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RulesDir != "./rules" {
		t.Errorf("RulesDir = %q, want ./rules", cfg.RulesDir)
	}
	if cfg.Endpoint != "localhost:9092" {
		t.Errorf("Endpoint = %q, want localhost:9092", cfg.Endpoint)
	}
	if cfg.Verbose {
		t.Errorf("Verbose = true, want false by default")
	}
}

func TestLoadCLIOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flexalert.yaml")
	contents := "server:\n  rules: /from/config\nmalamute:\n  endpoint: config-host:9092\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load([]string{"-c", path, "-e", "cli-host:9092"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RulesDir != "/from/config" {
		t.Errorf("RulesDir = %q, want /from/config (from config file)", cfg.RulesDir)
	}
	if cfg.Endpoint != "cli-host:9092" {
		t.Errorf("Endpoint = %q, want cli-host:9092 (CLI overrides config)", cfg.Endpoint)
	}
}

func TestLoadHelpRequested(t *testing.T) {
	_, err := Load([]string{"-h"})
	if err != ErrHelpRequested {
		t.Errorf("Load(-h) error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadRejectsEmptyRulesDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flexalert.yaml")
	if err := os.WriteFile(path, []byte("server:\n  rules: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load([]string{"-c", path}); err == nil {
		t.Errorf("Load() with empty rules dir: expected error, got nil")
	}
}

func TestBrokers(t *testing.T) {
	cfg := &Config{Endpoint: "a:9092, b:9092 ,c:9092"}
	got := cfg.Brokers()
	want := []string{"a:9092", "b:9092", "c:9092"}
	if len(got) != len(want) {
		t.Fatalf("Brokers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Brokers()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
