package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"caseline/internal/config"
	"caseline/internal/lifecycle"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, stage := range lifecycle.StageNames() {
		if cfg.Stages[stage].ApproverRole == "" {
			t.Fatalf("stage %s has no approver role", stage)
		}
	}
	if cfg.FinalApproverRole == "" || cfg.ProducerRole == "" {
		t.Fatalf("missing global roles: %+v", cfg)
	}
	if !cfg.Stages["effort"].AllowSelfApproval {
		t.Fatalf("expected effort self-approval in default config")
	}
}

func TestValidateRejectsMissingStage(t *testing.T) {
	cfg := config.Default()
	delete(cfg.Stages, "cost")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing stage")
	}
}

func TestValidateRejectsUnknownStage(t *testing.T) {
	cfg := config.Default()
	cfg.Stages["marketing"] = config.StagePolicy{ApproverRole: "cmo"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown stage")
	}
}

func TestValidateRejectsUnknownProducerEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Producers.Endpoints = map[string]string{"marketing": "http://localhost:1"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown producer stage")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config for empty workspace")
	}

	path := filepath.Join(dir, "caseline.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if cfg == nil || cfg.FinalApproverRole != "finance_director" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRequiresWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.Load(dir); err == nil {
		t.Fatalf("expected error for missing caseline.yml")
	}
	if err := os.WriteFile(config.Path(dir), []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if cfg.ProducerRole != "producer" {
		t.Fatalf("unexpected producer role %q", cfg.ProducerRole)
	}
	if _, err := config.FromFile(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFromYAMLRejectsBadDocument(t *testing.T) {
	if _, err := config.FromYAML([]byte("stages: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
	if _, err := config.FromYAML([]byte("stages: {}")); err == nil {
		t.Fatalf("expected validation error")
	}
}
