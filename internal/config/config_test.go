package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"salesline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestStageOrdering(t *testing.T) {
	cfg := config.Default()

	next, ok := cfg.NextStage("Qualification")
	if !ok || next != "Needs Analysis" {
		t.Fatalf("next of Qualification = %q, %v", next, ok)
	}
	if _, ok := cfg.NextStage("Negotiation/Review"); ok {
		t.Fatal("last open stage must have no next stage")
	}
	if _, ok := cfg.NextStage("Closed Won"); ok {
		t.Fatal("terminal stage must have no next stage")
	}
	if !cfg.IsTerminalStage("Closed Lost") {
		t.Fatal("Closed Lost should be terminal")
	}
	if cfg.KnownStage("Daydreaming") {
		t.Fatal("unknown stage reported known")
	}

	if p, ok := cfg.StageProbability("Proposal/Price Quote"); !ok || p != 70 {
		t.Fatalf("probability = %d, %v", p, ok)
	}
}

func TestFromYAMLOverrides(t *testing.T) {
	doc := []byte(`
pipeline:
  stages: [Lead, Demo, Contract]
  won_stage: Won
  lost_stage: Lost
  probabilities:
    Lead: 10
    Demo: 50
    Contract: 90
automation:
  stale_days: 3
`)
	cfg, err := config.FromYAML(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Pipeline.Stages) != 3 || cfg.Pipeline.Stages[0] != "Lead" {
		t.Fatalf("stages = %v", cfg.Pipeline.Stages)
	}
	if cfg.Automation.StaleDays != 3 {
		t.Fatalf("stale days = %d", cfg.Automation.StaleDays)
	}
	// Untouched sections keep defaults.
	if cfg.Automation.StuckDays != 14 || cfg.Store.Backend != "sqlite" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestFromYAMLRejectsBadConfigs(t *testing.T) {
	cases := map[string]string{
		"empty stages":       "pipeline:\n  stages: []\n",
		"duplicate stage":    "pipeline:\n  stages: [A, A]\n  won_stage: W\n  lost_stage: L\n",
		"terminal in stages": "pipeline:\n  stages: [A, Closed Won]\n",
		"bad backend":        "store:\n  backend: redis\n",
		"unknown prob stage": "pipeline:\n  probabilities:\n    Nowhere: 5\n",
	}
	for name, doc := range cases {
		if _, err := config.FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.SubPipeline != "Sales Pipeline Standard" {
		t.Fatalf("sub pipeline = %q", cfg.Pipeline.SubPipeline)
	}
	if cfg.Store.Workspace != dir {
		t.Fatalf("workspace = %q", cfg.Store.Workspace)
	}
}

func TestWriteAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Automation.StaleDays = 5
	if err := config.Write(dir, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "salesline.yml")); err != nil {
		t.Fatalf("config file missing: %v", err)
	}

	loaded, err := config.Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Automation.StaleDays != 5 {
		t.Fatalf("stale days = %d after reload", loaded.Automation.StaleDays)
	}
}
