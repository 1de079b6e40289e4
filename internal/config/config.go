package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models salesline.yml.
type Config struct {
	Pipeline struct {
		SubPipeline   string         `yaml:"sub_pipeline"`
		Stages        []string       `yaml:"stages"`
		WonStage      string         `yaml:"won_stage"`
		LostStage     string         `yaml:"lost_stage"`
		Probabilities map[string]int `yaml:"probabilities"`
	} `yaml:"pipeline"`
	Automation struct {
		StaleDays       int    `yaml:"stale_days"`
		StuckDays       int    `yaml:"stuck_days"`
		FollowUpSubject string `yaml:"follow_up_subject"`
		Workers         int    `yaml:"workers"`
	} `yaml:"automation"`
	Store struct {
		Backend   string `yaml:"backend"` // sqlite or remote
		Workspace string `yaml:"workspace"`
	} `yaml:"store"`
	Remote struct {
		DataCenter     string `yaml:"data_center"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"remote"`
	Auth struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		TokenFile    string `yaml:"token_file"`
	} `yaml:"auth"`
}

const fileName = "salesline.yml"

// Default returns the standard sales pipeline configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Pipeline.SubPipeline = "Sales Pipeline Standard"
	cfg.Pipeline.Stages = []string{
		"Qualification",
		"Needs Analysis",
		"Proposal/Price Quote",
		"Negotiation/Review",
	}
	cfg.Pipeline.WonStage = "Closed Won"
	cfg.Pipeline.LostStage = "Closed Lost"
	cfg.Pipeline.Probabilities = map[string]int{
		"Qualification":        25,
		"Needs Analysis":       40,
		"Proposal/Price Quote": 70,
		"Negotiation/Review":   80,
		"Closed Won":           100,
		"Closed Lost":          0,
	}
	cfg.Automation.StaleDays = 7
	cfg.Automation.StuckDays = 14
	cfg.Automation.FollowUpSubject = "Follow up on stale pipeline"
	cfg.Automation.Workers = 4
	cfg.Store.Backend = "sqlite"
	cfg.Store.Workspace = "."
	cfg.Remote.DataCenter = "com"
	cfg.Remote.TimeoutSeconds = 30
	return cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Load reads config from the workspace, falling back to defaults when no
// file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.Store.Workspace = workspace
			return cfg, nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Workspace == "" {
		cfg.Store.Workspace = workspace
	}
	return cfg, nil
}

// Write saves the config as YAML into the workspace.
func Write(workspace string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(workspace), data, 0o644)
}

// FromYAML parses and validates a config document. Absent sections keep
// their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// Unmarshalling merges maps into the defaults. A user-provided
	// probability table replaces the default one instead.
	var raw Config
	if err := yaml.Unmarshal(data, &raw); err == nil && raw.Pipeline.Probabilities != nil {
		cfg.Pipeline.Probabilities = raw.Pipeline.Probabilities
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural invariants of the config.
func (c *Config) Validate() error {
	if len(c.Pipeline.Stages) == 0 {
		return fmt.Errorf("pipeline.stages must not be empty")
	}
	seen := map[string]bool{}
	for _, s := range c.Pipeline.Stages {
		if s == "" {
			return fmt.Errorf("pipeline.stages contains an empty stage name")
		}
		if seen[s] {
			return fmt.Errorf("pipeline.stages contains duplicate stage %q", s)
		}
		seen[s] = true
	}
	if c.Pipeline.WonStage == "" || c.Pipeline.LostStage == "" {
		return fmt.Errorf("pipeline.won_stage and pipeline.lost_stage are required")
	}
	if seen[c.Pipeline.WonStage] || seen[c.Pipeline.LostStage] {
		return fmt.Errorf("terminal stages must not appear in pipeline.stages")
	}
	for stage := range c.Pipeline.Probabilities {
		if !seen[stage] && stage != c.Pipeline.WonStage && stage != c.Pipeline.LostStage {
			return fmt.Errorf("probability configured for unknown stage %q", stage)
		}
	}
	switch c.Store.Backend {
	case "sqlite", "remote":
	default:
		return fmt.Errorf("store.backend must be sqlite or remote, got %q", c.Store.Backend)
	}
	if c.Automation.Workers < 1 {
		return fmt.Errorf("automation.workers must be at least 1")
	}
	return nil
}

// StageIndex returns the position of stage in the open-stage ordering, or -1.
func (c *Config) StageIndex(stage string) int {
	for i, s := range c.Pipeline.Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// NextStage returns the stage after the given one, and false at the last
// open stage (callers must win or lose explicitly from there).
func (c *Config) NextStage(stage string) (string, bool) {
	i := c.StageIndex(stage)
	if i < 0 || i >= len(c.Pipeline.Stages)-1 {
		return "", false
	}
	return c.Pipeline.Stages[i+1], true
}

// KnownStage reports whether stage is an open or terminal stage.
func (c *Config) KnownStage(stage string) bool {
	return c.StageIndex(stage) >= 0 || c.IsTerminalStage(stage)
}

// IsTerminalStage reports whether stage is a closed marker.
func (c *Config) IsTerminalStage(stage string) bool {
	return stage == c.Pipeline.WonStage || stage == c.Pipeline.LostStage
}

// StageProbability returns the configured default probability for a stage.
func (c *Config) StageProbability(stage string) (int, bool) {
	p, ok := c.Pipeline.Probabilities[stage]
	return p, ok
}
