package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"caseline/internal/lifecycle"
)

// Config models caseline.yml. It only seeds the role tables; the live
// stage->approver mapping is stored in the database and read on every
// authorization check, so an admin can change it at runtime.
type Config struct {
	Stages            map[string]StagePolicy `yaml:"stages"`
	FinalApproverRole string                 `yaml:"final_approver_role"`
	ProducerRole      string                 `yaml:"producer_role"`
	RBAC              struct {
		Roles map[string]RoleDef `yaml:"roles"`
	} `yaml:"rbac"`
	Producers struct {
		TimeoutSeconds int               `yaml:"timeout_seconds"`
		Endpoints      map[string]string `yaml:"endpoints"`
	} `yaml:"producers"`
}

type StagePolicy struct {
	ApproverRole      string `yaml:"approver_role"`
	AllowSelfApproval bool   `yaml:"allow_self_approval"`
}

type RoleDef struct {
	Description string `yaml:"description"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run 'cl init' or copy one in place", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return fmt.Errorf("config.stages is required")
	}
	for _, stage := range lifecycle.StageNames() {
		policy, ok := c.Stages[stage]
		if !ok {
			return fmt.Errorf("config.stages.%s is missing", stage)
		}
		if policy.ApproverRole == "" {
			return fmt.Errorf("config.stages.%s.approver_role is empty", stage)
		}
	}
	for stage := range c.Stages {
		if _, ok := lifecycle.StageByName(stage); !ok {
			return fmt.Errorf("config.stages contains unknown stage %s", stage)
		}
	}
	if c.FinalApproverRole == "" {
		return fmt.Errorf("config.final_approver_role is required")
	}
	if c.ProducerRole == "" {
		return fmt.Errorf("config.producer_role is required")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
	}
	for stage := range c.Producers.Endpoints {
		if _, ok := lifecycle.StageByName(stage); !ok {
			return fmt.Errorf("config.producers.endpoints references unknown stage %s", stage)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `stages:
  prd:
    approver_role: product_lead
  system_design:
    approver_role: architect
  effort:
    approver_role: delivery_lead
    allow_self_approval: true
  cost:
    approver_role: finance_analyst
  value:
    approver_role: finance_analyst
  financial_model:
    approver_role: finance_analyst

final_approver_role: finance_director

producer_role: producer

rbac:
  roles:
    admin:
      description: "Administers role configuration and credentials"
    product_lead:
      description: "Reviews PRD drafts"
    architect:
      description: "Reviews system design drafts"
    delivery_lead:
      description: "Reviews effort estimates"
    finance_analyst:
      description: "Reviews cost, value and financial model drafts"
    finance_director:
      description: "Signs off the final business case"
    producer:
      description: "Writes generated drafts back into cases"

producers:
  timeout_seconds: 10
  endpoints: {}
`
