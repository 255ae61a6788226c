package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models programline.yml.
type Config struct {
	Workspace struct {
		OrgID   string `yaml:"org_id" json:"org_id"`
		OrgName string `yaml:"org_name" json:"org_name"`
	} `yaml:"workspace" json:"workspace"`
	Gates struct {
		Launch struct {
			Checklist []ChecklistItem `yaml:"checklist" json:"checklist"`
		} `yaml:"launch" json:"launch"`
		Completion struct {
			Checklist  []ChecklistItem `yaml:"checklist" json:"checklist"`
			MinChecked int             `yaml:"min_checked" json:"min_checked"`
		} `yaml:"completion" json:"completion"`
	} `yaml:"gates" json:"gates"`
	Screening struct {
		Criteria []string `yaml:"criteria" json:"criteria"`
	} `yaml:"screening" json:"screening"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Email      EmailConfig      `yaml:"email" json:"email"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" json:"dispatcher"`
	RBAC       struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles"`
	} `yaml:"rbac" json:"rbac"`
}

// ChecklistItem is one box on a gate checklist.
type ChecklistItem struct {
	Key      string `yaml:"key" json:"key"`
	Label    string `yaml:"label" json:"label"`
	Required bool   `yaml:"required" json:"required"`
}

type LLMConfig struct {
	// Provider is one of none, http, genai.
	Provider       string `yaml:"provider" json:"provider"`
	Endpoint       string `yaml:"endpoint" json:"endpoint,omitempty"`
	Model          string `yaml:"model" json:"model,omitempty"`
	APIKeyEnv      string `yaml:"api_key_env" json:"api_key_env,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

type EmailConfig struct {
	HubURL         string `yaml:"hub_url" json:"hub_url,omitempty"`
	SecretEnv      string `yaml:"secret_env" json:"secret_env,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

type DispatcherConfig struct {
	IntervalMS    int     `yaml:"interval_ms" json:"interval_ms"`
	Batch         int     `yaml:"batch" json:"batch"`
	Concurrency   int     `yaml:"concurrency" json:"concurrency"`
	MaxAttempts   int     `yaml:"max_attempts" json:"max_attempts"`
	BaseBackoffMS int     `yaml:"base_backoff_ms" json:"base_backoff_ms"`
	MaxBackoffMS  int     `yaml:"max_backoff_ms" json:"max_backoff_ms"`
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	Burst         int     `yaml:"burst" json:"burst"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// Interval returns the dispatcher poll interval.
func (d DispatcherConfig) Interval() time.Duration {
	return time.Duration(d.IntervalMS) * time.Millisecond
}

func (d DispatcherConfig) BaseBackoff() time.Duration {
	return time.Duration(d.BaseBackoffMS) * time.Millisecond
}

func (d DispatcherConfig) MaxBackoff() time.Duration {
	return time.Duration(d.MaxBackoffMS) * time.Millisecond
}

// Timeout returns the LLM request timeout.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

func (e EmailConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// RequiredLaunchKeys lists launch checklist keys that must be checked.
func (c *Config) RequiredLaunchKeys() []string {
	var keys []string
	for _, item := range c.Gates.Launch.Checklist {
		if item.Required {
			keys = append(keys, item.Key)
		}
	}
	return keys
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workspace.OrgID) == "" {
		return fmt.Errorf("config.workspace.org_id is required")
	}
	if err := validateChecklist("gates.launch", c.Gates.Launch.Checklist); err != nil {
		return err
	}
	if len(c.RequiredLaunchKeys()) == 0 {
		return fmt.Errorf("config.gates.launch.checklist needs at least one required item")
	}
	if err := validateChecklist("gates.completion", c.Gates.Completion.Checklist); err != nil {
		return err
	}
	if c.Gates.Completion.MinChecked <= 0 || c.Gates.Completion.MinChecked > len(c.Gates.Completion.Checklist) {
		return fmt.Errorf("config.gates.completion.min_checked must be between 1 and %d", len(c.Gates.Completion.Checklist))
	}
	switch c.LLM.Provider {
	case "", "none":
	case "http":
		if c.LLM.Endpoint == "" {
			return fmt.Errorf("config.llm.endpoint is required for provider http")
		}
	case "genai":
		if c.LLM.APIKeyEnv == "" {
			return fmt.Errorf("config.llm.api_key_env is required for provider genai")
		}
	default:
		return fmt.Errorf("config.llm.provider %q must be one of none, http, genai", c.LLM.Provider)
	}
	d := c.Dispatcher
	if d.IntervalMS <= 0 || d.Batch <= 0 || d.Concurrency <= 0 || d.MaxAttempts <= 0 {
		return fmt.Errorf("config.dispatcher interval_ms, batch, concurrency and max_attempts must be positive")
	}
	if d.RatePerSecond < 0 || d.Burst < 0 {
		return fmt.Errorf("config.dispatcher rate_per_second and burst must not be negative")
	}
	if d.MaxBackoffMS < d.BaseBackoffMS {
		return fmt.Errorf("config.dispatcher.max_backoff_ms must be >= base_backoff_ms")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	return nil
}

func validateChecklist(section string, items []ChecklistItem) error {
	if len(items) == 0 {
		return fmt.Errorf("config.%s.checklist is required", section)
	}
	seen := map[string]bool{}
	for _, item := range items {
		if item.Key == "" {
			return fmt.Errorf("config.%s.checklist has an item without key", section)
		}
		if seen[item.Key] {
			return fmt.Errorf("config.%s.checklist has duplicate key %s", section, item.Key)
		}
		seen[item.Key] = true
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "programline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Sections left
// out of the document keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workspace:
  org_id: default-org
  org_name: Default Organization

gates:
  launch:
    checklist:
      - key: application_form_ready
        label: "Application form published"
        required: true
      - key: evaluation_criteria_defined
        label: "Evaluation criteria defined"
        required: true
      - key: mentors_confirmed
        label: "Mentors confirmed"
        required: true
      - key: timeline_finalized
        label: "Timeline finalized"
        required: true
      - key: budget_approved
        label: "Budget approved"
        required: true
      - key: marketing_materials_ready
        label: "Marketing materials ready"
        required: false
      - key: partners_notified
        label: "Partners notified"
        required: false
  completion:
    min_checked: 4
    checklist:
      - key: final_presentations_done
        label: "Final presentations held"
      - key: certificates_issued
        label: "Certificates issued"
      - key: feedback_collected
        label: "Participant feedback collected"
      - key: outcomes_documented
        label: "Outcomes documented"
      - key: alumni_network_updated
        label: "Alumni network updated"
      - key: final_report_submitted
        label: "Final report submitted"

screening:
  criteria: [innovation, feasibility, team, impact, alignment]

llm:
  provider: none
  model: gemini-2.5-flash
  api_key_env: GEMINI_API_KEY
  timeout_seconds: 60

email:
  secret_env: PROGRAMLINE_EMAIL_SECRET
  timeout_seconds: 10

dispatcher:
  interval_ms: 2000
  batch: 50
  concurrency: 4
  max_attempts: 5
  base_backoff_ms: 1000
  max_backoff_ms: 300000
  rate_per_second: 5
  burst: 5

rbac:
  roles:
    owner:
      description: "Full control of the workspace"
      permissions:
        - program.create
        - program.read
        - program.update
        - program.launch
        - program.screen
        - program.select
        - program.mentor
        - program.session
        - program.complete
        - program.lessons
        - program.force
        - application.submit
        - application.read
        - report.read
        - kpi.contribute
        - entity.record
        - notification.read
        - event.read
        - outbox.manage
        - rbac.manage
    operator:
      description: "Runs program gates day to day"
      permissions:
        - program.create
        - program.read
        - program.update
        - program.launch
        - program.screen
        - program.select
        - program.mentor
        - program.session
        - program.complete
        - program.lessons
        - application.submit
        - application.read
        - report.read
        - kpi.contribute
        - entity.record
        - notification.read
        - event.read
    viewer:
      description: "Read-only access to programs and reports"
      permissions:
        - program.read
        - application.read
        - report.read
        - notification.read
        - event.read
`
