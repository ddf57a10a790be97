package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"gyroscope/internal/grammar"
)

// FileName is the workspace config file.
const FileName = "gyroscope.yml"

// Config models gyroscope.yml.
type Config struct {
	Defaults struct {
		Mode      string `yaml:"mode"`
		Alignment string `yaml:"alignment"`
		Scope     string `yaml:"scope"`
	} `yaml:"defaults"`
	Batch struct {
		Parallelism int    `yaml:"parallelism"`
		Split       string `yaml:"split"`
	} `yaml:"batch"`
	Report struct {
		Format string `yaml:"format"`
	} `yaml:"report"`
	Challenges map[string]Challenge `yaml:"challenges"`
	Webhooks   []WebhookConfig      `yaml:"webhooks"`
}

// Challenge is one entry of the evaluation catalog.
type Challenge struct {
	Description string   `yaml:"description" json:"description"`
	Metrics     []string `yaml:"metrics" json:"metrics"`
}

// WebhookConfig is one outbound event subscription.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// ReportFormats lists the accepted report.format values.
var ReportFormats = []string{"text", "json", "table", "markdown"}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with gyro config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := grammar.ParseMode(c.Defaults.Mode); err != nil {
		return fmt.Errorf("config.defaults.mode: %w", err)
	}
	if a := c.Defaults.Alignment; a != grammar.Aligned && a != grammar.NotAligned {
		return fmt.Errorf("config.defaults.alignment must be Y or N, got %q", a)
	}
	if strings.TrimSpace(c.Defaults.Scope) == "" {
		return fmt.Errorf("config.defaults.scope is required")
	}
	if c.Batch.Parallelism < 1 {
		return fmt.Errorf("config.batch.parallelism must be at least 1")
	}
	switch c.Batch.Split {
	case "blank", "markers":
	default:
		return fmt.Errorf("config.batch.split must be blank or markers, got %q", c.Batch.Split)
	}
	if !contains(ReportFormats, c.Report.Format) {
		return fmt.Errorf("config.report.format must be one of %s, got %q", strings.Join(ReportFormats, ", "), c.Report.Format)
	}
	for id, ch := range c.Challenges {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("config.challenges contains an empty id")
		}
		if strings.TrimSpace(ch.Description) == "" {
			return fmt.Errorf("challenge %s has no description", id)
		}
		for _, m := range ch.Metrics {
			if strings.TrimSpace(m) == "" {
				return fmt.Errorf("challenge %s has an empty metric", id)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// ChallengeIDs returns the catalog ids sorted.
func (c *Config) ChallengeIDs() []string {
	ids := make([]string, 0, len(c.Challenges))
	for id := range c.Challenges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted sections
// keep their defaults.
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

// YAML renders the config.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

const defaultTemplate = `defaults:
  mode: Gen
  alignment: "Y"
  scope: default

batch:
  parallelism: 4
  split: blank

report:
  format: text

challenges:
  formal:
    description: "Derive spatial properties from gyrogroup structures using formal derivations and physical reasoning."
    metrics: [Physics, Math]
  normative:
    description: "Design a resource allocation framework for global poverty reduction considering conflicting stakeholder interests."
    metrics: [Policy, Ethics]
  procedural:
    description: "Implement a recursive algorithm for asymmetric computation with error bounds."
    metrics: [Code, Debugging]
  strategic:
    description: "Forecast AI regulatory evolution in multiple jurisdictions with feedback modeling."
    metrics: [Finance, Strategy]
  epistemic:
    description: "Test recursive reasoning and communication limits under self-referential constraints on knowledge formation."
    metrics: [Knowledge, Communication]

webhooks: []
`
