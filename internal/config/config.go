package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pressline/internal/stage"
)

// Config models pressline.yml.
type Config struct {
	Shop struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"shop"`
	Departments struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"departments"`
	Reminders struct {
		SweepInterval        string `yaml:"sweep_interval"`
		DefaultSnoozeMinutes int    `yaml:"default_snooze_minutes"`
	} `yaml:"reminders"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// WebhookConfig describes an outbound event webhook.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run pl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default("pressline"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Shop.ID == "" {
		return fmt.Errorf("config.shop.id is required")
	}
	for name := range c.Departments.Catalog {
		if !stage.ValidDepartment(stage.Department(name)) {
			return fmt.Errorf("departments.catalog contains unknown department %s", name)
		}
	}
	if c.Reminders.DefaultSnoozeMinutes < 0 {
		return fmt.Errorf("reminders.default_snooze_minutes must be >= 0")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
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
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pressline.yml")
}

// SweepInterval returns the configured sweep cadence or the default.
func (c *Config) SweepInterval() string {
	if c != nil && c.Reminders.SweepInterval != "" {
		return c.Reminders.SweepInterval
	}
	return "@every 1m"
}

// SnoozeMinutes returns the configured default snooze or the fallback.
func (c *Config) SnoozeMinutes() int {
	if c != nil && c.Reminders.DefaultSnoozeMinutes > 0 {
		return c.Reminders.DefaultSnoozeMinutes
	}
	return 30
}

// GenerateDefault returns default config YAML.
func GenerateDefault(shopID string) string {
	return fmt.Sprintf(defaultTemplate, shopID)
}

// Default returns the default Config struct for a shop.
func Default(shopID string) *Config {
	var cfg Config
	cfg.Shop.ID = shopID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, shopID))).Decode(&cfg)
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

const defaultTemplate = `shop:
  id: %s
  name: Pressline

departments:
  catalog:
    graphics:
      description: "Artwork and mockup preparation"
    production:
      description: "Press and print production"
    packaging:
      description: "Finishing, packing and dispatch prep"

reminders:
  sweep_interval: "@every 1m"
  default_snooze_minutes: 30

rbac:
  roles:
    admin:
      description: "Shop administrator"
      permissions: [project.manage, reminder.manage]
    staff:
      description: "Department staff"
      permissions: [project.read]
`
