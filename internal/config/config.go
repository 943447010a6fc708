package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite = "sqlite"
	BackendSheets = "sheets"
)

// Config models dronecoord.yml.
type Config struct {
	Store struct {
		Backend string `yaml:"backend"`
		CSVDir  string `yaml:"csv_dir"`
	} `yaml:"store"`
	Sheets   SheetsConfig  `yaml:"sheets"`
	Rules    RulesConfig   `yaml:"rules"`
	Shell    ShellConfig   `yaml:"shell"`
	Webhooks []WebhookHook `yaml:"webhooks"`
}

// SheetsConfig locates the four worksheets. A per-entity spreadsheet id
// overrides SpreadsheetID for that worksheet.
type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	PilotsSheetID   string `yaml:"pilots_spreadsheet_id"`
	DronesSheetID   string `yaml:"drones_spreadsheet_id"`
	MissionsSheetID string `yaml:"missions_spreadsheet_id"`
	PilotsTab       string `yaml:"pilots_worksheet"`
	DronesTab       string `yaml:"drones_worksheet"`
	MissionsTab     string `yaml:"missions_worksheet"`
	AssignmentsTab  string `yaml:"assignments_worksheet"`
	CredentialsFile string `yaml:"credentials_file"`
}

type RulesConfig struct {
	DroneCapabilitySkills  []string `yaml:"drone_capability_skills"`
	MaintenanceWarningDays int      `yaml:"maintenance_warning_days"`
}

// ShellConfig lists the vocabularies the chat shell recognises when it
// pulls filters out of free text.
type ShellConfig struct {
	Locations      []string `yaml:"locations"`
	Skills         []string `yaml:"skills"`
	Certifications []string `yaml:"certifications"`
	Capabilities   []string `yaml:"capabilities"`
}

type WebhookHook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the hook should receive deliveries.
func (h WebhookHook) Active() bool {
	return h.Enabled == nil || *h.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dronecoord config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the defaults when the workspace has no config file.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendSheets:
	default:
		return fmt.Errorf("config.store.backend must be %q or %q, got %q", BackendSQLite, BackendSheets, c.Store.Backend)
	}
	if c.Store.Backend == BackendSheets {
		if c.Sheets.SpreadsheetID == "" && (c.Sheets.PilotsSheetID == "" || c.Sheets.DronesSheetID == "" || c.Sheets.MissionsSheetID == "") {
			return fmt.Errorf("config.sheets.spreadsheet_id is required for the sheets backend")
		}
	}
	if c.Rules.MaintenanceWarningDays < 0 {
		return fmt.Errorf("config.rules.maintenance_warning_days must not be negative")
	}
	for _, skill := range c.Rules.DroneCapabilitySkills {
		if strings.TrimSpace(skill) == "" {
			return fmt.Errorf("config.rules.drone_capability_skills has an empty entry")
		}
	}
	vocab := map[string][]string{
		"locations":      c.Shell.Locations,
		"skills":         c.Shell.Skills,
		"certifications": c.Shell.Certifications,
		"capabilities":   c.Shell.Capabilities,
	}
	for name, words := range vocab {
		for _, w := range words {
			if strings.TrimSpace(w) == "" {
				return fmt.Errorf("config.shell.%s has an empty entry", name)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dronecoord.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// sections keep their defaults.
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

// Worksheet names fall back to the roster layout used by the operations team.
func (s SheetsConfig) Worksheets() (pilots, drones, missions, assignments string) {
	return orDefault(s.PilotsTab, "Pilot Roster"),
		orDefault(s.DronesTab, "Drone Fleet"),
		orDefault(s.MissionsTab, "Missions"),
		orDefault(s.AssignmentsTab, "Assignments")
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

const defaultTemplate = `store:
  backend: sqlite
  csv_dir: data

sheets:
  spreadsheet_id: ""
  pilots_worksheet: Pilot Roster
  drones_worksheet: Drone Fleet
  missions_worksheet: Missions
  assignments_worksheet: Assignments
  credentials_file: ""

rules:
  drone_capability_skills: [thermal, lidar, rgb]
  maintenance_warning_days: 7

shell:
  locations: [Bangalore, Mumbai, Delhi, Chennai, Hyderabad, Pune]
  skills: [mapping, survey, inspection, thermal]
  certifications: [dgca, night ops]
  capabilities: [thermal, lidar, rgb]

webhooks: []
`
