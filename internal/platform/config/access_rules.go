package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AccessRules is the seed file describing external resources and which roles
// or teams are granted what on them.
type AccessRules struct {
	Resources []ResourceSpec `yaml:"resources"`
	RoleRules []RoleRuleSpec `yaml:"role_rules"`
	TeamRules []TeamRuleSpec `yaml:"team_rules"`
}

type ResourceSpec struct {
	Key        string `yaml:"key"`
	ExternalID string `yaml:"external_id"`
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Inactive   bool   `yaml:"inactive"`
}

type RoleRuleSpec struct {
	Role     string `yaml:"role"`
	Resource string `yaml:"resource"`
	Level    string `yaml:"level"`
}

type TeamRuleSpec struct {
	Team     string `yaml:"team"`
	Resource string `yaml:"resource"`
	Level    string `yaml:"level"`
}

// LoadAccessRules reads and validates a YAML access rule file.
func LoadAccessRules(path string) (AccessRules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AccessRules{}, fmt.Errorf("read access rules: %w", err)
	}
	return ParseAccessRules(raw)
}

// ParseAccessRules decodes rules and checks that every rule names a known resource.
func ParseAccessRules(raw []byte) (AccessRules, error) {
	var rules AccessRules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return AccessRules{}, fmt.Errorf("decode access rules: %w", err)
	}
	known := make(map[string]bool, len(rules.Resources))
	for _, r := range rules.Resources {
		if r.Key == "" || r.ExternalID == "" {
			return AccessRules{}, fmt.Errorf("resource %q: key and external_id are required", r.Name)
		}
		if known[r.Key] {
			return AccessRules{}, fmt.Errorf("resource %q declared twice", r.Key)
		}
		known[r.Key] = true
	}
	for _, rule := range rules.RoleRules {
		if !known[rule.Resource] {
			return AccessRules{}, fmt.Errorf("role rule for %q references unknown resource %q", rule.Role, rule.Resource)
		}
	}
	for _, rule := range rules.TeamRules {
		if !known[rule.Resource] {
			return AccessRules{}, fmt.Errorf("team rule for %q references unknown resource %q", rule.Team, rule.Resource)
		}
	}
	return rules, nil
}
