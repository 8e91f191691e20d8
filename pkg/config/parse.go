package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseConfigYAML parses a Config from YAML bytes and validates it.
// Fields absent from the document keep their DefaultConfig value.
func ParseConfigYAML(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ParseConfigYAMLString parses a Config from a YAML string and validates it.
func ParseConfigYAMLString(yamlText string) (*Config, error) {
	return ParseConfigYAML([]byte(yamlText))
}

// ParsePlatformYAML parses a Platform from YAML bytes and validates it.
func ParsePlatformYAML(data []byte) (*Platform, error) {
	var plat Platform
	if err := yaml.Unmarshal(data, &plat); err != nil {
		return nil, fmt.Errorf("failed to parse platform yaml: %w", err)
	}

	if err := validatePlatform(&plat); err != nil {
		return nil, fmt.Errorf("invalid platform: %w", err)
	}

	return &plat, nil
}

// ParseScenarioYAML parses a Scenario from YAML bytes and validates it.
// This is used for APIs where the scenario is provided as payload (not via
// filesystem), so the platform must be inline.
func ParseScenarioYAML(data []byte) (*Scenario, error) {
	scenario, err := decodeScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Platform == nil {
		return nil, fmt.Errorf("invalid scenario: platform must be inline when parsing from payload")
	}

	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return scenario, nil
}

// ParseScenarioYAMLString parses a Scenario from a YAML string and validates it.
func ParseScenarioYAMLString(yamlText string) (*Scenario, error) {
	return ParseScenarioYAML([]byte(yamlText))
}

func decodeScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario yaml: %w", err)
	}
	return &scenario, nil
}
