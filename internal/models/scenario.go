package models

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios/default.yaml
var defaultScenario []byte

// DefaultScenario returns the scenario shipped with the game.
func DefaultScenario() (Scenario, error) {
	return ParseScenario(defaultScenario)
}

// LoadScenario reads a scenario YAML file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, err
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if sc.World.Background == "" {
		return Scenario{}, fmt.Errorf("scenario %q has no world background", sc.Title)
	}
	if err := sc.Status.Validate(); err != nil {
		return Scenario{}, err
	}
	if err := sc.Extensions.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}
