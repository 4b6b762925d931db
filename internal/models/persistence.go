package models

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// stateFile is the on-disk shape of state.yaml.
type stateFile struct {
	ID      string    `yaml:"id"`
	State   GameState `yaml:"state"`
	Options []Option  `yaml:"options,omitempty"`
}

// historyFile is the on-disk shape of history.yaml.
type historyFile struct {
	Rounds []GameRound `yaml:"rounds"`
}

// NewSession starts a session from a scenario's initial state.
func NewSession(sc Scenario) *GameSession {
	state := sc.InitialState.Clone()
	if state.CustomData == nil {
		state.CustomData = NewOrderedMap()
	}
	return &GameSession{
		ID:       uuid.NewString(),
		Scenario: sc,
		State:    state,
	}
}

// Save writes the session to dir/name as three YAML files.
func (s *GameSession) Save(dir, name string) error {
	dir = filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := writeYAML(filepath.Join(dir, "scenario.yaml"), s.Scenario); err != nil {
		return err
	}
	if err := writeYAML(filepath.Join(dir, "state.yaml"), stateFile{ID: s.ID, State: s.State, Options: s.Options}); err != nil {
		return err
	}
	if err := writeYAML(filepath.Join(dir, "history.yaml"), historyFile{Rounds: s.History}); err != nil {
		return err
	}
	return nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0644)
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadSession reads a session written by Save.
func LoadSession(dir, name string) (*GameSession, error) {
	dir = filepath.Join(dir, name)

	var sc Scenario
	if err := readYAML(filepath.Join(dir, "scenario.yaml"), &sc); err != nil {
		return nil, err
	}
	var st stateFile
	if err := readYAML(filepath.Join(dir, "state.yaml"), &st); err != nil {
		return nil, err
	}
	var hist historyFile
	if err := readYAML(filepath.Join(dir, "history.yaml"), &hist); err != nil {
		return nil, err
	}
	if st.State.CustomData == nil {
		st.State.CustomData = NewOrderedMap()
	}

	return &GameSession{
		ID:       st.ID,
		Scenario: sc,
		State:    st.State,
		History:  hist.Rounds,
		Options:  st.Options,
	}, nil
}

// ListSessions returns the names of the sessions saved under dir.
func ListSessions(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			// scenario.yaml marks a valid session
			if _, err := os.Stat(filepath.Join(dir, entry.Name(), "scenario.yaml")); err == nil {
				sessions = append(sessions, entry.Name())
			}
		}
	}
	return sessions, nil
}
