package models

import (
	"fmt"
	"slices"
)

// ExtraKey is the customData bucket for keys no extension is configured for.
const ExtraKey = "_extra"

// WorldConfig is the static world definition for one game.
type WorldConfig struct {
	Background string `yaml:"background" json:"background"`
	Rules      string `yaml:"rules,omitempty" json:"rules,omitempty"`
	Characters string `yaml:"characters,omitempty" json:"characters,omitempty"`
}

// FieldType is the kind of value a status field holds.
type FieldType string

const (
	FieldNumber   FieldType = "NUMBER"
	FieldProgress FieldType = "PROGRESS"
	FieldText     FieldType = "TEXT"
)

// StatusField describes one entry of the status bar.
type StatusField struct {
	Name        string    `yaml:"name" json:"name"`
	DisplayName string    `yaml:"display_name" json:"displayName"`
	Type        FieldType `yaml:"type" json:"type"`
}

// Label is the display name, or the machine name when none is set.
func (f StatusField) Label() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Name
}

// StatusConfig lists the status fields in display order.
type StatusConfig struct {
	Fields []StatusField `yaml:"fields" json:"fields"`
}

// Validate rejects unnamed or duplicated fields.
func (c StatusConfig) Validate() error {
	seen := make(map[string]bool, len(c.Fields))
	for i, f := range c.Fields {
		if f.Name == "" {
			return fmt.Errorf("status field %d has no name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("status field %q is declared twice", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// DataType is the shape of an extension's data.
type DataType string

const (
	DataArray  DataType = "ARRAY"
	DataObject DataType = "OBJECT"
	DataScalar DataType = "SCALAR"
)

// Extension describes one game-specific side panel (quests, inventory...).
type Extension struct {
	Name     string   `yaml:"name" json:"name"`
	DataType DataType `yaml:"data_type" json:"dataType"`
}

// ExtensionConfig lists the extensions in display order.
type ExtensionConfig struct {
	Entries []Extension `yaml:"entries" json:"entries"`
}

// Validate rejects unnamed entries and unknown data types.
func (c ExtensionConfig) Validate() error {
	for i, e := range c.Entries {
		if e.Name == "" {
			return fmt.Errorf("extension %d has no name", i)
		}
		if e.Name == ExtraKey {
			return fmt.Errorf("extension name %q is reserved", ExtraKey)
		}
		switch e.DataType {
		case DataArray, DataObject, DataScalar:
		default:
			return fmt.Errorf("extension %q has unknown data type %q", e.Name, e.DataType)
		}
	}
	return nil
}

// Has reports whether an extension called name is configured.
func (c ExtensionConfig) Has(name string) bool {
	for _, e := range c.Entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// GameState is the current dynamic state of the game.
type GameState struct {
	PlayerStatus map[string]StatusValue `yaml:"player_status" json:"playerStatus"`
	CustomData   *OrderedMap            `yaml:"custom_data,omitempty" json:"customData,omitempty"`
}

// Clone returns a deep copy so callers can mutate without touching snapshots.
func (s GameState) Clone() GameState {
	out := GameState{PlayerStatus: make(map[string]StatusValue, len(s.PlayerStatus))}
	for k, v := range s.PlayerStatus {
		out.PlayerStatus[k] = v
	}
	out.CustomData = s.CustomData.Clone()
	return out
}

// Extra returns the customData._extra bucket, or nil.
func (s GameState) Extra() *OrderedMap {
	v, ok := s.CustomData.Get(ExtraKey)
	if !ok {
		return nil
	}
	m, _ := v.(*OrderedMap)
	return m
}

// Option is one of the three choices offered to the player.
type Option struct {
	ID   string `yaml:"id" json:"id"`
	Text string `yaml:"text" json:"text"`
}

// RoundResponse is the part of an AI answer kept in history.
type RoundResponse struct {
	Scene     string   `yaml:"scene" json:"scene"`
	Narration string   `yaml:"narration" json:"narration"`
	Options   []Option `yaml:"options,omitempty" json:"options,omitempty"`
}

// GameRound is one historical turn. An empty UserInput marks a round the
// system triggered on its own.
type GameRound struct {
	Round     int           `yaml:"round" json:"round"`
	UserInput string        `yaml:"user_input,omitempty" json:"userInput,omitempty"`
	Response  RoundResponse `yaml:"response" json:"response"`
}

// ParsedGameData is a validated AI answer.
type ParsedGameData struct {
	Scene     string                 `json:"scene"`
	Narration string                 `json:"narration"`
	Options   []Option               `json:"options"`
	Status    map[string]StatusValue `json:"status,omitempty"`
	Custom    *OrderedMap            `json:"custom,omitempty"`
}

// Option returns the option with the given id.
func (d *ParsedGameData) Option(id string) (Option, bool) {
	for _, o := range d.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Scenario bundles everything the prompt needs that does not change
// during a session.
type Scenario struct {
	Title        string          `yaml:"title"`
	ShortName    string          `yaml:"short_name"`
	World        WorldConfig     `yaml:"world"`
	Status       StatusConfig    `yaml:"status"`
	Extensions   ExtensionConfig `yaml:"extensions"`
	InitialState GameState       `yaml:"initial_state"`
}

// GameSession aggregates all game-related data.
type GameSession struct {
	ID       string      `yaml:"id"`
	Scenario Scenario    `yaml:"scenario"`
	State    GameState   `yaml:"state"`
	History  []GameRound `yaml:"history"`
	Options  []Option    `yaml:"options,omitempty"` // choices on screen
}

// Clone returns a copy that can be played without touching s. The scenario
// is shared.
func (s *GameSession) Clone() *GameSession {
	return &GameSession{
		ID:       s.ID,
		Scenario: s.Scenario,
		State:    s.State.Clone(),
		History:  slices.Clone(s.History),
		Options:  slices.Clone(s.Options),
	}
}

// LastRound returns the most recent round number, 0 before the first.
func (s *GameSession) LastRound() int {
	if len(s.History) == 0 {
		return 0
	}
	return s.History[len(s.History)-1].Round
}
