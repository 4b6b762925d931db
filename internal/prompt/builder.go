// Package prompt turns the game configuration, the current state and the
// player's input into the text prompt sent to an AI provider.
//
// Build is a pure function. The section order is fixed:
//
//	world, character, [history], status, [extension], input, requirement
//
// and sections are joined by one blank line.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/provider"
)

// DefaultMaxHistoryRounds is used when Options.MaxHistoryRounds is not positive.
const DefaultMaxHistoryRounds = 10

// Separator joins the sections.
const Separator = "\n\n"

// Section names reported in Metadata.
const (
	SectionWorld       = "world"
	SectionCharacter   = "character"
	SectionHistory     = "history"
	SectionStatus      = "status"
	SectionExtension   = "extension"
	SectionInput       = "input"
	SectionRequirement = "requirement"
)

// Options is everything a prompt is built from.
type Options struct {
	World      models.WorldConfig
	Status     models.StatusConfig
	Extensions models.ExtensionConfig
	State      models.GameState
	UserInput  string

	History          []models.GameRound
	MaxHistoryRounds int

	// Provider selects the output-format appendix. Unknown adds none.
	Provider provider.Provider
}

// Metadata describes a built prompt.
type Metadata struct {
	// Sections maps section name to its length in characters.
	Sections        map[string]int
	Order           []string
	Length          int
	EstimatedTokens int
}

// Result is the outcome of Build. Err is set on failure and Prompt is empty.
type Result struct {
	Prompt   string
	Metadata Metadata
	Err      error
}

// OK reports whether the prompt was built.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil
}

type section struct {
	name    string
	content string
}

// Build assembles the prompt. It never panics; any failure, including a
// malformed configuration, is returned in Result.Err.
func Build(opts Options) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res = &Result{Err: fmt.Errorf("prompt: build failed: %v", r)}
		}
	}()

	if err := opts.Status.Validate(); err != nil {
		return &Result{Err: fmt.Errorf("prompt: status config: %w", err)}
	}
	if err := opts.Extensions.Validate(); err != nil {
		return &Result{Err: fmt.Errorf("prompt: extension config: %w", err)}
	}

	requirement, err := requirementSection(opts.Status, opts.Extensions, opts.Provider)
	if err != nil {
		return &Result{Err: fmt.Errorf("prompt: requirement section: %w", err)}
	}

	sections := []section{
		{SectionWorld, worldSection(opts.World)},
		{SectionCharacter, characterSection(opts.World)},
	}
	if len(opts.History) > 0 {
		sections = append(sections, section{SectionHistory, historySection(opts.History, opts.MaxHistoryRounds)})
	}
	sections = append(sections, section{SectionStatus, statusSection(opts.Status, opts.State)})
	if opts.State.CustomData.Len() > 0 {
		sections = append(sections, section{SectionExtension, extensionSection(opts.Extensions, opts.State)})
	}
	sections = append(sections,
		section{SectionInput, inputSection(opts.UserInput)},
		section{SectionRequirement, requirement},
	)

	meta := Metadata{Sections: make(map[string]int, len(sections))}
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, s.content)
		meta.Sections[s.name] = utf8.RuneCountInString(s.content)
		meta.Order = append(meta.Order, s.name)
	}

	text := strings.Join(parts, Separator)
	meta.Length = utf8.RuneCountInString(text)
	meta.EstimatedTokens = EstimateTokens(text)
	return &Result{Prompt: text, Metadata: meta}
}
