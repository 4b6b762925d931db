package parser

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tatianab/story-loop/internal/models"
)

const schemaURL = "game_data.schema.json"

//go:embed schema/game_data.schema.json
var gameDataSchemaText string

var gameDataSchema = compileSchema()

func compileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, strings.NewReader(gameDataSchemaText)); err != nil {
		panic(fmt.Sprintf("parser: load schema: %v", err))
	}
	return c.MustCompile(schemaURL)
}

// validate checks the decoded value against the game data shape and
// converts it to the typed model.
func validate(text string, value any) (*models.ParsedGameData, *ParseError) {
	if err := gameDataSchema.Validate(value); err != nil {
		issues := schemaIssues(err)
		return nil, &ParseError{
			Phase:   PhaseValidation,
			Message: strings.Join(issues, "; "),
			Issues:  issues,
			Raw:     text,
			Cause:   errors.Join(ErrInvalidShape, err),
		}
	}

	var data models.ParsedGameData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, &ParseError{
			Phase:   PhaseValidation,
			Message: err.Error(),
			Raw:     text,
			Cause:   errors.Join(ErrInvalidShape, err),
		}
	}

	seen := make(map[string]bool, len(data.Options))
	for i, o := range data.Options {
		if seen[o.ID] {
			msg := fmt.Sprintf("/options/%d/id: duplicate option id %q", i, o.ID)
			return nil, &ParseError{
				Phase:   PhaseValidation,
				Message: msg,
				Issues:  []string{msg},
				Raw:     text,
				Cause:   ErrInvalidShape,
			}
		}
		seen[o.ID] = true
	}
	return &data, nil
}

// schemaIssues flattens a validation error into "location: message" lines
// taken from its leaf causes.
func schemaIssues(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var issues []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			issues = append(issues, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(issues)
	return issues
}
