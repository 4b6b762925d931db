package parser

import (
	"encoding/json"
	"errors"
	"regexp"
)

var (
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	singleQuotedPattern  = regexp.MustCompile(`([{\[,:]\s*)'([^'\n]*)'`)
	blockCommentPattern  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentPattern   = regexp.MustCompile(`(?m)(^|[\s,{\[])//[^\n]*$`)
	bareKeyPattern       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// Repair applies textual fixes for the mistakes models commonly make when
// writing JSON. The fixes run in a fixed order:
//
//   - trailing commas before } or ]
//   - single-quoted keys and values
//   - /* block */ and // line comments
//   - unquoted keys
//
// A comment sitting between a comma and a closing brace can leave a new
// trailing comma behind, so trailing commas are removed once more at the end.
func Repair(text string) string {
	text = trailingCommaPattern.ReplaceAllString(text, "$1")
	text = singleQuotedPattern.ReplaceAllString(text, `$1"$2"`)
	text = blockCommentPattern.ReplaceAllString(text, "")
	text = lineCommentPattern.ReplaceAllString(text, "$1")
	text = bareKeyPattern.ReplaceAllString(text, `$1"$2":`)
	return trailingCommaPattern.ReplaceAllString(text, "$1")
}

// decode parses text as JSON, repairing it once when autoFix is set. It
// returns the text that parsed, its generic value and whether a repair
// was needed.
func decode(text string, autoFix bool) (string, any, bool, *ParseError) {
	var v any
	err := json.Unmarshal([]byte(text), &v)
	if err == nil {
		return text, v, false, nil
	}
	if !autoFix {
		return "", nil, false, parsingError(err, text)
	}

	fixed := Repair(text)
	if ferr := json.Unmarshal([]byte(fixed), &v); ferr != nil {
		return "", nil, false, parsingError(ferr, fixed)
	}
	return fixed, v, true, nil
}

func parsingError(err error, raw string) *ParseError {
	return &ParseError{
		Phase:   PhaseParsing,
		Message: err.Error(),
		Raw:     raw,
		Cause:   errors.Join(ErrInvalidJSON, err),
	}
}
