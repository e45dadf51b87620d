// Package query runs JSONPath selectors over the exported information
// model and renders results as JSON.
package query

import (
	"fmt"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// Match is one selected value.
type Match struct {
	value any
}

// Values returns a map result as is and wraps anything else under
// "value".
func (m Match) Values() map[string]any {
	switch v := m.value.(type) {
	case map[string]any:
		return v
	default:
		return map[string]any{"value": v}
	}
}

func (m Match) Value() any { return m.value }

// Query evaluates a JSONPath selector against root.
func Query(root any, selector string) ([]Match, error) {
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}

	results := x.Get(root)
	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{value: r}
	}
	return matches, nil
}

// JSON renders v indented with sorted keys so output is stable.
func JSON(v any) string {
	return oj.JSON(v, &ojg.Options{Indent: 2, Sort: true})
}

// Values collects the raw values of matches, for rendering.
func Values(matches []Match) []any {
	out := make([]any, len(matches))
	for i, m := range matches {
		out[i] = m.value
	}
	return out
}
