package cli

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Filter is a compiled jq expression for reshaping command output.
type Filter struct {
	expr  string
	query *gojq.Query
}

// NewFilter parses expr up front so syntax errors surface before any
// request is made.
func NewFilter(expr string) (*Filter, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}
	return &Filter{expr: expr, query: query}, nil
}

// Expr returns the original expression string.
func (f *Filter) Expr() string { return f.expr }

// Apply runs the filter over v. The value is round-tripped through
// JSON first since jq operates on plain maps and slices. A single
// result unwraps; several come back as a list.
func (f *Filter) Apply(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value for jq: %w", err)
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("decode value for jq: %w", err)
	}

	var out []any
	iter := f.query.Run(plain)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if jqErr, ok := r.(error); ok {
			return nil, fmt.Errorf("jq: %w", jqErr)
		}
		out = append(out, r)
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		return out, nil
	}
}
