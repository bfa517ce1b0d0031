package subscription

import (
	"encoding/json"
	"strings"

	"github.com/SirClappington/fscmd/internal/domain"
	"github.com/google/cel-go/cel"
)

// Filter is a compiled CEL expression deciding which records of a topic are
// claimed. The zero Filter accepts everything.
//
// Variables: record (the record as a JSON map), action (lower-cased action
// name) and topic.
type Filter struct {
	expr string
	prog cel.Program
}

func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.StringType),
		cel.Variable("topic", cel.StringType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{expr: expr, prog: prog}, nil
}

func (f Filter) String() string { return f.expr }

func (f Filter) Enabled() bool { return f.prog != nil }

// Match evaluates the filter. Evaluation errors and non-bool results count
// as no match.
func (f Filter) Match(topic string, c domain.Command) bool {
	if f.prog == nil {
		return true
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return false
	}
	record := map[string]any{}
	if err := json.Unmarshal(raw, &record); err != nil {
		return false
	}
	out, _, err := f.prog.Eval(map[string]any{
		"record": record,
		"action": domain.ActionOf(c).Name(),
		"topic":  topic,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
