package orchestrate

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"venue/internal/apperrors"
)

// Reference discriminators.
const (
	markerInput = "INPUT"
	markerConst = "CONST"
)

// Spec is a parsed input or result expression. The concrete types are
// Literal, InputRef, ConstRef, StepRef, Object and List.
type Spec interface {
	Eval(env *Env) (any, error)
	collect(deps map[int]struct{})
}

// Env holds the values a Spec can reference.
type Env struct {
	Input   any
	outputs []any
	done    []bool
}

// NewEnv creates an environment for an orchestration with n steps.
func NewEnv(input any, n int) *Env {
	return &Env{Input: input, outputs: make([]any, n), done: make([]bool, n)}
}

// SetOutput records the output of step i.
func (e *Env) SetOutput(i int, v any) {
	e.outputs[i] = v
	e.done[i] = true
}

// Literal is a value without markers, returned unchanged.
type Literal struct{ Value any }

// InputRef resolves a path inside the orchestration input.
type InputRef struct{ Path []any }

// ConstRef yields its value unevaluated, markers included.
type ConstRef struct{ Value any }

// StepRef resolves a path inside the output of an earlier step.
type StepRef struct {
	Step int
	Path []any
}

// Object evaluates each field and rebuilds the map.
type Object struct{ Fields map[string]Spec }

// List is a literal list whose elements may contain references.
type List struct{ Items []Spec }

func (s Literal) Eval(*Env) (any, error) { return s.Value, nil }
func (Literal) collect(map[int]struct{}) {}

func (s InputRef) Eval(env *Env) (any, error) { return lookup(env.Input, s.Path), nil }
func (InputRef) collect(map[int]struct{})     {}

func (s ConstRef) Eval(*Env) (any, error) { return s.Value, nil }
func (ConstRef) collect(map[int]struct{}) {}

func (s StepRef) Eval(env *Env) (any, error) {
	if s.Step >= len(env.done) || !env.done[s.Step] {
		return nil, fmt.Errorf("step %d has no output yet", s.Step)
	}
	return lookup(env.outputs[s.Step], s.Path), nil
}

func (s StepRef) collect(deps map[int]struct{}) { deps[s.Step] = struct{}{} }

func (s Object) Eval(env *Env) (any, error) {
	out := make(map[string]any, len(s.Fields))
	for k, f := range s.Fields {
		v, err := f.Eval(env)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (s Object) collect(deps map[int]struct{}) {
	for _, f := range s.Fields {
		f.collect(deps)
	}
}

func (s List) Eval(env *Env) (any, error) {
	out := make([]any, len(s.Items))
	for i, item := range s.Items {
		v, err := item.Eval(env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s List) collect(deps map[int]struct{}) {
	for _, item := range s.Items {
		item.collect(deps)
	}
}

// Deps returns the step indices s references, ascending.
func Deps(s Spec) []int {
	set := make(map[int]struct{})
	s.collect(set)
	deps := make([]int, 0, len(set))
	for i := range set {
		deps = append(deps, i)
	}
	slices.Sort(deps)
	return deps
}

// ParseSpec parses a JSON-like value into a Spec.
//
// A list whose first element is a string or a number is a reference: the
// head must be "INPUT", "CONST" (with exactly one value) or a
// non-negative step index. Any other list is a literal whose elements are
// parsed in turn.
func ParseSpec(raw any) (Spec, error) {
	switch v := raw.(type) {
	case map[string]any:
		fields := make(map[string]Spec, len(v))
		for k, val := range v {
			f, err := ParseSpec(val)
			if err != nil {
				return nil, err
			}
			fields[k] = f
		}
		return Object{Fields: fields}, nil
	case []any:
		if len(v) == 0 {
			return Literal{Value: v}, nil
		}
		if head, ok := v[0].(string); ok {
			switch head {
			case markerInput:
				return InputRef{Path: v[1:]}, nil
			case markerConst:
				if len(v) != 2 {
					return nil, apperrors.Validationf("input", "CONST takes exactly one value, got %d", len(v)-1)
				}
				return ConstRef{Value: v[1]}, nil
			default:
				return nil, apperrors.Validationf("input", "unknown reference %q", head)
			}
		}
		if isNumber(v[0]) {
			step, ok := toIndex(v[0])
			if !ok {
				return nil, apperrors.Validationf("input", "step reference %v is not a non-negative integer", v[0])
			}
			return StepRef{Step: step, Path: v[1:]}, nil
		}
		items := make([]Spec, len(v))
		for i, val := range v {
			item, err := ParseSpec(val)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return List{Items: items}, nil
	default:
		return Literal{Value: raw}, nil
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64, int32, json.Number:
		return true
	}
	return false
}

// toIndex converts a JSON-like number to a non-negative int.
func toIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n >= 0
	case int32:
		return int(n), n >= 0
	case int64:
		return int(n), n >= 0
	case float32:
		return toIndex(float64(n))
	case float64:
		if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return toIndex(i)
	}
	return 0, false
}

// lookup walks path through maps (string keys) and lists (integer
// positions). A missing element yields nil.
func lookup(v any, path []any) any {
	for _, key := range path {
		switch cur := v.(type) {
		case map[string]any:
			k, ok := key.(string)
			if !ok {
				k = fmt.Sprint(key)
			}
			v = cur[k]
		case []any:
			i, ok := toIndex(key)
			if !ok || i >= len(cur) {
				return nil
			}
			v = cur[i]
		default:
			return nil
		}
	}
	return v
}
