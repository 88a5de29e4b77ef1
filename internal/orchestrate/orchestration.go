package orchestrate

import (
	"fmt"
	"venue/internal/apperrors"
	"venue/internal/engine"
)

// Step is one declared step: the operation to invoke and its input.
type Step struct {
	Op    string
	Input Spec
}

// SubTask is a node of the dependency graph.
type SubTask struct {
	Index  int
	Step   Step
	Deps   []int
	Output any
}

// Orchestration is the execution context of one composite invocation.
type Orchestration struct {
	Input  any
	Result Spec
	Tasks  []*SubTask
}

// Build parses operation.steps and operation.result from meta. Steps may
// only reference earlier steps, which keeps the graph acyclic; violations
// are rejected here, before anything runs.
//
// A missing result yields the output of the last step, or null when the
// step list is empty.
func Build(meta engine.Metadata, input any) (*Orchestration, error) {
	op := meta.Operation()
	if op["steps"] == nil {
		return nil, apperrors.Validation("operation.steps", "steps are required")
	}
	rawSteps, ok := op["steps"].([]any)
	if !ok {
		return nil, apperrors.Validation("operation.steps", "steps must be a list")
	}

	o := &Orchestration{Input: input, Tasks: make([]*SubTask, 0, len(rawSteps))}
	for i, raw := range rawSteps {
		fields, ok := raw.(map[string]any)
		if !ok {
			return nil, apperrors.Validationf(stepField(i, ""), "step must be an object")
		}
		opRef, _ := fields["op"].(string)
		if opRef == "" {
			return nil, apperrors.Validationf(stepField(i, "op"), "step operation is required")
		}
		spec, err := ParseSpec(fields["input"])
		if err != nil {
			return nil, apperrors.Validationf(stepField(i, "input"), "%v", err)
		}
		deps := Deps(spec)
		for _, d := range deps {
			if d >= i {
				return nil, apperrors.Validationf(stepField(i, "input"),
					"step %d references step %d; steps may only reference earlier steps", i, d)
			}
		}
		o.Tasks = append(o.Tasks, &SubTask{Index: i, Step: Step{Op: opRef, Input: spec}, Deps: deps})
	}

	rawResult, hasResult := op["result"]
	switch {
	case hasResult:
		spec, err := ParseSpec(rawResult)
		if err != nil {
			return nil, apperrors.Validationf("operation.result", "%v", err)
		}
		for _, d := range Deps(spec) {
			if d >= len(o.Tasks) {
				return nil, apperrors.Validationf("operation.result", "result references step %d of %d", d, len(o.Tasks))
			}
		}
		o.Result = spec
	case len(o.Tasks) > 0:
		o.Result = StepRef{Step: len(o.Tasks) - 1}
	default:
		o.Result = Literal{}
	}
	return o, nil
}

func stepField(i int, name string) string {
	if name == "" {
		return fmt.Sprintf("operation.steps[%d]", i)
	}
	return fmt.Sprintf("operation.steps[%d].%s", i, name)
}
