// Package pipeline runs pre-declared stage workflows. A definition is
// data: an ordered list of steps with optional skip conditions and
// failure tolerance. Execution is session-independent and synchronous;
// one run never depends on what another run did.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/arguslabs/argus/internal/eyes"
)

// Operator is the comparison applied by a skip condition.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNeq Operator = "neq"
	OpGt  Operator = "gt"
	OpLt  Operator = "lt"
	OpGte Operator = "gte"
	OpLte Operator = "lte"
)

func (op Operator) valid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte:
		return true
	default:
		return false
	}
}

// SkipCondition skips a step when a field of an earlier step's result
// compares true against a literal value.
type SkipCondition struct {
	PreviousEye eyes.ID  `json:"previous_eye" yaml:"previousEye"`
	Field       string   `json:"field" yaml:"field"`
	Operator    Operator `json:"operator" yaml:"operator"`
	Value       any      `json:"value" yaml:"value"`
}

// Conditions collects the optional per-step controls.
type Conditions struct {
	SkipIf            *SkipCondition `json:"skip_if,omitempty" yaml:"skipIf,omitempty"`
	ContinueOnFailure bool           `json:"continue_on_failure,omitempty" yaml:"continueOnFailure,omitempty"`
}

// Step is one stage invocation inside a pipeline.
type Step struct {
	Eye        eyes.ID        `json:"eye" yaml:"eye"`
	Config     map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Conditions *Conditions    `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Definition is a named, validated pipeline.
type Definition struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Validate rejects definitions the executor cannot run: missing
// identity, no steps, unnamed or unknown eyes, malformed conditions,
// and skip references that do not point at an earlier step.
func Validate(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("pipeline id is required")
	}
	if def.Name == "" {
		return fmt.Errorf("pipeline %s: name is required", def.ID)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("pipeline %s: at least one step is required", def.ID)
	}

	seen := make(map[eyes.ID]bool, len(def.Steps))
	for i, step := range def.Steps {
		if step.Eye == "" {
			return fmt.Errorf("pipeline %s: step %d has no eye", def.ID, i)
		}
		if !step.Eye.Valid() || step.Eye == eyes.Router {
			return fmt.Errorf("pipeline %s: step %d references unknown eye %q", def.ID, i, step.Eye)
		}
		if step.Conditions != nil && step.Conditions.SkipIf != nil {
			skip := step.Conditions.SkipIf
			if skip.Field == "" {
				return fmt.Errorf("pipeline %s: step %d skip condition has no field", def.ID, i)
			}
			if !skip.Operator.valid() {
				return fmt.Errorf("pipeline %s: step %d skip condition has unknown operator %q", def.ID, i, skip.Operator)
			}
			if !seen[skip.PreviousEye] {
				return fmt.Errorf("pipeline %s: step %d skip condition references %q, which is not an earlier step",
					def.ID, i, skip.PreviousEye)
			}
		}
		seen[step.Eye] = true
	}
	return nil
}

// ParseDefinition decodes and validates a JSON definition, the shape
// stored in the pipelines table.
func ParseDefinition(raw []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return Definition{}, fmt.Errorf("parse pipeline definition: %w", err)
	}
	if err := Validate(def); err != nil {
		return Definition{}, err
	}
	return def, nil
}
