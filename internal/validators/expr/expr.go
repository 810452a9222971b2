// Package expr evaluates CEL expressions over the delivered artifacts.
package expr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
	"github.com/metalagman/accord/internal/validators"
)

// Type is the config type of this validator.
const Type = "expr"

const (
	costLimit      = 100000
	interruptCheck = 100
)

// Options configures an expr validator.
type Options struct {
	Name    string
	Version string
	Timeout time.Duration
}

type params struct {
	Expression string         `mapstructure:"expression"`
	Vars       map[string]any `mapstructure:"vars"`
}

// Validator compiles each distinct expression once and shares the program across
// criteria and verifications.
type Validator struct {
	validator.Base
	meta validator.Metadata
	env  *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// New builds an expr validator. Expressions see four variables: artifacts, spec, params
// (the criterion's "vars") and threshold.
func New(opts Options) (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("artifacts", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("spec", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("threshold", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	return &Validator{
		meta:     validator.Metadata{Name: opts.Name, Version: opts.Version, Timeout: opts.Timeout},
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Metadata implements validator.Validator.
func (v *Validator) Metadata() validator.Metadata { return v.meta }

// Evaluate implements validator.Validator.
func (v *Validator) Evaluate(ctx context.Context, _ validator.Session, c model.AcceptanceCriterion, in validator.Input) (model.CriterionResult, error) {
	var p params
	if err := validators.DecodeParams(c, &p); err != nil {
		return model.CriterionResult{}, err
	}
	if p.Expression == "" {
		return model.CriterionResult{}, fmt.Errorf("criterion %s: expression is required", c.ID)
	}
	prg, err := v.program(p.Expression)
	if err != nil {
		return model.CriterionResult{}, err
	}

	out, _, err := prg.ContextEval(ctx, map[string]any{
		"artifacts": orEmpty(in.Artifacts),
		"spec":      orEmpty(in.Specification),
		"params":    orEmpty(p.Vars),
		"threshold": c.Threshold,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.CriterionResult{}, ctxErr
	}
	if err != nil {
		// Missing keys and type mismatches are a failed check, not a broken validator.
		return model.CriterionResult{
			Passed:   false,
			Score:    model.Score(0),
			Message:  fmt.Sprintf("expression did not evaluate: %v", err),
			Evidence: map[string]any{"expression": p.Expression},
		}, nil
	}
	passed, ok := out.Value().(bool)
	if !ok {
		return model.CriterionResult{}, fmt.Errorf("expression %q returned %s, want bool", p.Expression, out.Type().TypeName())
	}
	res := model.CriterionResult{
		Passed:      passed,
		ActualValue: passed,
		Evidence:    map[string]any{"expression": p.Expression},
	}
	if passed {
		res.Score = model.Score(1)
		res.Message = fmt.Sprintf("%s holds", p.Expression)
	} else {
		res.Score = model.Score(0)
		res.Message = fmt.Sprintf("%s does not hold", p.Expression)
	}
	return res, nil
}

func (v *Validator) program(expression string) (cel.Program, error) {
	v.mu.RLock()
	prg, hit := v.programs[expression]
	v.mu.RUnlock()
	if hit {
		return prg, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if prg, hit = v.programs[expression]; hit {
		return prg, nil
	}
	ast, issues := v.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, issues.Err())
	}
	prg, err := v.env.Program(ast,
		cel.InterruptCheckFrequency(interruptCheck),
		cel.CostLimit(costLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expression, err)
	}
	v.programs[expression] = prg
	return prg, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
