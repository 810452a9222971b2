// Package metric compares a numeric artifact against a criterion threshold.
package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
	"github.com/metalagman/accord/internal/validators"
)

// Type is the config type of this validator.
const Type = "metric"

// Operators understood by the "op" parameter.
const (
	OpGTE = "gte"
	OpGT  = "gt"
	OpLTE = "lte"
	OpLT  = "lt"
	OpEQ  = "eq"
)

// Options configures a metric validator.
type Options struct {
	Name    string
	Version string
	Timeout time.Duration
}

type params struct {
	// Path is a dotted path into the artifacts.
	Path string `mapstructure:"path"`
	Op   string `mapstructure:"op"`
	// Tolerance widens eq comparisons.
	Tolerance float64 `mapstructure:"tolerance"`
}

type metricValidator struct {
	validator.Base
	meta validator.Metadata
}

// New builds a metric validator.
func New(opts Options) validator.Validator {
	return &metricValidator{meta: validator.Metadata{Name: opts.Name, Version: opts.Version, Timeout: opts.Timeout}}
}

func (v *metricValidator) Metadata() validator.Metadata { return v.meta }

func (v *metricValidator) Evaluate(_ context.Context, _ validator.Session, c model.AcceptanceCriterion, in validator.Input) (model.CriterionResult, error) {
	var p params
	if err := validators.DecodeParams(c, &p); err != nil {
		return model.CriterionResult{}, err
	}
	if p.Path == "" {
		return model.CriterionResult{}, fmt.Errorf("criterion %s: path is required", c.ID)
	}
	if p.Op == "" {
		p.Op = OpGTE
	}
	bound := c.Threshold
	if bound == nil {
		bound = c.ExpectedValue
	}
	if bound == nil {
		return model.CriterionResult{}, fmt.Errorf("criterion %s: threshold is required", c.ID)
	}
	threshold, err := toFloat(bound)
	if err != nil {
		return model.CriterionResult{}, fmt.Errorf("criterion %s threshold: %w", c.ID, err)
	}

	raw, ok := in.Artifact(p.Path)
	if !ok {
		return model.CriterionResult{
			Passed:        false,
			ExpectedValue: bound,
			Score:         model.Score(0),
			Message:       fmt.Sprintf("metric %q was not reported", p.Path),
		}, nil
	}
	actual, err := toFloat(raw)
	if err != nil {
		return model.CriterionResult{}, fmt.Errorf("metric %s: %w", p.Path, err)
	}
	passed, err := compare(p.Op, actual, threshold, p.Tolerance)
	if err != nil {
		return model.CriterionResult{}, err
	}

	verdict := "meets"
	if !passed {
		verdict = "misses"
	}
	return model.CriterionResult{
		Passed:        passed,
		ActualValue:   actual,
		ExpectedValue: bound,
		Score:         model.Score(score(p.Op, passed, actual, threshold)),
		Message:       fmt.Sprintf("%s = %v %s %s %v", p.Path, actual, verdict, p.Op, threshold),
		Evidence:      map[string]any{"path": p.Path, "op": p.Op},
	}, nil
}

func compare(op string, actual, threshold, tolerance float64) (bool, error) {
	switch strings.ToLower(op) {
	case OpGTE:
		return actual >= threshold, nil
	case OpGT:
		return actual > threshold, nil
	case OpLTE:
		return actual <= threshold, nil
	case OpLT:
		return actual < threshold, nil
	case OpEQ:
		return math.Abs(actual-threshold) <= tolerance, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// score is 1 for a pass and the fraction of the threshold reached otherwise.
func score(op string, passed bool, actual, threshold float64) float64 {
	if passed {
		return 1
	}
	switch strings.ToLower(op) {
	case OpGTE, OpGT:
		if threshold <= 0 {
			return 0
		}
		return actual / threshold
	case OpLTE, OpLT:
		if actual <= 0 {
			return 0
		}
		return threshold / actual
	default:
		return 0
	}
}

// toFloat accepts finite numbers and numeric strings.
func toFloat(v any) (float64, error) {
	f, err := number(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", v)
	}
	return f, nil
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
