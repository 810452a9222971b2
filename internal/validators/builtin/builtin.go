// Package builtin registers the configured validators.
package builtin

import (
	"context"
	"fmt"
	"sort"

	"github.com/metalagman/accord/internal/config"
	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
	"github.com/metalagman/accord/internal/validators/agentreview"
	"github.com/metalagman/accord/internal/validators/command"
	"github.com/metalagman/accord/internal/validators/expr"
	"github.com/metalagman/accord/internal/validators/files"
	"github.com/metalagman/accord/internal/validators/metric"
	"github.com/metalagman/accord/internal/validators/schema"
)

// Types lists the validator types a config may declare.
var Types = []string{agentreview.Type, command.Type, expr.Type, files.Type, metric.Type, schema.Type}

// Build constructs the validator declared under name.
func Build(name string, vc config.ValidatorConfig) (validator.Validator, error) {
	var (
		v   validator.Validator
		err error
	)
	switch vc.Type {
	case command.Type:
		v, err = newCommand(name, vc)
	case schema.Type:
		v = schema.New(schema.Options{Name: name, Version: vc.Version, Timeout: vc.Timeout})
	case expr.Type:
		v, err = newExpr(name, vc)
	case files.Type:
		v = files.New(files.Options{Name: name, Version: vc.Version, Timeout: vc.Timeout, Dir: vc.Dir})
	case metric.Type:
		v = metric.New(metric.Options{Name: name, Version: vc.Version, Timeout: vc.Timeout})
	case agentreview.Type:
		v, err = newAgentReview(name, vc)
	default:
		return nil, fmt.Errorf("validator %s: unknown type %q", name, vc.Type)
	}
	if err != nil {
		return nil, err
	}
	if len(vc.Params) > 0 {
		v = &withDefaults{Validator: v, params: vc.Params}
	}
	return v, nil
}

// withDefaults fills criterion parameters the criterion does not set from the
// validator's configured params.
type withDefaults struct {
	validator.Validator
	params map[string]any
}

func (d *withDefaults) Evaluate(ctx context.Context, s validator.Session, c model.AcceptanceCriterion, in validator.Input) (model.CriterionResult, error) {
	merged := make(map[string]any, len(d.params)+len(c.Parameters))
	for k, v := range d.params {
		merged[k] = v
	}
	for k, v := range c.Parameters {
		merged[k] = v
	}
	c.Parameters = merged
	return d.Validator.Evaluate(ctx, s, c, in)
}

func newCommand(name string, vc config.ValidatorConfig) (validator.Validator, error) {
	v, err := command.New(command.Options{
		Name:     name,
		Version:  vc.Version,
		Timeout:  vc.Timeout,
		Cmd:      vc.Cmd,
		Dir:      vc.Dir,
		Expect:   vc.Expect,
		Sandbox:  vc.Sandbox,
		Requires: vc.Requires,
		Network:  vc.Network,
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func newExpr(name string, vc config.ValidatorConfig) (validator.Validator, error) {
	v, err := expr.New(expr.Options{Name: name, Version: vc.Version, Timeout: vc.Timeout})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func newAgentReview(name string, vc config.ValidatorConfig) (validator.Validator, error) {
	useTTY := false
	if vc.UseTTY != nil {
		useTTY = *vc.UseTTY
	}
	v, err := agentreview.New(agentreview.Options{
		Name:    name,
		Version: vc.Version,
		Timeout: vc.Timeout,
		Cmd:     vc.Cmd,
		Model:   vc.Model,
		UseTTY:  useTTY,
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Register builds every configured validator and registers it under its config name.
// Names are processed in order so the first failure is deterministic.
func Register(reg *validator.Registry, cfgs map[string]config.ValidatorConfig) error {
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := Build(name, cfgs[name])
		if err != nil {
			return err
		}
		if err := reg.Register(name, v); err != nil {
			return err
		}
	}
	return nil
}
