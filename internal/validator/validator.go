// Package validator defines the contract every acceptance check implements, the guarded
// invocation that isolates validators from each other, and the name-keyed registry.
package validator

import (
	"context"
	"strings"
	"time"

	"github.com/metalagman/accord/internal/model"
)

// DefaultTimeout applies when a validator declares no timeout.
const DefaultTimeout = 300 * time.Second

// Metadata is declared once per validator and never changes.
type Metadata struct {
	Name                string        `json:"name"`
	Version             string        `json:"version,omitempty"`
	Timeout             time.Duration `json:"-"`
	RequiresNetwork     bool          `json:"requires_network"`
	RequiresSandboxing  bool          `json:"requires_sandboxing"`
	Dependencies        []string      `json:"dependencies,omitempty"`
	RuntimeRequirements []string      `json:"runtime_requirements,omitempty"`
}

// EffectiveTimeout returns the declared timeout or DefaultTimeout.
func (m Metadata) EffectiveTimeout() time.Duration {
	if m.Timeout <= 0 {
		return DefaultTimeout
	}
	return m.Timeout
}

// TimeoutSeconds is the timeout as reported to humans and in JSON listings.
func (m Metadata) TimeoutSeconds() float64 {
	return m.EffectiveTimeout().Seconds()
}

// Session is per-invocation state acquired by Setup and released by Teardown.
type Session any

// Validator evaluates one criterion. Instances are shared across concurrent invocations;
// anything that must not be shared belongs in the Session.
type Validator interface {
	Metadata() Metadata
	Setup(ctx context.Context) (Session, error)
	Evaluate(ctx context.Context, s Session, c model.AcceptanceCriterion, in Input) (model.CriterionResult, error)
	Teardown(ctx context.Context, s Session) error
}

// Input is what a validator gets to look at besides its criterion.
type Input struct {
	Artifacts     map[string]any
	Specification map[string]any
	// Extra carries forward-compatible keys; validators ignore what they do not know.
	Extra map[string]any
}

// Artifact looks up a dotted path ("report.summary.p95") inside Artifacts.
func (in Input) Artifact(path string) (any, bool) {
	return Lookup(in.Artifacts, path)
}

// Lookup walks nested maps following a dotted path.
func Lookup(m map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" || m == nil {
		return nil, false
	}
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Base gives stateless validators no-op Setup and Teardown.
type Base struct{}

// Setup implements Validator.
func (Base) Setup(context.Context) (Session, error) { return nil, nil }

// Teardown implements Validator.
func (Base) Teardown(context.Context, Session) error { return nil }

// EvaluateFunc is the body of a validator built with New.
type EvaluateFunc func(ctx context.Context, c model.AcceptanceCriterion, in Input) (model.CriterionResult, error)

type funcValidator struct {
	Base
	meta Metadata
	fn   EvaluateFunc
}

// New builds a stateless validator from metadata and a function.
func New(meta Metadata, fn EvaluateFunc) Validator {
	return &funcValidator{meta: meta, fn: fn}
}

func (f *funcValidator) Metadata() Metadata { return f.meta }

func (f *funcValidator) Evaluate(ctx context.Context, _ Session, c model.AcceptanceCriterion, in Input) (model.CriterionResult, error) {
	return f.fn(ctx, c, in)
}
