// Package verify runs a contract's criteria through their validators and turns the results
// into a verdict.
package verify

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/metalagman/accord/internal/contract"
	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/metalagman/accord/internal/verify"

// Config bounds a verification.
type Config struct {
	// Concurrency is the number of validators running at once. Zero means runtime.NumCPU().
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`
	// Deadline bounds the whole verification. Zero means no overall deadline.
	Deadline time.Duration `json:"deadline" mapstructure:"deadline"`
	// TeardownTimeout bounds each validator Teardown. Zero keeps the validator package default.
	TeardownTimeout time.Duration `json:"teardown_timeout" mapstructure:"teardown_timeout"`
}

// Resolver looks validators up by the name a criterion uses.
type Resolver interface {
	Resolve(name string) (validator.Validator, error)
}

// Recorder persists verification runs. Its failures are logged and never fail a verification.
type Recorder interface {
	VerificationStarted(ctx context.Context, id, contractID string, startedAt time.Time) error
	VerificationFinished(ctx context.Context, res *model.VerificationResult) error
}

// Orchestrator fans criteria out to validators and aggregates the results.
// It is safe for concurrent use across contracts.
type Orchestrator struct {
	resolver Resolver
	cfg      Config
	logger   zerolog.Logger
	tracer   trace.Tracer
	recorder Recorder
	probe    validator.RequirementProbe
	now      func() time.Time
	newID    func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the diagnostics sink.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer replaces the tracer taken from the global OpenTelemetry provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithRecorder persists every run.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithProbe replaces the runtime requirement probe handed to validators.
func WithProbe(p validator.RequirementProbe) Option {
	return func(o *Orchestrator) { o.probe = p }
}

// New creates an orchestrator over the validators known to r.
func New(r Resolver, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	o := &Orchestrator{
		resolver: r,
		cfg:      cfg,
		logger:   zerolog.Nop(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Verify evaluates every criterion of a FULFILLED contract against artifacts and moves the
// contract to VERIFIED or BREACHED. Validator failures, timeouts and missing validators are
// recorded in the result; the only error is a contract that is not ready for verification.
// When ctx ends early, unfinished criteria are recorded as timeouts and the verdict still
// stands.
func (o *Orchestrator) Verify(ctx context.Context, c *contract.Contract, artifacts map[string]any) (*model.VerificationResult, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil contract", contract.ErrInvalidState)
	}
	if err := c.Claim(); err != nil {
		return nil, err
	}

	id := o.newID()
	started := o.now()
	logger := o.logger.With().Str("contract_id", c.ID).Str("verification_id", id).Logger()

	ctx, span := o.tracer.Start(ctx, "verify",
		trace.WithAttributes(
			attribute.String("accord.contract_id", c.ID),
			attribute.String("accord.verification_id", id),
			attribute.Int("accord.criteria", len(c.Criteria)),
		))
	defer span.End()

	if o.recorder != nil {
		if err := o.recorder.VerificationStarted(ctx, id, c.ID, started); err != nil {
			logger.Warn().Err(err).Msg("record verification start")
		}
	}
	logger.Info().Int("criteria", len(c.Criteria)).Int("concurrency", o.cfg.Concurrency).Msg("verification started")

	runCtx := ctx
	if o.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
		defer cancel()
	}

	in := validator.Input{Artifacts: artifacts, Specification: c.Specification}
	results := o.fanOut(runCtx, logger, c.Criteria, in)

	res := Aggregate(c.ID, c.Criteria, results)
	res.ID = id
	res.StartedAt = started
	res.FinishedAt = o.now()

	if err := c.Complete(res.NewState); err != nil {
		span.RecordError(err)
		return &res, fmt.Errorf("complete contract %s: %w", c.ID, err)
	}

	passed, failed, incomplete := res.Counts()
	span.SetAttributes(
		attribute.Bool("accord.overall_passed", res.OverallPassed),
		attribute.String("accord.new_state", string(res.NewState)),
	)
	logger.Info().
		Bool("overall_passed", res.OverallPassed).
		Str("new_state", string(res.NewState)).
		Int("passed", passed).
		Int("failed", failed).
		Int("incomplete", incomplete).
		Strs("advisories", res.Advisories).
		Dur("duration", res.FinishedAt.Sub(started)).
		Msg("verification finished")

	if o.recorder != nil {
		if err := o.recorder.VerificationFinished(context.WithoutCancel(ctx), &res); err != nil {
			logger.Warn().Err(err).Msg("record verification result")
		}
	}
	return &res, nil
}

// fanOut runs every resolvable criterion on the worker pool and returns results indexed by
// declaration position.
func (o *Orchestrator) fanOut(ctx context.Context, logger zerolog.Logger, criteria []model.AcceptanceCriterion, in validator.Input) []model.CriterionResult {
	results := make([]model.CriterionResult, len(criteria))
	sem := make(chan struct{}, o.cfg.Concurrency)
	opts := []validator.Option{
		validator.WithLogger(logger),
		validator.WithTeardownTimeout(o.cfg.TeardownTimeout),
	}
	if o.probe != nil {
		opts = append(opts, validator.WithProbe(o.probe))
	}

	var wg sync.WaitGroup
	for i, c := range criteria {
		v, err := o.resolver.Resolve(c.Validator)
		if err != nil {
			logger.Warn().Err(err).Str("criterion_id", c.ID).Msg("validator not resolved")
			results[i] = validator.Finalize(validator.Failure(c, model.OutcomeError, err), c, 0)
			continue
		}

		wg.Add(1)
		go func(i int, c model.AcceptanceCriterion, v validator.Validator) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					logger.Error().Interface("panic", p).Str("criterion_id", c.ID).Msg("criterion evaluation panicked")
					results[i] = validator.Finalize(validator.Failure(c, model.OutcomeError,
						fmt.Errorf("%w: %v", validator.ErrExecution, p)), c, 0)
				}
			}()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = validator.Finalize(validator.Failure(c, model.OutcomeTimeout, notStarted(ctx)), c, 0)
				return
			}
			results[i] = o.evaluate(ctx, v, c, in, opts)
		}(i, c, v)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) evaluate(ctx context.Context, v validator.Validator, c model.AcceptanceCriterion, in validator.Input, opts []validator.Option) model.CriterionResult {
	ctx, span := o.tracer.Start(ctx, "criterion",
		trace.WithAttributes(
			attribute.String("accord.criterion_id", c.ID),
			attribute.String("accord.validator", c.Validator),
			attribute.Bool("accord.critical", c.Critical),
		))
	defer span.End()

	res := validator.Validate(ctx, v, c, in, opts...)
	span.SetAttributes(
		attribute.String("accord.outcome", string(res.Outcome)),
		attribute.Bool("accord.passed", res.Passed),
	)
	if res.Outcome != model.OutcomeCompleted {
		span.SetStatus(codes.Error, res.Message)
	}
	return res
}

func notStarted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: verification cancelled before the criterion started", validator.ErrDeadline)
	}
	return fmt.Errorf("%w: criterion never started", validator.ErrDeadline)
}
