package validator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/metalagman/accord/internal/model"
	"github.com/rs/zerolog"
)

const defaultTeardownTimeout = 30 * time.Second

// RequirementProbe reports whether an external binary or service is available.
type RequirementProbe func(name string) error

// LookPath probes requirements on PATH.
func LookPath(name string) error {
	_, err := exec.LookPath(name)
	return err
}

type guardOptions struct {
	logger          zerolog.Logger
	probe           RequirementProbe
	teardownTimeout time.Duration
}

// Option tunes Validate.
type Option func(*guardOptions)

// WithLogger sets the diagnostics sink for invocation events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *guardOptions) { o.logger = l }
}

// WithProbe replaces the runtime requirement probe.
func WithProbe(p RequirementProbe) Option {
	return func(o *guardOptions) {
		if p != nil {
			o.probe = p
		}
	}
}

// WithTeardownTimeout bounds how long Teardown may run.
func WithTeardownTimeout(d time.Duration) Option {
	return func(o *guardOptions) {
		if d > 0 {
			o.teardownTimeout = d
		}
	}
}

// Validate runs v against c and always returns a result for c. It enforces the declared
// timeout at the call boundary, turns errors and panics into error outcomes, and releases the
// validator session on every path. It never blocks past the timeout or the parent deadline.
func Validate(ctx context.Context, v Validator, c model.AcceptanceCriterion, in Input, opts ...Option) model.CriterionResult {
	o := guardOptions{
		logger:          zerolog.Nop(),
		probe:           LookPath,
		teardownTimeout: defaultTeardownTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	started := time.Now()
	meta, err := readMetadata(v)
	var res model.CriterionResult
	if err != nil {
		res = Failure(c, model.OutcomeError, err)
	} else {
		res = invoke(ctx, v, meta, c, in, o)
	}
	res = Finalize(res, c, time.Since(started))

	event := o.logger.Debug()
	if res.Outcome != model.OutcomeCompleted {
		event = o.logger.Warn()
	}
	event.
		Str("criterion_id", c.ID).
		Str("validator", meta.Name).
		Str("outcome", string(res.Outcome)).
		Bool("passed", res.Passed).
		Dur("duration", res.Duration).
		Msg("criterion evaluated")
	return res
}

// readMetadata calls v.Metadata, turning a panic into ErrExecution.
func readMetadata(v Validator) (meta Metadata, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: metadata panicked: %v", ErrExecution, p)
		}
	}()
	return v.Metadata(), nil
}

func invoke(ctx context.Context, v Validator, meta Metadata, c model.AcceptanceCriterion, in Input, o guardOptions) model.CriterionResult {
	if err := checkRequirements(meta, o.probe); err != nil {
		return Failure(c, model.OutcomeError, err)
	}
	if err := ctx.Err(); err != nil {
		return Failure(c, model.OutcomeTimeout, parentErr(ctx))
	}

	timeout := meta.EffectiveTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sc := &scope{v: v, name: meta.Name, logger: o.logger, timeout: o.teardownTimeout}
	done := make(chan model.CriterionResult, 1)
	go func() {
		done <- sc.run(runCtx, meta, c, in)
	}()

	select {
	case res := <-done:
		if res.Outcome == model.OutcomeTimeout && ctx.Err() != nil {
			return Failure(c, model.OutcomeTimeout, parentErr(ctx))
		}
		return res
	case <-runCtx.Done():
		// The worker may still be inside Evaluate; release its session without waiting on it.
		go sc.close(ctx)
		if ctx.Err() != nil {
			return Failure(c, model.OutcomeTimeout, parentErr(ctx))
		}
		return Failure(c, model.OutcomeTimeout, fmt.Errorf("%w: %s did not finish within %s", ErrTimeout, meta.Name, timeout))
	}
}

func parentErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: verification cancelled", ErrDeadline)
	}
	return ErrDeadline
}

func checkRequirements(meta Metadata, probe RequirementProbe) error {
	for _, req := range meta.RuntimeRequirements {
		if err := probe(req); err != nil {
			return fmt.Errorf("%w: %s requires %q: %v", ErrRequirementUnmet, meta.Name, req, err)
		}
	}
	return nil
}

// scope owns one Setup/Evaluate/Teardown cycle.
type scope struct {
	v       Validator
	name    string
	logger  zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	session Session
	opened  bool
	once    sync.Once
}

func (s *scope) run(ctx context.Context, meta Metadata, c model.AcceptanceCriterion, in Input) (res model.CriterionResult) {
	stage := "setup"
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().
				Str("criterion_id", c.ID).
				Str("validator", meta.Name).
				Str("stage", stage).
				Str("stack", string(debug.Stack())).
				Msg("validator panicked")
			res = Failure(c, model.OutcomeError, fmt.Errorf("%w: %s panicked during %s: %v", ErrExecution, meta.Name, stage, p))
		}
		s.close(ctx)
	}()

	session, err := s.v.Setup(ctx)
	if err != nil {
		return Failure(c, model.OutcomeError, fmt.Errorf("%w: %s setup: %v", ErrUnavailable, meta.Name, err))
	}
	s.mu.Lock()
	s.session = session
	s.opened = true
	s.mu.Unlock()

	stage = "evaluate"
	res, err = s.v.Evaluate(ctx, session, c, in)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return Failure(c, model.OutcomeTimeout, fmt.Errorf("%w: %s: %v", ErrTimeout, meta.Name, err))
		}
		return Failure(c, model.OutcomeError, fmt.Errorf("%w: %s: %v", ErrExecution, meta.Name, err))
	}
	return res
}

// close tears the session down once, if Setup succeeded.
func (s *scope) close(parent context.Context) {
	s.mu.Lock()
	opened, session := s.opened, s.session
	s.mu.Unlock()
	if !opened {
		return
	}
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.timeout)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error().Interface("panic", p).Msg("validator teardown panicked")
			}
		}()
		if err := s.v.Teardown(ctx, session); err != nil {
			s.logger.Warn().Err(err).Str("validator", s.name).Msg("validator teardown failed")
		}
	})
}

// Failure builds a failed result for c that carries err as diagnostics.
func Failure(c model.AcceptanceCriterion, outcome model.Outcome, err error) model.CriterionResult {
	msg := outcome.String()
	evidence := map[string]any{}
	if err != nil {
		msg = err.Error()
		evidence["error"] = err.Error()
	}
	return model.CriterionResult{
		CriterionID:   c.ID,
		Passed:        false,
		ExpectedValue: c.ExpectedValue,
		Message:       msg,
		Evidence:      evidence,
		Outcome:       outcome,
		Critical:      c.Critical,
	}
}

// Finalize stamps the fields a validator is not trusted to set on its own.
func Finalize(res model.CriterionResult, c model.AcceptanceCriterion, elapsed time.Duration) model.CriterionResult {
	res.CriterionID = c.ID
	res.Critical = c.Critical
	if res.ExpectedValue == nil {
		res.ExpectedValue = c.ExpectedValue
		if res.ExpectedValue == nil {
			res.ExpectedValue = c.Threshold
		}
	}
	if res.Outcome == "" {
		res.Outcome = model.OutcomeCompleted
	}
	if !res.Outcome.Valid() {
		res.Message = fmt.Sprintf("invalid outcome %q reported: %s", res.Outcome, res.Message)
		res.Outcome = model.OutcomeError
	}
	if res.Outcome != model.OutcomeCompleted {
		res.Passed = false
	}
	if res.Score != nil {
		res.Score = model.Score(*res.Score)
	}
	res.ActualValue = finite(res.ActualValue)
	res.ExpectedValue = finite(res.ExpectedValue)
	if res.Duration == 0 {
		res.Duration = elapsed
	}
	return res
}

// finite replaces NaN and infinities, which JSON cannot carry, with their string form.
func finite(v any) any {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	default:
		return v
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return v
}
