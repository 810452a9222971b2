// Package model holds the data shapes shared by validators, the orchestrator and storage.
package model

import (
	"encoding/json"
	"math"
	"time"
)

// Outcome classifies how a single validator invocation ended.
type Outcome string

const (
	// OutcomeCompleted means the validator ran to completion; Passed carries the verdict.
	OutcomeCompleted Outcome = "completed"
	// OutcomeTimeout means the validator or the whole verification ran out of time.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeError means the validator could not produce a verdict.
	OutcomeError Outcome = "error"
)

func (o Outcome) String() string { return string(o) }

// Valid reports whether o is one of the known outcome kinds.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeTimeout, OutcomeError:
		return true
	default:
		return false
	}
}

// ContractState is the lifecycle state of a contract.
type ContractState string

const (
	StateProposed  ContractState = "PROPOSED"
	StateFulfilled ContractState = "FULFILLED"
	StateVerified  ContractState = "VERIFIED"
	StateBreached  ContractState = "BREACHED"
)

// Valid reports whether s is a known contract state.
func (s ContractState) Valid() bool {
	switch s {
	case StateProposed, StateFulfilled, StateVerified, StateBreached:
		return true
	default:
		return false
	}
}

// AcceptanceCriterion describes one independently checkable condition of a contract.
type AcceptanceCriterion struct {
	ID            string         `json:"criterion_id"             yaml:"id"`
	Validator     string         `json:"validator_name"           yaml:"validator"`
	Description   string         `json:"description,omitempty"    yaml:"description,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"     yaml:"parameters,omitempty"`
	Critical      bool           `json:"critical"                 yaml:"critical"`
	Threshold     any            `json:"threshold,omitempty"      yaml:"threshold,omitempty"`
	ExpectedValue any            `json:"expected_value,omitempty" yaml:"expected_value,omitempty"`
}

// CriterionResult is the outcome of exactly one validator invocation for one criterion.
type CriterionResult struct {
	CriterionID   string         `json:"criterion_id"`
	Passed        bool           `json:"passed"`
	ActualValue   any            `json:"actual_value,omitempty"`
	ExpectedValue any            `json:"expected_value,omitempty"`
	Score         *float64       `json:"score,omitempty"`
	Message       string         `json:"message"`
	Evidence      map[string]any `json:"evidence,omitempty"`
	Outcome       Outcome        `json:"outcome_kind"`
	Critical      bool           `json:"critical"`
	Duration      time.Duration  `json:"-"`
}

type criterionResultJSON struct {
	CriterionID   string         `json:"criterion_id"`
	Passed        bool           `json:"passed"`
	ActualValue   any            `json:"actual_value,omitempty"`
	ExpectedValue any            `json:"expected_value,omitempty"`
	Score         *float64       `json:"score,omitempty"`
	Message       string         `json:"message"`
	Evidence      map[string]any `json:"evidence,omitempty"`
	Outcome       Outcome        `json:"outcome_kind"`
	Critical      bool           `json:"critical"`
	DurationMS    int64          `json:"duration_ms"`
}

// MarshalJSON encodes the duration as milliseconds.
func (r CriterionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(criterionResultJSON{
		CriterionID:   r.CriterionID,
		Passed:        r.Passed,
		ActualValue:   r.ActualValue,
		ExpectedValue: r.ExpectedValue,
		Score:         r.Score,
		Message:       r.Message,
		Evidence:      r.Evidence,
		Outcome:       r.Outcome,
		Critical:      r.Critical,
		DurationMS:    r.Duration.Milliseconds(),
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *CriterionResult) UnmarshalJSON(data []byte) error {
	var raw criterionResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = CriterionResult{
		CriterionID:   raw.CriterionID,
		Passed:        raw.Passed,
		ActualValue:   raw.ActualValue,
		ExpectedValue: raw.ExpectedValue,
		Score:         raw.Score,
		Message:       raw.Message,
		Evidence:      raw.Evidence,
		Outcome:       raw.Outcome,
		Critical:      raw.Critical,
		Duration:      time.Duration(raw.DurationMS) * time.Millisecond,
	}
	return nil
}

// Advisory reports whether the result is a failed non-critical criterion.
func (r CriterionResult) Advisory() bool {
	return !r.Critical && !r.Passed
}

// VerificationResult aggregates one verification attempt of one contract.
type VerificationResult struct {
	ID            string            `json:"verification_id"`
	ContractID    string            `json:"contract_id"`
	Results       []CriterionResult `json:"criterion_results"`
	OverallPassed bool              `json:"overall_passed"`
	NewState      ContractState     `json:"new_state"`
	Advisories    []string          `json:"advisories,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
}

// Counts returns how many results passed, failed and did not complete.
func (v VerificationResult) Counts() (passed, failed, incomplete int) {
	for _, r := range v.Results {
		switch {
		case r.Outcome != OutcomeCompleted:
			incomplete++
		case r.Passed:
			passed++
		default:
			failed++
		}
	}
	return passed, failed, incomplete
}

// Score returns a pointer to v clamped to [0, 1], for optional score fields. NaN becomes 0.
func Score(v float64) *float64 {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return &v
}
