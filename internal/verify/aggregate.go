package verify

import (
	"fmt"

	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
)

// Aggregate folds criterion results into a verdict. The output holds exactly one result per
// criterion, in declaration order: a criterion without a result is recorded as an error, and
// results for undeclared criteria are dropped. The declared criticality always wins.
//
// The contract passes when every critical criterion passed; failed non-critical criteria are
// reported as advisories. No criteria means a vacuous pass.
func Aggregate(contractID string, criteria []model.AcceptanceCriterion, results []model.CriterionResult) model.VerificationResult {
	byID := make(map[string]model.CriterionResult, len(results))
	for _, r := range results {
		if _, dup := byID[r.CriterionID]; !dup {
			byID[r.CriterionID] = r
		}
	}

	out := model.VerificationResult{
		ContractID: contractID,
		Results:    make([]model.CriterionResult, 0, len(criteria)),
	}
	passed := true
	for _, c := range criteria {
		r, ok := byID[c.ID]
		if !ok {
			r = validator.Failure(c, model.OutcomeError, fmt.Errorf("no result recorded for criterion %s", c.ID))
		}
		r.CriterionID = c.ID
		r.Critical = c.Critical
		if r.Outcome == "" {
			r.Outcome = model.OutcomeCompleted
		}
		if r.Outcome != model.OutcomeCompleted {
			r.Passed = false
		}
		out.Results = append(out.Results, r)

		switch {
		case r.Passed:
		case c.Critical:
			passed = false
		default:
			out.Advisories = append(out.Advisories, c.ID)
		}
	}

	out.OverallPassed = passed
	out.NewState = model.StateBreached
	if passed {
		out.NewState = model.StateVerified
	}
	return out
}
