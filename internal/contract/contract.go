// Package contract holds the contract entity, its lifecycle, document loading and persistence.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/metalagman/accord/internal/model"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the contract's current state.
	ErrInvalidState = errors.New("invalid contract state")
	// ErrNotFound is returned by the store for unknown contract ids.
	ErrNotFound = errors.New("contract not found")
	// ErrInvalidDocument is returned for malformed contract documents or criteria.
	ErrInvalidDocument = errors.New("invalid contract document")
)

// Contract binds a specification to the acceptance criteria its deliverables must meet.
// ID, Specification and Criteria do not change after New; the state is guarded.
type Contract struct {
	ID            string
	Specification map[string]any
	Criteria      []model.AcceptanceCriterion

	mu        sync.Mutex
	state     model.ContractState
	verifying bool
}

// New returns a PROPOSED contract after checking that criterion ids are present and unique.
func New(id string, spec map[string]any, criteria []model.AcceptanceCriterion) (*Contract, error) {
	return Restore(id, spec, criteria, model.StateProposed)
}

// Restore rebuilds a contract in a known state, as loaded from storage.
func Restore(id string, spec map[string]any, criteria []model.AcceptanceCriterion, state model.ContractState) (*Contract, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: contract id is required", ErrInvalidDocument)
	}
	if !state.Valid() {
		return nil, fmt.Errorf("%w: contract %s: unknown state %q", ErrInvalidDocument, id, state)
	}
	seen := make(map[string]struct{}, len(criteria))
	for i, c := range criteria {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("%w: contract %s: criterion %d has no id", ErrInvalidDocument, id, i)
		}
		if strings.TrimSpace(c.Validator) == "" {
			return nil, fmt.Errorf("%w: contract %s: criterion %s names no validator", ErrInvalidDocument, id, c.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("%w: contract %s: duplicate criterion id %q", ErrInvalidDocument, id, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	if spec == nil {
		spec = map[string]any{}
	}
	return &Contract{
		ID:            id,
		Specification: spec,
		Criteria:      append([]model.AcceptanceCriterion(nil), criteria...),
		state:         state,
	}, nil
}

// State returns the current lifecycle state.
func (c *Contract) State() model.ContractState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkFulfilled records that the provider delivered. A finished contract may be fulfilled
// again to start another verification cycle.
func (c *Contract) MarkFulfilled() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verifying {
		return fmt.Errorf("%w: contract %s is being verified", ErrInvalidState, c.ID)
	}
	switch c.state {
	case model.StateProposed, model.StateVerified, model.StateBreached:
		c.state = model.StateFulfilled
		return nil
	default:
		return fmt.Errorf("%w: contract %s is %s", ErrInvalidState, c.ID, c.state)
	}
}

// Claim reserves a FULFILLED contract for one verification. It fails while another
// verification holds the claim.
func (c *Contract) Claim() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateFulfilled {
		return fmt.Errorf("%w: contract %s is %s, want %s", ErrInvalidState, c.ID, c.state, model.StateFulfilled)
	}
	if c.verifying {
		return fmt.Errorf("%w: contract %s is already being verified", ErrInvalidState, c.ID)
	}
	c.verifying = true
	return nil
}

// Complete moves a claimed contract to VERIFIED or BREACHED and drops the claim.
func (c *Contract) Complete(next model.ContractState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if next != model.StateVerified && next != model.StateBreached {
		return fmt.Errorf("%w: contract %s cannot complete as %s", ErrInvalidState, c.ID, next)
	}
	if c.state != model.StateFulfilled || !c.verifying {
		return fmt.Errorf("%w: contract %s is %s and not claimed", ErrInvalidState, c.ID, c.state)
	}
	c.state = next
	c.verifying = false
	return nil
}

// MarshalJSON encodes the contract with its current state.
func (c *Contract) MarshalJSON() ([]byte, error) {
	criteria := c.Criteria
	if criteria == nil {
		criteria = []model.AcceptanceCriterion{}
	}
	return json.Marshal(struct {
		ID            string                      `json:"contract_id"`
		State         model.ContractState         `json:"state"`
		Specification map[string]any              `json:"specification"`
		Criteria      []model.AcceptanceCriterion `json:"criteria"`
	}{c.ID, c.State(), c.Specification, criteria})
}
