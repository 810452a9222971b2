package contract

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/metalagman/accord/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func criteria(ids ...string) []model.AcceptanceCriterion {
	out := make([]model.AcceptanceCriterion, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.AcceptanceCriterion{ID: id, Validator: "command", Critical: true})
	}
	return out
}

func TestNewStartsProposed(t *testing.T) {
	t.Parallel()

	c, err := New("k1", nil, criteria("C1", "C2"))
	require.NoError(t, err)
	assert.Equal(t, model.StateProposed, c.State())
	assert.NotNil(t, c.Specification)
	assert.Len(t, c.Criteria, 2)
}

func TestNewRejectsBadCriteria(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		id       string
		criteria []model.AcceptanceCriterion
	}{
		{name: "empty contract id", id: " ", criteria: criteria("C1")},
		{name: "duplicate criterion", id: "k", criteria: criteria("C1", "C1")},
		{name: "missing criterion id", id: "k", criteria: []model.AcceptanceCriterion{{Validator: "x"}}},
		{name: "missing validator", id: "k", criteria: []model.AcceptanceCriterion{{ID: "C1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.id, nil, tt.criteria)
			require.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	c, err := New("k1", nil, criteria("C1"))
	require.NoError(t, err)

	require.ErrorIs(t, c.Claim(), ErrInvalidState)
	require.NoError(t, c.MarkFulfilled())
	require.ErrorIs(t, c.MarkFulfilled(), ErrInvalidState)

	require.NoError(t, c.Claim())
	require.ErrorIs(t, c.Claim(), ErrInvalidState)
	require.ErrorIs(t, c.MarkFulfilled(), ErrInvalidState)
	require.ErrorIs(t, c.Complete(model.StateProposed), ErrInvalidState)

	require.NoError(t, c.Complete(model.StateBreached))
	assert.Equal(t, model.StateBreached, c.State())
	require.ErrorIs(t, c.Complete(model.StateVerified), ErrInvalidState)
	assert.Equal(t, model.StateBreached, c.State())

	require.NoError(t, c.MarkFulfilled())
	require.NoError(t, c.Claim())
	require.NoError(t, c.Complete(model.StateVerified))
	assert.Equal(t, model.StateVerified, c.State())
}

func TestCompleteWithoutClaim(t *testing.T) {
	t.Parallel()

	c, err := Restore("k1", nil, criteria("C1"), model.StateFulfilled)
	require.NoError(t, err)
	require.ErrorIs(t, c.Complete(model.StateVerified), ErrInvalidState)
	assert.Equal(t, model.StateFulfilled, c.State())
}

func TestClaimIsExclusive(t *testing.T) {
	t.Parallel()

	c, err := Restore("k1", nil, criteria("C1"), model.StateFulfilled)
	require.NoError(t, err)

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Claim() == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, won.Load())
}

func TestRestoreRejectsUnknownState(t *testing.T) {
	t.Parallel()

	_, err := Restore("k1", nil, nil, model.ContractState("DONE"))
	require.ErrorIs(t, err, ErrInvalidDocument)
}

func TestMarshalJSONCarriesState(t *testing.T) {
	t.Parallel()

	c, err := New("k1", map[string]any{"title": "t"}, criteria("C1"))
	require.NoError(t, err)
	require.NoError(t, c.MarkFulfilled())

	data, err := json.Marshal(c)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "k1", decoded["contract_id"])
	assert.Equal(t, "FULFILLED", decoded["state"])
	assert.Len(t, decoded["criteria"], 1)
}
