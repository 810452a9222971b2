package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/metalagman/accord/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "nested", "accord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewStore(database)
}

func sampleResult(id string, started time.Time) *model.VerificationResult {
	return &model.VerificationResult{
		ID:         id,
		ContractID: "k1",
		Results: []model.CriterionResult{
			{CriterionID: "C1", Passed: true, Outcome: model.OutcomeCompleted, Critical: true, Score: model.Score(1), Duration: 15 * time.Millisecond},
			{CriterionID: "C2", Passed: false, Outcome: model.OutcomeTimeout, Critical: false, Message: "validator timeout"},
		},
		OverallPassed: true,
		NewState:      model.StateVerified,
		Advisories:    []string{"C2"},
		StartedAt:     started,
		FinishedAt:    started.Add(time.Second),
	}
}

func TestStoreVerificationLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)
	started := time.Now()

	require.NoError(t, store.VerificationStarted(ctx, "v1", "k1", started))

	running, _, err := store.GetVerification(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)
	assert.Nil(t, running.OverallPassed)

	require.NoError(t, store.VerificationFinished(ctx, sampleResult("v1", started)))

	v, results, err := store.GetVerification(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, v.Status)
	require.NotNil(t, v.OverallPassed)
	assert.True(t, *v.OverallPassed)
	assert.Equal(t, string(model.StateVerified), v.NewState)
	assert.Equal(t, []string{"C2"}, v.Advisories)
	assert.WithinDuration(t, started, v.StartedAt, time.Microsecond)

	require.Len(t, results, 2)
	assert.Equal(t, "C1", results[0].CriterionID)
	assert.Equal(t, 15*time.Millisecond, results[0].Duration)
	assert.Equal(t, model.OutcomeTimeout, results[1].Outcome)

	events, err := store.Events(ctx, "v1")
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		EventVerificationStarted,
		EventCriterionCompleted,
		EventCriterionCompleted,
		EventVerificationFinished,
	}, types)
	assert.Equal(t, "C2 timeout", events[2].Message)
}

func TestStoreListVerifications(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)
	base := time.Now().Add(-time.Hour)

	require.NoError(t, store.CreateVerification(ctx, "v1", "k1", base))
	require.NoError(t, store.CreateVerification(ctx, "v2", "k2", base.Add(time.Minute)))
	require.NoError(t, store.CreateVerification(ctx, "v3", "k1", base.Add(2*time.Minute)))

	all, err := store.ListVerifications(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "v3", all[0].ID)

	k1, err := store.ListVerifications(ctx, "k1", 1)
	require.NoError(t, err)
	require.Len(t, k1, 1)
	assert.Equal(t, "v3", k1[0].ID)
}

func TestStoreAbortAndMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)

	_, _, err := store.GetVerification(ctx, "missing")
	require.ErrorIs(t, err, ErrVerificationNotFound)

	err = store.FinishVerification(ctx, sampleResult("missing", time.Now()))
	require.Error(t, err)

	require.NoError(t, store.CreateVerification(ctx, "v1", "k1", time.Now()))
	require.NoError(t, store.AbortVerification(ctx, "v1", "process exited"))

	v, _, err := store.GetVerification(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, v.Status)
	assert.False(t, v.FinishedAt.IsZero())
}

func TestStoreFinishRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO criterion_results").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = NewStore(database).FinishVerification(context.Background(), sampleResult("v1", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert result C1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCreateRollsBackOnEventFailure(t *testing.T) {
	t.Parallel()

	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO verifications").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT COALESCE").WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err = NewStore(database).CreateVerification(context.Background(), "v1", "k1", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read event seq")
	require.NoError(t, mock.ExpectationsWereMet())
}
