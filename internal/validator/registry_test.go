package validator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/metalagman/accord/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(name string) Validator {
	return New(Metadata{Name: name, Version: "1.2.0", Timeout: time.Second}, func(context.Context, model.AcceptanceCriterion, Input) (model.CriterionResult, error) {
		return model.CriterionResult{Passed: true}, nil
	})
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register("lint", passing("command")))

	v, err := reg.Resolve("lint")
	require.NoError(t, err)
	assert.Equal(t, "command", v.Metadata().Name)
}

func TestRegistry_NamesAreTrimmedOnBothSides(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(" lint ", passing("command")))

	for _, name := range []string{"lint", " lint", "lint\t"} {
		_, err := reg.Resolve(name)
		require.NoError(t, err, "%q", name)
	}
	assert.Equal(t, []string{"lint"}, reg.Names())
	require.ErrorIs(t, reg.Register("lint", passing("command")), ErrDuplicateValidator)
}

func TestRegistry_DuplicateIsRejected(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	first := passing("a")
	require.NoError(t, reg.Register("a", first))

	err := reg.Register("a", passing("a"))
	require.ErrorIs(t, err, ErrDuplicateValidator)

	got, err := reg.Resolve("a")
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestRegistry_UnknownName(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Resolve("missing")
	require.ErrorIs(t, err, ErrUnknownValidator)
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestRegistry_InvalidMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		meta Metadata
	}{
		{name: "empty name", meta: Metadata{}},
		{name: "negative timeout", meta: Metadata{Name: "x", Timeout: -time.Second}},
		{name: "bad version", meta: Metadata{Name: "x", Version: "latest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := New(tt.meta, nil)
			err := NewRegistry().Register("x", v)
			require.ErrorIs(t, err, ErrInvalidMetadata)
		})
	}
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.MustRegister("a", passing("a"))
	assert.Panics(t, func() { reg.MustRegister("a", passing("a")) })
}

func TestRegistry_NamesAndEntriesSorted(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	for _, name := range []string{"schema", "command", "expr"} {
		reg.MustRegister(name, passing(name))
	}

	assert.Equal(t, []string{"command", "expr", "schema"}, reg.Names())
	entries := reg.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "command", entries[0].Name)
	assert.Equal(t, "1.2.0", entries[0].Metadata.Version)
}

func TestRegistry_ConcurrentResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.MustRegister("a", passing("a"))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Resolve("a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
