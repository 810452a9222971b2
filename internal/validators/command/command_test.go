package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evaluate(t *testing.T, v *Validator, c model.AcceptanceCriterion, in validator.Input) model.CriterionResult {
	t.Helper()
	return validator.Validate(context.Background(), v, c, in)
}

func TestExitCodeExpectation(t *testing.T) {
	t.Parallel()

	v, err := New(Options{Name: "sh", Timeout: 5 * time.Second, Cmd: []string{"sh", "-c"}})
	require.NoError(t, err)

	ok := evaluate(t, v, model.AcceptanceCriterion{ID: "C1", Validator: "sh", Parameters: map[string]any{"args": []any{"exit 0"}}}, validator.Input{})
	assert.Equal(t, model.OutcomeCompleted, ok.Outcome)
	assert.True(t, ok.Passed)
	assert.Equal(t, 0, ok.ActualValue)

	bad := evaluate(t, v, model.AcceptanceCriterion{ID: "C2", Validator: "sh", Parameters: map[string]any{"args": []any{"exit 3"}}}, validator.Input{})
	assert.Equal(t, model.OutcomeCompleted, bad.Outcome)
	assert.False(t, bad.Passed)
	assert.Equal(t, 3, bad.ActualValue)
	assert.Equal(t, "expected exit 0, got 3", bad.Message)
}

func TestOutputExpectations(t *testing.T) {
	t.Parallel()

	v, err := New(Options{Name: "echo", Timeout: 5 * time.Second, Cmd: []string{"echo", "0 vulnerabilities found"}, Expect: "output contains 0 vulnerabilities"})
	require.NoError(t, err)

	res := evaluate(t, v, model.AcceptanceCriterion{ID: "C1", Validator: "echo"}, validator.Input{})
	assert.True(t, res.Passed)
	assert.Contains(t, res.Evidence["output"], "0 vulnerabilities found")

	res = evaluate(t, v, model.AcceptanceCriterion{ID: "C2", Validator: "echo", ExpectedValue: "output matches /^[0-9]+ vuln/"}, validator.Input{})
	assert.True(t, res.Passed)
	assert.Equal(t, "output matches /^[0-9]+ vuln/", res.ExpectedValue)

	res = evaluate(t, v, model.AcceptanceCriterion{ID: "C3", Validator: "echo", Parameters: map[string]any{"expect": "output contains CRITICAL"}}, validator.Input{})
	assert.False(t, res.Passed)
}

func TestWorkDirFromArtifacts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "BUILD_OK"), nil, 0o644))

	v, err := New(Options{Name: "test", Timeout: 5 * time.Second, Cmd: []string{"test", "-f", "BUILD_OK"}})
	require.NoError(t, err)

	res := evaluate(t, v, model.AcceptanceCriterion{ID: "C1", Validator: "test"}, validator.Input{Artifacts: map[string]any{"root": root}})
	assert.True(t, res.Passed, res.Message)
}

func TestTimeoutKillsCommand(t *testing.T) {
	t.Parallel()

	v, err := New(Options{Name: "sleep", Timeout: 100 * time.Millisecond, Cmd: []string{"sleep", "10"}})
	require.NoError(t, err)

	start := time.Now()
	res := evaluate(t, v, model.AcceptanceCriterion{ID: "C1", Validator: "sleep"}, validator.Input{})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, model.OutcomeTimeout, res.Outcome)
}

func TestMissingBinaryIsRequirementError(t *testing.T) {
	t.Parallel()

	v, err := New(Options{Name: "ghost", Cmd: []string{"accord-no-such-binary"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"accord-no-such-binary"}, v.Metadata().RuntimeRequirements)

	res := evaluate(t, v, model.AcceptanceCriterion{ID: "C1", Validator: "ghost"}, validator.Input{})
	assert.Equal(t, model.OutcomeError, res.Outcome)
	assert.Contains(t, res.Message, validator.ErrRequirementUnmet.Error())
}

func TestSandboxPrefix(t *testing.T) {
	t.Parallel()

	v, err := New(Options{Name: "boxed", Cmd: []string{"scan"}, Sandbox: []string{"docker", "run", "--rm", "scanner"}, Requires: []string{"scanner-db"}})
	require.NoError(t, err)
	meta := v.Metadata()
	assert.True(t, meta.RequiresSandboxing)
	assert.Equal(t, []string{"docker", "scanner-db"}, meta.RuntimeRequirements)
}

func TestNewRejectsBadOptions(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Name: "empty"})
	require.ErrorIs(t, err, validator.ErrInvalidMetadata)

	_, err = New(Options{Name: "bad", Cmd: []string{"true"}, Expect: "succeeds"})
	require.ErrorIs(t, err, validator.ErrInvalidMetadata)
}

func TestUnknownParameterIsExecutionError(t *testing.T) {
	t.Parallel()

	v, err := New(Options{Name: "true", Timeout: time.Second, Cmd: []string{"true"}})
	require.NoError(t, err)

	res := evaluate(t, v, model.AcceptanceCriterion{ID: "C1", Validator: "true", Parameters: map[string]any{"argz": "x"}}, validator.Input{})
	assert.Equal(t, model.OutcomeError, res.Outcome)
	assert.Contains(t, res.Message, "argz")
}
