package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/metalagman/accord/internal/config"
	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDefaults(t *testing.T) {
	t.Parallel()

	reg := validator.NewRegistry()
	require.NoError(t, Register(reg, config.Default().Validators))
	assert.Equal(t, []string{"expr", "files", "metric", "schema"}, reg.Names())
}

func TestRegisterCommand(t *testing.T) {
	t.Parallel()

	reg := validator.NewRegistry()
	err := Register(reg, map[string]config.ValidatorConfig{
		"lint": {Type: "command", Version: "1.2.0", Timeout: 90 * time.Second, Cmd: []string{"golangci-lint", "run"}},
	})
	require.NoError(t, err)

	v, err := reg.Resolve("lint")
	require.NoError(t, err)
	meta := v.Metadata()
	assert.Equal(t, "lint", meta.Name)
	assert.Equal(t, "1.2.0", meta.Version)
	assert.Equal(t, 90*time.Second, meta.EffectiveTimeout())
	assert.Equal(t, []string{"golangci-lint"}, meta.RuntimeRequirements)
}

func TestRegisterErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]map[string]config.ValidatorConfig{
		"unknown type":   {"x": {Type: "oracle"}},
		"command no cmd": {"x": {Type: "command"}},
		"bad version":    {"x": {Type: "metric", Version: "not-a-version"}},
		"agent no cmd":   {"x": {Type: "agentreview"}},
	}
	for name, cfgs := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Register(validator.NewRegistry(), cfgs))
		})
	}
}

func TestConfiguredParamsAreDefaults(t *testing.T) {
	t.Parallel()

	reg := validator.NewRegistry()
	require.NoError(t, Register(reg, map[string]config.ValidatorConfig{
		"coverage": {Type: "metric", Params: map[string]any{"path": "tests.coverage", "op": "gte"}},
	}))
	v, err := reg.Resolve("coverage")
	require.NoError(t, err)

	in := validator.Input{Artifacts: map[string]any{"tests": map[string]any{"coverage": 0.81, "branch": 0.4}}}
	c := model.AcceptanceCriterion{ID: "C1", Validator: "coverage", Critical: true, Threshold: 0.8}
	res := validator.Validate(context.Background(), v, c, in)
	assert.True(t, res.Passed, res.Message)

	c.Parameters = map[string]any{"path": "tests.branch"}
	res = validator.Validate(context.Background(), v, c, in)
	assert.False(t, res.Passed, res.Message)
}
