package contract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/metalagman/accord/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlDoc = `
id: checkout-redesign
specification:
  title: Checkout page
  openapi: {paths: {}}
criteria:
  - id: C1
    validator: lint
    parameters:
      cmd: ["golangci-lint", "run"]
  - id: C2
    validator: a11y
    critical: false
    threshold: 0.9
  - id: C3
    validator: p95
    expected_value: 200
`

func TestParseYAML(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(yamlDoc))
	require.NoError(t, err)

	assert.Equal(t, "checkout-redesign", c.ID)
	assert.Equal(t, model.StateProposed, c.State())
	assert.Equal(t, "Checkout page", c.Specification["title"])
	require.Len(t, c.Criteria, 3)

	assert.Equal(t, "lint", c.Criteria[0].Validator)
	assert.True(t, c.Criteria[0].Critical, "critical defaults to true")
	assert.Equal(t, []any{"golangci-lint", "run"}, c.Criteria[0].Parameters["cmd"])
	assert.False(t, c.Criteria[1].Critical)
	assert.Equal(t, 0.9, c.Criteria[1].Threshold)
	assert.Equal(t, 200, c.Criteria[2].ExpectedValue)
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`{"id": "k", "criteria": [{"id": "C1", "validator": "schema", "critical": true}]}`))
	require.NoError(t, err)
	assert.Equal(t, "k", c.ID)
	require.Len(t, c.Criteria, 1)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "empty", doc: "", want: "empty document"},
		{name: "not yaml", doc: "id: [", want: ""},
		{name: "missing criteria", doc: "id: k", want: "criteria"},
		{name: "unknown field", doc: "id: k\ncriteria: []\nowner: bob", want: "owner"},
		{name: "critical not bool", doc: "id: k\ncriteria: [{id: C1, validator: x, critical: maybe}]", want: "critical"},
		{name: "duplicate criterion", doc: "id: k\ncriteria: [{id: C1, validator: x}, {id: C1, validator: y}]", want: "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidDocument)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "contract.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "checkout-redesign", c.ID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
