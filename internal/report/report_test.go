package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/metalagman/accord/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func breached() *model.VerificationResult {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.VerificationResult{
		ID:         "v-1",
		ContractID: "checkout",
		Results: []model.CriterionResult{
			{CriterionID: "C1", Passed: true, Critical: true, Outcome: model.OutcomeCompleted, Score: model.Score(1), Message: "ok"},
			{CriterionID: "C2", Passed: false, Critical: true, Outcome: model.OutcomeTimeout, Message: "timed out | after 30s"},
			{CriterionID: "C3", Passed: false, Critical: false, Outcome: model.OutcomeCompleted, Message: "wording\nis vague"},
		},
		OverallPassed: false,
		NewState:      model.StateBreached,
		Advisories:    []string{"C3"},
		StartedAt:     started,
		FinishedAt:    started.Add(1500 * time.Millisecond),
	}
}

func TestText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Text(&buf, breached(), Options{}))
	out := buf.String()

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "BREACHED contract checkout", lines[0])
	assert.Contains(t, lines[1], "1 passed, 1 failed, 1 incomplete, 1.5s")
	assert.Contains(t, lines[2], "PASS C1")
	assert.Contains(t, lines[3], "TIME C2")
	assert.Contains(t, lines[4], "FAIL C3")
	assert.Contains(t, lines[4], "advisory")
	assert.Contains(t, lines[4], "wording is vague")
	assert.Equal(t, "advisories: C3", lines[5])
}

func TestMarkdown(t *testing.T) {
	t.Parallel()

	md := Markdown(breached())
	assert.Contains(t, md, "# Contract checkout: BREACHED")
	assert.Contains(t, md, "| C1 | yes | completed | yes | 1.00 | ok |")
	assert.Contains(t, md, `timed out \| after 30s`)
	assert.Contains(t, md, "## Advisories\n\n- C3\n")
}

func TestRenderMarkdown(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, RenderMarkdown(&buf, breached(), Options{Width: 120}))
	out := buf.String()
	assert.Contains(t, out, "BREACHED")
	assert.Contains(t, out, "C2")
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, breached(), Options{}))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "checkout", decoded["contract_id"])
	assert.Equal(t, false, decoded["overall_passed"])
	assert.Equal(t, "BREACHED", decoded["new_state"])
	results, ok := decoded["criterion_results"].([]any)
	require.True(t, ok)
	assert.Len(t, results, 3)
}

func TestWriteUnknownFormat(t *testing.T) {
	t.Parallel()

	err := Write(&bytes.Buffer{}, "html", breached(), Options{})
	assert.ErrorContains(t, err, "unknown format")
}
