// Package agentreview delegates judgement of a criterion to a coding agent CLI, for
// checks that have no mechanical oracle (code review, UX copy, architecture fit).
package agentreview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
	"github.com/metalagman/accord/internal/validators"
	"github.com/metalagman/ainvoke"
)

// Type is the config type of this validator.
const Type = "agentreview"

const maxTranscript = 8 << 10

// Invoker runs one agent invocation and returns its stdout and exit code.
type Invoker interface {
	Invoke(ctx context.Context, inv ainvoke.Invocation, stdout, stderr io.Writer) ([]byte, int, error)
}

// Options configures an agent review validator.
type Options struct {
	Name    string
	Version string
	Timeout time.Duration
	Cmd     []string
	Model   string
	UseTTY  bool
	// Invoker replaces the ainvoke runner built from Cmd.
	Invoker Invoker
}

type params struct {
	Instructions string   `mapstructure:"instructions"`
	Artifacts    []string `mapstructure:"artifacts"`
	MinScore     *float64 `mapstructure:"min_score"`
}

// request is the input.json handed to the agent.
type request struct {
	Criterion     model.AcceptanceCriterion `json:"criterion"`
	Instructions  string                    `json:"instructions,omitempty"`
	Specification map[string]any            `json:"specification"`
	Artifacts     map[string]any            `json:"artifacts"`
}

// verdict is what the agent must answer with.
type verdict struct {
	Passed   *bool          `json:"passed"`
	Score    *float64       `json:"score,omitempty"`
	Message  string         `json:"message"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

// Validator asks an agent for a verdict. Each invocation gets its own run directory as
// its session.
type Validator struct {
	meta    validator.Metadata
	invoker Invoker
}

// New builds an agent review validator.
func New(opts Options) (*Validator, error) {
	if len(opts.Cmd) == 0 && opts.Invoker == nil {
		return nil, fmt.Errorf("%w: %s: cmd is required", validator.ErrInvalidMetadata, opts.Name)
	}
	cmd := append([]string(nil), opts.Cmd...)
	if opts.Model != "" {
		cmd = append(cmd, "--model", opts.Model)
	}
	inv := opts.Invoker
	if inv == nil {
		r, err := ainvoke.NewRunner(ainvoke.AgentConfig{Cmd: cmd, UseTTY: opts.UseTTY})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", validator.ErrInvalidMetadata, opts.Name, err)
		}
		inv = runnerInvoker{runner: r}
	}
	var requires []string
	if len(cmd) > 0 {
		requires = []string{cmd[0]}
	}
	return &Validator{
		meta: validator.Metadata{
			Name:                opts.Name,
			Version:             opts.Version,
			Timeout:             opts.Timeout,
			RequiresNetwork:     true,
			RuntimeRequirements: requires,
		},
		invoker: inv,
	}, nil
}

// Metadata implements validator.Validator.
func (v *Validator) Metadata() validator.Metadata { return v.meta }

// Setup creates the run directory for one invocation.
func (v *Validator) Setup(context.Context) (validator.Session, error) {
	dir, err := os.MkdirTemp("", "accord-review-")
	if err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

// Teardown removes the run directory.
func (v *Validator) Teardown(_ context.Context, s validator.Session) error {
	dir, ok := s.(string)
	if !ok || dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

// Evaluate implements validator.Validator.
func (v *Validator) Evaluate(ctx context.Context, s validator.Session, c model.AcceptanceCriterion, in validator.Input) (model.CriterionResult, error) {
	runDir, ok := s.(string)
	if !ok || runDir == "" {
		return model.CriterionResult{}, errors.New("agent review needs a run directory session")
	}
	var p params
	if err := validators.DecodeParams(c, &p); err != nil {
		return model.CriterionResult{}, err
	}

	req := request{
		Criterion:     c,
		Instructions:  p.Instructions,
		Specification: in.Specification,
		Artifacts:     selectArtifacts(in, p.Artifacts),
	}
	var stderr bytes.Buffer
	stdout, exitCode, err := v.invoker.Invoke(ctx, ainvoke.Invocation{
		RunDir:       runDir,
		SystemPrompt: systemPrompt(c, p),
		Input:        req,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
	}, io.Discard, &stderr)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.CriterionResult{}, ctxErr
	}
	if err != nil {
		return model.CriterionResult{}, fmt.Errorf("invoke agent: %w", err)
	}
	if exitCode != 0 {
		return model.CriterionResult{}, fmt.Errorf("agent exited with %d: %s", exitCode, validators.Truncate(stderr.String(), 512))
	}

	answer, err := readVerdict(runDir, stdout)
	if err != nil {
		return model.CriterionResult{}, err
	}
	passed := *answer.Passed
	if p.MinScore != nil && answer.Score != nil && *answer.Score < *p.MinScore {
		passed = false
	}
	evidence := answer.Evidence
	if evidence == nil {
		evidence = map[string]any{}
	}
	evidence["transcript"] = validators.Truncate(string(stdout), maxTranscript)
	res := model.CriterionResult{
		Passed:   passed,
		Message:  answer.Message,
		Evidence: evidence,
	}
	if answer.Score != nil {
		res.Score = model.Score(*answer.Score)
		res.ActualValue = *answer.Score
	}
	if p.MinScore != nil {
		res.ExpectedValue = *p.MinScore
	}
	return res, nil
}

func selectArtifacts(in validator.Input, paths []string) map[string]any {
	if len(paths) == 0 {
		return in.Artifacts
	}
	out := make(map[string]any, len(paths))
	for _, p := range paths {
		if val, ok := in.Artifact(p); ok {
			out[p] = val
		}
	}
	return out
}

func systemPrompt(c model.AcceptanceCriterion, p params) string {
	var b strings.Builder
	b.WriteString("You are reviewing delivered work against one acceptance criterion.\n")
	b.WriteString("- The criterion, the contract specification and the delivered artifacts are in input.json.\n")
	b.WriteString("- Judge only this criterion. Do not modify any files outside your run directory.\n")
	b.WriteString("- Answer with a single JSON object matching the output schema: passed, score in [0,1], message.\n")
	b.WriteString("- Put concrete findings (file paths, line numbers, quotes) into evidence.\n")
	if c.Description != "" {
		b.WriteString("\nCriterion: ")
		b.WriteString(c.Description)
		b.WriteString("\n")
	}
	if p.Instructions != "" {
		b.WriteString("\nReviewer instructions:\n")
		b.WriteString(p.Instructions)
		b.WriteString("\n")
	}
	return b.String()
}

// readVerdict prefers output.json in the run directory and falls back to stdout.
func readVerdict(runDir string, stdout []byte) (verdict, error) {
	if data, err := os.ReadFile(filepath.Join(runDir, "output.json")); err == nil {
		if v, err := parseVerdict(data); err == nil {
			return v, nil
		}
	}
	return parseVerdict(stdout)
}

func parseVerdict(data []byte) (verdict, error) {
	var v verdict
	if err := json.Unmarshal(data, &v); err != nil {
		recovered, ok := extractJSON(data)
		if !ok || json.Unmarshal(recovered, &v) != nil {
			return verdict{}, errors.New("agent answer is not valid JSON")
		}
	}
	if v.Passed == nil {
		return verdict{}, errors.New("agent answer has no passed field")
	}
	return v, nil
}

func extractJSON(data []byte) ([]byte, bool) {
	start := bytes.IndexByte(data, '{')
	end := bytes.LastIndexByte(data, '}')
	if start == -1 || end == -1 || start >= end {
		return nil, false
	}
	return data[start : end+1], true
}

type runnerInvoker struct {
	runner ainvoke.Runner
}

func (r runnerInvoker) Invoke(ctx context.Context, inv ainvoke.Invocation, stdout, stderr io.Writer) ([]byte, int, error) {
	out, _, code, err := r.runner.Run(ctx, inv, ainvoke.WithStdout(stdout), ainvoke.WithStderr(stderr))
	return out, code, err
}

const inputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["criterion", "specification", "artifacts"],
  "properties": {
    "criterion": { "type": "object" },
    "instructions": { "type": "string" },
    "specification": { "type": ["object", "null"] },
    "artifacts": { "type": ["object", "null"] }
  }
}`

const outputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["passed", "message"],
  "properties": {
    "passed": { "type": "boolean" },
    "score": { "type": "number", "minimum": 0, "maximum": 1 },
    "message": { "type": "string" },
    "evidence": { "type": "object" }
  }
}`
