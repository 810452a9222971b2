// Package command adapts any external tool (linters, scanners, browser drivers, load testers)
// to the validator contract: it runs a command and checks an expectation on its outcome.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
	"github.com/metalagman/accord/internal/validators"
)

// Type is the config type of this validator.
const Type = "command"

const (
	defaultExpect = "exit 0"
	maxEvidence   = 8 << 10
	waitDelay     = 5 * time.Second
)

// Options configures a command validator.
type Options struct {
	Name    string
	Version string
	Timeout time.Duration
	// Cmd is the argv; criterion "args" are appended to it.
	Cmd []string
	// Dir is the working directory. Empty means the artifacts "root", then the process cwd.
	Dir    string
	Expect string
	// Sandbox is prepended to the argv for tools that must not run on the host directly,
	// e.g. ["docker", "run", "--rm", "image"].
	Sandbox  []string
	Requires []string
	Network  bool
}

type params struct {
	Args   []string          `mapstructure:"args"`
	Expect string            `mapstructure:"expect"`
	Dir    string            `mapstructure:"dir"`
	Env    map[string]string `mapstructure:"env"`
}

// Validator runs one configured command per criterion.
type Validator struct {
	validator.Base
	opts Options
	meta validator.Metadata
}

// New builds a command validator.
func New(opts Options) (*Validator, error) {
	if len(opts.Cmd) == 0 {
		return nil, fmt.Errorf("%w: %s: cmd is required", validator.ErrInvalidMetadata, opts.Name)
	}
	if opts.Expect == "" {
		opts.Expect = defaultExpect
	}
	if _, err := parseExpectation(opts.Expect); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", validator.ErrInvalidMetadata, opts.Name, err)
	}
	argv := append(append([]string(nil), opts.Sandbox...), opts.Cmd...)
	requires := append([]string{argv[0]}, opts.Requires...)
	return &Validator{
		opts: opts,
		meta: validator.Metadata{
			Name:                opts.Name,
			Version:             opts.Version,
			Timeout:             opts.Timeout,
			RequiresNetwork:     opts.Network,
			RequiresSandboxing:  len(opts.Sandbox) > 0,
			RuntimeRequirements: requires,
		},
	}, nil
}

// Metadata implements validator.Validator.
func (v *Validator) Metadata() validator.Metadata { return v.meta }

// Evaluate implements validator.Validator.
func (v *Validator) Evaluate(ctx context.Context, _ validator.Session, c model.AcceptanceCriterion, in validator.Input) (model.CriterionResult, error) {
	var p params
	if err := validators.DecodeParams(c, &p); err != nil {
		return model.CriterionResult{}, err
	}
	expect := v.opts.Expect
	if s, ok := c.ExpectedValue.(string); ok && s != "" {
		expect = s
	}
	if p.Expect != "" {
		expect = p.Expect
	}
	check, err := parseExpectation(expect)
	if err != nil {
		return model.CriterionResult{}, err
	}

	argv := append(append(append([]string(nil), v.opts.Sandbox...), v.opts.Cmd...), p.Args...)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = v.workDir(p, in)
	cmd.WaitDelay = waitDelay
	if len(p.Env) > 0 {
		env := cmd.Environ()
		for k, val := range p.Env {
			env = append(env, k+"="+val)
		}
		cmd.Env = env
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	started := time.Now()
	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.CriterionResult{}, ctxErr
	}
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return model.CriterionResult{}, fmt.Errorf("run %s: %w", argv[0], runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	output := out.String()
	passed, msg := check(exitCode, output)
	return model.CriterionResult{
		Passed:        passed,
		ActualValue:   exitCode,
		ExpectedValue: expect,
		Message:       msg,
		Evidence: map[string]any{
			"command":     strings.Join(argv, " "),
			"exit_code":   exitCode,
			"output":      validators.Truncate(output, maxEvidence),
			"duration_ms": time.Since(started).Milliseconds(),
		},
	}, nil
}

func (v *Validator) workDir(p params, in validator.Input) string {
	if p.Dir != "" {
		return p.Dir
	}
	if v.opts.Dir != "" {
		return v.opts.Dir
	}
	if root, ok := in.Artifact("root"); ok {
		if s, ok := root.(string); ok {
			return s
		}
	}
	return ""
}

type expectation func(exitCode int, output string) (bool, string)

// parseExpectation understands "exit N", "output contains X" and "output matches RE"
// (the regexp may be wrapped in slashes).
func parseExpectation(expect string) (expectation, error) {
	expect = strings.TrimSpace(expect)
	switch {
	case strings.HasPrefix(expect, "exit "):
		var want int
		if _, err := fmt.Sscanf(expect, "exit %d", &want); err != nil {
			return nil, fmt.Errorf("bad expectation %q: %w", expect, err)
		}
		return func(code int, _ string) (bool, string) {
			if code == want {
				return true, fmt.Sprintf("exited with %d as expected", code)
			}
			return false, fmt.Sprintf("expected exit %d, got %d", want, code)
		}, nil
	case strings.HasPrefix(expect, "output contains "):
		sub := strings.TrimPrefix(expect, "output contains ")
		return func(_ int, out string) (bool, string) {
			if strings.Contains(out, sub) {
				return true, fmt.Sprintf("output contains %q", sub)
			}
			return false, fmt.Sprintf("output does not contain %q", sub)
		}, nil
	case strings.HasPrefix(expect, "output matches "):
		pattern := strings.TrimPrefix(expect, "output matches ")
		if len(pattern) >= 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
			pattern = pattern[1 : len(pattern)-1]
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad expectation %q: %w", expect, err)
		}
		return func(_ int, out string) (bool, string) {
			if re.MatchString(out) {
				return true, fmt.Sprintf("output matches %s", re)
			}
			return false, fmt.Sprintf("output does not match %s", re)
		}, nil
	default:
		return nil, fmt.Errorf("unknown expectation %q", expect)
	}
}
