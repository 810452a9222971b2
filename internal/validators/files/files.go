// Package files checks that a delivered work tree contains, or lacks, given paths.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
	"github.com/metalagman/accord/internal/validators"
)

// Type is the config type of this validator.
const Type = "files"

// Options configures a files validator.
type Options struct {
	Name    string
	Version string
	Timeout time.Duration
	// Dir is the root used when neither the criterion nor the artifacts name one.
	Dir string
}

type params struct {
	Root         string   `mapstructure:"root"`
	MustExist    []string `mapstructure:"must_exist"`
	MustNotExist []string `mapstructure:"must_not_exist"`
}

type filesValidator struct {
	validator.Base
	meta validator.Metadata
	dir  string
}

// New builds a files validator.
func New(opts Options) validator.Validator {
	return &filesValidator{
		meta: validator.Metadata{Name: opts.Name, Version: opts.Version, Timeout: opts.Timeout},
		dir:  opts.Dir,
	}
}

func (v *filesValidator) Metadata() validator.Metadata { return v.meta }

func (v *filesValidator) Evaluate(ctx context.Context, _ validator.Session, c model.AcceptanceCriterion, in validator.Input) (model.CriterionResult, error) {
	var p params
	if err := validators.DecodeParams(c, &p); err != nil {
		return model.CriterionResult{}, err
	}
	total := len(p.MustExist) + len(p.MustNotExist)
	if total == 0 {
		return model.CriterionResult{}, fmt.Errorf("criterion %s: must_exist or must_not_exist is required", c.ID)
	}
	root, err := v.root(p, in)
	if err != nil {
		return model.CriterionResult{}, err
	}

	var missing, unexpected []string
	violations := 0
	for _, pattern := range p.MustExist {
		if err := ctx.Err(); err != nil {
			return model.CriterionResult{}, err
		}
		matches, err := match(root, pattern)
		if err != nil {
			return model.CriterionResult{}, err
		}
		if len(matches) == 0 {
			missing = append(missing, pattern)
			violations++
		}
	}
	for _, pattern := range p.MustNotExist {
		if err := ctx.Err(); err != nil {
			return model.CriterionResult{}, err
		}
		matches, err := match(root, pattern)
		if err != nil {
			return model.CriterionResult{}, err
		}
		if len(matches) > 0 {
			unexpected = append(unexpected, matches...)
			violations++
		}
	}
	sort.Strings(unexpected)

	res := model.CriterionResult{
		Passed:        violations == 0,
		ActualValue:   violations,
		ExpectedValue: 0,
		Score:         model.Score(float64(total-violations) / float64(total)),
		Evidence:      map[string]any{"root": root},
	}
	if len(missing) > 0 {
		res.Evidence["missing"] = missing
	}
	if len(unexpected) > 0 {
		res.Evidence["unexpected"] = unexpected
	}
	switch {
	case res.Passed:
		res.Message = fmt.Sprintf("all %d path constraint(s) satisfied", total)
	case len(missing) > 0 && len(unexpected) > 0:
		res.Message = fmt.Sprintf("missing %s; unexpected %s", strings.Join(missing, ", "), strings.Join(unexpected, ", "))
	case len(missing) > 0:
		res.Message = "missing " + strings.Join(missing, ", ")
	default:
		res.Message = "unexpected " + strings.Join(unexpected, ", ")
	}
	return res, nil
}

func (v *filesValidator) root(p params, in validator.Input) (string, error) {
	root := p.Root
	if root == "" {
		if r, ok := in.Artifact("root"); ok {
			s, ok := r.(string)
			if !ok {
				return "", fmt.Errorf("artifact root must be a path, got %T", r)
			}
			root = s
		}
	}
	if root == "" {
		root = v.dir
	}
	if root == "" {
		return "", errors.New("no root: set parameters.root or deliver artifacts.root")
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("root %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root %s is not a directory", root)
	}
	return root, nil
}

// match returns the paths under root matched by pattern, relative to root. Patterns
// without wildcards are checked with a plain stat.
func match(root, pattern string) ([]string, error) {
	if filepath.IsAbs(pattern) || strings.HasPrefix(filepath.Clean(pattern), "..") {
		return nil, fmt.Errorf("pattern %q escapes the root", pattern)
	}
	if !strings.ContainsAny(pattern, "*?[") {
		if _, err := os.Stat(filepath.Join(root, pattern)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("stat %s: %w", pattern, err)
		}
		return []string{pattern}, nil
	}
	matches, err := filepath.Glob(filepath.Join(root, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(root, m)
		if err != nil {
			return nil, fmt.Errorf("relative path %s: %w", m, err)
		}
		out = append(out, rel)
	}
	return out, nil
}
