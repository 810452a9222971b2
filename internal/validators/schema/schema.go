// Package schema validates a structured artifact against a JSON schema.
package schema

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/metalagman/accord/internal/model"
	"github.com/metalagman/accord/internal/validator"
	"github.com/metalagman/accord/internal/validators"
	"github.com/xeipuuv/gojsonschema"
)

// Type is the config type of this validator.
const Type = "schema"

const maxReported = 50

// Options configures a schema validator.
type Options struct {
	Name    string
	Version string
	Timeout time.Duration
}

// params select the document and the schema. Exactly one document source and one schema
// source must be set.
type params struct {
	// Artifact is a dotted path into the artifacts.
	Artifact string `mapstructure:"artifact"`
	// File is a JSON document on disk, relative to the artifacts "root".
	File string `mapstructure:"file"`
	// Schema is an inline JSON schema.
	Schema map[string]any `mapstructure:"schema"`
	// SchemaRef is a dotted path into the contract specification.
	SchemaRef string `mapstructure:"schema_ref"`
}

type schemaValidator struct {
	validator.Base
	meta validator.Metadata
}

// New builds a schema validator.
func New(opts Options) validator.Validator {
	return &schemaValidator{meta: validator.Metadata{Name: opts.Name, Version: opts.Version, Timeout: opts.Timeout}}
}

func (v *schemaValidator) Metadata() validator.Metadata { return v.meta }

func (v *schemaValidator) Evaluate(_ context.Context, _ validator.Session, c model.AcceptanceCriterion, in validator.Input) (model.CriterionResult, error) {
	var p params
	if err := validators.DecodeParams(c, &p); err != nil {
		return model.CriterionResult{}, err
	}
	schemaLoader, err := schemaSource(p, in)
	if err != nil {
		return model.CriterionResult{}, err
	}
	docLoader, missing, err := documentSource(p, in)
	if err != nil {
		return model.CriterionResult{}, err
	}
	if missing != "" {
		return model.CriterionResult{
			Passed:  false,
			Message: missing,
		}, nil
	}

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return model.CriterionResult{}, fmt.Errorf("validate %s: %w", c.ID, err)
	}
	if result.Valid() {
		return model.CriterionResult{
			Passed:      true,
			ActualValue: 0,
			Score:       model.Score(1),
			Message:     "document conforms to schema",
		}, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)
	reported := errs
	if len(reported) > maxReported {
		reported = reported[:maxReported]
	}
	return model.CriterionResult{
		Passed:      false,
		ActualValue: len(errs),
		Score:       model.Score(0),
		Message:     fmt.Sprintf("document violates schema in %d place(s): %s", len(errs), errs[0]),
		Evidence:    map[string]any{"errors": reported},
	}, nil
}

func schemaSource(p params, in validator.Input) (gojsonschema.JSONLoader, error) {
	switch {
	case p.Schema != nil && p.SchemaRef != "":
		return nil, fmt.Errorf("set either schema or schema_ref, not both")
	case p.Schema != nil:
		return gojsonschema.NewGoLoader(p.Schema), nil
	case p.SchemaRef != "":
		s, ok := validator.Lookup(in.Specification, p.SchemaRef)
		if !ok {
			return nil, fmt.Errorf("specification has no schema at %q", p.SchemaRef)
		}
		return gojsonschema.NewGoLoader(s), nil
	default:
		return nil, fmt.Errorf("schema or schema_ref is required")
	}
}

// documentSource returns a loader, or a message when the artifact is absent so the
// criterion fails instead of erroring.
func documentSource(p params, in validator.Input) (gojsonschema.JSONLoader, string, error) {
	switch {
	case p.Artifact != "" && p.File != "":
		return nil, "", fmt.Errorf("set either artifact or file, not both")
	case p.Artifact != "":
		doc, ok := in.Artifact(p.Artifact)
		if !ok {
			return nil, fmt.Sprintf("artifact %q was not delivered", p.Artifact), nil
		}
		return gojsonschema.NewGoLoader(doc), "", nil
	case p.File != "":
		path := p.File
		if !filepath.IsAbs(path) {
			if root, ok := in.Artifact("root"); ok {
				if s, ok := root.(string); ok {
					path = filepath.Join(s, path)
				}
			}
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, "", fmt.Errorf("resolve %s: %w", p.File, err)
		}
		return gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs)), "", nil
	default:
		return nil, "", fmt.Errorf("artifact or file is required")
	}
}
