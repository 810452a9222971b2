package contract

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/metalagman/accord/internal/model"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var documentSchema string

type document struct {
	ID            string           `yaml:"id"`
	Specification map[string]any   `yaml:"specification"`
	Criteria      []criterionEntry `yaml:"criteria"`
}

type criterionEntry struct {
	ID            string         `yaml:"id"`
	Validator     string         `yaml:"validator"`
	Description   string         `yaml:"description"`
	Parameters    map[string]any `yaml:"parameters"`
	Critical      *bool          `yaml:"critical"`
	Threshold     any            `yaml:"threshold"`
	ExpectedValue any            `yaml:"expected_value"`
}

// Load reads a YAML or JSON contract document from path and returns it as a PROPOSED contract.
func Load(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a contract document. JSON is accepted as a subset of YAML.
// Criteria that omit "critical" are critical.
func Parse(data []byte) (*Contract, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}
	if err := validateDocument(raw); err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	criteria := make([]model.AcceptanceCriterion, 0, len(doc.Criteria))
	for _, e := range doc.Criteria {
		critical := true
		if e.Critical != nil {
			critical = *e.Critical
		}
		criteria = append(criteria, model.AcceptanceCriterion{
			ID:            e.ID,
			Validator:     e.Validator,
			Description:   e.Description,
			Parameters:    e.Parameters,
			Critical:      critical,
			Threshold:     e.Threshold,
			ExpectedValue: e.ExpectedValue,
		})
	}
	return New(doc.ID, doc.Specification, criteria)
}

func validateDocument(raw map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if result.Valid() {
		return nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)
	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(errs, "; "))
}
