package config

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalid is wrapped by every config validation failure.
var ErrInvalid = errors.New("invalid config")

//go:embed schema.json
var schemaJSON string

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
})

// ValidateSettings checks raw settings, as produced by viper, against the embedded schema.
// Violations are reported by field path in a stable order.
func ValidateSettings(settings map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(settings))
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	sort.Strings(violations)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(violations, "; "))
}
