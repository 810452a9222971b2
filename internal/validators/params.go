// Package validators holds the built-in validators and the helpers they share.
package validators

import (
	"fmt"
	"unicode/utf8"

	"github.com/go-viper/mapstructure/v2"
	"github.com/metalagman/accord/internal/model"
)

// DecodeParams decodes a criterion's parameters into out, which must be a pointer to a struct
// with mapstructure tags. Unknown keys are rejected so typos surface as errors.
func DecodeParams(c model.AcceptanceCriterion, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build parameter decoder: %w", err)
	}
	if err := dec.Decode(c.Parameters); err != nil {
		return fmt.Errorf("criterion %s parameters: %w", c.ID, err)
	}
	return nil
}

// Truncate keeps roughly the last max bytes of s for evidence fields, never splitting a rune.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}
