package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, true)
	t.Cleanup(func() { InitWriter(&buf, false) })

	if !DebugEnabled() {
		t.Fatal("debug should be enabled")
	}
	logger := Component("verify")
	logger.Debug().Str("contract_id", "k1").Msg("verification started")

	out := buf.String()
	for _, want := range []string{"verification started", "component=", "verify", "contract_id=", "k1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q does not contain %q", out, want)
		}
	}
}
