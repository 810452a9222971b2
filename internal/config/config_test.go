package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"), true)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Database.Path != filepath.Join(Dir, "accord.db") {
		t.Fatalf("database.path = %q", cfg.Database.Path)
	}
	if cfg.Retention.KeepLast != 100 {
		t.Fatalf("retention.keep_last = %d, want 100", cfg.Retention.KeepLast)
	}
	if cfg.Validators["schema"].Type != "schema" {
		t.Fatalf("schema validator type = %q", cfg.Validators["schema"].Type)
	}
}

func TestLoad_MissingFileIsAnErrorWhenRequired(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "config.yaml"), false); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", `
orchestrator:
  concurrency: 4
  deadline: 2m
database:
  path: /tmp/accord-test.db
validators:
  lint:
    type: command
    cmd: [golangci-lint, run]
    expect: exit 0
    timeout: 90s
  a11y:
    type: command
    cmd: [axe, --exit]
    sandbox: [docker, run, --rm, axe-image]
    requires: [docker]
`)
	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Orchestrator.Concurrency != 4 {
		t.Fatalf("concurrency = %d, want 4", cfg.Orchestrator.Concurrency)
	}
	if cfg.Orchestrator.Deadline != 2*time.Minute {
		t.Fatalf("deadline = %s, want 2m", cfg.Orchestrator.Deadline)
	}
	lint := cfg.Validators["lint"]
	if lint.Timeout != 90*time.Second || lint.Expect != "exit 0" || len(lint.Cmd) != 2 {
		t.Fatalf("lint = %+v", lint)
	}
	if got := cfg.Validators["a11y"].Sandbox; len(got) != 4 || got[0] != "docker" {
		t.Fatalf("a11y sandbox = %v", got)
	}
	if _, ok := cfg.Validators["expr"]; !ok {
		t.Fatal("default validators must survive a config file")
	}
	if got := cfg.DBPath("/root"); got != "/tmp/accord-test.db" {
		t.Fatalf("DBPath = %q", got)
	}
}

func TestLoad_JSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{"retention": {"keep_last": 3, "keep_days": 7}}`)
	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Retention.KeepLast != 3 || cfg.Retention.KeepDays != 7 {
		t.Fatalf("retention = %+v", cfg.Retention)
	}
	if got := cfg.DBPath("/root"); got != filepath.Join("/root", Dir, "accord.db") {
		t.Fatalf("DBPath = %q", got)
	}
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown section", body: "budgets: {max_iterations: 3}\n", want: "budgets"},
		{name: "unknown validator type", body: "validators: {x: {type: browser}}\n", want: "type"},
		{name: "bad duration", body: "orchestrator: {deadline: soon}\n", want: "deadline"},
		{name: "command without cmd", body: "validators: {lint: {type: command}}\n", want: "validators.lint.cmd"},
		{name: "negative concurrency", body: "orchestrator: {concurrency: -1}\n", want: "concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, "config.yaml", tt.body), false)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("error %v is not ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
