package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/undostack/internal/config"
)

const renameScript = `
name: rename
globals:
  title: draft
steps:
  - op: push
    name: retitle
    do: title = "final"
    undo: title = "draft"
    redo: title = "final"
  - op: undo
  - op: redo
  - op: redo
    expect_error: true
`

func TestParseScript(t *testing.T) {
	s, err := ParseScript([]byte(renameScript))
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}
	if s.Name != "rename" {
		t.Errorf("Name = %q, want rename", s.Name)
	}
	if len(s.Steps) != 4 {
		t.Fatalf("len(Steps) = %d, want 4", len(s.Steps))
	}
	if s.Steps[0].Op != OpPush || s.Steps[0].Name != "retitle" || s.Steps[0].Undo != `title = "draft"` {
		t.Errorf("Steps[0] = %+v", s.Steps[0])
	}
	if !s.Steps[3].ExpectError {
		t.Error("Steps[3].ExpectError = false")
	}
	if s.Globals["title"] != "draft" {
		t.Errorf("Globals[title] = %v, want draft", s.Globals["title"])
	}
}

func TestParseScriptInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{"bad yaml", "steps: [", ErrInvalidScript},
		{"unknown op", "steps:\n  - op: jump\n", ErrUnknownStep},
		{"push without name", "steps:\n  - op: push\n", ErrInvalidScript},
		{"lua without do", "steps:\n  - op: lua\n", ErrInvalidScript},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tt.yaml))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseScript() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte(renameScript), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	s, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	if len(s.Steps) != 4 {
		t.Errorf("len(Steps) = %d, want 4", len(s.Steps))
	}

	if _, err := LoadScript(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadScript() of missing file error = nil")
	}
}

func TestRunScript(t *testing.T) {
	app, out := newTestApp(t, config.Default())

	s, err := ParseScript([]byte(renameScript))
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}
	if err := app.RunScript(context.Background(), s); err != nil {
		t.Fatalf("RunScript() error = %v\n%s", err, out.String())
	}

	if got := app.Lua().Global("title"); got != "final" {
		t.Errorf("title = %v, want final", got)
	}

	want := []string{
		"session rename",
		"step 1: push retitle",
		"  push: undo=1 redo=0",
		"step 2: undo",
		"  undo: undo=0 redo=1",
		"step 3: redo",
		"  redo: undo=1 redo=0",
		"step 4: redo",
		"  expected error: nothing to redo",
		"done: undo=1 redo=0",
	}
	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("output lines = %d, want %d:\n%s", len(got), len(want), out.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i+1, got[i], want[i])
		}
	}
}

func TestRunScriptStopsOnFailure(t *testing.T) {
	app, _ := newTestApp(t, config.Default())

	s, err := ParseScript([]byte(`
steps:
  - op: lua
    do: x = 1
  - op: undo
  - op: lua
    do: x = 2
`))
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}

	err = app.RunScript(context.Background(), s)
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("RunScript() error = %v, want *StepError", err)
	}
	if stepErr.Index != 1 || stepErr.Op != OpUndo {
		t.Errorf("StepError = %+v, want index 1 undo", stepErr)
	}
	if got := app.Lua().Global("x"); got != int64(1) {
		t.Errorf("x = %v, want 1 (later steps should not run)", got)
	}
}

func TestRunScriptUnexpectedSuccess(t *testing.T) {
	app, _ := newTestApp(t, config.Default())

	s := &Script{Steps: []Step{{Op: OpLua, Do: "y = 1", ExpectError: true}}}
	err := app.RunScript(context.Background(), s)
	if !errors.Is(err, errUnexpectedSuccess) {
		t.Errorf("RunScript() error = %v, want errUnexpectedSuccess", err)
	}
}

func TestRunScriptFailedUndoDropsEntry(t *testing.T) {
	app, out := newTestApp(t, config.Default())

	s := &Script{Steps: []Step{
		{Op: OpPush, Name: "broken", Undo: `error("cannot undo")`},
		{Op: OpUndo, ExpectError: true},
		{Op: OpUndo, ExpectError: true},
	}}
	if err := app.RunScript(context.Background(), s); err != nil {
		t.Fatalf("RunScript() error = %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "nothing to undo") {
		t.Errorf("second undo should find an empty stack:\n%s", out.String())
	}
}

func TestRunScriptCancelledContext(t *testing.T) {
	app, _ := newTestApp(t, config.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Script{Steps: []Step{{Op: OpLua, Do: "z = 1"}}}
	if err := app.RunScript(ctx, s); !errors.Is(err, context.Canceled) {
		t.Errorf("RunScript() error = %v, want context.Canceled", err)
	}
}
