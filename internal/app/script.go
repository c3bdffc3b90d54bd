package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dshills/undostack/internal/event"
	"github.com/dshills/undostack/internal/event/events"
	"github.com/dshills/undostack/internal/plugin/lua"
)

// Step ops.
const (
	OpPush  = "push"
	OpUndo  = "undo"
	OpRedo  = "redo"
	OpClear = "clear"
	OpLua   = "lua"
)

// errUnexpectedSuccess is reported for a step marked expect_error that
// succeeded.
var errUnexpectedSuccess = errors.New("expected an error")

// Script is a session replayed against the stack.
//
//	name: rename
//	globals:
//	  title: draft
//	steps:
//	  - op: push
//	    name: retitle
//	    do: title = "final"
//	    undo: title = "draft"
//	    redo: title = "final"
//	  - op: undo
//	  - op: redo
type Script struct {
	Name    string         `yaml:"name"`
	Globals map[string]any `yaml:"globals"`
	Steps   []Step         `yaml:"steps"`
}

// Step is one operation in a Script.
type Step struct {
	// Op is push, undo, redo, clear or lua.
	Op string `yaml:"op"`

	// Name labels the pushed entry.
	Name string `yaml:"name"`

	// Do is Lua run once before a push, or the body of a lua step.
	Do string `yaml:"do"`

	// Undo and Redo are the Lua chunks of a pushed entry.
	Undo string `yaml:"undo"`
	Redo string `yaml:"redo"`

	// ExpectError makes a failing step pass and a passing step fail.
	ExpectError bool `yaml:"expect_error"`
}

// ParseScript decodes and validates a YAML session script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScript reads a YAML session script from path.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %s: %w", path, err)
	}
	return ParseScript(data)
}

// Validate checks every step's op and required fields.
func (s *Script) Validate() error {
	var errs []error
	for i, step := range s.Steps {
		var err error
		switch step.Op {
		case OpPush:
			if step.Name == "" {
				err = errors.New("push needs a name")
			}
		case OpLua:
			if step.Do == "" {
				err = errors.New("lua needs a do chunk")
			}
		case OpUndo, OpRedo, OpClear:
		default:
			err = ErrUnknownStep
		}
		if err != nil {
			errs = append(errs, &StepError{Index: i, Op: step.Op, Name: step.Name, Err: err})
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidScript, errors.Join(errs...))
	}
	return nil
}

// RunScript replays s against the App's stack, printing each step and
// every history change. It stops at the first step whose outcome does
// not match its expect_error flag.
func (app *App) RunScript(ctx context.Context, s *Script) error {
	if app.closed.Load() {
		return ErrClosed
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := app.lua.SetGlobals(s.Globals); err != nil {
		return NewComponentError("lua", "set globals", err)
	}

	sub, err := app.bus.Subscribe(events.TopicHistoryChanged.Child("*"),
		event.AsHandler(func(_ context.Context, e event.Event[events.HistoryChanged]) error {
			if e.Payload.StackID == app.stackID {
				app.printf("  %s: undo=%d redo=%d\n", e.Payload.Kind, e.Payload.UndoCount, e.Payload.RedoCount)
			}
			return nil
		}))
	if err != nil {
		return NewComponentError("event bus", "subscribe", err)
	}
	defer func() { _ = app.bus.Unsubscribe(sub) }()

	if s.Name != "" {
		app.printf("session %s\n", s.Name)
	}
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		label := step.Op
		if step.Name != "" {
			label += " " + step.Name
		}
		app.printf("step %d: %s\n", i+1, label)

		err := app.runStep(ctx, step)
		switch {
		case err != nil && step.ExpectError:
			app.printf("  expected error: %v\n", err)
		case err != nil:
			return &StepError{Index: i, Op: step.Op, Name: step.Name, Err: err}
		case step.ExpectError:
			return &StepError{Index: i, Op: step.Op, Name: step.Name, Err: errUnexpectedSuccess}
		}
	}

	app.printf("done: undo=%d redo=%d\n", app.stack.UndoCount(), app.stack.RedoCount())
	return nil
}

func (app *App) runStep(ctx context.Context, step Step) error {
	switch step.Op {
	case OpPush:
		entry, err := lua.NewEntry(app.lua, step.Name, step.Undo, step.Redo)
		if err != nil {
			return err
		}
		if step.Do != "" {
			if err := app.lua.DoString(ctx, step.Do); err != nil {
				return err
			}
		}
		return app.stack.Push(entry)
	case OpUndo:
		return app.stack.Undo(ctx)
	case OpRedo:
		return app.stack.Redo(ctx)
	case OpClear:
		return app.stack.Clear()
	case OpLua:
		return app.lua.DoString(ctx, step.Do)
	default:
		return ErrUnknownStep
	}
}
