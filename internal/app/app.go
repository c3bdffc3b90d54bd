// Package app wires the undo stack to its ambient services: the change
// bus, the logger, the Lua action runtime and tracing. It also replays
// session scripts against the stack.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/undostack/internal/config"
	"github.com/dshills/undostack/internal/event"
	"github.com/dshills/undostack/internal/history"
	"github.com/dshills/undostack/internal/plugin/lua"
)

// Options configures the application.
type Options struct {
	// Output receives Lua print output and session reports.
	// Defaults to os.Stdout.
	Output io.Writer

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// TracerProvider overrides the global OpenTelemetry provider.
	TracerProvider trace.TracerProvider
}

// App owns one history stack and the services around it.
type App struct {
	cfg     config.Config
	stackID string

	logger *Logger
	bus    *event.Bus
	stack  *history.Stack
	lua    *lua.State

	outMu  sync.Mutex
	output io.Writer

	closed atomic.Bool
}

// New builds and starts an App from cfg.
func New(cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewComponentError("config", "validate", err)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	app := &App{
		cfg:     cfg,
		stackID: uuid.NewString(),
		output:  opts.Output,
	}

	app.logger = NewLogger(LoggerConfig{
		Level:  ParseLogLevel(cfg.Logging.Level),
		Output: opts.LogOutput,
		Prefix: cfg.Logging.Prefix,
	})

	// 1. Event bus
	busLog := app.logger.WithComponent("event")
	app.bus = event.NewBus(
		event.WithAsyncQueueSize(cfg.Events.AsyncQueueSize),
		event.WithAsyncWorkerCount(cfg.Events.AsyncWorkers),
		event.WithHandlerTimeout(cfg.Events.HandlerTimeout.Std()),
		event.WithErrorHandler(func(_ any, err error) {
			busLog.Warn("handler error: %v", err)
		}),
		event.WithPanicHandler(func(_ any, r any) {
			busLog.Error("handler panic: %v", r)
		}),
	)
	if err := app.bus.Start(); err != nil {
		return nil, NewComponentError("event bus", "start", err)
	}

	// 2. Lua runtime
	luaLog := app.logger.WithComponent("lua")
	state, err := lua.NewState(
		lua.WithExecutionTimeout(cfg.Lua.ExecutionTimeout.Std()),
		lua.WithCallStackSize(cfg.Lua.CallStackSize),
		lua.WithOutput(app.println),
		lua.WithErrorHandler(func(err error) {
			luaLog.Warn("%v", err)
		}),
	)
	if err != nil {
		_ = app.bus.Stop(context.Background())
		return nil, NewComponentError("lua", "init", err)
	}
	app.lua = state

	// 3. History stack
	stackOpts := []history.Option{
		history.WithMaxEntries(cfg.History.MaxEntries),
		history.WithActionTimeout(cfg.History.ActionTimeout.Std()),
		history.WithNotifier(NewBusNotifier(app.bus, app.stackID, busLog)),
		history.WithLogger(app.logger.WithComponent("history").WithField("stack", app.stackID)),
	}
	if opts.TracerProvider != nil {
		stackOpts = append(stackOpts, history.WithTracerProvider(opts.TracerProvider))
	}
	app.stack = history.NewStack(stackOpts...)

	// 4. Change log
	if _, err := SubscribeChangeLog(app.bus, app.logger.WithComponent("changes")); err != nil {
		_ = app.lua.Close()
		_ = app.bus.Stop(context.Background())
		return nil, NewComponentError("event bus", "subscribe", err)
	}

	app.logger.Debug("started stack=%s", app.stackID)
	return app, nil
}

// Config returns the configuration the App was built from.
func (app *App) Config() config.Config {
	return app.cfg
}

// StackID returns the identifier attached to this App's history events.
func (app *App) StackID() string {
	return app.stackID
}

// Stack returns the history stack.
func (app *App) Stack() *history.Stack {
	return app.stack
}

// Bus returns the change event bus.
func (app *App) Bus() *event.Bus {
	return app.bus
}

// Lua returns the Lua state used by scripted actions.
func (app *App) Lua() *lua.State {
	return app.lua
}

// Logger returns the application's root logger.
func (app *App) Logger() *Logger {
	return app.logger
}

// Shutdown closes the stack, cancelling any traversal in flight, then
// stops the bus and the Lua state concurrently. Queued async events are
// drained unless ctx ends first.
func (app *App) Shutdown(ctx context.Context) error {
	if !app.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := app.stack.Close(); err != nil {
		app.logger.Warn("close stack: %v", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := app.bus.Stop(ctx); err != nil {
			return NewComponentError("event bus", "stop", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := app.lua.Close(); err != nil {
			return NewComponentError("lua", "close", err)
		}
		return nil
	})
	err := g.Wait()

	app.logger.Debug("stopped stack=%s", app.stackID)
	return err
}

// println writes one line to the App output.
func (app *App) println(line string) {
	app.outMu.Lock()
	defer app.outMu.Unlock()
	_, _ = fmt.Fprintln(app.output, line)
}

// printf writes formatted text to the App output.
func (app *App) printf(format string, args ...any) {
	app.outMu.Lock()
	defer app.outMu.Unlock()
	_, _ = fmt.Fprintf(app.output, format, args...)
}
