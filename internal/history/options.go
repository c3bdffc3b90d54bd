package history

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dshills/undostack/internal/history"

// Logger is the logging surface the stack needs. *app.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}

// Option configures a Stack.
type Option func(*Stack)

// WithMaxEntries caps the undo list. When a push or redo grows the list past
// max, the oldest entries are evicted. Zero or a negative value means no cap.
func WithMaxEntries(max int) Option {
	return func(s *Stack) {
		if max < 0 {
			max = 0
		}
		s.maxEntries = max
	}
}

// WithActionTimeout bounds every traversal. A traversal that runs longer is
// cancelled. Zero disables the timeout.
func WithActionTimeout(d time.Duration) Option {
	return func(s *Stack) {
		s.actionTimeout = d
	}
}

// WithNotifier sets the change notification hook.
func WithNotifier(n Notifier) Option {
	return func(s *Stack) {
		s.notifier = n
	}
}

// WithLogger sets the debug logger.
func WithLogger(l Logger) Option {
	return func(s *Stack) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracerProvider sets the provider used for traversal spans.
// By default the global otel provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Stack) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
