package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is prepended to every environment variable read by ApplyEnv.
const EnvPrefix = "UNDOSTACK_"

// Duration is a time.Duration that reads from strings such as "250ms" in
// both TOML files and environment variables.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete runtime configuration.
type Config struct {
	History HistoryConfig `toml:"history" envPrefix:"HISTORY_"`
	Events  EventsConfig  `toml:"events"  envPrefix:"EVENTS_"`
	Logging LoggingConfig `toml:"logging" envPrefix:"LOGGING_"`
	Lua     LuaConfig     `toml:"lua"     envPrefix:"LUA_"`
}

// HistoryConfig configures the undo/redo stack.
type HistoryConfig struct {
	// MaxEntries caps the undo list; zero means unlimited.
	MaxEntries int `toml:"max_entries" env:"MAX_ENTRIES"`
	// ActionTimeout bounds a single undo or redo; zero disables it.
	ActionTimeout Duration `toml:"action_timeout" env:"ACTION_TIMEOUT"`
}

// EventsConfig configures the change notification bus.
type EventsConfig struct {
	AsyncQueueSize int      `toml:"async_queue_size" env:"ASYNC_QUEUE_SIZE"`
	AsyncWorkers   int      `toml:"async_workers"    env:"ASYNC_WORKERS"`
	HandlerTimeout Duration `toml:"handler_timeout"  env:"HANDLER_TIMEOUT"`
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error or none.
	Level  string `toml:"level"  env:"LEVEL"`
	Prefix string `toml:"prefix" env:"PREFIX"`
}

// LuaConfig configures the Lua action runtime.
type LuaConfig struct {
	// CallStackSize caps the Lua call stack depth.
	CallStackSize int `toml:"call_stack_size" env:"CALL_STACK_SIZE"`
	// ExecutionTimeout bounds one Lua action; zero disables it.
	ExecutionTimeout Duration `toml:"execution_timeout" env:"EXECUTION_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		History: HistoryConfig{
			MaxEntries: 1000,
		},
		Events: EventsConfig{
			AsyncQueueSize: 1024,
			AsyncWorkers:   4,
			HandlerTimeout: Duration(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Prefix: "undostack",
		},
		Lua: LuaConfig{
			CallStackSize:    256,
			ExecutionTimeout: Duration(5 * time.Second),
		},
	}
}

// LoadFile reads TOML from path over the defaults. A missing file is not
// an error.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		perr := &ParseError{Path: path, Message: err.Error(), Err: err}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			perr.Line, perr.Column = decodeErr.Position()
		}
		return cfg, perr
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with UNDOSTACK_* environment variables. Unset
// variables leave the current value in place.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns defaults overlaid with the file at path and then the
// environment, validated.
func Load(path string) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validLevels = []string{"debug", "info", "warn", "error", "none"}

// Validate checks every setting and returns all failures joined.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, path, msg string, value any) {
		if !ok {
			errs = append(errs, &ValidationError{Path: path, Message: msg, Value: value})
		}
	}

	check(c.History.MaxEntries >= 0, "history.max_entries", "must not be negative", c.History.MaxEntries)
	check(c.History.ActionTimeout >= 0, "history.action_timeout", "must not be negative", c.History.ActionTimeout.Std())
	check(c.Events.AsyncQueueSize > 0, "events.async_queue_size", "must be positive", c.Events.AsyncQueueSize)
	check(c.Events.AsyncWorkers > 0, "events.async_workers", "must be positive", c.Events.AsyncWorkers)
	check(c.Events.HandlerTimeout >= 0, "events.handler_timeout", "must not be negative", c.Events.HandlerTimeout.Std())
	check(validLevel(c.Logging.Level), "logging.level", "must be one of "+strings.Join(validLevels, ", "), c.Logging.Level)
	check(c.Lua.CallStackSize > 0, "lua.call_stack_size", "must be positive", c.Lua.CallStackSize)
	check(c.Lua.ExecutionTimeout >= 0, "lua.execution_timeout", "must not be negative", c.Lua.ExecutionTimeout.Std())

	return errors.Join(errs...)
}

func validLevel(level string) bool {
	for _, l := range validLevels {
		if strings.EqualFold(level, l) {
			return true
		}
	}
	return false
}
