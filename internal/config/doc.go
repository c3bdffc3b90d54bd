// Package config loads runtime settings for the undo stack, its change
// bus, the logger and the Lua action runtime.
//
// Settings are layered, higher layers overriding lower:
//
//  1. Built-in defaults (Default)
//  2. A TOML file (LoadFile)
//  3. UNDOSTACK_* environment variables (ApplyEnv)
//
// Load applies all three and validates the result:
//
//	cfg, err := config.Load("undostack.toml")
//	if err != nil {
//	    return err
//	}
//
// A config file mirrors the Config struct:
//
//	[history]
//	max_entries = 200
//	action_timeout = "30s"
//
//	[events]
//	async_workers = 2
//
//	[logging]
//	level = "debug"
//
// The matching environment override for history.max_entries is
// UNDOSTACK_HISTORY_MAX_ENTRIES.
package config
