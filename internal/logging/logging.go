// Package logging names the leveled loggers used across the chat client and relay.
package logging

import (
	"fmt"

	golog "github.com/ipfs/go-log/v2"
)

// Subsystem names.
const (
	Auth      = "chat/auth"
	Client    = "chat/client"
	Session   = "chat/session"
	Transport = "chat/transport"
	Relay     = "chat/relay"
)

// Logger returns the logger for a subsystem.
func Logger(subsystem string) *golog.ZapEventLogger {
	return golog.Logger(subsystem)
}

// SetLevel applies level ("debug", "info", "warn", "error") to every subsystem.
func SetLevel(level string) error {
	lvl, err := golog.LevelFromString(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	golog.SetAllLoggers(lvl)
	return nil
}
