// Package logging builds the structured logger shared by every long-lived
// goroutine in the repeater: upstream clients, the broadcast server and its
// sessions, and the orchestrator.
package logging

import (
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger writing JSON to stdout. Debug mode lowers the
// level so the named debug-trace sites in the filter and upstream client
// (old-or-duplicate drops, reconnect attempts, non-data frames) are emitted.
func New(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "okx-repeater").
		Logger()
}

// RecoverPanic is deferred at the top of every goroutine that must outlive
// a single failed operation (upstream client loop, session lanes, accept
// loop). It logs and swallows the panic rather than taking the process down.
func RecoverPanic(logger zerolog.Logger, goroutine string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("goroutine", goroutine).
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("recovered panic")
	}
}
