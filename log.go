package main

import (
	"log"
	"time"
)

// logDate is the timestamp layout on every log line.
const logDate = `2006-01-02T15:04:05.000-07:00`

// logf writes one verbose-gated line tagged with its subsystem: SERVE
// for the HTTP edge, GAMES for the engine and its transport.
func logf(cfg *Config, subsystem, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	line := append([]any{time.Now().Format(logDate), subsystem}, args...)
	log.Printf("%s | %s: "+format, line...)
}

// subsystemLogger adapts logf to the plain printf signature the game
// engine accepts as an option, pinning the subsystem tag.
func subsystemLogger(cfg *Config, subsystem string) func(format string, args ...any) {
	return func(format string, args ...any) {
		logf(cfg, subsystem, format, args...)
	}
}
