// Package logging configures zerolog output for autoforge.
// Console output goes to stderr; an optional rotated file sink captures
// the full debug stream for post-mortem inspection.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options control logger construction.
type Options struct {
	// Level is the minimum level emitted: debug, info, warn, or error.
	Level string
	// File, when non-empty, enables a rotated file sink at that path.
	File string
	// Console emits human-readable console output instead of JSON.
	Console bool
}

// New builds a zerolog.Logger from the options. The file sink rotates at
// 20MB with 5 backups; rotation failures degrade to console-only output.
func New(opts Options) zerolog.Logger {
	var writers []io.Writer

	if opts.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		writers = append(writers, os.Stderr)
	}

	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    20,
			MaxBackups: 5,
			Compress:   true,
		})
	}

	var out io.Writer
	if len(writers) == 1 {
		out = writers[0]
	} else {
		out = zerolog.MultiLevelWriter(writers[0], writers[1])
	}

	return zerolog.New(out).Level(parseLevel(opts.Level)).With().Timestamp().Logger()
}

// Nop returns a disabled logger for tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
