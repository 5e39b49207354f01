package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process logger. It discards everything until Init.
var Logger = zerolog.Nop()

// Level is a log level name as accepted on the command line
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool

	// Output defaults to stderr
	Output io.Writer
}

// ParseLevel returns the zerolog level for l. Unknown names map to info.
func ParseLevel(l Level) zerolog.Level {
	lvl, err := zerolog.ParseLevel(string(l))
	if err != nil || l == "" || lvl > zerolog.ErrorLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Init configures Logger
func Init(cfg Config) {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with the emitting manager
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithUnit returns a child logger tagged with the replica's unit name
func WithUnit(unit string) zerolog.Logger {
	return Logger.With().Str("component", "reconciler").Str("unit", unit).Logger()
}

// WithRelation returns a child logger tagged with a relation name
func WithRelation(relation string) zerolog.Logger {
	return Logger.With().Str("component", "relation").Str("relation", relation).Logger()
}
