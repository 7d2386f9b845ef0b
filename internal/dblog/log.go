// Package dblog provides the structured logger every dbcore subsystem
// is constructed with. Grounded on cuemby/warren's pkg/log: a switchable
// console/JSON zerolog writer plus a Component helper that attaches the
// component field; no helpers exist for other fields (txn_id, page_id, lsn).
package dblog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how New builds a logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// New builds a logger from cfg. Unlike the teacher's global `Logger`
// variable, dbcore threads the returned logger explicitly into every
// subsystem constructor (design note in spec §9: no package-global
// mutable state).
func New(cfg Config) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	base := zerolog.New(output).Level(level).With().Timestamp()
	if cfg.JSONOutput {
		return base.Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the owning subsystem.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Nop returns a logger that discards everything, for tests and
// constructors that don't care about log output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
