package tools

import (
	"io"
	"os"
	"time"

	"github.com/rectcircle/tinytun/internal/variable"
	"github.com/rs/zerolog"
)

// Logger - the process wide logger, components derive children from it
var Logger = NewLogger(os.Stderr, false).Level(zerolog.InfoLevel)

// NewLogger - console logger on w, or plain JSON lines when json is set
func NewLogger(w io.Writer, json bool) zerolog.Logger {
	if !json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetupLogger - configure Logger from command line switches
func SetupLogger(verbose bool, trace bool, json bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if trace {
		level = zerolog.TraceLevel
		variable.EnableTraceLog = true
	}
	Logger = NewLogger(os.Stderr, json).Level(level)
}

// TraceF - log a formatted trace line when trace logging is enabled
func TraceF(format string, v ...interface{}) {
	if !variable.EnableTraceLog {
		return
	}
	Logger.Trace().Msgf(format, v...)
}
