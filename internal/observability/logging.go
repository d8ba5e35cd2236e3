package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logLevels = map[string]zerolog.Level{
	"trace":    zerolog.TraceLevel,
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"":         zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"off":      zerolog.Disabled,
	"disabled": zerolog.Disabled,
}

// ParseLogLevel maps a level name to zerolog. Unknown names mean info.
func ParseLogLevel(s string) zerolog.Level {
	if l, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// SetupLogging applies the process-wide level. Loggers from NewLogger
// carry no level of their own and follow it.
func SetupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLogLevel(level))
}

// NewLogger returns a JSON logger on stdout tagged with component.
func NewLogger(component string) zerolog.Logger {
	return componentLogger(zerolog.New(os.Stdout), component)
}

// NewLoggerTo writes to w at a fixed level.
func NewLoggerTo(w io.Writer, component, level string) zerolog.Logger {
	return componentLogger(zerolog.New(w).Level(ParseLogLevel(level)), component)
}

func componentLogger(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Timestamp().Str("component", component).Logger()
}
