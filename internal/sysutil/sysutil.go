// Package sysutil holds process-level setup shared by the battled commands:
// the global zerolog configuration and small environment helpers.
package sysutil

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps a LOG_LEVEL value onto a zerolog level. Unknown and empty
// values fall back to info; "warning" is accepted for warn.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogOptions configures SetupLogging.
type LogOptions struct {
	Level   string
	Pretty  bool   // human-readable console output instead of JSON lines
	NoColor bool   // only meaningful with Pretty
	Service string // added as "service" on every line when set
	Version string
}

// SetupLogging installs the process-wide zerolog logger writing to out and
// returns it. Timestamps are RFC3339 with milliseconds and durations are
// logged in milliseconds, matching the access log.
func SetupLogging(out io.Writer, opt LogOptions) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(opt.Level))
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
	zerolog.DurationFieldUnit = time.Millisecond

	w := out
	if opt.Pretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: opt.NoColor}
	}

	ctx := zerolog.New(w).With().Timestamp()
	if opt.Service != "" {
		ctx = ctx.Str("service", opt.Service)
	}
	if opt.Version != "" {
		ctx = ctx.Str("version", opt.Version)
	}
	l := ctx.Logger()

	log.Logger = l
	zerolog.DefaultContextLogger = &log.Logger
	return l
}

// FirstNonEmpty returns the first value that is not blank, or "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
