// Package logging wraps zerolog for the CLI and the library packages.
//
// Console output is the default. JSON lines are available for scripted
// runs (--log-format json or MEGADL_LOG_FORMAT=json).
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Format selects how log lines are rendered.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseFormat accepts "console", "json" or "" (console).
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatConsole:
		return FormatConsole, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown log format %q (want console or json)", s)
}

// Logger is a thin handle over a zerolog.Logger.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger creates a console logger writing to w. Colors are used only
// when w is a terminal.
func NewLogger(w io.Writer) *Logger {
	return New(w, FormatConsole)
}

// New creates a logger writing to w in the given format.
func New(w io.Writer, format Format) *Logger {
	if format == FormatJSON {
		return &Logger{zlog: zerolog.New(w).With().Timestamp().Logger()}
	}
	cw := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    !isTerminal(w),
	}
	return &Logger{zlog: zerolog.New(cw).With().Timestamp().Logger()}
}

// NewDefaultCLILogger logs to stdout; stderr is reserved for progress bars.
// MEGADL_LOG_FORMAT=json switches to JSON lines.
func NewDefaultCLILogger() *Logger {
	format, err := ParseFormat(os.Getenv("MEGADL_LOG_FORMAT"))
	if err != nil {
		format = FormatConsole
	}
	return New(os.Stdout, format)
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (l *Logger) Trace() *zerolog.Event { return l.zlog.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// WithFileID returns a child logger tagged with a Mega file id.
func (l *Logger) WithFileID(id string) *Logger {
	return l.WithField("file_id", id)
}

// WithField returns a child logger carrying key=value on every line.
func (l *Logger) WithField(key, value string) *Logger {
	return &Logger{zlog: l.zlog.With().Str(key, value).Logger()}
}

// LevelFor maps the CLI verbosity flags to a level: --debug shows trace
// output (every HTTP attempt), --verbose shows debug output.
func LevelFor(verbose, debug bool) zerolog.Level {
	switch {
	case debug:
		return zerolog.TraceLevel
	case verbose:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetAsGlobal makes l the package-level zerolog logger used by code
// that logs through github.com/rs/zerolog/log.
func (l *Logger) SetAsGlobal() {
	log.Logger = l.zlog
}

// SetGlobalLevel sets the minimum level for every logger.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
