package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name   string
	logger zerolog.Logger
	config interface{}
}

// levelSource is satisfied by *models.MConfig and anything embedding it.
type levelSource interface {
	GetLogLevel() string
}

var (
	outputMu sync.RWMutex
	output   io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006/01/02 15:04:05", NoColor: true}
)

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance
func NewLogger(config interface{}, name string) *Logger {
	if src, ok := config.(levelSource); ok && src.GetLogLevel() != "" {
		SetLevel(src.GetLogLevel())
	}

	outputMu.RLock()
	w := output
	outputMu.RUnlock()

	l := &Logger{
		name:   name,
		logger: zerolog.New(w).With().Timestamp().Str("component", name).Logger(),
		config: config,
	}
	return l
}

// -----------------------------------------------------------------------------

// SetOutput redirects loggers created afterwards.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}

// -----------------------------------------------------------------------------

// ParseLevel maps DEBUG / INFO / WARNING / ERROR / CRITICAL onto zerolog levels.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "INFO", "":
		return zerolog.InfoLevel, nil
	case "WARNING", "WARN":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	case "CRITICAL", "FATAL":
		return zerolog.FatalLevel, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("unknown log level '%s'", level)
}

// SetLevel sets the global level; unknown names fall back to INFO.
func SetLevel(level string) {
	lvl, _ := ParseLevel(level)
	zerolog.SetGlobalLevel(lvl)
}

// VerbosityLevel maps the -v flag onto a level name: 0 critical only,
// 1 warnings and errors, 2 info, 3 debug.
func VerbosityLevel(v int) string {
	switch {
	case v <= 0:
		return "CRITICAL"
	case v == 1:
		return "WARNING"
	case v == 2:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func SetVerbosity(v int) {
	SetLevel(VerbosityLevel(v))
}

// -----------------------------------------------------------------------------

// With returns a child logger carrying an extra field on every line.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		name:   l.name,
		logger: l.logger.With().Str(key, value).Logger(),
		config: l.config,
	}
}

// Name returns the component name
func (l *Logger) Name() string {
	return l.name
}

// -----------------------------------------------------------------------------

// Debug logs diagnostic messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.logger.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	os.Exit(1)
}
