package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. It defaults to an unbuffered
// stderr writer so packages that log before Init is called (tests,
// early startup) don't panic on a zero-value Logger.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Level represents log level
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
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// fields is an ordered set of key/value string pairs applied to the
// global Logger's context. Every With* helper below is a thin name for
// a particular field combination, so call sites read as what they tag
// rather than as a chain of generic Str() calls.
type fields [][2]string

func (f fields) logger() zerolog.Logger {
	ctx := Logger.With()
	for _, kv := range f {
		ctx = ctx.Str(kv[0], kv[1])
	}
	return ctx.Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return fields{{"component", component}}.logger()
}

// WithService creates a child logger with service_name field
func WithService(serviceName string) zerolog.Logger {
	return fields{{"service_name", serviceName}}.logger()
}

// WithInstance creates a child logger with instance_id field
func WithInstance(instanceID string) zerolog.Logger {
	return fields{{"instance_id", instanceID}}.logger()
}

// WithGroup creates a child logger with group_id field
func WithGroup(groupID string) zerolog.Logger {
	return fields{{"group_id", groupID}}.logger()
}

// WithTrace creates a child logger with trace_id field
func WithTrace(traceID string) zerolog.Logger {
	return fields{{"trace_id", traceID}}.logger()
}

// WithServiceInstance creates a child logger tagged with both
// service_name and instance_id, for runtime and registry call sites
// that need both fields on every line.
func WithServiceInstance(serviceName, instanceID string) zerolog.Logger {
	return fields{{"service_name", serviceName}, {"instance_id", instanceID}}.logger()
}

// WithServiceGroup creates a child logger tagged with both
// service_name and group_id, for election call sites.
func WithServiceGroup(serviceName, groupID string) zerolog.Logger {
	return fields{{"service_name", serviceName}, {"group_id", groupID}}.logger()
}

func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
