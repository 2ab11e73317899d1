package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

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

func init() {
	// Usable before Init is called, e.g. by package-level tests that open
	// a Database without an explicit logging setup.
	Init(Config{Level: InfoLevel, JSONOutput: false})
}

// WithComponent creates a child logger tagged with a component name
// ("substrate", "wal", "snapshot", "recovery", "compaction", "eventlog",
// "vectorstore", "runindex", "bundle", ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRun returns a copy of logger tagged with a run id.
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithTxn returns a copy of logger tagged with a committed transaction
// version.
func WithTxn(logger zerolog.Logger, txnVersion uint64) zerolog.Logger {
	return logger.With().Uint64("txn", txnVersion).Logger()
}

// WithSegment returns a copy of logger tagged with a WAL segment number.
func WithSegment(logger zerolog.Logger, segment uint32) zerolog.Logger {
	return logger.With().Uint32("segment", segment).Logger()
}

// WithCollection returns a copy of logger tagged with a vector collection
// name.
func WithCollection(logger zerolog.Logger, collection string) zerolog.Logger {
	return logger.With().Str("collection", collection).Logger()
}

// Helper functions for common logging patterns
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
