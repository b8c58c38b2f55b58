// Package observability holds the process-wide CLI logger.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log formats accepted by InitCLILoggerWithOptions.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// CLILogger is the logger used by commands. It is a no-op until initialized.
var CLILogger = zap.NewNop()

var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// Options configure the CLI logger.
type Options struct {
	// Service is attached to every entry as the "service" field.
	Service string

	// Level is one of debug, info, warn, error. Default: info.
	Level string

	// Format is FormatConsole or FormatJSON. Default: console.
	Format string
}

// InitCLILogger initializes CLILogger at info level, or debug when verbose.
func InitCLILogger(service string, verbose bool) {
	lvl := "info"
	if verbose {
		lvl = "debug"
	}
	// The level is known-good so the error is unreachable.
	_ = InitCLILoggerWithOptions(Options{Service: service, Level: lvl})
}

// InitCLILoggerWithOptions initializes CLILogger from opts.
func InitCLILoggerWithOptions(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", FormatConsole:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return fmt.Errorf("unknown log format %q (want %s or %s)", opts.Format, FormatConsole, FormatJSON)
	}

	// Logs go to stderr so stdout stays clean for JSONL.
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	logger := zap.New(core)
	if opts.Service != "" {
		logger = logger.With(zap.String("service", opts.Service))
	}
	CLILogger = logger
	return nil
}

// SetLevel changes the level of CLILogger in place.
func SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// Sync flushes CLILogger.
func Sync() {
	_ = CLILogger.Sync()
}
