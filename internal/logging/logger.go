package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log encoding.
type Format string

const (
	// FormatJSON emits structured production logs.
	FormatJSON Format = "json"
	// FormatConsole emits human-readable logs for interactive CLI use.
	FormatConsole Format = "console"
)

// ParseLevel maps debug|info|warn|error onto a zap level. Unknown values
// fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger returns a zap logger writing to stderr so command output on
// stdout stays machine-readable.
func NewLogger(level string, format Format) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format == FormatConsole {
		cfg.Encoding = string(FormatConsole)
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
