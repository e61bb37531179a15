// Package util carries helpers shared across the HTTP service: logger
// construction and environment-to-config key mapping.
package util

import (
	"os"
	"time"

	prettyconsole "github.com/thessem/zap-prettyconsole"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// shortTimeEncoder trims console timestamps to HH:MM:SS; the json
// encoder keeps full ISO-8601 for log aggregation.
func shortTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05"))
}

// zapLevel maps the service's log_level value to a zap level. Unknown
// or empty values keep everything visible.
func zapLevel(level string) zapcore.Level {
	switch level {
	case "error":
		return zap.ErrorLevel
	case "warn":
		return zap.WarnLevel
	case "info":
		return zap.InfoLevel
	default:
		return zap.DebugLevel
	}
}

// NewLogger builds the service logger. json selects the structured
// production encoder; otherwise the human-readable console encoder is
// used. level is the configured log_level value.
func NewLogger(json bool, level string) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var core zapcore.Core

	if json {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(econf), os.Stdout, zapLevel(level))
	} else {
		pcfg := prettyconsole.NewEncoderConfig()
		pcfg.EncodeTime = shortTimeEncoder
		core = zapcore.NewCore(prettyconsole.NewEncoder(pcfg), os.Stdout, zapLevel(level))
	}
	return zap.New(core)
}
