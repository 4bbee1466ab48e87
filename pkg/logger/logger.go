// Package logger builds the zap logger shared by the PicoDB CLI and the
// storage core. Logs always go to stderr so that command output on
// stdout stays clean for scripting.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger at the given minimum level ("debug", "info",
// "warn", "error"; anything unparseable falls back to info). Format
// "json" emits structured lines for log shippers; any other value gets
// the human-readable console encoder, the right default for an embedded
// engine driven from a terminal.
func New(level, format string) *zap.Logger {
	atomicLevel := zap.NewAtomicLevel()
	if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
		atomicLevel.SetLevel(zap.InfoLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(format) == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atomicLevel)
	return zap.New(core,
		zap.AddCaller(),
		zap.Fields(zap.String("service", "picodb")),
	)
}
