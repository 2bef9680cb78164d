// Package logger wraps zap with the sugar-logging shape the rest of the
// pipeline depends on: leveled, structured, safe to call from any stage's
// worker goroutines.
package logger

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the pipeline-wide logging handle.
type Logger struct {
	*zap.SugaredLogger
	atom zap.AtomicLevel
}

// New builds a production-profile Logger at the given level.
func New(level zapcore.Level) *Logger {
	atom := zap.NewAtomicLevelAt(level)

	cfg := zap.NewProductionConfig()
	cfg.Level = atom
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Logging must never prevent the pipeline from starting.
		z = zap.NewNop()
	}

	return &Logger{SugaredLogger: z.Sugar(), atom: atom}
}

// Nop returns a Logger that discards everything, for tests and defaults.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), atom: zap.NewAtomicLevelAt(zap.FatalLevel)}
}

// SetLevel adjusts the logger's level at runtime.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.atom.SetLevel(level)
}

// NewHTTPErrorLog adapts the Logger to the stdlib's *log.Logger shape
// required by http.Server.ErrorLog.
func NewHTTPErrorLog(l *Logger) *log.Logger {
	return zap.NewStdLog(l.Desugar())
}
