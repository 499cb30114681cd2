// Package logging contains the loggers used by the calibration tools.
package logging

import (
	"context"
	"os"
	"sync"

	"github.com/edaniels/golog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logger passed to every long running component.
type Logger = golog.Logger

var (
	globalMu     sync.RWMutex
	globalLogger = NewDebugLogger("startup")
)

// ReplaceGlobal replaces the global logger.
func ReplaceGlobal(logger Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// Global returns the global logger.
func Global() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// NewLoggerConfig returns a new default logger config.
func NewLoggerConfig() zap.Config {
	// from https://github.com/uber-go/zap/blob/2314926ec34c23ee21f3dd4399438469668f8097/config.go#L135
	// but disable stacktraces, use same keys as prod, and color levels.
	return zap.Config{
		Level:             zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding:          "console",
		EncoderConfig:     newEncoderConfig(true),
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

func newEncoderConfig(color bool) zapcore.EncoderConfig {
	levelEncoder := zapcore.CapitalLevelEncoder
	if color {
		levelEncoder = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    levelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewLogger returns a new logger that outputs Info+ logs to stdout.
func NewLogger(name string) Logger {
	return newLogger(name, zap.InfoLevel)
}

// NewDebugLogger returns a new logger that outputs Debug+ logs to stdout.
func NewDebugLogger(name string) Logger {
	return newLogger(name, zap.DebugLevel)
}

func newLogger(name string, level zapcore.Level) Logger {
	cfg := NewLoggerConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		// the stock config only fails to build on unopenable output paths
		return zap.NewNop().Sugar()
	}
	return logger.Sugar().Named(name)
}

// FileConfig describes a rotating log file that receives a copy of every log line.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// NewFileLogger returns a logger that writes to stdout and additionally to a rotating file.
// The returned closer flushes and closes the file.
func NewFileLogger(name string, debug bool, file FileConfig) (Logger, func() error) {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	if file.MaxSizeMB == 0 {
		file.MaxSizeMB = 64
	}
	if file.MaxBackups == 0 {
		file.MaxBackups = 2
	}
	rotator := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		Compress:   true,
	}
	enabler := zap.NewAtomicLevelAt(level)
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(newEncoderConfig(true)), zapcore.Lock(os.Stdout), enabler),
		zapcore.NewCore(zapcore.NewJSONEncoder(newEncoderConfig(false)), zapcore.AddSync(rotator), enabler),
	)
	logger := zap.New(core, zap.AddCaller()).Sugar().Named(name)
	return logger, func() error {
		//nolint:errcheck
		logger.Sync()
		return rotator.Close()
	}
}

type debugLogKeyType int

const debugLogKeyID = debugLogKeyType(iota)

// EnableDebugMode returns a new context with debug logging state attached. Solvers check it
// to trace every iteration.
func EnableDebugMode(ctx context.Context) context.Context {
	return context.WithValue(ctx, debugLogKeyID, true)
}

// IsDebugMode returns whether the input context has debug logging enabled.
func IsDebugMode(ctx context.Context) bool {
	val, ok := ctx.Value(debugLogKeyID).(bool)
	return ok && val
}
