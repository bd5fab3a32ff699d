// Package logging provides structured logging with zap.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.WarnLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, console
	OutputPath string `yaml:"output"` // stderr, stdout, or file path
}

// Init initializes the global logger.
func Init(cfg Config) error {
	logger, level, err := build(cfg)
	if err != nil {
		return err
	}

	globalLogger = logger
	globalLevel = level

	return nil
}

// build falls back to warn for an unknown level so command output stays clean.
func build(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	level := zapcore.WarnLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zapcore.WarnLevel
		}
	}

	var config zap.Config
	if cfg.Format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.DisableStacktrace = true
	}

	atom := zap.NewAtomicLevelAt(level)
	config.Level = atom

	out := cfg.OutputPath
	if out == "" {
		out = "stderr"
	}

	config.OutputPaths = []string{out}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))

	return logger, atom, err
}

// SetLevel changes the global log level at runtime. An unknown level is an
// error and leaves the level unchanged.
func SetLevel(level string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return err
	}

	globalLevel.SetLevel(l)

	return nil
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}

	return nil
}

// L returns the global logger, a no-op one before Init.
func L() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}

	return globalLogger
}
