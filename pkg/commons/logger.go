// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons holds the process-wide ambient concerns the rest of the
// runtime is built on: the logging facade every package takes at
// construction instead of a bare *zap.Logger.
package commons

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the facade every runtime package depends on. Keeping it an
// interface (rather than *zap.SugaredLogger directly) lets tests swap in a
// no-op or buffering implementation without pulling in zap.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})

	// Benchmark records how long a named stage took. Stages that care about
	// latency budgets (process init, tool dispatch, WS connect) call this
	// instead of hand-rolling their own timing log line.
	Benchmark(stage string, d time.Duration)

	// Sync flushes any buffered log entries. Call once, from the owner of
	// the logger, during shutdown.
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// LoggerOption configures NewApplicationLogger.
type LoggerOption func(*loggerConfig)

type loggerConfig struct {
	level      zapcore.Level
	rotateFile string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
}

// WithLevel sets the minimum log level. Defaults to Info.
func WithLevel(level zapcore.Level) LoggerOption {
	return func(c *loggerConfig) { c.level = level }
}

// WithRotatingFile adds a lumberjack-backed rotating file sink alongside the
// console sink. Useful for long-lived flows (telephony, always-on mic
// sessions) where stdout alone would lose history across process restarts.
func WithRotatingFile(path string, maxSizeMB, maxBackups, maxAgeDays int) LoggerOption {
	return func(c *loggerConfig) {
		c.rotateFile = path
		c.maxSizeMB = maxSizeMB
		c.maxBackups = maxBackups
		c.maxAgeDays = maxAgeDays
	}
}

// NewApplicationLogger builds the process-wide Logger. Named to match the
// constructor the rest of the codebase (and its tests) call by convention.
func NewApplicationLogger(opts ...LoggerOption) (Logger, error) {
	cfg := loggerConfig{
		level:      zapcore.InfoLevel,
		maxSizeMB:  100,
		maxBackups: 5,
		maxAgeDays: 14,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(zapcore.AddSync(os.Stdout)), cfg.level),
	}
	if cfg.rotateFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.rotateFile,
			MaxSize:    cfg.maxSizeMB,
			MaxBackups: cfg.maxBackups,
			MaxAge:     cfg.maxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), cfg.level))
	}

	core := zapcore.NewTee(cores...)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &zapLogger{s: base.Sugar()}, nil
}

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

func (l *zapLogger) Debugw(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) Benchmark(stage string, d time.Duration) {
	l.s.Infow("benchmark", "stage", stage, "duration_ms", d.Milliseconds())
}

func (l *zapLogger) Sync() error { return l.s.Sync() }
