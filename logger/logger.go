// Package logger provides the process-wide leveled logger used by the
// transport engine and the demo programs. It wraps zap with an atomic
// level so verbosity can be changed while transfers are running.
package logger

import (
	"os"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger atomic.Pointer[zap.SugaredLogger]
)

func init() {
	logger.Store(build("").Sugar())
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func build(logFile string) *zap.Logger {
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.Lock(os.Stderr),
		level,
	)
	core := consoleCore
	if logFile != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		})
		fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), fileWriter, level)
		core = zapcore.NewTee(consoleCore, fileCore)
	}
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Init reconfigures the logger. An empty logFile keeps output on stderr
// only; otherwise messages are also written to the rotating file.
func Init(levelStr, logFile string) {
	SetLevel(levelStr)
	logger.Store(build(logFile).Sugar())
}

// SetLevel adjusts verbosity without rebuilding the logger. Unknown
// level strings are ignored.
func SetLevel(levelStr string) {
	if levelStr == "" {
		return
	}
	if l, err := zapcore.ParseLevel(levelStr); err == nil {
		level.SetLevel(l)
	}
}

func Debugf(format string, args ...interface{}) {
	logger.Load().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	logger.Load().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger.Load().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Load().Errorf(format, args...)
}

func Sync() {
	_ = logger.Load().Sync()
}
