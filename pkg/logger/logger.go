// Package logger is the process-wide structured logger. Plain messages go
// through Info/Warn/Error; audit-style events go through the *J variants,
// which emit one JSON line per event with the given fields.
package logger

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/xerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level and an optional rotating log file. An empty File
// logs to stdout.
type Config struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = build(zapcore.Lock(os.Stdout))
)

func encoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "sub",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

func build(ws zapcore.WriteSyncer) *zap.Logger {
	core := zapcore.NewCore(encoder(), ws, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Init replaces the global logger according to cfg.
func Init(cfg Config) error {
	if err := SetLevel(cfg.Level); err != nil {
		return err
	}
	ws := zapcore.Lock(os.Stdout)
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		backups := cfg.MaxBackups
		if backups <= 0 {
			backups = 3
		}
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: backups,
			MaxAge:     30,
		})
	}
	l := build(ws)
	mu.Lock()
	old := base
	base = l
	mu.Unlock()
	_ = old.Sync()
	return nil
}

// Use swaps the underlying zap logger; tests use it with zaptest/observer.
func Use(l *zap.Logger) {
	mu.Lock()
	base = l.WithOptions(zap.AddCallerSkip(1))
	mu.Unlock()
}

// SetLevel changes the level of the running logger.
func SetLevel(s string) error {
	var l zapcore.Level
	switch s {
	case "debug", "DEBUG":
		l = zapcore.DebugLevel
	case "info", "INFO", "":
		l = zapcore.InfoLevel
	case "warn", "WARN":
		l = zapcore.WarnLevel
	case "error", "ERROR":
		l = zapcore.ErrorLevel
	default:
		return xerrors.Errorf("level %s is not supported", s)
	}
	level.SetLevel(l)
	return nil
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func Debug(msg string) { get().Debug(msg) }
func Info(msg string)  { get().Info(msg) }
func Warn(msg string)  { get().Warn(msg) }
func Error(msg string) { get().Error(msg) }

// InfoJ logs a structured event; fields are emitted in key order.
func InfoJ(event string, fields map[string]any) { get().Info(event, toFields(fields)...) }

func WarnJ(event string, fields map[string]any)  { get().Warn(event, toFields(fields)...) }
func ErrorJ(event string, fields map[string]any) { get().Error(event, toFields(fields)...) }
func DebugJ(event string, fields map[string]any) { get().Debug(event, toFields(fields)...) }

// Sync flushes buffered output.
func Sync() error { return get().Sync() }

func toFields(m map[string]any) []zap.Field {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, m[k]))
	}
	return out
}
