package logger

import (
	"log/slog"
	"os"
	"strings"
)

var (
	defaultLogger *slog.Logger
	levelVar      slog.LevelVar
)

// Init настраивает глобальный логгер; json=true для прода
func Init(level string, json bool) {
	levelVar.Set(parseLevel(level))
	opts := &slog.HandlerOptions{Level: &levelVar}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get возвращает глобальный логгер, инициализируя его при необходимости
func Get() *slog.Logger {
	if defaultLogger == nil {
		Init("info", false)
	}
	return defaultLogger
}

// With возвращает логгер с заданными атрибутами
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}

func Debug(msg string, args ...any) { Get().Debug(msg, args...) }
func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }

// Fatal логирует на уровне error и завершает процесс
func Fatal(msg string, args ...any) {
	Get().Error(msg, args...)
	os.Exit(1)
}
