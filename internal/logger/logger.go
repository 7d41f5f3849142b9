// Package logger is a thin printf-style facade over slog shared by every
// package in the service. Level and output can be swapped at runtime.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar slog.LevelVar
	mu       sync.RWMutex
	current  *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	current = build(os.Stdout)
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput redirects all subsequent log lines to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	current = build(w)
	mu.Unlock()
}

// SetLevel adjusts the minimum level. Unknown names fall back to info.
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func get() *slog.Logger {
	mu.RLock()
	l := current
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = build(os.Stdout)
	}
	return current
}

func Debugf(format string, v ...any) { get().Debug(fmt.Sprintf(format, v...)) }

func Infof(format string, v ...any) { get().Info(fmt.Sprintf(format, v...)) }

func Warnf(format string, v ...any) { get().Warn(fmt.Sprintf(format, v...)) }

func Errorf(format string, v ...any) { get().Error(fmt.Sprintf(format, v...)) }
