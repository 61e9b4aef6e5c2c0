//go:build !debugheaplog

package internal

import (
	"context"
	"log/slog"
)

// LogEnabled reports whether l emits records at lvl. A nil logger emits nothing.
func LogEnabled(l *slog.Logger, lvl slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), lvl)
}

// LogAttrs is the single entry point of every package logger. Building with
// the debugheaplog tag replaces it with a print based logger that reports
// heap growth between events.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if LogEnabled(l, level) {
		l.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
