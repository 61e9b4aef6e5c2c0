//go:build debugheaplog

package internal

import (
	"log/slog"
	"time"
)

// LogEnabled always reports true so every event reaches the print logger.
func LogEnabled(*slog.Logger, slog.Level) bool { return true }

// LogAttrs ignores the logger and prints the event with the runtime print
// builtins after reporting heap growth since the previous event.
func LogAttrs(_ *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	LogAllocs(msg)
	h, m, s := time.Now().Clock()
	print(h, ":", m, ":", s, " ", levelLabel(level), " ", msg)
	for _, a := range attrs {
		printAttr(a)
	}
	println()
	// Printing is not charged to the next caller.
	syncAllocs()
}

func levelLabel(level slog.Level) string {
	if level == LevelTrace {
		return "TRACE"
	}
	return level.String()
}

func printAttr(a slog.Attr) {
	v := a.Value.Resolve()
	print(" ", a.Key, "=")
	switch v.Kind() {
	case slog.KindGroup:
		print("{")
		for _, ga := range v.Group() {
			printAttr(ga)
		}
		print(" }")
	case slog.KindString:
		print(v.String())
	case slog.KindInt64:
		print(v.Int64())
	case slog.KindUint64:
		print(v.Uint64())
	case slog.KindBool:
		print(v.Bool())
	case slog.KindDuration:
		print(int64(v.Duration()), "ns")
	default:
		print("?")
	}
}
