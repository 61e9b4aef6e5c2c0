package internal

import (
	"log/slog"
	"runtime"
	"sync"
)

// LevelTrace is below debug and reserved for per-PDU events.
const LevelTrace slog.Level = slog.LevelDebug - 2

var (
	memstats    runtime.MemStats
	lastAllocs  uint64
	lastMallocs uint64
	allocmu     sync.Mutex
)

// LogAllocs prints msg with heap statistics if the heap grew since the last call.
// It uses the runtime print builtins so it does not allocate itself.
func LogAllocs(msg string) {
	allocmu.Lock()
	defer allocmu.Unlock()
	runtime.ReadMemStats(&memstats)
	if memstats.TotalAlloc == lastAllocs {
		return
	}
	print("[ALLOC] ", msg)
	print(" inc=", int64(memstats.TotalAlloc)-int64(lastAllocs))
	print(" n=", int64(memstats.Mallocs)-int64(lastMallocs))
	print(" heap=", memstats.HeapAlloc)
	print(" tot=", memstats.TotalAlloc)
	println()
	lastAllocs = memstats.TotalAlloc
	lastMallocs = memstats.Mallocs
}

// syncAllocs records the current heap counters without printing.
func syncAllocs() {
	allocmu.Lock()
	defer allocmu.Unlock()
	runtime.ReadMemStats(&memstats)
	lastAllocs = memstats.TotalAlloc
	lastMallocs = memstats.Mallocs
}
