package transport

import (
	"log/slog"
	"sync"

	"github.com/soypat/cfdp/internal"
)

type logger struct {
	log *slog.Logger
}

func (l logger) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
func (l logger) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...)
}

// mailbox buffers messages received by a background reader until the engine
// polls them with Recv. It is safe for concurrent use.
type mailbox struct {
	mu      sync.Mutex
	q       []msgQueue
	in      []byte
	dropped int
}

func (m *mailbox) init(channels, mtu, queueLen int) {
	m.q = make([]msgQueue, channels)
	for i := range m.q {
		m.q[i] = newMsgQueue(queueLen, mtu)
	}
	m.in = make([]byte, mtu)
}

// put queues msg on ch. Messages for unknown channels or full queues are dropped.
func (m *mailbox) put(ch int, msg []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch < 0 || ch >= len(m.q) || !m.q[ch].push(msg) {
		m.dropped++
		return false
	}
	return true
}

// get returns the oldest message of ch or nil. The returned slice is valid until the next get.
func (m *mailbox) get(ch int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch < 0 || ch >= len(m.q) {
		return nil
	}
	n, ok := m.q[ch].pop(m.in)
	if !ok {
		return nil
	}
	return m.in[:n]
}

func (m *mailbox) droppedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
