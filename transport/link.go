// Package transport implements message transports for the CFDP engine: an
// in-memory link for tests and loopback operation, UDP datagrams and a KISS
// framed serial line.
package transport

import (
	"errors"
	"sync"

	"github.com/soypat/cfdp/internal"
)

var (
	errMsgTooLarge     = errors.New("transport: message exceeds MTU")
	errQueueFull       = errors.New("transport: peer queue full")
	errInvalidChannel  = errors.New("transport: invalid channel")
	errClosed          = errors.New("transport: closed")
	errBadLinkSettings = errors.New("transport: channels, MTU and queue length must be positive")
)

// Link is one end of an in-memory message link between two engines.
// It is safe for concurrent use.
type Link struct {
	mu    sync.Mutex
	peer  *Link
	mtu   int
	inbox []msgQueue
	out   []byte
	in    []byte
	rng   internal.Prand32
	// lossPerMille is the probability of dropping a sent message, in thousandths.
	lossPerMille uint32
	drop         func(ch int, msg []byte) bool
	sent         int
	dropped      int
}

// NewLinkPair returns both ends of a link carrying channels independent message
// channels of at most mtu bytes, each buffering up to queueLen messages.
func NewLinkPair(channels, mtu, queueLen int) (a, b *Link, err error) {
	if channels <= 0 || mtu <= 0 || queueLen <= 0 {
		return nil, nil, errBadLinkSettings
	}
	a = newLink(channels, mtu, queueLen, 1)
	b = newLink(channels, mtu, queueLen, 2)
	a.peer = b
	b.peer = a
	return a, b, nil
}

func newLink(channels, mtu, queueLen int, seed uint32) *Link {
	l := &Link{
		mtu:   mtu,
		inbox: make([]msgQueue, channels),
		out:   make([]byte, mtu),
		in:    make([]byte, mtu),
		rng:   internal.NewPrand32(seed),
	}
	for i := range l.inbox {
		l.inbox[i] = newMsgQueue(queueLen, mtu)
	}
	return l
}

// SetLoss sets the probability in thousandths that a message sent from this end is
// lost, using a deterministic pseudo random sequence seeded with seed.
func (l *Link) SetLoss(perMille, seed uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lossPerMille = perMille
	l.rng = internal.NewPrand32(seed)
}

// SetDrop sets a function called for every message sent from this end.
// Messages for which it returns true are lost. A nil fn disables it.
func (l *Link) SetDrop(fn func(ch int, msg []byte) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drop = fn
}

// Stats returns the amount of messages sent from and dropped at this end.
func (l *Link) Stats() (sent, dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent, l.dropped
}

// Recv returns the next message sent by the peer on channel ch or nil. The
// returned buffer is valid until the next call to Recv.
func (l *Link) Recv(ch int) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch < 0 || ch >= len(l.inbox) {
		return nil
	}
	n, ok := l.inbox[ch].pop(l.in)
	if !ok {
		return nil
	}
	return l.in[:n]
}

// Buffer returns an outbound buffer of MTU size or nil if the peer's queue for ch is full.
func (l *Link) Buffer(ch int) []byte {
	if ch < 0 || ch >= len(l.inbox) || l.peer.inboxFull(ch) {
		return nil
	}
	return l.out
}

// Send delivers a copy of msg to the peer's queue for channel ch.
func (l *Link) Send(ch int, msg []byte) error {
	if ch < 0 || ch >= len(l.inbox) {
		return errInvalidChannel
	} else if len(msg) > l.mtu {
		return errMsgTooLarge
	}
	l.mu.Lock()
	l.sent++
	lost := (l.drop != nil && l.drop(ch, msg)) || (l.lossPerMille > 0 && l.rng.Chance(l.lossPerMille))
	if lost {
		l.dropped++
	}
	l.mu.Unlock()
	if lost {
		return nil
	}
	return l.peer.deliver(ch, msg)
}

func (l *Link) deliver(ch int, msg []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inbox[ch].push(msg) {
		return errQueueFull
	}
	return nil
}

func (l *Link) inboxFull(ch int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inbox[ch].full()
}
