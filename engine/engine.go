// Package engine implements the CFDP protocol entity: transaction pools, class 1
// and class 2 senders and receivers, PDU dispatch and the cooperative engine
// cycle that advances all of them.
//
// An [Engine] is not safe for concurrent use. All state advances within
// [Engine.Cycle] and the command methods, which must be called from the
// same goroutine.
package engine

import (
	"log/slog"

	"golang.org/x/crypto/blake2b"

	"github.com/soypat/cfdp"
	"github.com/soypat/cfdp/chunks"
	"github.com/soypat/cfdp/internal"
	"github.com/soypat/cfdp/internal/clist"
	"github.com/soypat/cfdp/pdu"
)

// Engine is a CFDP entity. It owns every transaction, chunk list and history
// entry in fixed size arenas allocated by [New].
type Engine struct {
	cfg Config
	fs  Filestore
	tp  Transport
	logger
	seq cfdp.TransactionSeq

	txns  []transaction
	links clist.Links

	hist      []History
	histLinks clist.Links

	chunkLists []chunks.List
	chunkLinks clist.Links

	chans []channel

	rxb     pdu.Buffer
	txb     pdu.Buffer
	txmsg   []byte
	scratch []byte
	tlvbuf  [8]byte
}

type channel struct {
	num    uint8
	cfg    *ChannelConfig
	frozen bool
	q      [numQueues]clist.List

	histFree    clist.List
	histArchive clist.List
	// chunkFree holds free chunk lists indexed by cfdp.Direction.
	chunkFree [2]clist.List

	counters  Counters
	playbacks []playback
	polls     []poll
}

type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
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
func (l logger) tracing() bool { return internal.LogEnabled(l.log, internal.LevelTrace) }

// New validates cfg and allocates every pool the engine will use. A nil log disables logging.
func New(cfg Config, fs Filestore, tp Transport, log *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	} else if fs == nil || tp == nil {
		return nil, errNilCollaborator
	}
	cfg.Channels = append([]ChannelConfig(nil), cfg.Channels...)
	e := &Engine{
		cfg:     cfg,
		fs:      fs,
		tp:      tp,
		logger:  logger{log: log},
		scratch: make([]byte, max(cfg.RxCRCBytesPerWakeup, cfg.FileChunkSize)),
	}
	var ntxn, nhist, nchunk int
	for i := range cfg.Channels {
		cc := &cfg.Channels[i]
		ntxn += cc.MaxTransactions
		nhist += cc.MaxHistory
		nchunk += cc.ChunkListsRx + cc.ChunkListsTx
	}
	e.txns = make([]transaction, ntxn)
	e.links.Reset(ntxn)
	e.hist = make([]History, nhist)
	e.histLinks.Reset(nhist)
	e.chunkLists = make([]chunks.List, nchunk)
	e.chunkLinks.Reset(nchunk)
	e.chans = make([]channel, len(cfg.Channels))

	var itxn, ihist, ichunk int32
	for i := range e.chans {
		cc := &e.cfg.Channels[i]
		c := &e.chans[i]
		c.num = uint8(i)
		c.cfg = cc
		for range cc.MaxTransactions {
			t := &e.txns[itxn]
			digest, err := blake2b.New256(nil)
			if err != nil {
				return nil, err
			}
			t.idx = itxn
			t.chanNum = c.num
			t.digest = digest
			t.reset()
			c.q[qFree].PushBack(&e.links, int(itxn))
			itxn++
		}
		for range cc.MaxHistory {
			c.histFree.PushBack(&e.histLinks, int(ihist))
			ihist++
		}
		for dir, n := range [2]int{cc.ChunkListsRx, cc.ChunkListsTx} {
			size := cc.MaxChunksRx
			if cfdp.Direction(dir) == cfdp.DirectionTX {
				size = cc.MaxChunksTx
			}
			for range n {
				e.chunkLists[ichunk].Init(make([]chunks.Chunk, max(size, 1)))
				c.chunkFree[dir].PushBack(&e.chunkLinks, int(ichunk))
				ichunk++
			}
		}
		c.playbacks = make([]playback, cc.MaxPlaybacks)
		for _, pd := range cc.PollDirs {
			c.polls = append(c.polls, poll{dir: pd, timer: timer(max(e.cfg.ticks(pd.IntervalSec), 1)), pb: -1})
		}
	}
	return e, nil
}

// LocalEID returns the entity identifier of the engine.
func (e *Engine) LocalEID() cfdp.EntityID { return e.cfg.LocalEID }

// NumChannels returns the amount of configured channels.
func (e *Engine) NumChannels() int { return len(e.chans) }

func (e *Engine) channel(ch int) (*channel, error) {
	if ch < 0 || ch >= len(e.chans) {
		return nil, cfdp.ErrInvalidChannel
	}
	return &e.chans[ch], nil
}

func (e *Engine) chanOf(t *transaction) *channel { return &e.chans[t.chanNum] }

// moveTo transfers t from its current queue to the back of q.
func (e *Engine) moveTo(t *transaction, q queueID) {
	c := e.chanOf(t)
	c.q[t.q].Remove(&e.links, int(t.idx))
	t.q = q
	if q == qPend {
		e.insertPending(c, t)
		return
	}
	c.q[q].PushBack(&e.links, int(t.idx))
}

// insertPending inserts t into the pending queue after every transaction with equal
// or higher priority. Lower values are higher priority.
func (e *Engine) insertPending(c *channel, t *transaction) {
	pend := &c.q[qPend]
	for i, ok := pend.Back(); ok; i, ok = pend.Prev(&e.links, i) {
		if e.txns[i].priority <= t.priority {
			pend.InsertAfter(&e.links, i, int(t.idx))
			return
		}
	}
	pend.PushFront(&e.links, int(t.idx))
}

// allocTxn takes a transaction from the channel free queue, reclaiming the oldest
// finished transaction in hold if the free queue is empty. It returns nil if none is available.
func (e *Engine) allocTxn(c *channel, dir cfdp.Direction, class cfdp.Class) *transaction {
	if c.q[qFree].Len() == 0 {
		held, ok := c.q[qHold].Front()
		if !ok {
			return nil
		}
		e.release(&e.txns[held])
	}
	i, _ := c.q[qFree].Front()
	t := &e.txns[i]
	t.dir = dir
	t.class = class
	t.status = cfdp.StatusUndefined
	t.hist = e.allocHistory(c)
	if t.hist < 0 {
		t.reset()
		return nil
	}
	if class == cfdp.Class2 {
		t.chunks = e.allocChunkList(c, dir)
		if t.chunks < 0 {
			e.freeHistory(c, t.hist)
			t.reset()
			return nil
		}
	}
	t.digest.Reset()
	// Ownership moves out of the free queue last so failures leave it untouched.
	c.q[qFree].Remove(&e.links, i)
	t.q = qRx
	if dir == cfdp.DirectionTX {
		t.q = qPend
	}
	if t.q == qPend {
		e.insertPending(c, t)
	} else {
		c.q[t.q].PushBack(&e.links, i)
	}
	return t
}

func (e *Engine) allocHistory(c *channel) int32 {
	i, ok := c.histFree.PopFront(&e.histLinks)
	if !ok {
		i, ok = c.histArchive.PopFront(&e.histLinks) // recycle oldest
		if !ok {
			return -1
		}
	}
	e.hist[i] = History{}
	return int32(i)
}

func (e *Engine) freeHistory(c *channel, i int32) {
	c.histFree.PushBack(&e.histLinks, int(i))
}

func (e *Engine) allocChunkList(c *channel, dir cfdp.Direction) int32 {
	i, ok := c.chunkFree[dir].PopFront(&e.chunkLinks)
	if !ok {
		return -1
	}
	e.chunkLists[i].Reset()
	return int32(i)
}

func (e *Engine) chunkList(t *transaction) *chunks.List {
	if t.chunks < 0 {
		return nil
	}
	return &e.chunkLists[t.chunks]
}

// finish completes t: it closes its file, applies the retention policy,
// archives its history and emits the completion event. Finishing a transaction
// that already finished is a no-op.
func (e *Engine) finish(t *transaction) {
	if t.q == qFree || t.q == qHold {
		return
	}
	c := e.chanOf(t)
	if t.status == cfdp.StatusUndefined {
		t.status = cfdp.StatusNoError
	}
	if t.dir == cfdp.DirectionTX {
		e.closeFile(t)
		e.txRetention(c, t)
	} else if !t.flags.has(flagDisposed) {
		e.rxDiscard(c, t)
	}
	h := &e.hist[t.hist]
	h.Status = t.status
	h.Checksum = t.crc.Sum32()
	if t.flags.has(flagDigested) {
		t.digest.Sum(h.Digest[:0])
	}
	h.Size = t.fsize
	h.Completed = true
	attrs := [...]slog.Attr{
		internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
		slog.String("state", t.state.String()),
		slog.String("status", t.status.String()),
		slog.String("src", h.SrcFile),
		slog.String("dst", h.DstFile),
		slog.Uint64("size", uint64(t.fsize)),
		internal.SlogChecksum("crc", h.Checksum),
		slog.String("blake2b", h.digestHex()),
	}
	if t.status.IsError() {
		e.error("engine:txn-complete", attrs[:]...)
	} else {
		e.info("engine:txn-complete", attrs[:]...)
	}
	c.histArchive.PushBack(&e.histLinks, int(t.hist))
	t.hist = -1
	if t.chunks >= 0 {
		c.chunkFree[t.dir].PushBack(&e.chunkLinks, int(t.chunks))
		t.chunks = -1
	}
	e.playbackDone(c, t)

	hold := e.cfg.ticks(c.cfg.HoldTimerSec)
	if hold == 0 {
		e.release(t)
		return
	}
	if t.state.isSender() {
		t.state = StateHold
	} else {
		t.state = StateDrop
	}
	t.holdTimer.set(hold)
	e.moveTo(t, qHold)
}

// release returns a finished transaction to the free queue.
func (e *Engine) release(t *transaction) {
	if t.q == qFree {
		return
	}
	c := e.chanOf(t)
	c.q[t.q].Remove(&e.links, int(t.idx))
	t.reset()
	c.q[qFree].PushBack(&e.links, int(t.idx))
}

func (e *Engine) closeFile(t *transaction) {
	if t.file == nil {
		return
	}
	if err := t.file.Close(); err != nil {
		e.warn("engine:close", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)), slog.String("err", err.Error()))
	}
	t.file = nil
}

// setStatus records status on t unless an error status was already recorded.
func (t *transaction) setStatus(status cfdp.Status) {
	if !t.status.IsError() {
		t.status = status
	}
}

func (e *Engine) findTxn(c *channel, id TransactionID) *transaction {
	for q := qPend; q < numQueues; q++ {
		l := &c.q[q]
		for i, ok := l.Front(); ok; i, ok = l.Next(&e.links, i) {
			if e.txns[i].id == id {
				return &e.txns[i]
			}
		}
	}
	return nil
}

// forEach calls fn for every transaction in q of c in queue order. fn may move
// the transaction it is called with to another queue.
func (e *Engine) forEach(c *channel, q queueID, fn func(t *transaction) (stop bool)) {
	l := &c.q[q]
	for i, ok := l.Front(); ok; {
		next, hasNext := l.Next(&e.links, i)
		if fn(&e.txns[i]) {
			return
		}
		i, ok = next, hasNext
	}
}
