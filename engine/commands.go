package engine

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/soypat/cfdp"
	"github.com/soypat/cfdp/internal"
	"github.com/soypat/cfdp/internal/clist"
)

// TxRequest describes a file to send.
type TxRequest struct {
	Src     string
	Dst     string
	Class   cfdp.Class
	Keep    bool
	Channel uint8
	// Priority orders pending transactions, lower values are sent first.
	Priority uint8
	Dest     cfdp.EntityID
}

// TxFile enqueues a file transfer. The transaction is pending until the channel
// starts it during a later cycle. An error is returned if the channel has no free
// transaction, history or chunk list resources.
func (e *Engine) TxFile(req TxRequest) (TransactionID, error) {
	t, err := e.txFile(req, -1)
	if err != nil {
		return TransactionID{}, err
	}
	return t.id, nil
}

func (e *Engine) txFile(req TxRequest, playback int32) (*transaction, error) {
	c, err := e.channel(int(req.Channel))
	if err != nil {
		return nil, err
	} else if req.Class != cfdp.Class1 && req.Class != cfdp.Class2 {
		return nil, errBadClass
	} else if req.Dest == e.cfg.LocalEID {
		return nil, errLocalDest
	}
	t := e.allocTxn(c, cfdp.DirectionTX, req.Class)
	if t == nil {
		c.counters.Fault.NoResource++
		e.warn("engine:tx-no-resource", slog.Int("ch", int(c.num)), slog.String("src", req.Src))
		return nil, cfdp.ErrNoResource
	}
	// Insertion into the pending queue happened with priority zero.
	if req.Priority != 0 {
		c.q[qPend].Remove(&e.links, int(t.idx))
		t.priority = req.Priority
		e.insertPending(c, t)
	}
	e.seq++
	t.id = TransactionID{Source: e.cfg.LocalEID, Seq: e.seq}
	t.peer = req.Dest
	t.srcName = req.Src
	t.dstName = req.Dst
	t.sub = SubstateTxMetadata
	t.playback = playback
	t.state = StateS1
	if req.Class == cfdp.Class2 {
		t.state = StateS2
	}
	if req.Keep {
		t.flags |= flagKeep
	}
	*e.historyOf(t) = History{
		ID:        t.id,
		Peer:      t.peer,
		Direction: cfdp.DirectionTX,
		Class:     t.class,
		SrcFile:   req.Src,
		DstFile:   req.Dst,
	}
	e.debug("engine:tx-file", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
		slog.String("src", req.Src), slog.String("dst", req.Dst), slog.Uint64("dest", uint64(req.Dest)),
		slog.String("class", req.Class.String()), slog.Int("prio", int(req.Priority)))
	return t, nil
}

// lookupLive returns the live transaction identified by id on any channel.
func (e *Engine) lookupLive(id TransactionID) *transaction {
	for i := range e.chans {
		if t := e.findTxn(&e.chans[i], id); t != nil && t.q != qHold {
			return t
		}
	}
	return nil
}

// Lookup returns a snapshot of the live transaction identified by id.
func (e *Engine) Lookup(id TransactionID) (Info, bool) {
	t := e.lookupLive(id)
	if t == nil {
		return Info{}, false
	}
	return t.info(), true
}

// Transactions appends a snapshot of every live transaction of channel ch to dst.
func (e *Engine) Transactions(ch int, dst []Info) ([]Info, error) {
	c, err := e.channel(ch)
	if err != nil {
		return dst, err
	}
	for q := qPend; q < qHold; q++ {
		l := &c.q[q]
		for i, ok := l.Front(); ok; i, ok = l.Next(&e.links, i) {
			dst = append(dst, e.txns[i].info())
		}
	}
	return dst, nil
}

// Cancel cancels a transaction. Senders notify the receiver with an EOF carrying
// the cancel condition, class 2 receivers notify the sender with FIN.
func (e *Engine) Cancel(id TransactionID) error { return e.byID(id, (*Engine).cancel) }

// Suspend stops all timers and data generation of a transaction until resumed.
func (e *Engine) Suspend(id TransactionID) error { return e.byID(id, (*Engine).suspend) }

func (e *Engine) Resume(id TransactionID) error { return e.byID(id, (*Engine).resume) }

// Abandon finishes a transaction immediately without notifying the peer.
func (e *Engine) Abandon(id TransactionID) error { return e.byID(id, (*Engine).abandon) }

func (e *Engine) CancelAll()  { e.all((*Engine).cancel) }
func (e *Engine) SuspendAll() { e.all((*Engine).suspend) }
func (e *Engine) ResumeAll()  { e.all((*Engine).resume) }
func (e *Engine) AbandonAll() { e.all((*Engine).abandon) }

func (e *Engine) byID(id TransactionID, fn func(*Engine, *transaction)) error {
	t := e.lookupLive(id)
	if t == nil {
		return cfdp.ErrNotFound
	}
	fn(e, t)
	return nil
}

func (e *Engine) all(fn func(*Engine, *transaction)) {
	for i := range e.chans {
		c := &e.chans[i]
		for q := qPend; q < qHold; q++ {
			l := &c.q[q]
			for j, ok := l.Front(); ok; {
				next, hasNext := l.Next(&e.links, j)
				fn(e, &e.txns[j])
				j, ok = next, hasNext
			}
		}
	}
}

func (e *Engine) cancel(t *transaction) {
	if t.flags.has(flagCanceled) {
		return
	}
	t.flags |= flagCanceled
	t.setStatus(cfdp.StatusCancelRequestReceived)
	e.debug("engine:cancel", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)))
	switch {
	case t.q == qPend:
		e.finish(t)
	case t.state == StateR1:
		e.finish(t)
	case t.state == StateR2:
		if t.sub < SubstateRxFilestore {
			t.sub = SubstateRxFilestore
		}
	case t.state.isSender():
		if t.sub == SubstateTxSendFINAck {
			return // Peer already finished.
		}
		// Outstanding retransmission requests are dropped, EOF goes out next.
		t.flags &^= flagMDResend
		if cl := e.chunkList(t); cl != nil {
			cl.Reset()
		}
		t.sub = SubstateTxEOF
		t.ackTimer.stop()
		t.ackCount = 0
		if t.q != qTxA {
			e.moveTo(t, qTxA)
		}
	}
}

func (e *Engine) suspend(t *transaction) { t.flags |= flagSuspended }

func (e *Engine) resume(t *transaction) { t.flags &^= flagSuspended }

func (e *Engine) abandon(t *transaction) {
	t.setStatus(cfdp.StatusCancelRequestReceived)
	e.debug("engine:abandon", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)))
	e.finish(t)
}

// Freeze stops all timers and outbound traffic of channel ch. Inbound PDUs are still processed.
func (e *Engine) Freeze(ch int) error { return e.setFrozen(ch, true) }

func (e *Engine) Thaw(ch int) error { return e.setFrozen(ch, false) }

func (e *Engine) setFrozen(ch int, frozen bool) error {
	c, err := e.channel(ch)
	if err != nil {
		return err
	}
	c.frozen = frozen
	return nil
}

// Frozen reports whether channel ch is frozen.
func (e *Engine) Frozen(ch int) bool {
	c, err := e.channel(ch)
	return err == nil && c.frozen
}

// Counters returns the counters of channel ch.
func (e *Engine) Counters(ch int) (Counters, error) {
	c, err := e.channel(ch)
	if err != nil {
		return Counters{}, err
	}
	return c.counters, nil
}

// Idle reports whether no channel holds a live transaction or an unfinished playback.
// Finished transactions lingering in hold or drop state count as live.
func (e *Engine) Idle() bool {
	for i := range e.chans {
		c := &e.chans[i]
		if c.q[qFree].Len() != c.cfg.MaxTransactions {
			return false
		}
		for j := range c.playbacks {
			if c.playbacks[j].active {
				return false
			}
		}
	}
	return true
}

// CheckQueues verifies that every transaction, history entry and chunk list is
// owned by exactly one queue and that every transaction's queue index matches the
// queue that holds it.
func (e *Engine) CheckQueues() error {
	seen := make([]bool, len(e.txns))
	histOwned := make([]bool, len(e.hist))
	chunkOwned := make([]bool, len(e.chunkLists))
	for ci := range e.chans {
		c := &e.chans[ci]
		total := 0
		for q := qFree; q < numQueues; q++ {
			l := &c.q[q]
			n := 0
			for i, ok := l.Front(); ok; i, ok = l.Next(&e.links, i) {
				t := &e.txns[i]
				switch {
				case seen[i]:
					return errors.New("engine: transaction " + strconv.Itoa(i) + " in more than one queue")
				case t.q != q:
					return errors.New("engine: transaction " + strconv.Itoa(i) + " queue index " + t.q.String() + " but found in " + q.String())
				case int(t.chanNum) != ci:
					return errors.New("engine: transaction " + strconv.Itoa(i) + " found in foreign channel")
				}
				seen[i] = true
				n++
				if t.hist >= 0 {
					if histOwned[t.hist] {
						return errors.New("engine: history entry owned twice")
					}
					histOwned[t.hist] = true
				}
				if t.chunks >= 0 {
					if chunkOwned[t.chunks] {
						return errors.New("engine: chunk list owned twice")
					}
					chunkOwned[t.chunks] = true
				}
			}
			if n != l.Len() {
				return errors.New("engine: queue " + q.String() + " length mismatch")
			}
			total += n
		}
		if total != c.cfg.MaxTransactions {
			return errors.New("engine: channel " + strconv.Itoa(ci) + " lost transactions")
		}
		for _, l := range [...]*clist.List{&c.histFree, &c.histArchive} {
			for i, ok := l.Front(); ok; i, ok = l.Next(&e.histLinks, i) {
				if histOwned[i] {
					return errors.New("engine: history entry owned twice")
				}
				histOwned[i] = true
			}
		}
		for dir := range c.chunkFree {
			l := &c.chunkFree[dir]
			for i, ok := l.Front(); ok; i, ok = l.Next(&e.chunkLinks, i) {
				if chunkOwned[i] {
					return errors.New("engine: chunk list owned twice")
				}
				chunkOwned[i] = true
			}
		}
	}
	for i := range histOwned {
		if !histOwned[i] {
			return errors.New("engine: history entry " + strconv.Itoa(i) + " orphaned")
		}
	}
	for i := range chunkOwned {
		if !chunkOwned[i] {
			return errors.New("engine: chunk list " + strconv.Itoa(i) + " orphaned")
		}
	}
	return nil
}
