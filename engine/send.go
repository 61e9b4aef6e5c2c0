package engine

import (
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/soypat/cfdp"
	"github.com/soypat/cfdp/internal"
	"github.com/soypat/cfdp/pdu"
)

// txStart opens the source file of a pending sender and makes it active.
// It returns false if the transaction could not start and was finished.
func (e *Engine) txStart(c *channel, t *transaction) bool {
	f, err := e.fs.Open(t.srcName)
	if err == nil {
		var fi fs.FileInfo
		fi, err = f.Stat()
		if err == nil && fi.Size() > math.MaxUint32 {
			err = errFileTooLarge
		}
		if err != nil {
			f.Close()
		} else {
			t.file = f
			t.fsize = uint32(fi.Size())
		}
	}
	if err != nil {
		c.counters.Fault.FileOpen++
		t.setStatus(cfdp.StatusFilestoreRejection)
		e.warn("engine:tx-open", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
			slog.String("src", t.srcName), slog.String("err", err.Error()))
		e.finish(t)
		return false
	}
	e.historyOf(t).Size = t.fsize
	t.sub = SubstateTxMetadata
	t.foffset = 0
	t.crc.Reset()
	t.digest.Reset()
	e.moveTo(t, qTxA)
	e.debug("engine:tx-start", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
		slog.String("src", t.srcName), slog.Uint64("size", uint64(t.fsize)))
	return true
}

// nextSender returns the first active sender that is not suspended, starting
// pending transactions in priority order when there is none.
func (e *Engine) nextSender(c *channel) *transaction {
	txa := &c.q[qTxA]
	for i, ok := txa.Front(); ok; i, ok = txa.Next(&e.links, i) {
		if !e.txns[i].flags.has(flagSuspended) {
			return &e.txns[i]
		}
	}
	pend := &c.q[qPend]
	for i, ok := pend.Front(); ok; {
		t := &e.txns[i]
		next, hasNext := pend.Next(&e.links, i)
		if !t.flags.has(flagSuspended) && e.txStart(c, t) {
			return t
		}
		i, ok = next, hasNext
	}
	return nil
}

// txNewData advances the new data generation of an active sender by at most one PDU.
// ok is false when no output buffer was available.
func (e *Engine) txNewData(c *channel, t *transaction) (sent, ok bool) {
	fn := txNewDataDispatch[t.sub]
	if fn == nil {
		// Not generating data, park it with the waiting senders.
		e.moveTo(t, qTxW)
		return false, true
	}
	return fn(e, c, t)
}

func (e *Engine) txMetadata(c *channel, t *transaction) (sent, ok bool) {
	if !e.sendMetadata(c, t) {
		return false, false
	}
	t.sub = SubstateTxFileData
	if t.fsize == 0 {
		t.flags |= flagDigested
		t.sub = SubstateTxEOF
	}
	return true, true
}

func (e *Engine) txFileData(c *channel, t *transaction) (sent, ok bool) {
	n, ok := e.sendFileData(c, t, t.foffset, t.fsize-t.foffset, true)
	if !ok {
		return false, false
	}
	t.foffset += n
	if t.foffset >= t.fsize {
		t.flags |= flagDigested
		t.sub = SubstateTxEOF
	}
	return true, true
}

func (e *Engine) txEOF(c *channel, t *transaction) (sent, ok bool) {
	if !e.sendEOF(c, t) {
		return false, false
	}
	if t.state == StateS1 {
		e.finish(t)
		return true, true
	}
	t.sub = SubstateTxWaitEOFAck
	t.ackTimer.set(e.cfg.ticks(c.cfg.AckTimerSec))
	e.moveTo(t, qTxW)
	return true, true
}

// txNakResponse retransmits one PDU requested by the peer: the metadata
// first, then the lowest pending file range.
func (e *Engine) txNakResponse(c *channel, t *transaction) (sent, ok bool) {
	if t.state != StateS2 || t.flags.has(flagSuspended|flagFINRecv|flagCanceled) || t.file == nil {
		return false, true
	}
	if t.flags.has(flagMDResend) {
		if !e.sendMetadata(c, t) {
			return false, false
		}
		t.flags &^= flagMDResend
		return true, true
	}
	cl := e.chunkList(t)
	first, has := cl.First()
	if !has {
		return false, true
	}
	n, ok := e.sendFileData(c, t, first.Offset, first.Size, false)
	if !ok {
		return false, false
	}
	cl.RemoveFromFirst(n)
	c.counters.Sent.Retransmitted++
	return true, true
}

func (e *Engine) txwTick(c *channel, t *transaction) {
	if t.flags.has(flagSuspended) {
		return
	}
	switch t.sub {
	case SubstateTxWaitEOFAck:
		if t.ackTimer.tick() {
			t.ackCount++
			if t.ackCount >= c.cfg.AckLimit {
				c.counters.Fault.AckLimit++
				t.setStatus(cfdp.StatusAckLimitNoEOF)
				e.finish(t)
				return
			}
			t.flags |= flagSendEOF
		}
		if t.flags.has(flagSendEOF) && e.sendEOF(c, t) {
			t.flags &^= flagSendEOF
			t.ackTimer.set(e.cfg.ticks(c.cfg.AckTimerSec))
		}
	case SubstateTxWaitFIN:
		if t.inactTimer.tick() {
			c.counters.Fault.Inactivity++
			t.setStatus(cfdp.StatusInactivityDetected)
			e.finish(t)
		}
	case SubstateTxSendFINAck:
		if e.sendACK(c, t, cfdp.DirectiveFIN, t.finCond) {
			e.finish(t)
		}
	}
}

func (e *Engine) recvS1(c *channel, t *transaction, b *pdu.Buffer) {
	c.counters.Recv.Spurious++
}

func (e *Engine) recvS2(c *channel, t *transaction, b *pdu.Buffer) {
	if b.IsFileData() {
		c.counters.Recv.Spurious++
		return
	}
	e.dispatchDirective(&s2Directives, c, t, b)
}

func (e *Engine) s2NAK(c *channel, t *transaction, b *pdu.Buffer) {
	segs := b.NAK.Segments()
	c.counters.Recv.NakSegmentRequests += uint64(len(segs))
	if len(segs) == 0 {
		t.flags |= flagMDResend
	}
	cl := e.chunkList(t)
	for _, seg := range segs {
		switch {
		case seg.Start == 0 && seg.End == 0:
			t.flags |= flagMDResend
		case seg.Start > seg.End || seg.End > t.fsize:
			c.counters.Recv.Error++
			e.warn("engine:tx-bad-nak", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
				slog.Uint64("start", uint64(seg.Start)), slog.Uint64("end", uint64(seg.End)), slog.Uint64("size", uint64(t.fsize)))
		default:
			cl.Add(seg.Start, seg.End-seg.Start)
		}
	}
}

func (e *Engine) s2EOFAck(c *channel, t *transaction, b *pdu.Buffer) {
	if b.ACK.Directive != cfdp.DirectiveEOF {
		c.counters.Recv.Spurious++
		return
	}
	t.ackTimer.stop()
	t.flags &^= flagSendEOF
	if t.flags.has(flagCanceled) {
		e.finish(t)
		return
	}
	t.sub = SubstateTxWaitFIN
	t.inactTimer.set(e.cfg.ticks(c.cfg.InactivityTimerSec))
}

// s2FIN records the receiver's FIN. A FIN received before the EOF was sent ends the
// transaction early; while waiting for the EOF acknowledgement it stands in for it.
func (e *Engine) s2FIN(c *channel, t *transaction, b *pdu.Buffer) {
	fin := &b.FIN
	t.flags |= flagFINRecv
	t.finCond = fin.Condition
	t.finDelivery = fin.Delivery
	t.finFileStatus = fin.FileStatus
	h := e.historyOf(t)
	h.Delivery = fin.Delivery
	h.FileStatus = fin.FileStatus
	if fin.Condition != cfdp.ConditionNoError {
		t.setStatus(cfdp.StatusFromCondition(fin.Condition))
	} else if t.sub < SubstateTxWaitEOFAck {
		t.setStatus(cfdp.StatusEarlyFIN)
	}
	if t.sub == SubstateTxSendFINAck {
		return
	}
	t.sub = SubstateTxSendFINAck
	t.ackTimer.stop()
	if t.q != qTxW {
		e.moveTo(t, qTxW)
	}
}

// holdFIN acknowledges a FIN retransmitted after the sender finished.
func (e *Engine) holdFIN(c *channel, t *transaction, b *pdu.Buffer) {
	t.finCond = b.FIN.Condition
	t.flags |= flagSendFINAck
}

func (e *Engine) recvHold(c *channel, t *transaction, b *pdu.Buffer) {
	if !b.IsFileData() && b.Directive == cfdp.DirectiveFIN && t.dir == cfdp.DirectionTX && t.class == cfdp.Class2 {
		e.holdFIN(c, t, b)
		return
	}
	c.counters.Recv.Dropped++
}

func (e *Engine) recvDrop(c *channel, t *transaction, b *pdu.Buffer) {
	c.counters.Recv.Dropped++
}

func (e *Engine) holdTick(c *channel, t *transaction) {
	if t.flags.has(flagSendFINAck) && e.sendACK(c, t, cfdp.DirectiveFIN, t.finCond) {
		t.flags &^= flagSendFINAck
	}
	if t.holdTimer.tick() {
		e.release(t)
	}
}

// txRetention removes or moves the source file of a successful send that is not kept.
func (e *Engine) txRetention(c *channel, t *transaction) {
	if t.flags.has(flagKeep) || t.status.IsError() || t.srcName == "" {
		return
	}
	var err error
	if c.cfg.MoveDir != "" {
		err = e.fs.Rename(t.srcName, filepath.Join(c.cfg.MoveDir, filepath.Base(t.srcName)))
	} else {
		err = e.fs.Remove(t.srcName)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.warn("engine:tx-retention", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
			slog.String("src", t.srcName), slog.String("err", err.Error()))
	}
}
