package engine

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"

	"github.com/soypat/cfdp"
	"github.com/soypat/cfdp/internal"
	"github.com/soypat/cfdp/pdu"
)

// newReceive allocates a receive transaction for a PDU of an unknown transaction.
// It returns nil if the PDU cannot start a transaction or no resources are available.
func (e *Engine) newReceive(c *channel, b *pdu.Buffer) *transaction {
	h := &b.Header
	if h.Destination != e.cfg.LocalEID || h.Direction != pdu.TowardReceiver || h.Source == e.cfg.LocalEID {
		c.counters.Recv.Spurious++
		return nil
	}
	switch {
	case b.IsFileData() && h.Class == cfdp.Class1:
		// Class 1 cannot recover the metadata it missed.
		c.counters.Recv.Dropped++
		return nil
	case b.IsFileData(), b.Directive == cfdp.DirectiveMetadata:
	case b.Directive == cfdp.DirectiveEOF && h.Class == cfdp.Class2:
	default:
		c.counters.Recv.Spurious++
		return nil
	}
	t := e.allocTxn(c, cfdp.DirectionRX, h.Class)
	if t == nil {
		c.counters.Fault.NoResource++
		c.counters.Recv.Dropped++
		e.warn("engine:rx-no-resource", internal.SlogTxn("txn", uint64(h.Source), uint64(h.Sequence)), slog.Int("ch", int(c.num)))
		return nil
	}
	t.id = TransactionID{Source: h.Source, Seq: h.Sequence}
	t.peer = h.Source
	t.sub = SubstateRxDataNormal
	t.state = StateR1
	if h.Class == cfdp.Class2 {
		t.state = StateR2
	}
	*e.historyOf(t) = History{ID: t.id, Peer: t.peer, Direction: cfdp.DirectionRX, Class: t.class}
	t.inactTimer.set(e.cfg.ticks(c.cfg.InactivityTimerSec))
	e.debug("engine:rx-new", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
		slog.String("class", t.class.String()), slog.Int("ch", int(c.num)))
	if t.state == StateR2 {
		t.tmpName = filepath.Join(e.cfg.TmpDir, "cfdp-"+strconv.FormatUint(uint64(t.id.Source), 10)+
			"-"+strconv.FormatUint(uint64(t.id.Seq), 10)+".tmp")
		f, err := e.fs.Create(t.tmpName)
		if err != nil {
			e.rxFileError(c, t, &c.counters.Fault.FileOpen, "engine:rx-create", err)
		} else {
			t.file = f
		}
	}
	return t
}

// rxFileError records a filestore failure. R1 finishes immediately while R2
// proceeds to report the failure to the sender with FIN.
func (e *Engine) rxFileError(c *channel, t *transaction, counter *uint64, msg string, err error) {
	*counter++
	t.setStatus(cfdp.StatusFilestoreRejection)
	e.warn(msg, internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)), slog.String("err", err.Error()))
	if t.state == StateR1 {
		e.finish(t)
		return
	}
	t.sub = SubstateRxFilestore
}

func (e *Engine) recvR1(c *channel, t *transaction, b *pdu.Buffer) {
	if b.IsFileData() {
		if t.sub == SubstateRxDataNormal {
			e.r1FileData(c, t, b)
		} else {
			c.counters.Recv.Dropped++
		}
		return
	}
	e.dispatchDirective(&r1Directives, c, t, b)
}

func (e *Engine) recvR2(c *channel, t *transaction, b *pdu.Buffer) {
	if b.IsFileData() {
		if t.sub == SubstateRxDataNormal || t.sub == SubstateRxDataEOF {
			e.r2FileData(c, t, b)
		} else {
			c.counters.Recv.Dropped++
		}
		return
	}
	e.dispatchDirective(&r2Directives, c, t, b)
}

// rxMetadata records the metadata common to both receiver classes and reports
// whether it was new.
func (e *Engine) rxMetadata(c *channel, t *transaction, md *pdu.Metadata) bool {
	if t.flags.has(flagMDRecv) {
		return false
	}
	t.flags |= flagMDRecv
	t.srcName = string(md.SourceFile)
	t.dstName = string(md.DestFile)
	t.csumType = md.ChecksumType
	if !t.flags.has(flagEOFRecv) {
		t.fsize = md.Size
	}
	h := e.historyOf(t)
	h.SrcFile = t.srcName
	h.DstFile = t.dstName
	h.Size = md.Size
	e.debug("engine:rx-metadata", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
		slog.String("src", t.srcName), slog.String("dst", t.dstName), slog.Uint64("size", uint64(md.Size)))
	if md.ChecksumType != cfdp.ChecksumModular && md.ChecksumType != cfdp.ChecksumNull {
		c.counters.Fault.UnsupportedChecksum++
		t.setStatus(cfdp.StatusUnsupportedChecksumType)
	}
	return true
}

func (e *Engine) r1Metadata(c *channel, t *transaction, b *pdu.Buffer) {
	if !e.rxMetadata(c, t, &b.Metadata) {
		return
	}
	if t.status.IsError() {
		e.finish(t)
		return
	}
	f, err := e.fs.Create(t.dstName)
	if err != nil {
		e.rxFileError(c, t, &c.counters.Fault.FileOpen, "engine:rx-create", err)
		return
	}
	t.file = f
}

// rxWrite writes received file data and reports whether it succeeded.
func (e *Engine) rxWrite(c *channel, t *transaction, fd *pdu.FileData) bool {
	end := uint64(fd.Offset) + uint64(len(fd.Data))
	if end > math.MaxUint32 || (t.flags.has(flagEOFRecv) && end > uint64(t.fsize)) {
		c.counters.Fault.FileSizeMismatch++
		t.setStatus(cfdp.StatusFileSizeError)
		if t.state == StateR1 {
			e.finish(t)
		} else {
			t.sub = SubstateRxFilestore
		}
		return false
	}
	if t.file == nil {
		c.counters.Recv.Dropped++
		return false
	}
	_, err := t.file.WriteAt(fd.Data, int64(fd.Offset))
	if err != nil {
		e.rxFileError(c, t, &c.counters.Fault.FileWrite, "engine:rx-write", err)
		return false
	}
	c.counters.Recv.FileDataBytes += uint64(len(fd.Data))
	t.maxOff = max(t.maxOff, uint32(end))
	return true
}

func (e *Engine) r1FileData(c *channel, t *transaction, b *pdu.Buffer) {
	e.rxWrite(c, t, &b.FileData)
}

func (e *Engine) r1EOF(c *channel, t *transaction, b *pdu.Buffer) {
	eof := &b.EOF
	t.flags |= flagEOFRecv
	t.eofCond = eof.Condition
	if eof.Condition != cfdp.ConditionNoError {
		t.setStatus(cfdp.StatusFromCondition(eof.Condition))
		e.finish(t)
		return
	}
	t.fsize = eof.Size
	t.eofCRC = eof.Checksum
	if t.maxOff > t.fsize {
		c.counters.Fault.FileSizeMismatch++
		t.setStatus(cfdp.StatusFileSizeError)
		e.finish(t)
		return
	}
	e.rxStartValidate(t)
}

func (e *Engine) rxStartValidate(t *transaction) {
	t.sub = SubstateRxValidate
	t.foffset = 0
	t.crc.Reset()
	t.digest.Reset()
	t.nakTimer.stop()
}

func (e *Engine) r2Metadata(c *channel, t *transaction, b *pdu.Buffer) {
	if !e.rxMetadata(c, t, &b.Metadata) {
		return
	}
	if t.status.IsError() {
		t.sub = SubstateRxFilestore
		return
	}
	if t.sub == SubstateRxDataEOF {
		e.r2CheckComplete(c, t, false)
	}
}

func (e *Engine) r2FileData(c *channel, t *transaction, b *pdu.Buffer) {
	fd := &b.FileData
	if !e.rxWrite(c, t, fd) {
		return
	}
	e.chunkList(t).Add(fd.Offset, uint32(len(fd.Data)))
	if t.sub == SubstateRxDataEOF {
		e.r2CheckComplete(c, t, false)
	}
}

func (e *Engine) r2EOF(c *channel, t *transaction, b *pdu.Buffer) {
	eof := &b.EOF
	t.flags |= flagSendEOFAck
	if t.flags.has(flagEOFRecv) {
		return // Duplicate, acknowledge again.
	}
	t.flags |= flagEOFRecv
	t.eofCond = eof.Condition
	if eof.Condition != cfdp.ConditionNoError {
		// Sender canceled: acknowledge, discard and finish without FIN.
		t.setStatus(cfdp.StatusFromCondition(eof.Condition))
		e.rxDiscard(c, t)
		t.sub = SubstateRxComplete
		return
	}
	t.fsize = eof.Size
	t.eofCRC = eof.Checksum
	e.historyOf(t).Size = eof.Size
	if t.sub != SubstateRxDataNormal {
		return // Already failed and reporting with FIN.
	}
	if t.maxOff > t.fsize {
		c.counters.Fault.FileSizeMismatch++
		t.setStatus(cfdp.StatusFileSizeError)
		t.sub = SubstateRxFilestore
		return
	}
	t.sub = SubstateRxDataEOF
	e.r2CheckComplete(c, t, true)
}

// r2CheckComplete moves t to validation once the metadata and every byte of
// the file were received. Otherwise a NAK is scheduled when nakNow is set.
func (e *Engine) r2CheckComplete(c *channel, t *transaction, nakNow bool) {
	if t.flags.has(flagMDRecv) && e.chunkList(t).ComputeGaps(1, t.fsize, 0, nil) == 0 {
		t.flags &^= flagSendNAK
		e.rxStartValidate(t)
		return
	}
	if nakNow {
		t.flags |= flagSendNAK
	}
}

func (e *Engine) r2FinAck(c *channel, t *transaction, b *pdu.Buffer) {
	if b.ACK.Directive != cfdp.DirectiveFIN {
		c.counters.Recv.Spurious++
		return
	}
	e.finish(t)
}

func (e *Engine) rxTick(c *channel, t *transaction) {
	if t.flags.has(flagSuspended) {
		return
	}
	if t.inactTimer.tick() {
		e.rxInactivity(c, t)
		if t.q != qRx {
			return
		}
	}
	if t.flags.has(flagSendEOFAck) {
		if !e.sendACK(c, t, cfdp.DirectiveEOF, t.eofCond) {
			return
		}
		t.flags &^= flagSendEOFAck
	}
	switch t.sub {
	case SubstateRxDataEOF:
		e.r2NakTick(c, t)
	case SubstateRxValidate:
		e.rxValidate(c, t)
	case SubstateRxFinAck:
		e.r2FinAckTick(c, t)
	case SubstateRxComplete:
		e.finish(t)
		return
	}
	if t.sub == SubstateRxFilestore {
		e.rxFilestore(c, t)
	}
}

func (e *Engine) rxInactivity(c *channel, t *transaction) {
	c.counters.Fault.Inactivity++
	t.setStatus(cfdp.StatusInactivityDetected)
	e.debug("engine:rx-inactivity", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)))
	if t.state == StateR2 && !t.flags.has(flagInactivityHit) && t.sub < SubstateRxFinAck {
		// Report to the sender with FIN, finish on the next expiry.
		t.flags |= flagInactivityHit
		t.sub = SubstateRxFilestore
		t.inactTimer.set(e.cfg.ticks(c.cfg.InactivityTimerSec))
		return
	}
	e.finish(t)
}

func (e *Engine) r2NakTick(c *channel, t *transaction) {
	if t.nakTimer.tick() {
		t.nakCount++
		if t.nakCount >= c.cfg.NakLimit {
			c.counters.Fault.NakLimit++
			t.setStatus(cfdp.StatusNakLimitReached)
			t.sub = SubstateRxFilestore
			return
		}
		t.flags |= flagSendNAK
	}
	if t.flags.has(flagSendNAK) && e.sendNAK(c, t) {
		t.flags &^= flagSendNAK
		t.nakTimer.set(e.cfg.ticks(c.cfg.NakTimerSec))
	}
}

// rxValidate advances the checksum and digest over the received file, reading
// at most RxCRCBytesPerWakeup bytes per call.
func (e *Engine) rxValidate(c *channel, t *transaction) {
	budget := e.cfg.RxCRCBytesPerWakeup
	for budget > 0 && t.foffset < t.fsize {
		n := min(budget, len(e.scratch), int(t.fsize-t.foffset))
		buf := e.scratch[:n]
		got, err := t.file.ReadAt(buf, int64(t.foffset))
		if got < n {
			if err == nil || errors.Is(err, io.EOF) {
				// File shorter than reported by EOF.
				c.counters.Fault.FileSizeMismatch++
				t.setStatus(cfdp.StatusFileSizeError)
			} else {
				c.counters.Fault.FileRead++
				t.setStatus(cfdp.StatusFilestoreRejection)
			}
			t.sub = SubstateRxFilestore
			return
		}
		t.crc.AddAt(uint64(t.foffset), buf)
		t.digest.Write(buf)
		t.foffset += uint32(n)
		budget -= n
	}
	if t.foffset < t.fsize {
		return
	}
	t.flags |= flagDigested
	if t.csumType == cfdp.ChecksumModular && t.crc.Sum32() != t.eofCRC {
		c.counters.Fault.ChecksumMismatch++
		t.setStatus(cfdp.StatusFileChecksumFailure)
		e.debug("engine:rx-checksum", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
			internal.SlogChecksum("want", t.eofCRC), internal.SlogChecksum("got", t.crc.Sum32()))
	} else {
		t.flags |= flagComplete
	}
	t.sub = SubstateRxFilestore
}

// rxFilestore applies the retention policy: complete and valid files are
// retained under their destination name, anything else is discarded.
func (e *Engine) rxFilestore(c *channel, t *transaction) {
	if !t.status.IsError() {
		e.closeFile(t)
		t.finFileStatus = cfdp.FileRetained
		if t.state == StateR2 {
			if err := e.fs.Rename(t.tmpName, t.dstName); err != nil {
				c.counters.Fault.FileRename++
				t.setStatus(cfdp.StatusFilestoreRejection)
				t.finFileStatus = cfdp.FileDiscardedFilestore
				e.warn("engine:rx-rename", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)), slog.String("err", err.Error()))
				e.rxDiscard(c, t)
			}
		}
		t.flags |= flagDisposed
	} else {
		e.rxDiscard(c, t)
	}
	t.finDelivery = cfdp.DeliveryIncomplete
	if t.flags.has(flagComplete) {
		t.finDelivery = cfdp.DeliveryComplete
	}
	h := e.historyOf(t)
	h.Delivery = t.finDelivery
	h.FileStatus = t.finFileStatus
	if t.state == StateR1 {
		e.finish(t)
		return
	}
	t.sub = SubstateRxFinAck
	t.flags |= flagSendFIN
}

// rxDiscard closes and deletes the partially received file.
func (e *Engine) rxDiscard(c *channel, t *transaction) {
	if t.flags.has(flagDisposed) {
		return
	}
	t.flags |= flagDisposed
	opened := t.file != nil
	e.closeFile(t)
	if t.finFileStatus != cfdp.FileDiscardedFilestore {
		t.finFileStatus = cfdp.FileDiscarded
	}
	name := t.tmpName
	if t.state == StateR1 {
		name = t.dstName
	}
	if name == "" || (!opened && t.state == StateR1) {
		return
	}
	if err := e.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.warn("engine:rx-remove", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)), slog.String("err", err.Error()))
	}
}

func (e *Engine) r2FinAckTick(c *channel, t *transaction) {
	if t.ackTimer.tick() {
		t.ackCount++
		if t.ackCount >= c.cfg.AckLimit {
			c.counters.Fault.AckLimit++
			t.setStatus(cfdp.StatusAckLimitNoFIN)
			e.finish(t)
			return
		}
		t.flags |= flagSendFIN
	}
	if t.flags.has(flagSendFIN) && e.sendFIN(c, t) {
		t.flags &^= flagSendFIN
		t.ackTimer.set(e.cfg.ticks(c.cfg.AckTimerSec))
	}
}
