package engine

import (
	"io"
	"log/slog"

	"github.com/soypat/cfdp"
	"github.com/soypat/cfdp/chunks"
	"github.com/soypat/cfdp/internal"
	"github.com/soypat/cfdp/pdu"
)

// startPDU acquires an output buffer from the transport and encodes the header
// of a PDU belonging to t. It returns false when no buffer is available.
func (e *Engine) startPDU(c *channel, t *transaction, typ pdu.Type, dc cfdp.DirectiveCode) bool {
	msg := e.tp.Buffer(int(c.num))
	if msg == nil {
		return false
	}
	h := pdu.Header{
		Type:        typ,
		Direction:   pdu.TowardReceiver,
		Class:       t.class,
		CRC:         c.cfg.CRC,
		Source:      t.id.Source,
		Sequence:    t.id.Seq,
		Destination: t.peer,
	}
	if t.dir == cfdp.DirectionRX {
		h.Direction = pdu.TowardSender
		h.Destination = e.cfg.LocalEID
	}
	e.txmsg = msg
	e.txb.StartEncode(msg, c.cfg.EncapsulationSize, h, dc)
	return true
}

// sendPDU finishes the PDU begun by startPDU and hands it to the transport.
// Encoding failures are unrecoverable for the transaction and flag it for abort.
func (e *Engine) sendPDU(c *channel, t *transaction) bool {
	n, err := e.txb.FinishEncode()
	if err != nil {
		c.counters.Fault.SendFailure++
		t.setStatus(cfdp.StatusNoResource)
		t.flags |= flagAbort
		e.error("engine:encode", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
			slog.String("directive", e.txb.Directive.String()), slog.String("err", err.Error()))
		return false
	}
	err = e.tp.Send(int(c.num), e.txmsg[:n])
	if err != nil {
		c.counters.Fault.SendFailure++
		e.warn("engine:send", slog.Int("ch", int(c.num)), slog.String("err", err.Error()))
		return false
	}
	c.counters.Sent.PDU++
	if !e.tracing() {
		return true
	}
	txn := internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq))
	if e.txb.IsFileData() {
		e.trace("engine:tx-pdu", txn, slog.Uint64("off", uint64(e.txb.FileData.Offset)), slog.Int("len", len(e.txb.FileData.Data)))
	} else {
		e.trace("engine:tx-pdu", txn, slog.String("directive", e.txb.Directive.String()))
	}
	return true
}

func (e *Engine) faultTLV(l *pdu.TLVList, cc cfdp.ConditionCode) {
	l.Reset()
	if cc != cfdp.ConditionNoError {
		l.AppendEntityID(e.cfg.LocalEID, e.tlvbuf[:])
	}
}

func (e *Engine) sendMetadata(c *channel, t *transaction) bool {
	if !e.startPDU(c, t, pdu.TypeDirective, cfdp.DirectiveMetadata) {
		return false
	}
	md := &e.txb.Metadata
	*md = pdu.Metadata{
		ClosureRequested: t.class == cfdp.Class2,
		ChecksumType:     cfdp.ChecksumModular,
		Size:             t.fsize,
		SourceFile:       []byte(t.srcName),
		DestFile:         []byte(t.dstName),
	}
	pdu.EncodeMetadata(&e.txb.Enc, md)
	return e.sendPDU(c, t)
}

// sendFileData sends up to size bytes of the file at off. When newData is set
// the checksum and digest are advanced after the PDU is handed to the transport.
// It returns the amount of file bytes sent.
func (e *Engine) sendFileData(c *channel, t *transaction, off, size uint32, newData bool) (uint32, bool) {
	if !e.startPDU(c, t, pdu.TypeFileData, 0) {
		return 0, false
	}
	enc := &e.txb.Enc
	fd := &e.txb.FileData
	*fd = pdu.FileData{Offset: off}
	pdu.EncodeFileDataHeader(enc, &e.txb.Header, fd)
	n := min(int(size), pdu.MaxFileData(enc, &e.txb.Header), e.cfg.FileChunkSize)
	if n <= 0 {
		c.counters.Fault.SendFailure++
		t.setStatus(cfdp.StatusNoResource)
		t.flags |= flagAbort
		e.error("engine:encode", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
			slog.String("err", "buffer too small for file data"))
		return 0, false
	}
	data := enc.Reserve(n)
	got, err := t.file.ReadAt(data, int64(off))
	if got < n {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		c.counters.Fault.FileRead++
		t.setStatus(cfdp.StatusFilestoreRejection)
		t.flags |= flagAbort
		e.error("engine:read", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
			slog.Uint64("off", uint64(off)), slog.String("err", err.Error()))
		return 0, false
	}
	fd.Data = data
	if !e.sendPDU(c, t) {
		return 0, false
	}
	c.counters.Sent.FileDataBytes += uint64(n)
	if newData {
		t.crc.AddAt(uint64(off), data)
		t.digest.Write(data)
	}
	return uint32(n), true
}

func (e *Engine) sendEOF(c *channel, t *transaction) bool {
	if !e.startPDU(c, t, pdu.TypeDirective, cfdp.DirectiveEOF) {
		return false
	}
	eof := &e.txb.EOF
	eof.Condition = t.status.ConditionCode()
	eof.Checksum = t.crc.Sum32()
	eof.Size = t.fsize
	e.faultTLV(&eof.Fault, eof.Condition)
	pdu.EncodeEOF(&e.txb.Enc, eof)
	return e.sendPDU(c, t)
}

// sendACK acknowledges directive dc, which is EOF for receivers and FIN for senders.
func (e *Engine) sendACK(c *channel, t *transaction, dc cfdp.DirectiveCode, cc cfdp.ConditionCode) bool {
	if !e.startPDU(c, t, pdu.TypeDirective, cfdp.DirectiveACK) {
		return false
	}
	ack := &e.txb.ACK
	*ack = pdu.ACK{Directive: dc, Condition: cc, Status: cfdp.AckTxnActive}
	if dc == cfdp.DirectiveFIN {
		ack.Subtype = 1
		ack.Status = cfdp.AckTxnTerminated
	}
	pdu.EncodeACK(&e.txb.Enc, ack)
	return e.sendPDU(c, t)
}

func (e *Engine) sendFIN(c *channel, t *transaction) bool {
	if !e.startPDU(c, t, pdu.TypeDirective, cfdp.DirectiveFIN) {
		return false
	}
	fin := &e.txb.FIN
	fin.Condition = t.status.ConditionCode()
	fin.Delivery = t.finDelivery
	fin.FileStatus = t.finFileStatus
	e.faultTLV(&fin.TLVs, fin.Condition)
	pdu.EncodeFIN(&e.txb.Enc, fin)
	return e.sendPDU(c, t)
}

// sendNAK requests the metadata if it was never received and every gap of the file,
// as many as fit in one PDU.
func (e *Engine) sendNAK(c *channel, t *transaction) bool {
	if !e.startPDU(c, t, pdu.TypeDirective, cfdp.DirectiveNAK) {
		return false
	}
	nak := &e.txb.NAK
	nak.ScopeStart = 0
	nak.ScopeEnd = t.fsize
	nak.ResetSegments()
	if !t.flags.has(flagMDRecv) {
		nak.AddSegment(0, 0)
	}
	if cl := e.chunkList(t); cl != nil {
		room := pdu.SegmentsFit(&e.txb.Enc, &e.txb.Header) - len(nak.Segments())
		cl.ComputeGaps(room, t.fsize, 0, func(gap chunks.Chunk) {
			nak.AddSegment(gap.Offset, gap.Offset+gap.Size)
		})
	}
	nsegs := len(nak.Segments())
	pdu.EncodeNAK(&e.txb.Enc, nak)
	if !e.sendPDU(c, t) {
		return false
	}
	c.counters.Sent.NakSegmentRequests += uint64(nsegs)
	return true
}
