package engine

import (
	"log/slog"

	"github.com/soypat/cfdp"
	"github.com/soypat/cfdp/internal"
	"github.com/soypat/cfdp/pdu"
)

type (
	recvHandler    func(e *Engine, c *channel, t *transaction, b *pdu.Buffer)
	directiveTable [numSubstates][cfdp.DirectiveMax]recvHandler
	sendHandler    func(e *Engine, c *channel, t *transaction) (sent, ok bool)
)

// Dispatch tables are populated in init since handlers reach back into them.
var (
	recvDispatch      [numStates]recvHandler
	r1Directives      directiveTable
	r2Directives      directiveTable
	s2Directives      directiveTable
	txNewDataDispatch [numSubstates]sendHandler
)

func init() {
	recvDispatch = [numStates]recvHandler{
		StateR1:   (*Engine).recvR1,
		StateR2:   (*Engine).recvR2,
		StateS1:   (*Engine).recvS1,
		StateS2:   (*Engine).recvS2,
		StateHold: (*Engine).recvHold,
		StateDrop: (*Engine).recvDrop,
	}

	r1Directives[SubstateRxDataNormal][cfdp.DirectiveMetadata] = (*Engine).r1Metadata
	r1Directives[SubstateRxDataNormal][cfdp.DirectiveEOF] = (*Engine).r1EOF

	for _, sub := range []Substate{SubstateRxDataNormal, SubstateRxDataEOF} {
		r2Directives[sub][cfdp.DirectiveMetadata] = (*Engine).r2Metadata
	}
	for sub := SubstateRxDataNormal; sub <= SubstateRxFinAck; sub++ {
		r2Directives[sub][cfdp.DirectiveEOF] = (*Engine).r2EOF
	}
	r2Directives[SubstateRxFinAck][cfdp.DirectiveACK] = (*Engine).r2FinAck

	for sub := SubstateTxMetadata; sub <= SubstateTxSendFINAck; sub++ {
		s2Directives[sub][cfdp.DirectiveFIN] = (*Engine).s2FIN
		if sub <= SubstateTxWaitFIN {
			s2Directives[sub][cfdp.DirectiveNAK] = (*Engine).s2NAK
		}
	}
	s2Directives[SubstateTxWaitEOFAck][cfdp.DirectiveACK] = (*Engine).s2EOFAck

	txNewDataDispatch[SubstateTxMetadata] = (*Engine).txMetadata
	txNewDataDispatch[SubstateTxFileData] = (*Engine).txFileData
	txNewDataDispatch[SubstateTxEOF] = (*Engine).txEOF
}

// dispatchDirective routes a directive PDU through the substate table of the
// transaction's class. Directives with no handler are counted as spurious.
func (e *Engine) dispatchDirective(tbl *directiveTable, c *channel, t *transaction, b *pdu.Buffer) {
	var fn recvHandler
	if t.sub < numSubstates && b.Directive < cfdp.DirectiveMax {
		fn = tbl[t.sub][b.Directive]
	}
	if fn == nil {
		c.counters.Recv.Spurious++
		e.trace("engine:spurious", internal.SlogTxn("txn", uint64(t.id.Source), uint64(t.id.Seq)),
			slog.String("sub", t.sub.String()), slog.String("directive", b.Directive.String()))
		return
	}
	fn(e, c, t, b)
}

// recvMsg decodes one inbound message and routes it to its transaction,
// starting a new receive transaction if it belongs to none.
func (e *Engine) recvMsg(c *channel, msg []byte) {
	b := &e.rxb
	if err := b.Decode(msg, c.cfg.EncapsulationSize); err != nil {
		c.counters.Recv.Error++
		e.debug("engine:rx-decode", slog.Int("ch", int(c.num)), slog.String("err", err.Error()))
		return
	}
	c.counters.Recv.PDU++
	h := &b.Header
	id := TransactionID{Source: h.Source, Seq: h.Sequence}
	t := e.findTxn(c, id)
	if t == nil {
		t = e.newReceive(c, b)
		if t == nil {
			return
		}
	} else if (t.dir == cfdp.DirectionRX) != (h.Direction == pdu.TowardReceiver) {
		c.counters.Recv.Spurious++
		return
	}
	if t.state != StateHold && t.state != StateDrop {
		t.inactTimer.set(e.cfg.ticks(c.cfg.InactivityTimerSec))
	}
	if e.tracing() {
		if b.IsFileData() {
			e.trace("engine:rx-pdu", internal.SlogTxn("txn", uint64(id.Source), uint64(id.Seq)),
				slog.Uint64("off", uint64(b.FileData.Offset)), slog.Int("len", len(b.FileData.Data)))
		} else {
			e.trace("engine:rx-pdu", internal.SlogTxn("txn", uint64(id.Source), uint64(id.Seq)),
				slog.String("directive", b.Directive.String()))
		}
	}
	if fn := recvDispatch[t.state]; fn != nil {
		fn(e, c, t, b)
	}
}
