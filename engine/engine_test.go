package engine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/soypat/cfdp"
	"github.com/soypat/cfdp/pdu"
)

func TestR2OverlappingFileData(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(2, dir))
	data := []byte("0123456789")
	dst := filepath.Join(dir, "out.bin")
	id := TransactionID{Source: 1, Seq: 7}
	h := peer.header(id, 2, cfdp.Class2, pdu.TowardReceiver)

	peer.send(h, cfdp.DirectiveMetadata, func(b *pdu.Buffer) {
		b.Metadata = pdu.Metadata{ClosureRequested: true, Size: uint32(len(data)), SourceFile: []byte("in.bin"), DestFile: []byte(dst)}
	})
	peer.sendFileData(h, 0, data[:6])
	peer.sendFileData(h, 4, data[4:])
	peer.send(h, cfdp.DirectiveEOF, func(b *pdu.Buffer) {
		b.EOF = pdu.EOF{Checksum: checksumOf(data), Size: uint32(len(data))}
	})
	cycle(t, e, 1)
	got := peer.drain()
	expectKinds(t, got, "ACK")
	if got[0].ack.Directive != cfdp.DirectiveEOF || got[0].h.Direction != pdu.TowardSender {
		t.Fatalf("bad EOF acknowledgement %+v", got[0].ack)
	}

	cycle(t, e, 1)
	got = peer.drain()
	expectKinds(t, got, "FIN")
	fin := got[0].fin
	if fin.Condition != cfdp.ConditionNoError || fin.Delivery != cfdp.DeliveryComplete || fin.FileStatus != cfdp.FileRetained {
		t.Fatalf("unexpected FIN %+v", fin)
	}
	if _, live := e.Lookup(id); !live {
		t.Fatal("transaction finished before FIN acknowledged")
	}

	peer.send(h, cfdp.DirectiveACK, func(b *pdu.Buffer) {
		b.ACK = pdu.ACK{Directive: cfdp.DirectiveFIN, Subtype: 1, Status: cfdp.AckTxnTerminated}
	})
	cycle(t, e, 1)
	if _, live := e.Lookup(id); live {
		t.Fatal("transaction still live after FIN acknowledged")
	}
	stored, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, data) {
		t.Fatalf("stored %q, want %q", stored, data)
	}
	hist := lastHistory(t, e)
	if hist.Status != cfdp.StatusNoError || hist.Delivery != cfdp.DeliveryComplete || hist.FileStatus != cfdp.FileRetained {
		t.Fatalf("unexpected history %+v", hist)
	}
	if hist.Checksum != checksumOf(data) || hist.Digest == ([32]byte{}) {
		t.Fatalf("history checksum %#x or digest not recorded", hist.Checksum)
	}
	ctr, _ := e.Counters(0)
	if ctr.Recv.FileDataBytes != 12 || ctr.Recv.PDU != 5 {
		t.Fatalf("unexpected receive counters %+v", ctr.Recv)
	}
	if !e.Idle() {
		t.Fatal("engine not idle")
	}
}

func TestS2NakRetransmission(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(1, dir))
	src, data := writeTestFile(t, dir, "src.bin", 3000)
	id, err := e.TxFile(TxRequest{Src: src, Dst: "dst.bin", Class: cfdp.Class2, Dest: 2})
	if err != nil {
		t.Fatal(err)
	}
	cycle(t, e, 1)
	got := peer.drain()
	expectKinds(t, got, "Metadata", "FD", "FD", "FD", "EOF")
	if got[0].md.Size != 3000 || string(got[0].md.DestFile) != "dst.bin" || !got[0].md.ClosureRequested {
		t.Fatalf("unexpected metadata %+v", got[0].md)
	}
	for i, fd := range got[1:4] {
		if fd.off != uint32(i*1000) || !bytes.Equal(fd.data, data[i*1000:(i+1)*1000]) {
			t.Fatalf("file data %d at offset %d mismatch", i, fd.off)
		}
	}
	if eof := got[4].eof; eof.Size != 3000 || eof.Checksum != checksumOf(data) || eof.Condition != cfdp.ConditionNoError {
		t.Fatalf("unexpected EOF %+v", eof)
	}
	info, _ := e.Lookup(id)
	if info.Substate != SubstateTxWaitEOFAck {
		t.Fatalf("want wait-eof-ack, got %s", info.Substate)
	}

	rh := peer.header(id, 2, cfdp.Class2, pdu.TowardSender)
	peer.send(rh, cfdp.DirectiveNAK, func(b *pdu.Buffer) {
		b.NAK = pdu.NAK{ScopeEnd: 3000}
		b.NAK.AddSegment(1000, 2000)
	})
	peer.send(rh, cfdp.DirectiveACK, func(b *pdu.Buffer) {
		b.ACK = pdu.ACK{Directive: cfdp.DirectiveEOF, Status: cfdp.AckTxnActive}
	})
	cycle(t, e, 1)
	got = peer.drain()
	expectKinds(t, got, "FD")
	if got[0].off != 1000 || !bytes.Equal(got[0].data, data[1000:2000]) {
		t.Fatalf("retransmitted offset %d len %d, want 1000 len 1000", got[0].off, len(got[0].data))
	}
	ctr, _ := e.Counters(0)
	if ctr.Recv.NakSegmentRequests != 1 || ctr.Sent.Retransmitted != 1 {
		t.Fatalf("unexpected counters recv=%+v sent=%+v", ctr.Recv, ctr.Sent)
	}

	peer.send(rh, cfdp.DirectiveFIN, func(b *pdu.Buffer) {
		b.FIN = pdu.FIN{Delivery: cfdp.DeliveryComplete, FileStatus: cfdp.FileRetained}
	})
	cycle(t, e, 1)
	got = peer.drain()
	expectKinds(t, got, "ACK")
	if got[0].ack.Directive != cfdp.DirectiveFIN || got[0].ack.Status != cfdp.AckTxnTerminated {
		t.Fatalf("unexpected FIN acknowledgement %+v", got[0].ack)
	}
	hist := lastHistory(t, e)
	if hist.Status != cfdp.StatusNoError || hist.FileStatus != cfdp.FileRetained {
		t.Fatalf("unexpected history %+v", hist)
	}
	// Source files not kept are removed after a successful send.
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("source file not removed: %v", err)
	}
}

func TestS2InvalidNakSegments(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(1, dir))
	src, _ := writeTestFile(t, dir, "src.bin", 3000)
	id, err := e.TxFile(TxRequest{Src: src, Dst: "dst.bin", Class: cfdp.Class2, Dest: 2, Keep: true})
	if err != nil {
		t.Fatal(err)
	}
	cycle(t, e, 1)
	peer.drain()

	rh := peer.header(id, 2, cfdp.Class2, pdu.TowardSender)
	peer.send(rh, cfdp.DirectiveNAK, func(b *pdu.Buffer) {
		b.NAK = pdu.NAK{ScopeEnd: 3000}
		b.NAK.AddSegment(2000, 1000) // inverted
		b.NAK.AddSegment(2500, 4000) // past end of file
		b.NAK.AddSegment(0, 0)
	})
	cycle(t, e, 1)
	expectKinds(t, peer.drain(), "Metadata")
	ctr, _ := e.Counters(0)
	if ctr.Recv.Error != 2 || ctr.Recv.NakSegmentRequests != 3 || ctr.Sent.Retransmitted != 0 {
		t.Fatalf("unexpected counters recv=%+v sent=%+v", ctr.Recv, ctr.Sent)
	}
	info, ok := e.Lookup(id)
	if !ok || info.Substate != SubstateTxWaitEOFAck || info.Status.IsError() {
		t.Fatalf("transaction should still await the EOF acknowledgement: %+v", info)
	}
}

func TestR1Inactivity(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(2, dir)
	e, peer := newTestEngine(t, cfg)
	dst := filepath.Join(dir, "partial.bin")
	id := TransactionID{Source: 1, Seq: 3}
	h := peer.header(id, 2, cfdp.Class1, pdu.TowardReceiver)
	peer.send(h, cfdp.DirectiveMetadata, func(b *pdu.Buffer) {
		b.Metadata = pdu.Metadata{Size: 100, SourceFile: []byte("x"), DestFile: []byte(dst)}
	})
	peer.sendFileData(h, 0, make([]byte, 40))
	inactivity := int(cfg.Channels[0].InactivityTimerSec)
	cycle(t, e, inactivity-1)
	if _, live := e.Lookup(id); !live {
		t.Fatal("transaction finished before inactivity timeout")
	}
	cycle(t, e, 1)
	if _, live := e.Lookup(id); live {
		t.Fatal("transaction live after inactivity timeout")
	}
	if got := peer.drain(); len(got) != 0 {
		t.Fatalf("class 1 receiver sent %v", got)
	}
	hist := lastHistory(t, e)
	if hist.Status != cfdp.StatusInactivityDetected {
		t.Fatalf("want inactivity status, got %s", hist.Status)
	}
	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial file not discarded: %v", err)
	}
	ctr, _ := e.Counters(0)
	if ctr.Fault.Inactivity != 1 {
		t.Fatalf("want 1 inactivity fault, got %d", ctr.Fault.Inactivity)
	}
}

func TestS2AckLimit(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(1, dir))
	src, _ := writeTestFile(t, dir, "src.bin", 100)
	id, err := e.TxFile(TxRequest{Src: src, Dst: "dst.bin", Class: cfdp.Class2, Dest: 2})
	if err != nil {
		t.Fatal(err)
	}
	cycle(t, e, 1)
	expectKinds(t, peer.drain(), "Metadata", "FD", "EOF")
	// Ack timer of 2 cycles and ack limit of 2: one retransmission, then give up.
	cycle(t, e, 2)
	expectKinds(t, peer.drain(), "EOF")
	cycle(t, e, 1)
	if _, live := e.Lookup(id); !live {
		t.Fatal("transaction finished early")
	}
	cycle(t, e, 1)
	if _, live := e.Lookup(id); live {
		t.Fatal("transaction live after ack limit")
	}
	if got := peer.drain(); len(got) != 0 {
		t.Fatalf("unexpected PDUs after ack limit %v", got)
	}
	hist := lastHistory(t, e)
	if hist.Status != cfdp.StatusAckLimitNoEOF {
		t.Fatalf("want ack limit status, got %s", hist.Status)
	}
	ctr, _ := e.Counters(0)
	if ctr.Fault.AckLimit != 1 {
		t.Fatalf("want 1 ack limit fault, got %d", ctr.Fault.AckLimit)
	}
	// Failed sends keep their source file.
	if _, err := os.Stat(src); err != nil {
		t.Fatal(err)
	}
}

func TestS2Cancel(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(1, dir))
	src, _ := writeTestFile(t, dir, "src.bin", 100)
	id, _ := e.TxFile(TxRequest{Src: src, Dst: "dst.bin", Class: cfdp.Class2, Dest: 2, Keep: true})
	cycle(t, e, 1)
	peer.drain()
	if err := e.Cancel(id); err != nil {
		t.Fatal(err)
	}
	cycle(t, e, 1)
	got := peer.drain()
	expectKinds(t, got, "EOF")
	if got[0].eof.Condition != cfdp.ConditionCancelRequestReceived || got[0].eof.Fault.Len() != 1 {
		t.Fatalf("unexpected cancel EOF %+v", got[0].eof)
	}
	if tlv := got[0].eof.Fault.At(0); tlv.EntityID() != 1 {
		t.Fatalf("fault location %d, want 1", tlv.EntityID())
	}
	rh := peer.header(id, 2, cfdp.Class2, pdu.TowardSender)
	peer.send(rh, cfdp.DirectiveACK, func(b *pdu.Buffer) {
		b.ACK = pdu.ACK{Directive: cfdp.DirectiveEOF, Condition: cfdp.ConditionCancelRequestReceived}
	})
	cycle(t, e, 1)
	if _, live := e.Lookup(id); live {
		t.Fatal("canceled transaction still live")
	}
	if hist := lastHistory(t, e); hist.Status != cfdp.StatusCancelRequestReceived {
		t.Fatalf("want cancel status, got %s", hist.Status)
	}
	if err := e.Cancel(id); err != cfdp.ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCancelPending(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(1, dir))
	id, err := e.TxFile(TxRequest{Src: filepath.Join(dir, "missing"), Dst: "x", Class: cfdp.Class1, Dest: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Cancel(id); err != nil {
		t.Fatal(err)
	}
	if err := e.CheckQueues(); err != nil {
		t.Fatal(err)
	}
	cycle(t, e, 1)
	if got := peer.drain(); len(got) != 0 {
		t.Fatalf("canceled pending transaction sent %v", got)
	}
	if !e.Idle() {
		t.Fatal("engine not idle")
	}
}

func TestMissingSourceFile(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(1, dir))
	id, _ := e.TxFile(TxRequest{Src: filepath.Join(dir, "missing"), Dst: "x", Class: cfdp.Class2, Dest: 2})
	cycle(t, e, 1)
	if _, live := e.Lookup(id); live {
		t.Fatal("transaction with missing source is live")
	}
	if got := peer.drain(); len(got) != 0 {
		t.Fatalf("unexpected PDUs %v", got)
	}
	ctr, _ := e.Counters(0)
	if ctr.Fault.FileOpen != 1 {
		t.Fatalf("want 1 file open fault, got %d", ctr.Fault.FileOpen)
	}
	if hist := lastHistory(t, e); hist.Status != cfdp.StatusFilestoreRejection {
		t.Fatalf("want filestore rejection, got %s", hist.Status)
	}
}

func TestResourceExhaustion(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(1, dir)
	cfg.Channels[0].MaxTransactions = 2
	cfg.Channels[0].ChunkListsTx = 1
	e, _ := newTestEngine(t, cfg)
	req := TxRequest{Src: "a", Dst: "b", Class: cfdp.Class2, Dest: 2}
	if _, err := e.TxFile(req); err != nil {
		t.Fatal(err)
	}
	// Chunk lists exhausted: class 2 fails, class 1 needs none.
	if _, err := e.TxFile(req); err != cfdp.ErrNoResource {
		t.Fatalf("want ErrNoResource, got %v", err)
	}
	if err := e.CheckQueues(); err != nil {
		t.Fatal(err)
	}
	req.Class = cfdp.Class1
	if _, err := e.TxFile(req); err != nil {
		t.Fatal(err)
	}
	if _, err := e.TxFile(req); err != cfdp.ErrNoResource {
		t.Fatalf("want ErrNoResource, got %v", err)
	}
	ctr, _ := e.Counters(0)
	if ctr.Fault.NoResource != 2 {
		t.Fatalf("want 2 no resource faults, got %d", ctr.Fault.NoResource)
	}
	if err := e.CheckQueues(); err != nil {
		t.Fatal(err)
	}
}

func TestReceiveNoResource(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(2, dir)
	cfg.Channels[0].MaxTransactions = 1
	e, peer := newTestEngine(t, cfg)
	for seq := range 2 {
		h := peer.header(TransactionID{Source: 1, Seq: cfdp.TransactionSeq(seq)}, 2, cfdp.Class1, pdu.TowardReceiver)
		peer.send(h, cfdp.DirectiveMetadata, func(b *pdu.Buffer) {
			b.Metadata = pdu.Metadata{Size: 1, SourceFile: []byte("a"), DestFile: []byte(filepath.Join(dir, "b"))}
		})
	}
	cycle(t, e, 1)
	ctr, _ := e.Counters(0)
	if ctr.Fault.NoResource != 1 || ctr.Recv.Dropped != 1 {
		t.Fatalf("unexpected counters %+v", ctr)
	}
}

func TestPendingPriority(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(1, t.TempDir()))
	for _, prio := range []uint8{5, 1, 3, 1} {
		_, err := e.TxFile(TxRequest{Src: "a", Dst: "b", Class: cfdp.Class1, Dest: 2, Priority: prio})
		if err != nil {
			t.Fatal(err)
		}
	}
	infos, err := e.Transactions(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		prio uint8
		seq  cfdp.TransactionSeq
	}{{1, 2}, {1, 4}, {3, 3}, {5, 1}}
	if len(infos) != len(want) {
		t.Fatalf("want %d transactions, got %d", len(want), len(infos))
	}
	for i, w := range want {
		if infos[i].Priority != w.prio || infos[i].ID.Seq != w.seq {
			t.Errorf("position %d: got prio=%d seq=%d, want prio=%d seq=%d", i, infos[i].Priority, infos[i].ID.Seq, w.prio, w.seq)
		}
	}
}

func TestFreeze(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(1, dir))
	src, _ := writeTestFile(t, dir, "src.bin", 10)
	if err := e.Freeze(0); err != nil {
		t.Fatal(err)
	}
	e.TxFile(TxRequest{Src: src, Dst: "d", Class: cfdp.Class1, Dest: 2, Keep: true})
	cycle(t, e, 3)
	if got := peer.drain(); len(got) != 0 {
		t.Fatalf("frozen channel sent %v", got)
	}
	e.Thaw(0)
	cycle(t, e, 1)
	expectKinds(t, peer.drain(), "Metadata", "FD", "EOF")
	if err := e.Freeze(1); err != cfdp.ErrInvalidChannel {
		t.Fatalf("want ErrInvalidChannel, got %v", err)
	}
}

func TestSuspendResume(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(1, dir))
	src, _ := writeTestFile(t, dir, "src.bin", 10)
	id, _ := e.TxFile(TxRequest{Src: src, Dst: "d", Class: cfdp.Class1, Dest: 2, Keep: true})
	if err := e.Suspend(id); err != nil {
		t.Fatal(err)
	}
	cycle(t, e, 2)
	if got := peer.drain(); len(got) != 0 {
		t.Fatalf("suspended transaction sent %v", got)
	}
	info, _ := e.Lookup(id)
	if !info.Suspended {
		t.Fatal("suspension not reported")
	}
	e.Resume(id)
	cycle(t, e, 1)
	expectKinds(t, peer.drain(), "Metadata", "FD", "EOF")
}

func TestSpuriousAndMalformed(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(2, dir))
	// ACK of an unknown transaction cannot start one.
	h := peer.header(TransactionID{Source: 1, Seq: 9}, 2, cfdp.Class2, pdu.TowardReceiver)
	peer.send(h, cfdp.DirectiveACK, func(b *pdu.Buffer) {
		b.ACK = pdu.ACK{Directive: cfdp.DirectiveFIN, Subtype: 1}
	})
	// Class 1 file data without metadata is dropped.
	h.Class = cfdp.Class1
	peer.sendFileData(h, 0, []byte{1})
	// PDU addressed to another entity.
	h.Destination = 7
	peer.send(h, cfdp.DirectiveMetadata, func(b *pdu.Buffer) {
		b.Metadata = pdu.Metadata{SourceFile: []byte("a"), DestFile: []byte("b")}
	})
	peer.link.Send(0, []byte{0xff, 0x00})
	cycle(t, e, 1)
	ctr, _ := e.Counters(0)
	want := RecvCounters{PDU: 3, Error: 1, Spurious: 2, Dropped: 1}
	if ctr.Recv != want {
		t.Fatalf("got %+v, want %+v", ctr.Recv, want)
	}
	if !e.Idle() {
		t.Fatal("spurious PDU started a transaction")
	}
}

func TestConfigValidate(t *testing.T) {
	for _, test := range []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"default", func(*Config) {}, nil},
		{"ticks", func(c *Config) { c.TicksPerSecond = 0 }, errZeroTicks},
		{"channels", func(c *Config) { c.Channels = nil }, errNoChannels},
		{"chunk", func(c *Config) { c.FileChunkSize = 0 }, errChunkSize},
		{"txns", func(c *Config) { c.Channels[0].MaxTransactions = 0 }, errZeroTransactions},
		{"history", func(c *Config) { c.Channels[0].MaxHistory = 0 }, errZeroHistory},
		{"limit", func(c *Config) { c.Channels[0].NakLimit = 0 }, errZeroLimit},
		{"timer", func(c *Config) { c.Channels[0].AckTimerSec = 0 }, errZeroTimer},
		{"budget", func(c *Config) { c.Channels[0].MaxOutgoingPerCycle = 0 }, errZeroBudget},
		{"encap", func(c *Config) { c.Channels[0].EncapsulationSize = -1 }, errBadEncapsulation},
		{"poll_class", func(c *Config) {
			c.Channels[0].PollDirs = []PollDir{{Enabled: true, Class: 3}}
		}, errBadClass},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.modify(&cfg)
			if err := cfg.Validate(); err != test.want {
				t.Fatalf("want %v, got %v", test.want, err)
			}
		})
	}
}

func TestTimer(t *testing.T) {
	var tm timer
	if tm.tick() {
		t.Fatal("stopped timer expired")
	}
	tm.set(0)
	if !tm.tick() {
		t.Fatal("zero duration timer did not expire on first tick")
	}
	tm.set(3)
	for i := range 2 {
		if tm.tick() {
			t.Fatalf("expired early at tick %d", i)
		}
	}
	if !tm.tick() || tm.tick() {
		t.Fatal("timer must expire exactly once")
	}
}

func TestS2CancelDropsRetransmissions(t *testing.T) {
	for _, suspended := range []bool{false, true} {
		name := "nak_same_cycle"
		if suspended {
			name = "nak_while_suspended"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			e, peer := newTestEngine(t, testConfig(1, dir))
			src, _ := writeTestFile(t, dir, "src.bin", 3000)
			id, err := e.TxFile(TxRequest{Src: src, Dst: "dst.bin", Class: cfdp.Class2, Dest: 2, Keep: true})
			if err != nil {
				t.Fatal(err)
			}
			cycle(t, e, 1)
			expectKinds(t, peer.drain(), "Metadata", "FD", "FD", "FD", "EOF")

			rh := peer.header(id, 2, cfdp.Class2, pdu.TowardSender)
			peer.send(rh, cfdp.DirectiveNAK, func(b *pdu.Buffer) {
				b.NAK = pdu.NAK{ScopeEnd: 3000}
				b.NAK.AddSegment(0, 0)
				b.NAK.AddSegment(0, 3000)
			})
			if suspended {
				// Requests are recorded but not serviced while suspended.
				e.Suspend(id)
				cycle(t, e, 1)
				if got := peer.drain(); len(got) != 0 {
					t.Fatalf("suspended sender sent %v", got)
				}
			}
			if err := e.Cancel(id); err != nil {
				t.Fatal(err)
			}
			e.Resume(id)
			cycle(t, e, 1)
			got := peer.drain()
			expectKinds(t, got, "EOF")
			if got[0].eof.Condition != cfdp.ConditionCancelRequestReceived {
				t.Fatalf("want cancel EOF, got %+v", got[0].eof)
			}
			cycle(t, e, 1)
			if got := peer.drain(); len(got) != 0 {
				t.Fatalf("canceled sender sent %v after EOF", got)
			}
			ctr, _ := e.Counters(0)
			if ctr.Sent.Retransmitted != 0 {
				t.Fatalf("canceled sender retransmitted %d PDUs", ctr.Sent.Retransmitted)
			}
			peer.send(rh, cfdp.DirectiveACK, func(b *pdu.Buffer) {
				b.ACK = pdu.ACK{Directive: cfdp.DirectiveEOF, Condition: cfdp.ConditionCancelRequestReceived}
			})
			cycle(t, e, 1)
			if hist := lastHistory(t, e); hist.Status != cfdp.StatusCancelRequestReceived {
				t.Fatalf("want cancel status, got %s", hist.Status)
			}
		})
	}
}

// r2Start sends the metadata, the file data in parts and the EOF of a class 2
// transaction from the peer. eofCRC is the checksum announced by the EOF.
func r2Start(peer *testPeer, h pdu.Header, dst string, size uint32, parts [][2]uint32, data []byte, eofCRC uint32) {
	peer.send(h, cfdp.DirectiveMetadata, func(b *pdu.Buffer) {
		b.Metadata = pdu.Metadata{ClosureRequested: true, Size: size, SourceFile: []byte("in.bin"), DestFile: []byte(dst)}
	})
	for _, p := range parts {
		peer.sendFileData(h, p[0], data[p[0]:p[1]])
	}
	peer.send(h, cfdp.DirectiveEOF, func(b *pdu.Buffer) {
		b.EOF = pdu.EOF{Checksum: eofCRC, Size: size}
	})
}

func TestR2ChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(2, dir))
	data := []byte("checksum mismatch")
	dst := filepath.Join(dir, "out.bin")
	id := TransactionID{Source: 1, Seq: 11}
	h := peer.header(id, 2, cfdp.Class2, pdu.TowardReceiver)
	size := uint32(len(data))
	r2Start(peer, h, dst, size, [][2]uint32{{0, size}}, data, checksumOf(data)+1)

	cycle(t, e, 1)
	expectKinds(t, peer.drain(), "ACK")
	tmp := filepath.Join(dir, "cfdp-1-11.tmp")
	if _, err := os.Stat(tmp); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temporary file not discarded: %v", err)
	}
	cycle(t, e, 1)
	got := peer.drain()
	expectKinds(t, got, "FIN")
	fin := got[0].fin
	if fin.Condition != cfdp.ConditionFileChecksumFailure || fin.Delivery != cfdp.DeliveryIncomplete || fin.FileStatus != cfdp.FileDiscarded {
		t.Fatalf("unexpected FIN %+v", fin)
	}
	if tlv, ok := fin.TLVs.Find(cfdp.TLVEntityID); !ok || tlv.EntityID() != 2 {
		t.Fatal("FIN missing fault location")
	}
	peer.send(h, cfdp.DirectiveACK, func(b *pdu.Buffer) {
		b.ACK = pdu.ACK{Directive: cfdp.DirectiveFIN, Subtype: 1, Condition: fin.Condition, Status: cfdp.AckTxnTerminated}
	})
	cycle(t, e, 1)
	if _, live := e.Lookup(id); live {
		t.Fatal("transaction live after FIN acknowledged")
	}
	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file with bad checksum retained: %v", err)
	}
	hist := lastHistory(t, e)
	if hist.Status != cfdp.StatusFileChecksumFailure || hist.Delivery != cfdp.DeliveryIncomplete {
		t.Fatalf("unexpected history %+v", hist)
	}
	ctr, _ := e.Counters(0)
	if ctr.Fault.ChecksumMismatch != 1 {
		t.Fatalf("want 1 checksum fault, got %d", ctr.Fault.ChecksumMismatch)
	}
}

func TestR2NakLimit(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(2, dir)
	cfg.Channels[0].InactivityTimerSec = 30
	e, peer := newTestEngine(t, cfg)
	_, data := writeTestFile(t, dir, "ref.bin", 3000)
	dst := filepath.Join(dir, "out.bin")
	id := TransactionID{Source: 1, Seq: 12}
	h := peer.header(id, 2, cfdp.Class2, pdu.TowardReceiver)
	r2Start(peer, h, dst, 3000, [][2]uint32{{0, 1000}}, data, checksumOf(data))

	cycle(t, e, 1)
	got := peer.drain()
	expectKinds(t, got, "ACK", "NAK")
	if len(got[1].segs) != 1 || got[1].segs[0] != (pdu.SegmentRequest{Start: 1000, End: 3000}) {
		t.Fatalf("unexpected NAK segments %v", got[1].segs)
	}
	// Nak timer of 2 cycles and nak limit of 3: two more NAKs, then FIN.
	cycle(t, e, 7)
	got = peer.drain()
	expectKinds(t, got, "NAK", "NAK", "FIN")
	fin := got[2].fin
	if fin.Condition != cfdp.ConditionNakLimitReached || fin.Delivery != cfdp.DeliveryIncomplete || fin.FileStatus != cfdp.FileDiscarded {
		t.Fatalf("unexpected FIN %+v", fin)
	}
	peer.send(h, cfdp.DirectiveACK, func(b *pdu.Buffer) {
		b.ACK = pdu.ACK{Directive: cfdp.DirectiveFIN, Subtype: 1, Condition: fin.Condition, Status: cfdp.AckTxnTerminated}
	})
	cycle(t, e, 1)
	if _, live := e.Lookup(id); live {
		t.Fatal("transaction live after FIN acknowledged")
	}
	if hist := lastHistory(t, e); hist.Status != cfdp.StatusNakLimitReached {
		t.Fatalf("want nak limit status, got %s", hist.Status)
	}
	ctr, _ := e.Counters(0)
	if ctr.Fault.NakLimit != 1 || ctr.Sent.NakSegmentRequests != 3 {
		t.Fatalf("unexpected counters fault=%+v sent=%+v", ctr.Fault, ctr.Sent)
	}
	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("incomplete file retained: %v", err)
	}
}

func TestR2FinAckLimit(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(2, dir)
	cfg.Channels[0].InactivityTimerSec = 30
	e, peer := newTestEngine(t, cfg)
	data := []byte("never acknowledged")
	dst := filepath.Join(dir, "out.bin")
	id := TransactionID{Source: 1, Seq: 13}
	h := peer.header(id, 2, cfdp.Class2, pdu.TowardReceiver)
	size := uint32(len(data))
	r2Start(peer, h, dst, size, [][2]uint32{{0, size}}, data, checksumOf(data))

	cycle(t, e, 1)
	expectKinds(t, peer.drain(), "ACK")
	cycle(t, e, 1)
	expectKinds(t, peer.drain(), "FIN")
	// Ack timer of 2 cycles and ack limit of 2: one FIN retransmission, then give up.
	cycle(t, e, 2)
	expectKinds(t, peer.drain(), "FIN")
	cycle(t, e, 1)
	if _, live := e.Lookup(id); !live {
		t.Fatal("transaction finished early")
	}
	cycle(t, e, 1)
	if _, live := e.Lookup(id); live {
		t.Fatal("transaction live after ack limit")
	}
	if got := peer.drain(); len(got) != 0 {
		t.Fatalf("unexpected PDUs after ack limit %v", got)
	}
	hist := lastHistory(t, e)
	if hist.Status != cfdp.StatusAckLimitNoFIN || hist.FileStatus != cfdp.FileRetained {
		t.Fatalf("unexpected history %+v", hist)
	}
	ctr, _ := e.Counters(0)
	if ctr.Fault.AckLimit != 1 {
		t.Fatalf("want 1 ack limit fault, got %d", ctr.Fault.AckLimit)
	}
}

func TestS2EarlyFIN(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(1, dir)
	cfg.Channels[0].MaxOutgoingPerCycle = 1
	e, peer := newTestEngine(t, cfg)
	src, _ := writeTestFile(t, dir, "src.bin", 3000)
	id, err := e.TxFile(TxRequest{Src: src, Dst: "dst.bin", Class: cfdp.Class2, Dest: 2})
	if err != nil {
		t.Fatal(err)
	}
	cycle(t, e, 1)
	expectKinds(t, peer.drain(), "Metadata")

	rh := peer.header(id, 2, cfdp.Class2, pdu.TowardSender)
	peer.send(rh, cfdp.DirectiveFIN, func(b *pdu.Buffer) {
		b.FIN = pdu.FIN{Delivery: cfdp.DeliveryIncomplete, FileStatus: cfdp.FileDiscarded}
	})
	cycle(t, e, 1)
	got := peer.drain()
	expectKinds(t, got, "ACK")
	if got[0].ack.Directive != cfdp.DirectiveFIN {
		t.Fatalf("unexpected acknowledgement %+v", got[0].ack)
	}
	if _, live := e.Lookup(id); live {
		t.Fatal("transaction live after early FIN")
	}
	hist := lastHistory(t, e)
	if hist.Status != cfdp.StatusEarlyFIN || hist.FileStatus != cfdp.FileDiscarded {
		t.Fatalf("unexpected history %+v", hist)
	}
	// Unsuccessful sends keep their source file.
	if _, err := os.Stat(src); err != nil {
		t.Fatal(err)
	}
}

func TestAbandon(t *testing.T) {
	dir := t.TempDir()
	e, peer := newTestEngine(t, testConfig(1, dir))
	src, _ := writeTestFile(t, dir, "src.bin", 100)
	id, err := e.TxFile(TxRequest{Src: src, Dst: "dst.bin", Class: cfdp.Class2, Dest: 2})
	if err != nil {
		t.Fatal(err)
	}
	cycle(t, e, 1)
	expectKinds(t, peer.drain(), "Metadata", "FD", "EOF")

	// A receive transaction from the peer, still missing its EOF.
	rid := TransactionID{Source: 2, Seq: 9}
	h := peer.header(rid, 1, cfdp.Class2, pdu.TowardReceiver)
	peer.send(h, cfdp.DirectiveMetadata, func(b *pdu.Buffer) {
		b.Metadata = pdu.Metadata{ClosureRequested: true, Size: 50, SourceFile: []byte("in.bin"), DestFile: []byte(filepath.Join(dir, "in.bin"))}
	})
	peer.sendFileData(h, 0, make([]byte, 20))
	cycle(t, e, 1)
	if got := peer.drain(); len(got) != 0 {
		t.Fatalf("unexpected PDUs %v", got)
	}
	tmp := filepath.Join(dir, "cfdp-2-9.tmp")
	if _, err := os.Stat(tmp); err != nil {
		t.Fatal(err)
	}

	for _, txn := range []TransactionID{id, rid} {
		if err := e.Abandon(txn); err != nil {
			t.Fatal(err)
		}
		if _, live := e.Lookup(txn); live {
			t.Fatalf("%s live after abandon", txn)
		}
		if err := e.Abandon(txn); err != cfdp.ErrNotFound {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	}
	if err := e.CheckQueues(); err != nil {
		t.Fatal(err)
	}
	cycle(t, e, 3)
	if got := peer.drain(); len(got) != 0 {
		t.Fatalf("abandoned transactions sent %v", got)
	}
	hist, _ := e.History(0, nil)
	if len(hist) != 2 || hist[0].ID != id || hist[1].ID != rid {
		t.Fatalf("unexpected history %+v", hist)
	}
	for _, h := range hist {
		if h.Status != cfdp.StatusCancelRequestReceived {
			t.Fatalf("%s: want cancel status, got %s", h.ID, h.Status)
		}
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatal("abandoned send removed its source file")
	}
	if _, err := os.Stat(tmp); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("abandoned receive kept its temporary file: %v", err)
	}
	if !e.Idle() {
		t.Fatal("engine not idle")
	}
}
