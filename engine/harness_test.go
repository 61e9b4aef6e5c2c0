package engine

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/soypat/cfdp"
	"github.com/soypat/cfdp/internal"
	"github.com/soypat/cfdp/pdu"
	"github.com/soypat/cfdp/transport"
)

const (
	testMTU      = 2048
	testQueueLen = 64
)

func testLogger() *slog.Logger {
	if !testing.Verbose() {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: internal.LevelTrace}))
}

// testConfig returns a single channel configuration where one second is one
// engine cycle so timer expirations can be counted in cycles.
func testConfig(local cfdp.EntityID, tmpDir string) Config {
	cfg := DefaultConfig()
	cfg.LocalEID = local
	cfg.TicksPerSecond = 1
	cfg.TmpDir = tmpDir
	cfg.FileChunkSize = 1000
	cc := &cfg.Channels[0]
	cc.AckTimerSec = 2
	cc.NakTimerSec = 2
	cc.InactivityTimerSec = 5
	cc.HoldTimerSec = 0
	cc.AckLimit = 2
	cc.NakLimit = 3
	return cfg
}

// testPeer plays the remote CFDP entity by hand over one end of a link.
type testPeer struct {
	t    *testing.T
	eid  cfdp.EntityID
	link *transport.Link
	rb   pdu.Buffer
	tb   pdu.Buffer
	buf  [testMTU]byte
}

// sentPDU is a copy of a PDU emitted by the engine.
type sentPDU struct {
	h    pdu.Header
	dc   cfdp.DirectiveCode
	fd   bool
	off  uint32
	data []byte
	eof  pdu.EOF
	ack  pdu.ACK
	fin  pdu.FIN
	segs []pdu.SegmentRequest
	md   pdu.Metadata
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *testPeer) {
	t.Helper()
	a, b, err := transport.NewLinkPair(len(cfg.Channels), testMTU, testQueueLen)
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(cfg, OSFilestore{}, a, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	peer := cfdp.EntityID(2)
	if cfg.LocalEID == 2 {
		peer = 1
	}
	return e, &testPeer{t: t, eid: peer, link: b}
}

// header returns the header of a PDU of transaction id travelling in dir.
func (p *testPeer) header(id TransactionID, dest cfdp.EntityID, class cfdp.Class, dir pdu.Direction) pdu.Header {
	return pdu.Header{
		Type:        pdu.TypeDirective,
		Direction:   dir,
		Class:       class,
		Source:      id.Source,
		Sequence:    id.Seq,
		Destination: dest,
	}
}

func (p *testPeer) send(h pdu.Header, dc cfdp.DirectiveCode, body func(b *pdu.Buffer)) {
	p.t.Helper()
	b := &p.tb
	b.Header = h
	b.Directive = dc
	if body != nil {
		body(b)
	}
	n, err := b.Encode(p.buf[:], 0)
	if err != nil {
		p.t.Fatal("encoding test PDU:", err)
	}
	if err := p.link.Send(0, p.buf[:n]); err != nil {
		p.t.Fatal(err)
	}
}

func (p *testPeer) sendFileData(h pdu.Header, off uint32, data []byte) {
	p.t.Helper()
	h.Type = pdu.TypeFileData
	p.send(h, 0, func(b *pdu.Buffer) {
		b.FileData = pdu.FileData{Offset: off, Data: data}
	})
}

// drain returns copies of every PDU the engine sent since the last drain.
func (p *testPeer) drain() []sentPDU {
	p.t.Helper()
	var out []sentPDU
	for {
		msg := p.link.Recv(0)
		if msg == nil {
			return out
		}
		b := &p.rb
		if err := b.Decode(msg, 0); err != nil {
			p.t.Fatal("engine sent undecodable PDU:", err)
		}
		s := sentPDU{h: b.Header, dc: b.Directive, fd: b.IsFileData()}
		switch {
		case s.fd:
			s.off = b.FileData.Offset
			s.data = bytes.Clone(b.FileData.Data)
		case s.dc == cfdp.DirectiveEOF:
			s.eof = b.EOF
		case s.dc == cfdp.DirectiveACK:
			s.ack = b.ACK
		case s.dc == cfdp.DirectiveFIN:
			s.fin = b.FIN
		case s.dc == cfdp.DirectiveNAK:
			s.segs = append(s.segs, b.NAK.Segments()...)
		case s.dc == cfdp.DirectiveMetadata:
			s.md = b.Metadata
			s.md.SourceFile = bytes.Clone(s.md.SourceFile)
			s.md.DestFile = bytes.Clone(s.md.DestFile)
		}
		out = append(out, s)
	}
}

func (s sentPDU) String() string {
	if s.fd {
		return "FD"
	}
	return s.dc.String()
}

func cycle(t *testing.T, e *Engine, n int) {
	t.Helper()
	for range n {
		e.Cycle()
		if err := e.CheckQueues(); err != nil {
			t.Fatal(err)
		}
	}
}

func writeTestFile(t *testing.T, dir, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rng := internal.NewPrand32(uint32(size))
	for i := range data {
		data[i] = byte(rng.Next())
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, data
}

func checksumOf(data []byte) uint32 {
	var ck cfdp.Checksum
	ck.Write(data)
	return ck.Sum32()
}

func lastHistory(t *testing.T, e *Engine) History {
	t.Helper()
	hist, err := e.History(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) == 0 {
		t.Fatal("no history")
	}
	return hist[len(hist)-1]
}

func expectKinds(t *testing.T, got []sentPDU, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("want PDUs %v, got %v", want, got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Fatalf("want PDUs %v, got %v", want, got)
		}
	}
}
