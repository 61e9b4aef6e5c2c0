package engine

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/soypat/cfdp"
)

// History is the transcript of a transaction. Entries of finished transactions
// are kept in a bounded per-channel ring where the oldest entry is recycled first.
type History struct {
	ID        TransactionID
	Peer      cfdp.EntityID
	Direction cfdp.Direction
	Class     cfdp.Class
	SrcFile   string
	DstFile   string
	Size      uint32
	Status    cfdp.Status
	// Checksum is the CCSDS modular checksum of the file.
	Checksum uint32
	// Digest is the BLAKE2b-256 digest of the file contents, computed
	// alongside the checksum. It is zero for transactions that never
	// read their whole file.
	Digest [blake2b.Size256]byte
	// Delivery and FileStatus are those reported by the FIN PDU sent or received.
	Delivery   cfdp.DeliveryCode
	FileStatus cfdp.FileStatus
	Completed  bool
}

func (h *History) digestHex() string { return hex.EncodeToString(h.Digest[:]) }

// History appends the archived history of channel ch to dst, oldest first.
func (e *Engine) History(ch int, dst []History) ([]History, error) {
	c, err := e.channel(ch)
	if err != nil {
		return dst, err
	}
	l := &c.histArchive
	for i, ok := l.Front(); ok; i, ok = l.Next(&e.histLinks, i) {
		dst = append(dst, e.hist[i])
	}
	return dst, nil
}

func (e *Engine) historyOf(t *transaction) *History {
	if t.hist < 0 {
		return nil
	}
	return &e.hist[t.hist]
}
