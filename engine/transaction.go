package engine

import (
	"hash"

	"github.com/soypat/cfdp"
)

// transaction is a pool slot. idx, chanNum and digest are fixed at engine
// creation; everything else is zeroed when the slot returns to the free queue.
type transaction struct {
	id       TransactionID
	peer     cfdp.EntityID
	dir      cfdp.Direction
	class    cfdp.Class
	state    State
	sub      Substate
	status   cfdp.Status
	flags    flags
	q        queueID
	idx      int32
	chanNum  uint8
	priority uint8
	// hist, chunks and playback are arena indices, -1 when unbound.
	hist     int32
	chunks   int32
	playback int32

	file    File
	srcName string
	dstName string
	tmpName string

	fsize uint32
	// foffset is the next new data offset of a sender and the
	// validation cursor of a receiver.
	foffset  uint32
	maxOff   uint32 // end of the highest data received
	eofCRC   uint32
	eofCond  cfdp.ConditionCode
	csumType cfdp.ChecksumType
	crc      cfdp.Checksum
	digest   hash.Hash

	inactTimer timer
	ackTimer   timer
	nakTimer   timer
	holdTimer  timer
	ackCount   uint8
	nakCount   uint8

	finCond       cfdp.ConditionCode
	finDelivery   cfdp.DeliveryCode
	finFileStatus cfdp.FileStatus
}

func (t *transaction) reset() {
	*t = transaction{
		idx:      t.idx,
		chanNum:  t.chanNum,
		digest:   t.digest,
		status:   cfdp.StatusUndefined,
		hist:     -1,
		chunks:   -1,
		playback: -1,
	}
}

func (t *transaction) info() Info {
	return Info{
		ID:        t.id,
		Peer:      t.peer,
		Channel:   t.chanNum,
		Direction: t.dir,
		Class:     t.class,
		State:     t.state,
		Substate:  t.sub,
		Status:    t.status,
		Priority:  t.priority,
		Size:      t.fsize,
		Progress:  t.foffset,
		Suspended: t.flags.has(flagSuspended),
		Canceled:  t.flags.has(flagCanceled),
	}
}
