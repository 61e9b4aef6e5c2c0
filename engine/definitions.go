package engine

import (
	"errors"
	"strconv"

	"github.com/soypat/cfdp"
)

var (
	errZeroTicks        = errors.New("engine: ticks per second must be non-zero")
	errNoChannels       = errors.New("engine: no channels configured")
	errTooManyChannels  = errors.New("engine: too many channels")
	errZeroTransactions = errors.New("engine: channel needs at least one transaction")
	errZeroHistory      = errors.New("engine: channel needs at least one history entry")
	errZeroLimit        = errors.New("engine: ack and nak limits must be non-zero")
	errZeroTimer        = errors.New("engine: ack, nak and inactivity timers must be non-zero")
	errZeroBudget       = errors.New("engine: per cycle budgets must be non-zero")
	errChunkSize        = errors.New("engine: file chunk size must be non-zero")
	errBadClass         = errors.New("engine: invalid transaction class")
	errFileTooLarge     = errors.New("engine: file size exceeds 32 bit offsets")
	errNoPlayback       = errors.New("engine: no free playback slot")
	errBadEncapsulation = errors.New("engine: negative encapsulation size")
	errNilCollaborator  = errors.New("engine: nil filestore or transport")
	errLocalDest        = errors.New("engine: destination entity is the local entity")
)

// TransactionID uniquely identifies a transaction among all entities.
type TransactionID struct {
	Source cfdp.EntityID
	Seq    cfdp.TransactionSeq
}

func (id TransactionID) String() string {
	return strconv.FormatUint(uint64(id.Source), 10) + ":" + strconv.FormatUint(uint64(id.Seq), 10)
}

// State is the top level state of a transaction.
type State uint8

const (
	StateIdle State = iota // free
	StateR1                // class 1 receiver
	StateR2                // class 2 receiver
	StateS1                // class 1 sender
	StateS2                // class 2 sender
	StateHold              // finished sender answering duplicate FINs
	StateDrop              // finished receiver absorbing straggler PDUs
	numStates
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateR1:
		return "R1"
	case StateR2:
		return "R2"
	case StateS1:
		return "S1"
	case StateS2:
		return "S2"
	case StateHold:
		return "hold"
	case StateDrop:
		return "drop"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

func (s State) isReceiver() bool { return s == StateR1 || s == StateR2 }
func (s State) isSender() bool   { return s == StateS1 || s == StateS2 }

// Substate is the class specific substate of a transaction.
type Substate uint8

const (
	SubstateNone Substate = iota
	SubstateRxDataNormal
	SubstateRxDataEOF
	SubstateRxValidate
	SubstateRxFilestore
	SubstateRxFinAck
	SubstateRxComplete
	SubstateTxMetadata
	SubstateTxFileData
	SubstateTxEOF
	SubstateTxWaitEOFAck
	SubstateTxWaitFIN
	SubstateTxSendFINAck
	numSubstates
)

func (s Substate) String() string {
	switch s {
	case SubstateNone:
		return "none"
	case SubstateRxDataNormal:
		return "data-normal"
	case SubstateRxDataEOF:
		return "data-eof"
	case SubstateRxValidate:
		return "validate"
	case SubstateRxFilestore:
		return "filestore"
	case SubstateRxFinAck:
		return "fin-ack"
	case SubstateRxComplete:
		return "complete"
	case SubstateTxMetadata:
		return "metadata"
	case SubstateTxFileData:
		return "filedata"
	case SubstateTxEOF:
		return "eof"
	case SubstateTxWaitEOFAck:
		return "wait-eof-ack"
	case SubstateTxWaitFIN:
		return "wait-fin"
	case SubstateTxSendFINAck:
		return "send-fin-ack"
	}
	return "substate(" + strconv.Itoa(int(s)) + ")"
}

type flags uint32

const (
	flagMDRecv        flags = 1 << iota // metadata received
	flagEOFRecv                         // EOF received
	flagSendEOFAck                      // ACK(EOF) pending transmission
	flagSendNAK                         // NAK pending transmission
	flagSendFIN                         // FIN pending transmission
	flagSendFINAck                      // ACK(FIN) pending transmission
	flagSendEOF                         // EOF retransmission pending
	flagMDResend                        // metadata requested by NAK
	flagCanceled                        // cancel requested
	flagSuspended                       // suspended by command
	flagKeep                            // keep source file after transfer
	flagInactivityHit                   // inactivity timer expired once
	flagComplete                        // every byte received and the checksum verified
	flagFINRecv                         // FIN received
	flagDisposed                        // received file retained or discarded
	flagDigested                        // checksum and digest cover the whole file
	flagAbort                           // unrecoverable local failure, finish at next service
)

func (f flags) has(mask flags) bool { return f&mask != 0 }

// queueID names the queue that owns a transaction.
type queueID uint8

const (
	qFree queueID = iota
	qPend         // pending senders, priority sorted
	qTxA          // active senders generating file data
	qTxW          // senders waiting on the peer
	qRx           // active receivers
	qHold         // finished transactions in hold or drop state
	numQueues
)

func (q queueID) String() string {
	switch q {
	case qFree:
		return "free"
	case qPend:
		return "pend"
	case qTxA:
		return "txa"
	case qTxW:
		return "txw"
	case qRx:
		return "rx"
	case qHold:
		return "hold"
	}
	return "queue(" + strconv.Itoa(int(q)) + ")"
}

// timer counts down engine ticks. The zero value is stopped and never expires.
type timer uint32

func (tm *timer) set(ticks uint32) { *tm = timer(max(ticks, 1)) }

func (tm *timer) stop() { *tm = 0 }

// tick advances the timer one tick and reports whether it expired on this tick.
func (tm *timer) tick() bool {
	if *tm == 0 {
		return false
	}
	*tm--
	return *tm == 0
}

// Info is a snapshot of the state of a live transaction.
type Info struct {
	ID        TransactionID
	Peer      cfdp.EntityID
	Channel   uint8
	Direction cfdp.Direction
	Class     cfdp.Class
	State     State
	Substate  Substate
	Status    cfdp.Status
	Priority  uint8
	Size      uint32
	// Progress is the next new-data offset for senders and the
	// amount of validated bytes for receivers.
	Progress  uint32
	Suspended bool
	Canceled  bool
}
