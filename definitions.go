package cfdp

import "strconv"

// EntityID identifies a CFDP protocol entity (a peer).
type EntityID uint64

// TransactionSeq is the transaction sequence number assigned by the source entity.
// Together with the source [EntityID] it uniquely identifies a transaction.
type TransactionSeq uint64

// Class is the CFDP service class of a transaction.
type Class uint8

const (
	_      Class = iota
	Class1       // unacknowledged
	Class2       // acknowledged
)

func (c Class) String() string {
	switch c {
	case Class1:
		return "class1"
	case Class2:
		return "class2"
	}
	return "class(" + strconv.Itoa(int(c)) + ")"
}

// Direction is the direction of a transaction relative to the local entity.
type Direction uint8

const (
	DirectionRX Direction = iota // file flows toward the local entity
	DirectionTX                  // file flows away from the local entity
)

func (d Direction) String() string {
	if d == DirectionTX {
		return "TX"
	}
	return "RX"
}

// DirectiveCode identifies the type of a file directive PDU.
type DirectiveCode uint8

// File directive codes as per CCSDS 727.0-B-5 table 5-4.
const (
	DirectiveEOF       DirectiveCode = 4  // EOF
	DirectiveFIN       DirectiveCode = 5  // FIN
	DirectiveACK       DirectiveCode = 6  // ACK
	DirectiveMetadata  DirectiveCode = 7  // Metadata
	DirectiveNAK       DirectiveCode = 8  // NAK
	DirectivePrompt    DirectiveCode = 9  // Prompt
	DirectiveKeepAlive DirectiveCode = 12 // KeepAlive
	// DirectiveMax is one more than the largest known directive code.
	DirectiveMax DirectiveCode = 13
)

// IsValid reports whether dc is a directive code defined by the standard.
func (dc DirectiveCode) IsValid() bool {
	switch dc {
	case DirectiveEOF, DirectiveFIN, DirectiveACK, DirectiveMetadata, DirectiveNAK, DirectivePrompt, DirectiveKeepAlive:
		return true
	}
	return false
}

func (dc DirectiveCode) String() string {
	switch dc {
	case DirectiveEOF:
		return "EOF"
	case DirectiveFIN:
		return "FIN"
	case DirectiveACK:
		return "ACK"
	case DirectiveMetadata:
		return "Metadata"
	case DirectiveNAK:
		return "NAK"
	case DirectivePrompt:
		return "Prompt"
	case DirectiveKeepAlive:
		return "KeepAlive"
	}
	return "directive(" + strconv.Itoa(int(dc)) + ")"
}

// ConditionCode is the 4 bit condition code carried in EOF, FIN and ACK PDUs.
type ConditionCode uint8

// Condition codes as per CCSDS 727.0-B-5 table 5-5.
const (
	ConditionNoError                 ConditionCode = 0
	ConditionPosAckLimitReached      ConditionCode = 1
	ConditionKeepAliveLimitReached   ConditionCode = 2
	ConditionInvalidTransmissionMode ConditionCode = 3
	ConditionFilestoreRejection      ConditionCode = 4
	ConditionFileChecksumFailure     ConditionCode = 5
	ConditionFileSizeError           ConditionCode = 6
	ConditionNakLimitReached         ConditionCode = 7
	ConditionInactivityDetected      ConditionCode = 8
	ConditionInvalidFileStructure    ConditionCode = 9
	ConditionCheckLimitReached       ConditionCode = 10
	ConditionUnsupportedChecksumType ConditionCode = 11
	ConditionSuspendRequestReceived  ConditionCode = 14
	ConditionCancelRequestReceived   ConditionCode = 15
)

func (cc ConditionCode) String() string {
	switch cc {
	case ConditionNoError:
		return "NoError"
	case ConditionPosAckLimitReached:
		return "PosAckLimitReached"
	case ConditionKeepAliveLimitReached:
		return "KeepAliveLimitReached"
	case ConditionInvalidTransmissionMode:
		return "InvalidTransmissionMode"
	case ConditionFilestoreRejection:
		return "FilestoreRejection"
	case ConditionFileChecksumFailure:
		return "FileChecksumFailure"
	case ConditionFileSizeError:
		return "FileSizeError"
	case ConditionNakLimitReached:
		return "NakLimitReached"
	case ConditionInactivityDetected:
		return "InactivityDetected"
	case ConditionInvalidFileStructure:
		return "InvalidFileStructure"
	case ConditionCheckLimitReached:
		return "CheckLimitReached"
	case ConditionUnsupportedChecksumType:
		return "UnsupportedChecksumType"
	case ConditionSuspendRequestReceived:
		return "SuspendRequestReceived"
	case ConditionCancelRequestReceived:
		return "CancelRequestReceived"
	}
	return "cc(" + strconv.Itoa(int(cc)) + ")"
}

// DeliveryCode is carried in the FIN PDU and reports whether all file data was received.
type DeliveryCode uint8

const (
	DeliveryComplete   DeliveryCode = 0
	DeliveryIncomplete DeliveryCode = 1
)

func (dc DeliveryCode) String() string {
	if dc == DeliveryComplete {
		return "Complete"
	}
	return "Incomplete"
}

// FileStatus is carried in the FIN PDU and reports the disposition of the received file.
type FileStatus uint8

const (
	FileDiscarded          FileStatus = 0 // discarded deliberately
	FileDiscardedFilestore FileStatus = 1 // discarded due to filestore rejection
	FileRetained           FileStatus = 2 // retained successfully
	FileUnreported         FileStatus = 3
)

func (fs FileStatus) String() string {
	switch fs {
	case FileDiscarded:
		return "Discarded"
	case FileDiscardedFilestore:
		return "DiscardedFilestore"
	case FileRetained:
		return "Retained"
	}
	return "Unreported"
}

// AckTxnStatus is the transaction status field of an ACK PDU.
type AckTxnStatus uint8

const (
	AckTxnUndefined    AckTxnStatus = 0
	AckTxnActive       AckTxnStatus = 1
	AckTxnTerminated   AckTxnStatus = 2
	AckTxnUnrecognized AckTxnStatus = 3
)

// TLVType is the type field of a Type-Length-Value entry.
type TLVType uint8

const (
	TLVFilestoreRequest     TLVType = 0
	TLVFilestoreResponse    TLVType = 1
	TLVMessageToUser        TLVType = 2
	TLVFaultHandlerOverride TLVType = 4
	TLVFlowLabel            TLVType = 5
	TLVEntityID             TLVType = 6
)

// ChecksumType identifies the file checksum algorithm negotiated in the Metadata PDU.
type ChecksumType uint8

const (
	ChecksumModular ChecksumType = 0
	ChecksumNull    ChecksumType = 15
)
