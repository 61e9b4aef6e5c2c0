package pdu

import (
	"errors"

	"github.com/soypat/cfdp"
)

// Type is the PDU type bit of the fixed header.
type Type uint8

const (
	TypeDirective Type = 0 // file directive PDU
	TypeFileData  Type = 1 // file data PDU
)

// Direction is the direction bit of the fixed header.
type Direction uint8

const (
	TowardReceiver Direction = 0
	TowardSender   Direction = 1
)

const (
	// Version is the protocol version written to encoded headers (CCSDS 727.0-B-5).
	Version = 1
	// MaxSegments is the maximum amount of segment requests held in a NAK.
	MaxSegments = 58
	// MaxTLV is the maximum amount of TLVs held in a TLV list.
	MaxTLV = 4
	// MaxHeaderSize is the largest possible encoded header size.
	MaxHeaderSize = sizeFixedHeader + 3*8

	sizeFixedHeader = 4
	sizeCRC         = 2
	sizeFileOffset  = 4
	sizeSegment     = 8
	maxLV           = 255
)

var (
	errShortEnvelope = errors.New("pdu: message shorter than encapsulation header")
	errShort         = errors.New("pdu: short buffer")
	errOverflow      = errors.New("pdu: encode overflow")
	errLargeFile     = errors.New("pdu: large file flag unsupported")
	errBadLength     = errors.New("pdu: declared length exceeds message")
	errBadDirective  = errors.New("pdu: unknown directive code")
	errLVTooLong     = errors.New("pdu: LV value exceeds 255 bytes")
	errSegmentCount  = errors.New("pdu: too many segment requests")
	errTLVCount      = errors.New("pdu: too many TLVs")
	errBadCRC        = cfdp.ErrBadCRC
)

// EncodedWidth returns the minimum power-of-two byte width (1, 2, 4 or 8) that can hold v.
func EncodedWidth(v uint64) uint8 {
	switch {
	case v <= 0xff:
		return 1
	case v <= 0xffff:
		return 2
	case v <= 0xffff_ffff:
		return 4
	}
	return 8
}

func boolBit(b bool, shift uint8) uint8 {
	if b {
		return 1 << shift
	}
	return 0
}
