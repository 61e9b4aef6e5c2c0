package pdu

import (
	"encoding/binary"

	"github.com/soypat/cfdp"
)

// Header is the logical representation of the PDU fixed and variable header.
type Header struct {
	Version   uint8
	Type      Type
	Direction Direction
	Class     cfdp.Class
	// CRC is set when the PDU carries a trailing CRC-16.
	CRC bool
	// LargeFile is decoded for completeness; large file PDUs are rejected.
	LargeFile bool
	// DataLength is the length of the data field, including the CRC if present.
	DataLength          uint16
	SegmentationControl bool
	SegmentMetadata     bool
	// EIDLength and SeqLength are the encoded widths in bytes. They are
	// computed by [EncodeHeader] and filled in by [DecodeHeader].
	EIDLength uint8
	SeqLength uint8

	Source      cfdp.EntityID
	Sequence    cfdp.TransactionSeq
	Destination cfdp.EntityID

	// HeaderLength is the total encoded size of the header.
	HeaderLength int
}

// Size returns the encoded size of the header with its current widths.
func (h *Header) Size() int {
	return sizeFixedHeader + 2*int(h.EIDLength) + int(h.SeqLength)
}

// EncodeHeader writes the fixed and variable header. The data field length
// is left zero and later patched by [EncodeFinalSize]. Encoded widths are the
// minimum that fit the identifiers and are stored back into h.
func EncodeHeader(enc *Encoder, h *Header) {
	h.EIDLength = max(EncodedWidth(uint64(h.Source)), EncodedWidth(uint64(h.Destination)))
	h.SeqLength = EncodedWidth(uint64(h.Sequence))
	if h.Version == 0 {
		h.Version = Version
	}
	b := enc.Reserve(sizeFixedHeader)
	if b == nil {
		return
	}
	mode := uint8(0)
	if h.Class == cfdp.Class1 {
		mode = 1
	} else {
		h.Class = cfdp.Class2
	}
	b[0] = h.Version<<5 | uint8(h.Type&1)<<4 | uint8(h.Direction&1)<<3 | mode<<2 |
		boolBit(h.CRC, 1) | boolBit(h.LargeFile, 0)
	b[1], b[2] = 0, 0
	b[3] = boolBit(h.SegmentationControl, 7) | (h.EIDLength-1)<<4 |
		boolBit(h.SegmentMetadata, 3) | (h.SeqLength - 1)
	enc.PutVar(uint64(h.Source), h.EIDLength)
	enc.PutVar(uint64(h.Sequence), h.SeqLength)
	enc.PutVar(uint64(h.Destination), h.EIDLength)
	h.HeaderLength = enc.Offset()
}

// EncodeFinalSize is the second phase of PDU encoding. It appends the CRC-16 when
// the header CRC flag is set and patches the data field length, which is
// everything encoded after the header.
func EncodeFinalSize(enc *Encoder, h *Header) {
	if h.CRC {
		enc.Reserve(sizeCRC)
	}
	if !enc.Ok() {
		return
	}
	dataLen := enc.next - h.HeaderLength
	if h.HeaderLength < sizeFixedHeader || dataLen < 0 || dataLen > 0xffff {
		enc.fail(errOverflow)
		return
	}
	h.DataLength = uint16(dataLen)
	binary.BigEndian.PutUint16(enc.base[1:3], h.DataLength)
	if h.CRC {
		crc := CRC16(enc.base[:enc.next-sizeCRC])
		binary.BigEndian.PutUint16(enc.base[enc.next-sizeCRC:], crc)
	}
}

// DecodeHeader reads the fixed and variable header and bounds the decoder to
// the declared PDU length. When the CRC flag is set the CRC is verified and
// excluded from the region visible to body decoders.
func DecodeHeader(dec *Decoder, h *Header) {
	b := dec.Take(sizeFixedHeader)
	if b == nil {
		return
	}
	*h = Header{
		Version:             b[0] >> 5,
		Type:                Type(b[0]>>4) & 1,
		Direction:           Direction(b[0]>>3) & 1,
		Class:               cfdp.Class2,
		CRC:                 b[0]&(1<<1) != 0,
		LargeFile:           b[0]&1 != 0,
		DataLength:          binary.BigEndian.Uint16(b[1:3]),
		SegmentationControl: b[3]&(1<<7) != 0,
		EIDLength:           (b[3]>>4)&0b111 + 1,
		SegmentMetadata:     b[3]&(1<<3) != 0,
		SeqLength:           b[3]&0b111 + 1,
	}
	if b[0]&(1<<2) != 0 {
		h.Class = cfdp.Class1
	}
	if h.LargeFile {
		dec.fail(errLargeFile)
		return
	}
	h.Source = cfdp.EntityID(dec.Var(h.EIDLength))
	h.Sequence = cfdp.TransactionSeq(dec.Var(h.SeqLength))
	h.Destination = cfdp.EntityID(dec.Var(h.EIDLength))
	if !dec.Ok() {
		return
	}
	h.HeaderLength = dec.Offset()
	total := h.HeaderLength + int(h.DataLength)
	dec.limit(total)
	if h.CRC {
		if h.DataLength < sizeCRC {
			dec.fail(errBadLength)
		}
		if !dec.Ok() {
			return
		}
		got := binary.BigEndian.Uint16(dec.base[total-sizeCRC : total])
		if got != CRC16(dec.base[:total-sizeCRC]) {
			dec.fail(errBadCRC)
			return
		}
		dec.max -= sizeCRC
	}
}
