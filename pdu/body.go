package pdu

import "github.com/soypat/cfdp"

// Metadata is the body of the Metadata directive PDU.
type Metadata struct {
	ClosureRequested bool
	ChecksumType     cfdp.ChecksumType
	Size             uint32
	SourceFile       []byte
	DestFile         []byte
	Options          TLVList
}

func EncodeMetadata(enc *Encoder, md *Metadata) {
	enc.PutUint8(boolBit(md.ClosureRequested, 6) | uint8(md.ChecksumType&0xf))
	enc.PutUint32(md.Size)
	enc.PutLV(md.SourceFile)
	enc.PutLV(md.DestFile)
	EncodeTLVList(enc, &md.Options)
}

func DecodeMetadata(dec *Decoder, md *Metadata) {
	b := dec.Uint8()
	md.ClosureRequested = b&(1<<6) != 0
	md.ChecksumType = cfdp.ChecksumType(b & 0xf)
	md.Size = dec.Uint32()
	md.SourceFile = dec.LV()
	md.DestFile = dec.LV()
	DecodeTLVList(dec, &md.Options)
}

// FileData is the body of a file data PDU.
type FileData struct {
	ContinuationState uint8 // record continuation state, 2 bits
	SegmentMetadata   []byte
	Offset            uint32
	Data              []byte
}

// EncodeFileDataHeader writes the file data fields that precede the data. Callers
// then write the data directly into [Encoder.Reserve], see [MaxFileData].
func EncodeFileDataHeader(enc *Encoder, h *Header, fd *FileData) {
	if h.SegmentMetadata {
		if len(fd.SegmentMetadata) > 63 {
			enc.fail(errLVTooLong)
			return
		}
		enc.PutUint8(fd.ContinuationState<<6 | uint8(len(fd.SegmentMetadata)))
		enc.PutBytes(fd.SegmentMetadata)
	}
	enc.PutUint32(fd.Offset)
}

// EncodeFileData writes the file data body including fd.Data.
func EncodeFileData(enc *Encoder, h *Header, fd *FileData) {
	EncodeFileDataHeader(enc, h, fd)
	enc.PutBytes(fd.Data)
}

// MaxFileData returns the amount of file data that fits in the encoder
// after [EncodeFileDataHeader], accounting for the trailing CRC.
func MaxFileData(enc *Encoder, h *Header) int {
	n := enc.Remaining()
	if h.CRC {
		n -= sizeCRC
	}
	return max(n, 0)
}

func DecodeFileData(dec *Decoder, h *Header, fd *FileData) {
	fd.ContinuationState = 0
	fd.SegmentMetadata = nil
	if h.SegmentMetadata {
		b := dec.Uint8()
		fd.ContinuationState = b >> 6
		fd.SegmentMetadata = dec.Take(int(b & 0x3f))
	}
	fd.Offset = dec.Uint32()
	fd.Data = dec.Rest()
}

// EOF is the body of the EOF directive PDU.
type EOF struct {
	Condition cfdp.ConditionCode
	Checksum  uint32
	Size      uint32
	// Fault is the fault location entity, present when Condition is not NoError.
	Fault TLVList
}

func EncodeEOF(enc *Encoder, eof *EOF) {
	enc.PutUint8(uint8(eof.Condition&0xf) << 4)
	enc.PutUint32(eof.Checksum)
	enc.PutUint32(eof.Size)
	if eof.Condition != cfdp.ConditionNoError {
		EncodeTLVList(enc, &eof.Fault)
	}
}

func DecodeEOF(dec *Decoder, eof *EOF) {
	eof.Condition = cfdp.ConditionCode(dec.Uint8() >> 4)
	eof.Checksum = dec.Uint32()
	eof.Size = dec.Uint32()
	DecodeTLVList(dec, &eof.Fault)
}

// ACK is the body of the ACK directive PDU.
type ACK struct {
	// Directive is the code of the acknowledged directive, EOF or FIN.
	Directive cfdp.DirectiveCode
	// Subtype is 1 when acknowledging FIN and 0 otherwise.
	Subtype   uint8
	Condition cfdp.ConditionCode
	Status    cfdp.AckTxnStatus
}

func EncodeACK(enc *Encoder, ack *ACK) {
	enc.PutUint8(uint8(ack.Directive&0xf)<<4 | ack.Subtype&0xf)
	enc.PutUint8(uint8(ack.Condition&0xf)<<4 | uint8(ack.Status&0b11))
}

func DecodeACK(dec *Decoder, ack *ACK) {
	b := dec.Uint8()
	ack.Directive = cfdp.DirectiveCode(b >> 4)
	ack.Subtype = b & 0xf
	b = dec.Uint8()
	ack.Condition = cfdp.ConditionCode(b >> 4)
	ack.Status = cfdp.AckTxnStatus(b & 0b11)
}

// FIN is the body of the Finished directive PDU.
type FIN struct {
	Condition  cfdp.ConditionCode
	Delivery   cfdp.DeliveryCode
	FileStatus cfdp.FileStatus
	// TLVs holds filestore responses and the fault location.
	TLVs TLVList
}

func EncodeFIN(enc *Encoder, fin *FIN) {
	enc.PutUint8(uint8(fin.Condition&0xf)<<4 | uint8(fin.Delivery&1)<<2 | uint8(fin.FileStatus&0b11))
	EncodeTLVList(enc, &fin.TLVs)
}

func DecodeFIN(dec *Decoder, fin *FIN) {
	b := dec.Uint8()
	fin.Condition = cfdp.ConditionCode(b >> 4)
	fin.Delivery = cfdp.DeliveryCode(b>>2) & 1
	fin.FileStatus = cfdp.FileStatus(b & 0b11)
	DecodeTLVList(dec, &fin.TLVs)
}

// SegmentRequest is a half-open range [Start, End) of file offsets requested by a NAK.
// The (0,0) request asks for the Metadata PDU.
type SegmentRequest struct {
	Start uint32
	End   uint32
}

// NAK is the body of the NAK directive PDU.
type NAK struct {
	ScopeStart uint32
	ScopeEnd   uint32
	segs       [MaxSegments]SegmentRequest
	n          int
}

// Segments returns the segment requests held by the NAK.
func (nak *NAK) Segments() []SegmentRequest { return nak.segs[:nak.n] }

// ResetSegments discards all segment requests.
func (nak *NAK) ResetSegments() { nak.n = 0 }

// AddSegment appends a segment request, returning false if the NAK is full.
func (nak *NAK) AddSegment(start, end uint32) bool {
	if nak.n >= MaxSegments {
		return false
	}
	nak.segs[nak.n] = SegmentRequest{Start: start, End: end}
	nak.n++
	return true
}

// SegmentsFit returns the amount of segment requests that fit in the encoder
// after the NAK scope, accounting for the trailing CRC.
func SegmentsFit(enc *Encoder, h *Header) int {
	n := enc.Remaining() - 2*sizeFileOffset
	if h.CRC {
		n -= sizeCRC
	}
	return min(max(n/sizeSegment, 0), MaxSegments)
}

func EncodeNAK(enc *Encoder, nak *NAK) {
	enc.PutUint32(nak.ScopeStart)
	enc.PutUint32(nak.ScopeEnd)
	for _, seg := range nak.Segments() {
		enc.PutUint32(seg.Start)
		enc.PutUint32(seg.End)
	}
}

func DecodeNAK(dec *Decoder, nak *NAK) {
	nak.ScopeStart = dec.Uint32()
	nak.ScopeEnd = dec.Uint32()
	nak.n = 0
	for dec.Ok() && dec.Remaining() >= sizeSegment {
		start := dec.Uint32()
		end := dec.Uint32()
		if !nak.AddSegment(start, end) {
			dec.fail(errSegmentCount)
			return
		}
	}
	if dec.Remaining() != 0 {
		dec.fail(errShort)
	}
}
