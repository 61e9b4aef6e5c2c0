// Package pdu implements encoding and decoding of CFDP protocol data units as
// described by CCSDS 727.0-B-5. Encoding and decoding operate in place over
// caller provided message buffers which may be prefixed by an encapsulation
// header owned by the transport.
package pdu

import (
	"github.com/soypat/cfdp"
)

// Buffer is the logical representation of a single PDU. Only the body
// selected by Header.Type and Directive is meaningful after a decode.
// Slices within bodies alias the decoded message.
type Buffer struct {
	Header Header
	// Directive is the directive code of a directive PDU and zero for file data.
	Directive cfdp.DirectiveCode
	Metadata  Metadata
	FileData  FileData
	EOF       EOF
	ACK       ACK
	FIN       FIN
	NAK       NAK

	Enc Encoder
	Dec Decoder
}

// IsFileData reports whether the buffer holds a file data PDU.
func (b *Buffer) IsFileData() bool { return b.Header.Type == TypeFileData }

// Decode parses msg, whose first encapSize bytes are an encapsulation header.
// Prompt and KeepAlive directives are recognized but their bodies are not parsed.
func (b *Buffer) Decode(msg []byte, encapSize int) error {
	dec := &b.Dec
	dec.Start(msg, encapSize)
	DecodeHeader(dec, &b.Header)
	if !dec.Ok() {
		return dec.Err()
	}
	b.Directive = 0
	if b.Header.Type == TypeFileData {
		DecodeFileData(dec, &b.Header, &b.FileData)
		return dec.Err()
	}
	dc := cfdp.DirectiveCode(dec.Uint8())
	if !dec.Ok() {
		return dec.Err()
	} else if !dc.IsValid() {
		return errBadDirective
	}
	b.Directive = dc
	switch dc {
	case cfdp.DirectiveMetadata:
		DecodeMetadata(dec, &b.Metadata)
	case cfdp.DirectiveEOF:
		DecodeEOF(dec, &b.EOF)
	case cfdp.DirectiveFIN:
		DecodeFIN(dec, &b.FIN)
	case cfdp.DirectiveACK:
		DecodeACK(dec, &b.ACK)
	case cfdp.DirectiveNAK:
		DecodeNAK(dec, &b.NAK)
	}
	return dec.Err()
}

// StartEncode binds the encoder to msg and writes h followed by the directive code
// when h is a directive PDU. The body is then written with the Encode* functions
// and the PDU completed with [Buffer.FinishEncode].
func (b *Buffer) StartEncode(msg []byte, encapSize int, h Header, dc cfdp.DirectiveCode) {
	b.Header = h
	b.Directive = dc
	b.Enc.Start(msg, encapSize)
	EncodeHeader(&b.Enc, &b.Header)
	if h.Type == TypeDirective {
		b.Enc.PutUint8(uint8(dc))
	}
}

// FinishEncode patches the PDU length and CRC and returns the length of the
// message including the encapsulation header.
func (b *Buffer) FinishEncode() (int, error) {
	EncodeFinalSize(&b.Enc, &b.Header)
	if !b.Enc.Ok() {
		return 0, b.Enc.Err()
	}
	return b.Enc.MessageLen(), nil
}

// Encode writes the whole PDU selected by b.Header.Type and b.Directive into msg.
func (b *Buffer) Encode(msg []byte, encapSize int) (int, error) {
	b.StartEncode(msg, encapSize, b.Header, b.Directive)
	enc := &b.Enc
	if b.Header.Type == TypeFileData {
		EncodeFileData(enc, &b.Header, &b.FileData)
		return b.FinishEncode()
	}
	switch b.Directive {
	case cfdp.DirectiveMetadata:
		EncodeMetadata(enc, &b.Metadata)
	case cfdp.DirectiveEOF:
		EncodeEOF(enc, &b.EOF)
	case cfdp.DirectiveFIN:
		EncodeFIN(enc, &b.FIN)
	case cfdp.DirectiveACK:
		EncodeACK(enc, &b.ACK)
	case cfdp.DirectiveNAK:
		EncodeNAK(enc, &b.NAK)
	case cfdp.DirectivePrompt, cfdp.DirectiveKeepAlive:
	default:
		return 0, errBadDirective
	}
	return b.FinishEncode()
}
