package pdu

import "github.com/soypat/cfdp"

// TLV is a Type-Length-Value entry. Value aliases the buffer it was decoded from.
type TLV struct {
	Type  cfdp.TLVType
	Value []byte
}

// EntityID interprets the TLV value as a variable width entity identifier.
func (tlv TLV) EntityID() cfdp.EntityID {
	var v uint64
	for _, c := range tlv.Value {
		v = v<<8 | uint64(c)
	}
	return cfdp.EntityID(v)
}

// TLVList holds up to [MaxTLV] entries.
type TLVList struct {
	tlv [MaxTLV]TLV
	n   int
}

func (l *TLVList) Reset() { *l = TLVList{} }

func (l *TLVList) Len() int { return l.n }

func (l *TLVList) At(i int) TLV { return l.tlv[:l.n][i] }

// Append adds tlv to the list. It returns false if the list is full.
func (l *TLVList) Append(tlv TLV) bool {
	if l.n >= MaxTLV {
		return false
	}
	l.tlv[l.n] = tlv
	l.n++
	return true
}

// AppendEntityID appends an Entity ID TLV of minimum width. The value is
// stored in scratch, which must be at least 8 bytes long and outlive the list.
func (l *TLVList) AppendEntityID(eid cfdp.EntityID, scratch []byte) bool {
	w := int(EncodedWidth(uint64(eid)))
	v := uint64(eid)
	for i := w - 1; i >= 0; i-- {
		scratch[i] = byte(v)
		v >>= 8
	}
	return l.Append(TLV{Type: cfdp.TLVEntityID, Value: scratch[:w:w]})
}

// Find returns the first TLV of type t.
func (l *TLVList) Find(t cfdp.TLVType) (TLV, bool) {
	for _, tlv := range l.tlv[:l.n] {
		if tlv.Type == t {
			return tlv, true
		}
	}
	return TLV{}, false
}

// EncodeTLV writes a single TLV.
func EncodeTLV(enc *Encoder, tlv TLV) {
	enc.PutUint8(uint8(tlv.Type))
	enc.PutLV(tlv.Value)
}

// EncodeTLVList writes every TLV of the list.
func EncodeTLVList(enc *Encoder, l *TLVList) {
	for _, tlv := range l.tlv[:l.n] {
		EncodeTLV(enc, tlv)
	}
}

// DecodeTLV reads a single TLV.
func DecodeTLV(dec *Decoder, tlv *TLV) {
	tlv.Type = cfdp.TLVType(dec.Uint8())
	tlv.Value = dec.LV()
}

// DecodeTLVList reads TLVs until the decoder is exhausted. It fails
// if more than [MaxTLV] entries are present.
func DecodeTLVList(dec *Decoder, l *TLVList) {
	l.Reset()
	for dec.Ok() && dec.Remaining() > 0 {
		var tlv TLV
		DecodeTLV(dec, &tlv)
		if dec.Ok() && !l.Append(tlv) {
			dec.fail(errTLVCount)
		}
	}
}
