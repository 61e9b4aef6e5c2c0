package pdu

import "encoding/binary"

// cursor is the state shared by [Encoder] and [Decoder]. Errors are sticky:
// after the first failure every following operation is a no-op and the
// cursor reports not ok until restarted.
type cursor struct {
	next int
	max  int
	err  error
}

// Ok reports whether every operation since the last Start succeeded.
func (c *cursor) Ok() bool { return c.err == nil }

// Err returns the first error encountered since the last Start.
func (c *cursor) Err() error { return c.err }

// Offset returns the PDU-relative position of the cursor.
func (c *cursor) Offset() int { return c.next }

// Remaining returns the amount of bytes left between the cursor and its limit.
func (c *cursor) Remaining() int { return c.max - c.next }

func (c *cursor) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *cursor) advance(n int, err error) (start int, ok bool) {
	if c.err != nil {
		return 0, false
	} else if n < 0 || n > c.max-c.next {
		c.err = err
		return 0, false
	}
	start = c.next
	c.next += n
	return start, true
}

// Encoder writes PDU fields into a caller-owned message buffer. The buffer
// may begin with an encapsulation header owned by the transport; offsets are
// relative to the first byte after it.
type Encoder struct {
	cursor
	base  []byte
	encap int
}

// Start binds the encoder to msg, skipping its first encapSize bytes. If msg is shorter
// than encapSize the encoder is immediately marked invalid.
func (enc *Encoder) Start(msg []byte, encapSize int) {
	*enc = Encoder{encap: encapSize}
	if encapSize < 0 || len(msg) < encapSize {
		enc.err = errShortEnvelope
		return
	}
	enc.base = msg[encapSize:]
	enc.max = len(enc.base)
}

// Bytes returns the encoded PDU bytes thus far.
func (enc *Encoder) Bytes() []byte { return enc.base[:enc.next] }

// MessageLen returns the length of the message including the encapsulation header.
func (enc *Encoder) MessageLen() int { return enc.encap + enc.next }

// Reserve advances the cursor n bytes and returns the skipped region so that callers
// may fill it directly, such as when reading file data. Returns nil on failure.
func (enc *Encoder) Reserve(n int) []byte {
	start, ok := enc.advance(n, errOverflow)
	if !ok {
		return nil
	}
	return enc.base[start : start+n : start+n]
}

func (enc *Encoder) PutUint8(v uint8) {
	if b := enc.Reserve(1); b != nil {
		b[0] = v
	}
}

func (enc *Encoder) PutUint16(v uint16) {
	if b := enc.Reserve(2); b != nil {
		binary.BigEndian.PutUint16(b, v)
	}
}

func (enc *Encoder) PutUint32(v uint32) {
	if b := enc.Reserve(4); b != nil {
		binary.BigEndian.PutUint32(b, v)
	}
}

// PutVar writes the width least significant bytes of v in network order.
func (enc *Encoder) PutVar(v uint64, width uint8) {
	b := enc.Reserve(int(width))
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func (enc *Encoder) PutBytes(p []byte) {
	if b := enc.Reserve(len(p)); b != nil {
		copy(b, p)
	}
}

// PutLV writes a length-value field with a one byte length.
func (enc *Encoder) PutLV(p []byte) {
	if len(p) > maxLV {
		enc.fail(errLVTooLong)
		return
	}
	enc.PutUint8(uint8(len(p)))
	enc.PutBytes(p)
}

// Decoder reads PDU fields from a message buffer. See [Encoder] for
// encapsulation header semantics.
type Decoder struct {
	cursor
	base []byte
}

// Start binds the decoder to msg, skipping its first encapSize bytes. If msg is shorter
// than encapSize the decoder is immediately marked invalid.
func (dec *Decoder) Start(msg []byte, encapSize int) {
	*dec = Decoder{}
	if encapSize < 0 || len(msg) < encapSize {
		dec.err = errShortEnvelope
		return
	}
	dec.base = msg[encapSize:]
	dec.max = len(dec.base)
}

// Bytes returns the PDU bytes visible to the decoder, up to its limit.
func (dec *Decoder) Bytes() []byte { return dec.base[:dec.max] }

// limit shrinks the decoder's visible region to the first n PDU bytes.
func (dec *Decoder) limit(n int) {
	if n > dec.max {
		dec.fail(errBadLength)
		return
	}
	dec.max = n
}

// Take consumes and returns the next n bytes. The returned slice aliases the message.
func (dec *Decoder) Take(n int) []byte {
	start, ok := dec.advance(n, errShort)
	if !ok {
		return nil
	}
	return dec.base[start : start+n : start+n]
}

// Rest consumes and returns every remaining byte.
func (dec *Decoder) Rest() []byte { return dec.Take(dec.Remaining()) }

func (dec *Decoder) Uint8() uint8 {
	if b := dec.Take(1); b != nil {
		return b[0]
	}
	return 0
}

func (dec *Decoder) Uint16() uint16 {
	if b := dec.Take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (dec *Decoder) Uint32() uint32 {
	if b := dec.Take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// Var reads a width byte unsigned integer in network order.
func (dec *Decoder) Var(width uint8) (v uint64) {
	for _, c := range dec.Take(int(width)) {
		v = v<<8 | uint64(c)
	}
	return v
}

// LV reads a length-value field with a one byte length.
func (dec *Decoder) LV() []byte {
	n := dec.Uint8()
	return dec.Take(int(n))
}
