package cfdp

import "encoding/binary"

// Checksum implements the CCSDS modular file checksum (CCSDS 727.0-B-5 section 4.2.2.2).
// The file is treated as a sequence of big endian 32 bit words aligned to offset zero and
// the checksum is their sum modulo 2**32. Since addition commutes, data may be
// added out of order with [Checksum.AddAt]; data must not be added twice.
//
// The zero value of Checksum is ready to use.
type Checksum struct {
	sum uint32
	off uint64
}

// AddAt adds the bytes in p located at file offset off to the running checksum.
func (c *Checksum) AddAt(off uint64, p []byte) {
	sum := c.sum
	i := 0
	// Leading bytes until word aligned.
	for lane := off & 3; lane != 0 && i < len(p); lane = (lane + 1) & 3 {
		sum += uint32(p[i]) << (8 * (3 - lane))
		i++
	}
	for ; i+4 <= len(p); i += 4 {
		sum += binary.BigEndian.Uint32(p[i:])
	}
	// Trailing bytes begin a new word at lane 0.
	for shift := 24; i < len(p); shift -= 8 {
		sum += uint32(p[i]) << shift
		i++
	}
	c.sum = sum
}

// Write implements [io.Writer] by adding p at the current sequential offset. It never fails.
func (c *Checksum) Write(p []byte) (int, error) {
	c.AddAt(c.off, p)
	c.off += uint64(len(p))
	return len(p), nil
}

// Offset returns the sequential offset of the next [Checksum.Write] call.
func (c *Checksum) Offset() uint64 { return c.off }

// Sum32 returns the checksum of the data added thus far.
func (c *Checksum) Sum32() uint32 { return c.sum }

// Reset zeros out the Checksum, resetting it to the initial state.
func (c *Checksum) Reset() { *c = Checksum{} }
