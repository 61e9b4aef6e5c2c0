package internal

// Prand32 is a xorshift pseudo random number generator. Not suitable for cryptography.
// A zero state is replaced by a fixed non-zero seed since xorshift never leaves zero.
type Prand32 struct {
	state uint32
}

// NewPrand32 returns a generator seeded with seed.
func NewPrand32(seed uint32) Prand32 {
	if seed == 0 {
		seed = 0x9e3779b9
	}
	return Prand32{state: seed}
}

// Next returns the next pseudo random number of the sequence.
func (p *Prand32) Next() uint32 {
	if p.state == 0 {
		p.state = 0x9e3779b9
	}
	/* Algorithm "xor" from p. 4 of Marsaglia, "Xorshift RNGs" */
	x := p.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	p.state = x
	return x
}

// Chance returns true with a probability of perMille/1000.
func (p *Prand32) Chance(perMille uint32) bool {
	return p.Next()%1000 < perMille
}
