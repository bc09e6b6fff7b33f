// Package checksum implements the CRC-32 variant used by POSIX cksum:
// non-reflected, generator polynomial 0x04C11DB7, with the data length
// folded into the accumulator after the data itself, then a final
// complement. Verification round-trips depend on reproducing that exact
// two-phase finalization.
package checksum

const poly = 0x04C11DB7

var table [256]uint32

func init() {
	for i := range table {
		c := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if c&0x80000000 != 0 {
				c = (c << 1) ^ poly
			} else {
				c <<= 1
			}
		}
		table[i] = c
	}
}

func step(acc uint32, b byte) uint32 {
	return (acc << 8) ^ table[byte(acc>>24)^b]
}

// Digest accumulates a cksum CRC over streamed writes.
type Digest struct {
	acc uint32
	n   uint64
}

// New returns a zeroed digest.
func New() *Digest { return &Digest{} }

// Reset clears the digest for reuse.
func (d *Digest) Reset() { d.acc, d.n = 0, 0 }

// Write folds p into the running CRC. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	for _, b := range p {
		d.acc = step(d.acc, b)
	}
	d.n += uint64(len(p))
	return len(p), nil
}

// Sum32 finalizes without mutating the digest: the byte count is folded in
// least-significant byte first, then the accumulator is complemented.
func (d *Digest) Sum32() uint32 {
	acc := d.acc
	for n := d.n; n != 0; n >>= 8 {
		acc = step(acc, byte(n))
	}
	return ^acc
}

// Sum computes the cksum CRC of data in one call.
func Sum(data []byte) uint32 {
	d := Digest{}
	_, _ = d.Write(data)
	return d.Sum32()
}
