// Package prng provides a seeded byte source so that generated test data,
// such as the values faker draws from its crypto source, repeats run to run.
package prng

import (
	"encoding/binary"
	"io"
	"math/rand"
)

// Reader is a deterministic io.Reader backed by a math/rand RNG.
type Reader struct {
	r   *rand.Rand
	buf [8]byte
}

// New returns a new deterministic PRNG reader seeded by an integer.
func New(seed int64) io.Reader {
	return &Reader{r: rand.New(rand.NewSource(seed))}
}

// Read fills p with pseudorandom bytes. It never fails.
func (r *Reader) Read(p []byte) (int, error) {
	for i := 0; i < len(p); i += 8 {
		binary.LittleEndian.PutUint64(r.buf[:], r.r.Uint64())
		copy(p[i:], r.buf[:])
	}
	return len(p), nil
}
