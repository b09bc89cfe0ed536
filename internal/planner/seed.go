package planner

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// DeriveSeed maps (base seed, node name or seed key, tick index) to a 63-bit
// seed. It is a pure function: the same triple always yields the same seed,
// so replaying a run with the same base seed reproduces every draw.
func DeriveSeed(base uint64, key string, tick uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], base)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(key))
	binary.LittleEndian.PutUint64(buf[:], tick)
	_, _ = h.Write(buf[:])
	return splitmix64(h.Sum64()) &^ (1 << 63)
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Stream is a deterministic random stream. Not safe for concurrent use;
// parallel consumers draw up front or fork.
type Stream struct {
	r *rand.Rand
}

// NewStream returns the stream for seed.
func NewStream(seed uint64) *Stream {
	return &Stream{r: rand.New(rand.NewPCG(seed, splitmix64(seed)))}
}

// Float64 returns a uniform draw in [0, 1).
func (s *Stream) Float64() float64 { return s.r.Float64() }

// Uniform returns a uniform draw in [lo, hi).
func (s *Stream) Uniform(lo, hi float64) float64 { return lo + (hi-lo)*s.r.Float64() }

// Normal returns a draw from N(mu, sigma²). sigma == 0 returns mu exactly
// but still consumes a draw, so the stream position does not depend on sigma.
func (s *Stream) Normal(mu, sigma float64) float64 {
	z := s.r.NormFloat64()
	if sigma == 0 {
		return mu
	}
	return mu + sigma*z
}

// Clamp limits x to [lo, hi]. Infinite bounds are allowed.
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
