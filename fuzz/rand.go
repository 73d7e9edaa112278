// Package fuzz produces randomized but plausible input for form controls and
// browser storage.
package fuzz

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Rand is a goroutine-safe random source. Every random decision the engine
// makes goes through one Rand so a seed reproduces a run.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a Rand seeded with seed.
func NewRand(seed uint64) *Rand {
	return NewRandSource(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewRandSource wraps an arbitrary source.
func NewRandSource(src rand.Source) *Rand {
	return &Rand{r: rand.New(src)}
}

// TimeSeeded returns a Rand seeded from the wall clock.
func TimeSeeded() *Rand {
	return NewRand(uint64(time.Now().UnixNano()))
}

// Float64 returns a value in [0, 1).
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

// IntN returns a value in [0, n). It panics if n <= 0.
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.IntN(n)
}

// Chance reports true with probability p.
func (r *Rand) Chance(p float64) bool {
	return r.Float64() < p
}

// Alnum returns n random lowercase alphanumeric characters.
func (r *Rand) Alnum(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(alphabet[r.r.IntN(len(alphabet))])
	}
	return b.String()
}
