package sketchy

import (
	"fmt"
	"math"
)

// maxExponent caps a Morris exponent so 2^c fits in a uint64.
const maxExponent = 63

// RandSource supplies uniform draws in [0, 1). *math/rand/v2.Rand
// satisfies it; tests inject a seeded generator for reproducibility.
type RandSource interface {
	Float64() float64
}

// MorrisCounter is an approximate counter that stores only an exponent c
// and estimates the number of Add calls as 2^c.
//
// MorrisCounter is NOT thread-safe.
type MorrisCounter struct {
	c   uint8
	src RandSource
}

// NewMorrisCounter creates a counter drawing randomness from src.
func NewMorrisCounter(src RandSource) (*MorrisCounter, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidConfig)
	}
	return &MorrisCounter{src: src}, nil
}

// Add records one more arrival. The item is ignored; only the event
// matters. The exponent is incremented with probability 1/2^c, so the
// first Add always increments.
func (m *MorrisCounter) Add([]byte) {
	if m.c >= maxExponent {
		return
	}
	if m.src.Float64() < math.Ldexp(1, -int(m.c)) {
		m.c++
	}
}

// AddString is Add for string items.
func (m *MorrisCounter) AddString(string) {
	m.Add(nil)
}

// Estimate returns 2^c. A fresh counter reports 1.
func (m *MorrisCounter) Estimate() uint64 {
	return 1 << m.c
}

// Exponent returns the current exponent c.
func (m *MorrisCounter) Exponent() uint8 {
	return m.c
}

// Reset sets the exponent back to zero.
func (m *MorrisCounter) Reset() {
	m.c = 0
}

// MultiMorris averages several independent Morris counters. The relative
// error shrinks roughly with 1/sqrt(m) for m counters.
//
// MultiMorris is NOT thread-safe.
type MultiMorris struct {
	counters []MorrisCounter
}

// NewMultiMorris creates m independent counters sharing src as their
// source of draws. Each counter performs its own draw on every Add.
func NewMultiMorris(m int, src RandSource) (*MultiMorris, error) {
	if m <= 0 {
		return nil, fmt.Errorf("%w: counter count must be positive, got %d", ErrInvalidConfig, m)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidConfig)
	}

	counters := make([]MorrisCounter, m)
	for i := range counters {
		counters[i].src = src
	}
	return &MultiMorris{counters: counters}, nil
}

// Add records one more arrival on every counter.
func (mm *MultiMorris) Add(item []byte) {
	for i := range mm.counters {
		mm.counters[i].Add(item)
	}
}

// AddString is Add for string items.
func (mm *MultiMorris) AddString(s string) {
	mm.Add(stringBytes(s))
}

// Estimate returns the arithmetic mean of the counters' estimates.
func (mm *MultiMorris) Estimate() float64 {
	var sum float64
	for i := range mm.counters {
		sum += float64(mm.counters[i].Estimate())
	}
	return sum / float64(len(mm.counters))
}

// Counters returns the number of averaged counters.
func (mm *MultiMorris) Counters() int {
	return len(mm.counters)
}

// Exponents returns a copy of every counter's exponent.
func (mm *MultiMorris) Exponents() []uint8 {
	out := make([]uint8, len(mm.counters))
	for i := range mm.counters {
		out[i] = mm.counters[i].c
	}
	return out
}

// Reset zeroes every counter.
func (mm *MultiMorris) Reset() {
	for i := range mm.counters {
		mm.counters[i].Reset()
	}
}
