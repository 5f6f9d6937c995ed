package sketchy

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always returns the same draw.
type fixedSource float64

func (s fixedSource) Float64() float64 { return float64(s) }

func newTestRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestMorrisCounterFresh(t *testing.T) {
	m, err := NewMorrisCounter(newTestRand())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), m.Estimate())
	assert.Equal(t, uint8(0), m.Exponent())
}

func TestMorrisCounterFirstAddAlwaysIncrements(t *testing.T) {
	// Even the largest possible draw is below 1/2^0.
	m, err := NewMorrisCounter(fixedSource(0.999999))
	require.NoError(t, err)

	m.Add([]byte("x"))
	assert.Equal(t, uint64(2), m.Estimate())

	// At c=1 the increment probability is 1/2, which 0.999999 never hits.
	for range 100 {
		m.AddString("y")
	}
	assert.Equal(t, uint8(1), m.Exponent())
}

func TestMorrisCounterIncrementThreshold(t *testing.T) {
	// A draw of exactly 1/4 does not increment at c=2 (u < 2^-c is strict).
	m, err := NewMorrisCounter(fixedSource(0.25))
	require.NoError(t, err)

	for range 10 {
		m.Add(nil)
	}
	assert.Equal(t, uint8(2), m.Exponent())
	assert.Equal(t, uint64(4), m.Estimate())
}

func TestMorrisCounterExponentCap(t *testing.T) {
	m, err := NewMorrisCounter(fixedSource(0))
	require.NoError(t, err)

	for range 200 {
		m.Add(nil)
	}
	assert.Equal(t, uint8(maxExponent), m.Exponent())
	assert.Equal(t, uint64(1)<<63, m.Estimate())
}

func TestMorrisCounterReset(t *testing.T) {
	m, err := NewMorrisCounter(fixedSource(0))
	require.NoError(t, err)

	m.Add(nil)
	m.Add(nil)
	m.Reset()
	assert.Equal(t, uint64(1), m.Estimate())
}

func TestMorrisCounterNilSource(t *testing.T) {
	_, err := NewMorrisCounter(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMorrisCounterReproducible(t *testing.T) {
	a, err := NewMorrisCounter(newTestRand())
	require.NoError(t, err)
	b, err := NewMorrisCounter(newTestRand())
	require.NoError(t, err)

	for range 10_000 {
		a.Add(nil)
		b.Add(nil)
	}
	assert.Equal(t, a.Estimate(), b.Estimate())
}

func TestMultiMorrisConfig(t *testing.T) {
	_, err := NewMultiMorris(0, newTestRand())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewMultiMorris(-3, newTestRand())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewMultiMorris(4, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	mm, err := NewMultiMorris(4, newTestRand())
	require.NoError(t, err)
	assert.Equal(t, 4, mm.Counters())
	assert.InDelta(t, 1.0, mm.Estimate(), 0)
}

func TestMultiMorrisIndependentDraws(t *testing.T) {
	mm, err := NewMultiMorris(64, newTestRand())
	require.NoError(t, err)

	for range 1000 {
		mm.AddString("event")
	}

	// Shared item, independent draws: the exponents must not all agree.
	exps := mm.Exponents()
	distinct := make(map[uint8]struct{})
	for _, c := range exps {
		distinct[c] = struct{}{}
	}
	assert.Greater(t, len(distinct), 1, "exponents: %v", exps)
}

func TestMultiMorrisMean(t *testing.T) {
	mm, err := NewMultiMorris(3, fixedSource(0.999999))
	require.NoError(t, err)

	mm.Add(nil)
	// Every counter increments exactly once.
	assert.InDelta(t, 2.0, mm.Estimate(), 0)

	mm.Reset()
	assert.InDelta(t, 1.0, mm.Estimate(), 0)
}

func TestMultiMorrisAccuracy(t *testing.T) {
	const (
		counters = 256
		events   = 10_000
	)

	mm, err := NewMultiMorris(counters, newTestRand())
	require.NoError(t, err)

	for range events {
		mm.Add(nil)
	}

	// E[2^c] = n+1 and the standard error of the mean is about
	// n/sqrt(2*counters), roughly 4.4% here.
	est := mm.Estimate()
	relErr := (est - events) / events
	assert.InDelta(t, 0, relErr, 0.2, "estimate=%.0f", est)
	t.Logf("MultiMorris estimate after %d events: %.0f (error %.2f%%)", events, est, relErr*100)
}
