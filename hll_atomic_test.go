package sketchy

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicEstimatorBasic(t *testing.T) {
	e, err := NewAtomicEstimator(DefaultPrecision)
	require.NoError(t, err)

	assert.Zero(t, e.Estimate())

	e.AddString("hello")
	e.Add([]byte("hello"))
	assert.Equal(t, uint64(1), e.Count())
	assert.Equal(t, uint8(DefaultPrecision), e.Precision())
}

func TestAtomicEstimatorInvalidPrecision(t *testing.T) {
	_, err := NewAtomicEstimator(2)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAtomicEstimatorConcurrentMatchesSequential(t *testing.T) {
	const (
		numGoroutines     = 8
		itemsPerGoroutine = 20_000
	)

	cfg := EstimatorConfig{Precision: 12, Seed: 3}
	atomicEst, err := NewAtomicEstimatorWithConfig(cfg)
	require.NoError(t, err)
	sequential := newTestEstimator(t, cfg)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := range numGoroutines {
		go func(id int) {
			defer wg.Done()
			for i := range itemsPerGoroutine {
				atomicEst.AddString(fmt.Sprintf("g%d-item-%d", id, i))
			}
		}(g)
	}
	for g := range numGoroutines {
		for i := range itemsPerGoroutine {
			sequential.AddString(fmt.Sprintf("g%d-item-%d", g, i))
		}
	}
	wg.Wait()

	// Max is order independent, so no update may be lost.
	snap := atomicEst.Snapshot()
	assert.Equal(t, sequential.Registers(), snap.Registers())
	assert.InDelta(t, sequential.Estimate(), atomicEst.Estimate(), 1e-9)
}

func TestAtomicEstimatorConcurrentMixed(t *testing.T) {
	e, err := NewAtomicEstimator(10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(8)
	for g := range 4 {
		go func(id int) {
			defer wg.Done()
			for i := range 5_000 {
				e.AddString(fmt.Sprintf("w%d-%d", id, i))
			}
		}(g)
	}
	for range 4 {
		go func() {
			defer wg.Done()
			for range 200 {
				assert.GreaterOrEqual(t, e.Estimate(), 0.0)
			}
		}()
	}
	wg.Wait()

	assert.InEpsilon(t, 20_000, e.Estimate(), 0.15)
}

func TestAtomicEstimatorMerge(t *testing.T) {
	cfg := EstimatorConfig{Precision: 10}
	a, err := NewAtomicEstimatorWithConfig(cfg)
	require.NoError(t, err)

	b := newTestEstimator(t, cfg)
	addItems(a, "a", 0, 1000)
	addItems(b, "b", 0, 1000)

	want := a.Snapshot()
	require.NoError(t, want.Merge(b))

	require.NoError(t, a.Merge(b))
	assert.Equal(t, want.Registers(), a.Snapshot().Registers())

	err = a.Merge(newTestEstimator(t, EstimatorConfig{Precision: 11}))
	assert.ErrorIs(t, err, ErrConfigMismatch)
}

func TestAtomicEstimatorSnapshotIsIndependent(t *testing.T) {
	e, err := NewAtomicEstimator(6)
	require.NoError(t, err)
	e.AddString("x")

	snap := e.Snapshot()
	snap.Reset()
	assert.Equal(t, uint64(1), e.Count())

	// The snapshot is a fully working Estimator.
	snap.AddString("y")
	_, err = snap.MarshalBinary()
	require.NoError(t, err)
}
