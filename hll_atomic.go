package sketchy

import (
	"math"
	"sync/atomic"
)

// AtomicEstimator is a thread-safe HyperLogLog estimator. Registers are
// updated with a per-register compare-and-swap, so concurrent Add, Estimate
// and Merge calls need no lock. A read racing with an Add may miss that
// Add, which only makes the estimate momentarily smaller.
type AtomicEstimator struct {
	registers []atomic.Uint32
	precision uint8
	hash      HashFamily
	seed      uint64
}

// NewAtomicEstimator creates a thread-safe estimator with the given
// precision, hashing with DefaultHashFamily and seed 0.
func NewAtomicEstimator(precision uint8) (*AtomicEstimator, error) {
	return NewAtomicEstimatorWithConfig(EstimatorConfig{Precision: precision})
}

// NewAtomicEstimatorWithConfig creates a thread-safe estimator from an
// explicit configuration.
func NewAtomicEstimatorWithConfig(cfg EstimatorConfig) (*AtomicEstimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Hash == nil {
		cfg.Hash = DefaultHashFamily
	}

	return &AtomicEstimator{
		registers: make([]atomic.Uint32, 1<<cfg.Precision),
		precision: cfg.Precision,
		hash:      cfg.Hash,
		seed:      cfg.Seed,
	}, nil
}

// Add hashes data and raises its register atomically.
func (e *AtomicEstimator) Add(data []byte) {
	idx, rank := registerFor(e.hash.Sum64(data, e.seed), e.precision)
	storeMax(&e.registers[idx], uint32(rank))
}

// AddString adds a string without allocating.
func (e *AtomicEstimator) AddString(s string) {
	e.Add(stringBytes(s))
}

// storeMax raises reg to v unless it already holds something larger.
func storeMax(reg *atomic.Uint32, v uint32) {
	for {
		cur := reg.Load()
		if v <= cur || reg.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Estimate returns the approximate number of distinct items added.
func (e *AtomicEstimator) Estimate() float64 {
	var sum float64
	var zeros int
	for i := range e.registers {
		r := e.registers[i].Load()
		sum += math.Ldexp(1, -int(r))
		if r == 0 {
			zeros++
		}
	}
	return estimateFromSums(e.precision, sum, zeros)
}

// Count returns Estimate rounded to the nearest integer.
func (e *AtomicEstimator) Count() uint64 {
	return uint64(math.Round(e.Estimate()))
}

// Merge folds a plain Estimator into e. It is safe to call concurrently
// with Add.
func (e *AtomicEstimator) Merge(other *Estimator) error {
	if err := other.compatible(e.precision, e.hash, e.seed); err != nil {
		return err
	}
	for i, r := range other.registers {
		storeMax(&e.registers[i], uint32(r))
	}
	return nil
}

// Snapshot copies the current registers into a plain Estimator.
func (e *AtomicEstimator) Snapshot() *Estimator {
	regs := make([]uint8, len(e.registers))
	for i := range e.registers {
		regs[i] = uint8(e.registers[i].Load())
	}
	return &Estimator{
		registers: regs,
		precision: e.precision,
		maxRank:   HashWidth - e.precision + 1,
		hash:      e.hash,
		seed:      e.seed,
	}
}

// Precision returns the configured precision k.
func (e *AtomicEstimator) Precision() uint8 {
	return e.precision
}
