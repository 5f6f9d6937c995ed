package sketchy

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

const (
	// MinPrecision is the smallest supported precision (16 registers).
	MinPrecision = 4
	// MaxPrecision is the largest supported precision (262144 registers).
	MaxPrecision = 18
	// DefaultPrecision gives 16384 registers and ~0.81% standard error.
	DefaultPrecision = 14

	alpha16 = 0.673
	alpha32 = 0.697
	alpha64 = 0.709
)

// EstimatorConfig configures an Estimator.
type EstimatorConfig struct {
	// Precision is the number of hash bits used as register index (k).
	Precision uint8
	// Hash is the hash family. Nil selects DefaultHashFamily.
	Hash HashFamily
	// Seed selects the member of Hash used for every item.
	Seed uint64
}

// Estimator is a HyperLogLog distinct-value estimator. It keeps 2^k
// registers, each holding the longest run of leading zeros (plus one)
// observed among hashes routed to it. Registers only ever increase.
//
// Estimator is NOT thread-safe. Use AtomicEstimator for concurrent access
// or build one Estimator per goroutine and Merge them.
type Estimator struct {
	registers []uint8
	precision uint8
	maxRank   uint8
	hash      HashFamily
	seed      uint64
}

// NewEstimator creates an estimator with the given precision, hashing
// with DefaultHashFamily and seed 0.
func NewEstimator(precision uint8) (*Estimator, error) {
	return NewEstimatorWithConfig(EstimatorConfig{Precision: precision})
}

// NewEstimatorWithConfig creates an estimator from an explicit configuration.
func NewEstimatorWithConfig(cfg EstimatorConfig) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Hash == nil {
		cfg.Hash = DefaultHashFamily
	}

	return &Estimator{
		registers: make([]uint8, 1<<cfg.Precision),
		precision: cfg.Precision,
		maxRank:   HashWidth - cfg.Precision + 1,
		hash:      cfg.Hash,
		seed:      cfg.Seed,
	}, nil
}

// Validate reports whether the configuration can build an estimator.
func (cfg EstimatorConfig) Validate() error {
	if cfg.Precision < MinPrecision || cfg.Precision > MaxPrecision {
		return fmt.Errorf("%w: precision %d outside [%d, %d]", ErrInvalidConfig, cfg.Precision, MinPrecision, MaxPrecision)
	}
	return nil
}

// Add hashes data and updates the register it routes to.
func (e *Estimator) Add(data []byte) {
	idx, rank := registerFor(e.hash.Sum64(data, e.seed), e.precision)
	if rank > e.registers[idx] {
		e.registers[idx] = rank
	}
}

// AddString adds a string without allocating.
func (e *Estimator) AddString(s string) {
	e.Add(stringBytes(s))
}

// registerFor splits a hash into its register index (top p bits) and the
// rank of the remaining 64-p bits: leading zeros plus one, which is
// 64-p+1 when the remainder is all zeros.
func registerFor(h uint64, p uint8) (idx uint64, rank uint8) {
	idx = h >> (HashWidth - p)
	w := h << p
	rank = uint8(bits.LeadingZeros64(w)) + 1
	if maxRank := HashWidth - p + 1; rank > maxRank {
		rank = maxRank
	}
	return idx, rank
}

// Estimate returns the approximate number of distinct items added.
// An estimator that has never seen an item reports exactly 0.
func (e *Estimator) Estimate() float64 {
	var sum float64
	var zeros int
	for _, r := range e.registers {
		sum += math.Ldexp(1, -int(r))
		if r == 0 {
			zeros++
		}
	}
	return estimateFromSums(e.precision, sum, zeros)
}

// Count returns Estimate rounded to the nearest integer.
func (e *Estimator) Count() uint64 {
	return uint64(math.Round(e.Estimate()))
}

// estimateFromSums applies the HyperLogLog formula to the harmonic sum
// of 2^-reg and the number of zero registers, switching to linear
// counting in the small range. With 64-bit hashes no large-range
// correction is required.
func estimateFromSums(precision uint8, sum float64, zeros int) float64 {
	m := float64(uint64(1) << precision)
	raw := alpha(precision) * m * m / sum
	if raw <= 2.5*m && zeros > 0 {
		return linearCount(m, float64(zeros))
	}
	return raw
}

// linearCount estimates cardinality from the fraction of empty registers.
// It returns 0 when every register is empty.
func linearCount(m, zeros float64) float64 {
	return m * math.Log(m/zeros)
}

// alpha returns the bias-correction constant for 2^precision registers.
func alpha(precision uint8) float64 {
	switch precision {
	case 4:
		return alpha16
	case 5:
		return alpha32
	case 6:
		return alpha64
	}
	m := float64(uint64(1) << precision)
	return 0.7213 / (1 + 1.079/m)
}

// Merge folds other into e by taking the element-wise maximum of the
// registers. The result is exactly the estimator that would have seen the
// union of both inputs. Both estimators must share precision, hash family
// and seed.
func (e *Estimator) Merge(other *Estimator) error {
	if err := e.compatible(other.precision, other.hash, other.seed); err != nil {
		return err
	}
	for i, r := range other.registers {
		if r > e.registers[i] {
			e.registers[i] = r
		}
	}
	return nil
}

func (e *Estimator) compatible(precision uint8, h HashFamily, seed uint64) error {
	if e.precision != precision {
		return fmt.Errorf("%w: precision %d != %d", ErrConfigMismatch, e.precision, precision)
	}
	if !sameFamily(e.hash, h) {
		return fmt.Errorf("%w: hash family %s != %s", ErrConfigMismatch, e.hash.Name(), h.Name())
	}
	if e.seed != seed {
		return fmt.Errorf("%w: seed %d != %d", ErrConfigMismatch, e.seed, seed)
	}
	return nil
}

// Precision returns the configured precision k.
func (e *Estimator) Precision() uint8 {
	return e.precision
}

// RegisterCount returns the number of registers (2^k).
func (e *Estimator) RegisterCount() int {
	return len(e.registers)
}

// HashFamily returns the hash family used by the estimator.
func (e *Estimator) HashFamily() HashFamily {
	return e.hash
}

// Seed returns the hash seed used by the estimator.
func (e *Estimator) Seed() uint64 {
	return e.seed
}

// RelativeError returns the theoretical standard error 1.04/sqrt(2^k).
func (e *Estimator) RelativeError() float64 {
	return 1.04 / math.Sqrt(float64(len(e.registers)))
}

// Registers returns a copy of the raw register array.
func (e *Estimator) Registers() []uint8 {
	out := make([]uint8, len(e.registers))
	copy(out, e.registers)
	return out
}

// SetRegisters replaces the register array with regs, which must have
// exactly 2^k entries each no larger than 64-k+1.
func (e *Estimator) SetRegisters(regs []uint8) error {
	if len(regs) != len(e.registers) {
		return fmt.Errorf("%w: got %d registers, want %d", ErrInvalidData, len(regs), len(e.registers))
	}
	for i, r := range regs {
		if r > e.maxRank {
			return fmt.Errorf("%w: register %d holds %d, max is %d", ErrInvalidData, i, r, e.maxRank)
		}
	}
	copy(e.registers, regs)
	return nil
}

// Clone returns a deep copy of the estimator.
func (e *Estimator) Clone() *Estimator {
	c := *e
	c.registers = e.Registers()
	return &c
}

// Reset clears every register.
func (e *Estimator) Reset() {
	clear(e.registers)
}

const (
	estimatorVersion byte = 1

	// Version (1) + Precision (1) + Family (1) + Seed (8) = 11 bytes
	estimatorHeaderSize = 11
)

// MarshalBinary serializes the estimator.
// The serialized format is:
//   - Version (1 byte)
//   - Precision (1 byte)
//   - Hash family id (1 byte)
//   - Seed (8 bytes, little-endian uint64)
//   - Registers (2^k bytes)
func (e *Estimator) MarshalBinary() ([]byte, error) {
	id, err := familyID(e.hash)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, estimatorHeaderSize+len(e.registers))
	buf[0] = estimatorVersion
	buf[1] = e.precision
	buf[2] = id
	binary.LittleEndian.PutUint64(buf[3:11], e.seed)
	copy(buf[estimatorHeaderSize:], e.registers)
	return buf, nil
}

// UnmarshalBinary replaces e with the estimator encoded in data.
func (e *Estimator) UnmarshalBinary(data []byte) error {
	if len(data) < estimatorHeaderSize {
		return fmt.Errorf("%w: data too short (got %d bytes, need at least %d)", ErrInvalidData, len(data), estimatorHeaderSize)
	}
	if data[0] != estimatorVersion {
		return fmt.Errorf("%w: got version %d, expected %d", ErrUnsupportedVersion, data[0], estimatorVersion)
	}

	h, err := familyByID(data[2])
	if err != nil {
		return err
	}
	decoded, err := NewEstimatorWithConfig(EstimatorConfig{
		Precision: data[1],
		Hash:      h,
		Seed:      binary.LittleEndian.Uint64(data[3:11]),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	if err := decoded.SetRegisters(data[estimatorHeaderSize:]); err != nil {
		return err
	}

	*e = *decoded
	return nil
}
