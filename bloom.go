package sketchy

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// maxTiers bounds the number of tiers a filter may hold. With the default
// growth factor, tier 48 is 2^48 times larger than the first one.
const maxTiers = 48

// FilterConfig configures a scalable Filter.
type FilterConfig struct {
	// Capacity is the number of items the first tier is sized for.
	Capacity uint64
	// FalsePositiveRate is the ceiling on the compound false positive
	// rate across all tiers. Must be in (0, 1).
	FalsePositiveRate float64
	// Growth multiplies capacity for each new tier. Zero selects
	// DefaultGrowth; otherwise it must be >= 1.
	Growth float64
	// Tightening multiplies the target rate for each new tier. Zero
	// selects DefaultTightening; otherwise it must be in (0, 1).
	Tightening float64
	// Hash is the hash family. Nil selects DefaultHashFamily.
	Hash HashFamily
}

func (cfg FilterConfig) withDefaults() FilterConfig {
	if cfg.Growth == 0 {
		cfg.Growth = DefaultGrowth
	}
	if cfg.Tightening == 0 {
		cfg.Tightening = DefaultTightening
	}
	if cfg.Hash == nil {
		cfg.Hash = DefaultHashFamily
	}
	return cfg
}

// Validate reports whether the configuration, with defaults applied, can
// build a filter.
func (cfg FilterConfig) Validate() error {
	return cfg.withDefaults().validate()
}

func (cfg FilterConfig) validate() error {
	if cfg.Capacity == 0 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	}
	if !(cfg.FalsePositiveRate > 0 && cfg.FalsePositiveRate < 1) {
		return fmt.Errorf("%w: false positive rate %v outside (0, 1)", ErrInvalidConfig, cfg.FalsePositiveRate)
	}
	if !(cfg.Growth >= 1) || math.IsInf(cfg.Growth, 0) {
		return fmt.Errorf("%w: growth %v must be >= 1", ErrInvalidConfig, cfg.Growth)
	}
	if !(cfg.Tightening > 0 && cfg.Tightening < 1) {
		return fmt.Errorf("%w: tightening %v outside (0, 1)", ErrInvalidConfig, cfg.Tightening)
	}
	if !tierFits(cfg, 0) {
		return fmt.Errorf("%w: capacity %d at rate %v needs more than %d bits", ErrInvalidConfig, cfg.Capacity, cfg.FalsePositiveRate, uint64(maxTierBits))
	}
	return nil
}

func (cfg FilterConfig) equal(o FilterConfig) bool {
	return cfg.Capacity == o.Capacity &&
		cfg.FalsePositiveRate == o.FalsePositiveRate &&
		cfg.Growth == o.Growth &&
		cfg.Tightening == o.Tightening &&
		sameFamily(cfg.Hash, o.Hash)
}

// SubFilter describes one tier of a Filter. It never changes once the
// tier is created.
type SubFilter struct {
	// Index is the tier's position, oldest first.
	Index int
	// Capacity is the number of items the tier is sized for.
	Capacity uint64
	// FalsePositiveRate is the tier's target rate.
	FalsePositiveRate float64
	// Bits is the length of the tier's bit array.
	Bits uint64
	// K is the number of probes per item.
	K uint32
	// Seed is the hash seed of probe 0; probe j uses Seed+j.
	Seed uint64
}

// tierSpec derives the metadata of tier i from the filter configuration.
func tierSpec(cfg FilterConfig, i int) SubFilter {
	n := uint64(tierCapacity(cfg.Capacity, cfg.Growth, i))
	p := tierFalsePositiveRate(cfg.FalsePositiveRate, cfg.Tightening, i)
	m, k := OptimalParams(n, p)
	return SubFilter{
		Index:             i,
		Capacity:          n,
		FalsePositiveRate: p,
		Bits:              m,
		K:                 k,
		Seed:              uint64(i) << 32,
	}
}

type tier struct {
	SubFilter
	bits  *bitset.BitSet
	count uint64
}

func newTier(sf SubFilter) *tier {
	return &tier{SubFilter: sf, bits: bitset.New(uint(sf.Bits))}
}

func (t *tier) add(h HashFamily, data []byte) {
	for j := range t.K {
		t.bits.Set(t.probe(h, data, j))
	}
	t.count++
}

func (t *tier) test(h HashFamily, data []byte) bool {
	for j := range t.K {
		if !t.bits.Test(t.probe(h, data, j)) {
			return false
		}
	}
	return true
}

// probe returns the bit position of probe j for data.
func (t *tier) probe(h HashFamily, data []byte, j uint32) uint {
	return uint(h.Sum64(data, t.Seed+uint64(j)) % t.Bits)
}

func (t *tier) wordCount() int {
	return int((t.Bits + 63) / 64)
}

func (t *tier) clone() *tier {
	return &tier{SubFilter: t.SubFilter, bits: t.bits.Clone(), count: t.count}
}

// Filter is a scalable Bloom filter. It starts with one tier sized for
// the configured capacity and appends a larger, tighter tier each time the
// newest one reaches its capacity, so the compound false positive rate
// stays below the configured ceiling however many items are added.
//
// Bits are never cleared: deletion is not supported and false negatives
// are impossible.
//
// Filter is NOT thread-safe.
type Filter struct {
	cfg   FilterConfig
	tiers []*tier
}

// NewFilter creates a scalable filter for capacity items at a compound
// false positive rate of fpRate, using the default growth policy.
func NewFilter(capacity uint64, fpRate float64) (*Filter, error) {
	return NewFilterWithConfig(FilterConfig{Capacity: capacity, FalsePositiveRate: fpRate})
}

// NewFilterWithConfig creates a scalable filter from an explicit configuration.
func NewFilterWithConfig(cfg FilterConfig) (*Filter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Filter{
		cfg:   cfg,
		tiers: []*tier{newTier(tierSpec(cfg, 0))},
	}, nil
}

// canGrow reports whether a filter holding n tiers may append another.
// Growth stops at maxTiers or once the next tier would be too large to
// allocate; the newest tier then keeps absorbing items.
func canGrow(cfg FilterConfig, n int) bool {
	return n < maxTiers && tierFits(cfg, n)
}

// active returns the newest tier, growing the filter first if that tier
// is full.
func (f *Filter) active() *tier {
	t := f.tiers[len(f.tiers)-1]
	if t.count < t.Capacity || !canGrow(f.cfg, len(f.tiers)) {
		return t
	}
	t = newTier(tierSpec(f.cfg, len(f.tiers)))
	f.tiers = append(f.tiers, t)
	return t
}

// Add adds data to the filter.
func (f *Filter) Add(data []byte) {
	f.active().add(f.cfg.Hash, data)
}

// AddString adds a string to the filter without allocating.
func (f *Filter) AddString(s string) {
	f.Add(stringBytes(s))
}

// Contains reports whether data might have been added. Tiers are checked
// newest first. A false result is definitive.
func (f *Filter) Contains(data []byte) bool {
	for i := len(f.tiers) - 1; i >= 0; i-- {
		if f.tiers[i].test(f.cfg.Hash, data) {
			return true
		}
	}
	return false
}

// ContainsString checks a string without allocating.
func (f *Filter) ContainsString(s string) bool {
	return f.Contains(stringBytes(s))
}

// TestAndAdd reports whether data might already be present and adds it
// only if it is not. Skipping known items keeps tiers from filling up on
// duplicates.
func (f *Filter) TestAndAdd(data []byte) bool {
	if f.Contains(data) {
		return true
	}
	f.Add(data)
	return false
}

// TestAndAddString is TestAndAdd for strings.
func (f *Filter) TestAndAddString(s string) bool {
	return f.TestAndAdd(stringBytes(s))
}

// Merge ORs other into f. Both filters must share the same configuration;
// every tier they both hold then has identical size, probe count and
// seeds, and differing tier metadata fails with ErrConfigMismatch.
//
// The filters may hold different numbers of tiers: tiers only other holds
// are copied into f rather than rejected. The result is the same
// regardless of argument order.
func (f *Filter) Merge(other *Filter) error {
	if !f.cfg.equal(other.cfg) {
		return fmt.Errorf("%w: filter configurations differ", ErrConfigMismatch)
	}
	shared := min(len(f.tiers), len(other.tiers))
	for i := range shared {
		if f.tiers[i].SubFilter != other.tiers[i].SubFilter {
			return fmt.Errorf("%w: tier %d layout differs", ErrConfigMismatch, i)
		}
	}

	for i := range shared {
		f.tiers[i].bits.InPlaceUnion(other.tiers[i].bits)
		f.tiers[i].count += other.tiers[i].count
	}
	for _, t := range other.tiers[shared:] {
		f.tiers = append(f.tiers, t.clone())
	}
	return nil
}

// Config returns the filter's configuration with defaults applied.
func (f *Filter) Config() FilterConfig {
	return f.cfg
}

// Tiers returns the metadata of every tier, oldest first.
func (f *Filter) Tiers() []SubFilter {
	out := make([]SubFilter, len(f.tiers))
	for i, t := range f.tiers {
		out[i] = t.SubFilter
	}
	return out
}

// Count returns the number of items added across all tiers.
func (f *Filter) Count() uint64 {
	var n uint64
	for _, t := range f.tiers {
		n += t.count
	}
	return n
}

// Cap returns the total size of all tiers in bits.
func (f *Filter) Cap() uint64 {
	var n uint64
	for _, t := range f.tiers {
		n += t.Bits
	}
	return n
}

// EstimatedFillRatio returns the proportion of bits set across all tiers.
func (f *Filter) EstimatedFillRatio() float64 {
	var set uint64
	for _, t := range f.tiers {
		set += uint64(t.bits.Count())
	}
	return float64(set) / float64(f.Cap())
}

// EstimatedFalsePositiveRate estimates the current compound false
// positive rate: the probability that at least one tier reports a hit.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	miss := 1.0
	for _, t := range f.tiers {
		miss *= 1 - EstimateFalsePositiveRate(t.Bits, t.K, t.count)
	}
	return 1 - miss
}

// TierWords returns a copy of tier i's bit array as 64-bit words.
func (f *Filter) TierWords(i int) ([]uint64, error) {
	if i < 0 || i >= len(f.tiers) {
		return nil, fmt.Errorf("%w: tier %d out of range [0, %d)", ErrInvalidData, i, len(f.tiers))
	}
	words := f.tiers[i].bits.Words()
	out := make([]uint64, len(words))
	copy(out, words)
	return out, nil
}

// SetTierWords replaces tier i's bit array with words. Bits beyond the
// tier's length are ignored.
func (f *Filter) SetTierWords(i int, words []uint64) error {
	if i < 0 || i >= len(f.tiers) {
		return fmt.Errorf("%w: tier %d out of range [0, %d)", ErrInvalidData, i, len(f.tiers))
	}
	t := f.tiers[i]
	if len(words) != t.wordCount() {
		return fmt.Errorf("%w: tier %d needs %d words, got %d", ErrInvalidData, i, t.wordCount(), len(words))
	}
	own := make([]uint64, len(words))
	copy(own, words)
	if tail := t.Bits % 64; tail != 0 {
		own[len(own)-1] &= (1 << tail) - 1
	}
	t.bits = bitset.FromWithLength(uint(t.Bits), own)
	return nil
}

const (
	filterVersion byte = 1

	// Version (1) + Family (1) + Capacity (8) + FPRate (8) + Growth (8) +
	// Tightening (8) + NumTiers (4) = 38 bytes
	filterHeaderSize = 38
)

// MarshalBinary serializes the filter.
// The serialized format is:
//   - Version (1 byte)
//   - Hash family id (1 byte)
//   - Capacity (8 bytes, little-endian uint64)
//   - FalsePositiveRate, Growth, Tightening (8 bytes each, IEEE 754 bits)
//   - NumTiers (4 bytes, little-endian uint32)
//   - Per tier: Count (8 bytes) followed by ceil(Bits/64) little-endian words
//
// Tier metadata is not serialized as it is derived from the configuration.
func (f *Filter) MarshalBinary() ([]byte, error) {
	id, err := familyID(f.cfg.Hash)
	if err != nil {
		return nil, err
	}

	size := filterHeaderSize
	for _, t := range f.tiers {
		size += 8 + t.wordCount()*8
	}
	buf := make([]byte, size)

	buf[0] = filterVersion
	buf[1] = id
	binary.LittleEndian.PutUint64(buf[2:10], f.cfg.Capacity)
	binary.LittleEndian.PutUint64(buf[10:18], math.Float64bits(f.cfg.FalsePositiveRate))
	binary.LittleEndian.PutUint64(buf[18:26], math.Float64bits(f.cfg.Growth))
	binary.LittleEndian.PutUint64(buf[26:34], math.Float64bits(f.cfg.Tightening))
	binary.LittleEndian.PutUint32(buf[34:38], uint32(len(f.tiers)))

	offset := filterHeaderSize
	for _, t := range f.tiers {
		binary.LittleEndian.PutUint64(buf[offset:offset+8], t.count)
		offset += 8
		for _, w := range t.bits.Words() {
			binary.LittleEndian.PutUint64(buf[offset:offset+8], w)
			offset += 8
		}
	}
	return buf, nil
}

// UnmarshalBinary replaces f with the filter encoded in data.
func (f *Filter) UnmarshalBinary(data []byte) error {
	if len(data) < filterHeaderSize {
		return fmt.Errorf("%w: data too short (got %d bytes, need at least %d)", ErrInvalidData, len(data), filterHeaderSize)
	}
	if data[0] != filterVersion {
		return fmt.Errorf("%w: got version %d, expected %d", ErrUnsupportedVersion, data[0], filterVersion)
	}

	h, err := familyByID(data[1])
	if err != nil {
		return err
	}
	cfg := FilterConfig{
		Capacity:          binary.LittleEndian.Uint64(data[2:10]),
		FalsePositiveRate: math.Float64frombits(binary.LittleEndian.Uint64(data[10:18])),
		Growth:            math.Float64frombits(binary.LittleEndian.Uint64(data[18:26])),
		Tightening:        math.Float64frombits(binary.LittleEndian.Uint64(data[26:34])),
		Hash:              h,
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	numTiers := binary.LittleEndian.Uint32(data[34:38])
	if numTiers == 0 || numTiers > maxTiers {
		return fmt.Errorf("%w: tier count %d outside [1, %d]", ErrInvalidData, numTiers, maxTiers)
	}

	tiers := make([]*tier, 0, numTiers)
	rest := data[filterHeaderSize:]
	for i := range int(numTiers) {
		// Reject sizes the remaining data cannot hold before allocating.
		if !tierFits(cfg, i) {
			return fmt.Errorf("%w: tier %d is too large", ErrInvalidData, i)
		}
		capF := tierCapacity(cfg.Capacity, cfg.Growth, i)
		bitsF := tierBits(capF, tierFalsePositiveRate(cfg.FalsePositiveRate, cfg.Tightening, i))
		if len(rest) < 8 || bitsF > float64(len(rest)-8)*8 {
			return fmt.Errorf("%w: tier %d truncated", ErrInvalidData, i)
		}

		t := &tier{SubFilter: tierSpec(cfg, i)}
		t.count = binary.LittleEndian.Uint64(rest[0:8])
		rest = rest[8:]

		n := t.wordCount()
		if len(rest) < n*8 {
			return fmt.Errorf("%w: tier %d truncated", ErrInvalidData, i)
		}
		words := make([]uint64, n)
		for j := range words {
			words[j] = binary.LittleEndian.Uint64(rest[j*8 : j*8+8])
		}
		rest = rest[n*8:]
		if tail := t.Bits % 64; tail != 0 && words[n-1]>>tail != 0 {
			return fmt.Errorf("%w: tier %d has bits beyond its length", ErrInvalidData, i)
		}
		t.bits = bitset.FromWithLength(uint(t.Bits), words)
		tiers = append(tiers, t)
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidData, len(rest))
	}

	f.cfg = cfg
	f.tiers = tiers
	return nil
}
