package sketchy

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
)

// atomicTier is a tier whose bit array is a slice of atomic words.
type atomicTier struct {
	SubFilter
	words []atomic.Uint64
	count atomic.Uint64
}

func newAtomicTier(sf SubFilter) *atomicTier {
	return &atomicTier{SubFilter: sf, words: make([]atomic.Uint64, (sf.Bits+63)/64)}
}

func (t *atomicTier) add(h HashFamily, data []byte) {
	for j := range t.K {
		pos := t.probe(h, data, j)
		t.words[pos/64].Or(1 << (pos % 64))
	}
	t.count.Add(1)
}

func (t *atomicTier) test(h HashFamily, data []byte) bool {
	for j := range t.K {
		pos := t.probe(h, data, j)
		if t.words[pos/64].Load()&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

func (t *atomicTier) probe(h HashFamily, data []byte, j uint32) uint64 {
	return h.Sum64(data, t.Seed+uint64(j)) % t.Bits
}

// orWords ORs words into the tier one word at a time.
func (t *atomicTier) orWords(words []uint64) {
	for i, w := range words {
		if w != 0 {
			t.words[i].Or(w)
		}
	}
}

// AtomicFilter is a thread-safe scalable Bloom filter. It follows the same
// tier layout and growth policy as Filter, so a Snapshot is bit-for-bit the
// Filter that would have seen the same items landing in the same tiers.
//
// Bits are set with atomic OR and tested with atomic loads, so Add and
// Contains need no lock. Appending a tier takes a mutex; readers load the
// tier list through an atomic pointer and never block. Concurrent writers
// racing past a full tier may overshoot its capacity by at most one item
// each before the next tier is installed.
type AtomicFilter struct {
	cfg   FilterConfig
	tiers atomic.Pointer[[]*atomicTier]
	grow  sync.Mutex
}

// NewAtomicFilter creates a thread-safe scalable filter for capacity items
// at a compound false positive rate of fpRate.
func NewAtomicFilter(capacity uint64, fpRate float64) (*AtomicFilter, error) {
	return NewAtomicFilterWithConfig(FilterConfig{Capacity: capacity, FalsePositiveRate: fpRate})
}

// NewAtomicFilterWithConfig creates a thread-safe scalable filter from an
// explicit configuration.
func NewAtomicFilterWithConfig(cfg FilterConfig) (*AtomicFilter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f := &AtomicFilter{cfg: cfg}
	tiers := []*atomicTier{newAtomicTier(tierSpec(cfg, 0))}
	f.tiers.Store(&tiers)
	return f, nil
}

func (f *AtomicFilter) loadTiers() []*atomicTier {
	return *f.tiers.Load()
}

// active returns the newest tier, appending a new one first if that tier
// is full.
func (f *AtomicFilter) active() *atomicTier {
	tiers := f.loadTiers()
	t := tiers[len(tiers)-1]
	if t.count.Load() < t.Capacity || !canGrow(f.cfg, len(tiers)) {
		return t
	}

	f.grow.Lock()
	defer f.grow.Unlock()

	// Another writer may have grown the filter while we waited.
	tiers = f.loadTiers()
	t = tiers[len(tiers)-1]
	if t.count.Load() < t.Capacity || !canGrow(f.cfg, len(tiers)) {
		return t
	}

	t = newAtomicTier(tierSpec(f.cfg, len(tiers)))
	f.appendTiers(tiers, t)
	return t
}

// appendTiers publishes tiers followed by extra. Callers hold f.grow.
func (f *AtomicFilter) appendTiers(tiers []*atomicTier, extra ...*atomicTier) {
	next := make([]*atomicTier, 0, len(tiers)+len(extra))
	next = append(next, tiers...)
	next = append(next, extra...)
	f.tiers.Store(&next)
}

// Add adds data to the filter. Safe for concurrent use.
func (f *AtomicFilter) Add(data []byte) {
	f.active().add(f.cfg.Hash, data)
}

// AddString adds a string to the filter without allocating.
func (f *AtomicFilter) AddString(s string) {
	f.Add(stringBytes(s))
}

// Contains reports whether data might have been added. Every Add that
// returned before Contains was called is visible.
func (f *AtomicFilter) Contains(data []byte) bool {
	tiers := f.loadTiers()
	for i := len(tiers) - 1; i >= 0; i-- {
		if tiers[i].test(f.cfg.Hash, data) {
			return true
		}
	}
	return false
}

// ContainsString checks a string without allocating.
func (f *AtomicFilter) ContainsString(s string) bool {
	return f.Contains(stringBytes(s))
}

// Config returns the filter's configuration with defaults applied.
func (f *AtomicFilter) Config() FilterConfig {
	return f.cfg
}

// Tiers returns the metadata of every tier, oldest first.
func (f *AtomicFilter) Tiers() []SubFilter {
	tiers := f.loadTiers()
	out := make([]SubFilter, len(tiers))
	for i, t := range tiers {
		out[i] = t.SubFilter
	}
	return out
}

// Count returns the number of items added across all tiers.
func (f *AtomicFilter) Count() uint64 {
	var n uint64
	for _, t := range f.loadTiers() {
		n += t.count.Load()
	}
	return n
}

// Cap returns the total size of all tiers in bits.
func (f *AtomicFilter) Cap() uint64 {
	var n uint64
	for _, t := range f.loadTiers() {
		n += t.Bits
	}
	return n
}

// EstimatedFillRatio returns the proportion of bits set across all tiers.
func (f *AtomicFilter) EstimatedFillRatio() float64 {
	var set, total uint64
	for _, t := range f.loadTiers() {
		for i := range t.words {
			set += uint64(bits.OnesCount64(t.words[i].Load()))
		}
		total += t.Bits
	}
	return float64(set) / float64(total)
}

// EstimatedFalsePositiveRate estimates the current compound false
// positive rate.
func (f *AtomicFilter) EstimatedFalsePositiveRate() float64 {
	miss := 1.0
	for _, t := range f.loadTiers() {
		miss *= 1 - EstimateFalsePositiveRate(t.Bits, t.K, t.count.Load())
	}
	return 1 - miss
}

// Merge folds a plain Filter into f under the same rules as Filter.Merge.
// It is safe to call concurrently with Add and Contains.
func (f *AtomicFilter) Merge(other *Filter) error {
	if !f.cfg.equal(other.cfg) {
		return fmt.Errorf("%w: filter configurations differ", ErrConfigMismatch)
	}

	f.grow.Lock()
	defer f.grow.Unlock()

	tiers := f.loadTiers()
	shared := min(len(tiers), len(other.tiers))
	for i := range shared {
		if tiers[i].SubFilter != other.tiers[i].SubFilter {
			return fmt.Errorf("%w: tier %d layout differs", ErrConfigMismatch, i)
		}
	}

	for i := range shared {
		tiers[i].orWords(other.tiers[i].bits.Words())
		tiers[i].count.Add(other.tiers[i].count)
	}
	if len(other.tiers) > shared {
		extra := make([]*atomicTier, 0, len(other.tiers)-shared)
		for _, src := range other.tiers[shared:] {
			t := newAtomicTier(src.SubFilter)
			t.orWords(src.bits.Words())
			t.count.Store(src.count)
			extra = append(extra, t)
		}
		f.appendTiers(tiers, extra...)
	}
	return nil
}

// Snapshot copies the current state into a plain Filter, for example to
// serialize it. Adds racing with Snapshot may or may not be included.
func (f *AtomicFilter) Snapshot() *Filter {
	tiers := f.loadTiers()
	out := &Filter{cfg: f.cfg, tiers: make([]*tier, len(tiers))}
	for i, t := range tiers {
		words := make([]uint64, len(t.words))
		for j := range t.words {
			words[j] = t.words[j].Load()
		}
		out.tiers[i] = &tier{
			SubFilter: t.SubFilter,
			bits:      bitset.FromWithLength(uint(t.Bits), words),
			count:     t.count.Load(),
		}
	}
	return out
}
