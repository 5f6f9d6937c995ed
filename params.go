package sketchy

import "math"

const (
	// ln2 is the natural logarithm of 2.
	ln2 = 0.6931471805599453
	// ln2Squared is ln(2)^2.
	ln2Squared = 0.4804530139182014

	// DefaultGrowth is the capacity multiplier between filter tiers.
	DefaultGrowth = 2.0
	// DefaultTightening is the ratio by which each new tier's target
	// false positive rate shrinks.
	DefaultTightening = 0.85

	// maxTierBits bounds the bit array of any single tier (128 GiB).
	maxTierBits = 1 << 40
)

// OptimalParams calculates the bit count m and probe count k of a Bloom
// filter holding n items at false positive rate p:
//
//	m = ceil(-n * ln(p) / ln(2)^2)
//	k = round(m/n * ln(2)), at least 1
//
// Callers validate n > 0 and 0 < p < 1.
func OptimalParams(n uint64, p float64) (m uint64, k uint32) {
	mf := math.Ceil(-float64(n) * math.Log(p) / ln2Squared)
	m = max(uint64(mf), 1)
	k = uint32(math.Round(float64(m) / float64(n) * ln2))
	k = max(k, 1)
	return m, k
}

// EstimateFalsePositiveRate estimates the false positive rate of a single
// Bloom filter of m bits and k probes holding n items.
// Formula: (1 - e^(-kn/m))^k
func EstimateFalsePositiveRate(m uint64, k uint32, n uint64) float64 {
	if m == 0 || n == 0 {
		return 0
	}
	kf := float64(k)
	return math.Pow(1-math.Exp(-kf*float64(n)/float64(m)), kf)
}

// tierCapacity returns the designed capacity of tier i: n0 * growth^i.
func tierCapacity(n0 uint64, growth float64, i int) float64 {
	return math.Ceil(float64(n0) * math.Pow(growth, float64(i)))
}

// tierFalsePositiveRate returns the target rate of tier i:
// p * (1-r) * r^i. The geometric series sums to at most p over any number
// of tiers, which bounds the compound false positive rate.
func tierFalsePositiveRate(p, r float64, i int) float64 {
	return p * (1 - r) * math.Pow(r, float64(i))
}

// tierBits returns the unrounded bit count for a tier. Used to reject
// absurd sizes before allocating.
func tierBits(capacity, p float64) float64 {
	return math.Ceil(-capacity * math.Log(p) / ln2Squared)
}

// tierFits reports whether tier i of cfg can be allocated: its capacity
// fits in a uint64 and its bit count is at most maxTierBits. NaN and
// infinite sizes never fit.
func tierFits(cfg FilterConfig, i int) bool {
	capacity := tierCapacity(cfg.Capacity, cfg.Growth, i)
	bits := tierBits(capacity, tierFalsePositiveRate(cfg.FalsePositiveRate, cfg.Tightening, i))
	return capacity < 1<<63 && bits <= maxTierBits
}
