// Package sketchy provides probabilistic sketches for Go: approximate
// counting, approximate distinct-value estimation and approximate set
// membership, each trading exactness for sub-linear memory.
//
// # Sketches
//
// [MorrisCounter] counts events using a single small exponent c. Each Add
// increments c with probability 1/2^c and the count is estimated as 2^c.
// [MultiMorris] averages several independent counters to reduce variance.
//
// [Estimator] is a HyperLogLog distinct-value estimator. It keeps 2^k
// one-byte registers, each holding the longest run of leading zeros seen in
// the hashes routed to it, and combines them with a bias-corrected harmonic
// mean. The standard error is about 1.04/sqrt(2^k): 3.25% at k=10, 0.81%
// at k=14. Small cardinalities fall back to linear counting, so an empty
// estimator reports exactly 0. [AtomicEstimator] is the lock-free variant
// for concurrent writers.
//
// [Filter] is a scalable Bloom filter. It starts with one tier sized for
// the configured capacity and, whenever the newest tier fills up, appends a
// larger tier with a tighter false positive target. Tier i targets
// p*(1-r)*r^i, so the compound false positive rate never exceeds p.
// False negatives are impossible. [AtomicFilter] is the variant for
// concurrent writers.
//
// # Hashing
//
// Every sketch hashes through a [HashFamily]: a 64-bit hash function
// parameterized by a seed so that one family yields any number of
// independent hash functions. [XXH3] is the default; [XXHash64] and
// [Murmur3] are also provided, and any type implementing the interface can
// be plugged in.
//
// # Merging
//
// Sketches built independently, for example one per worker or shard, can
// be combined with Merge:
//
//	a, _ := sketchy.NewEstimator(14)
//	b, _ := sketchy.NewEstimator(14)
//	// ... feed a and b from different shards ...
//	if err := a.Merge(b); err != nil {
//		// precision, hash family or seed differ
//	}
//
// Merge is lossless, commutative and associative. It fails with
// [ErrConfigMismatch] when the sketches were configured differently.
//
// # Errors
//
// Constructors reject invalid parameters with [ErrInvalidConfig]; values
// are never clamped. Add, Estimate and Contains never fail.
//
// # Thread Safety
//
// [MorrisCounter], [MultiMorris], [Estimator] and [Filter] are NOT
// thread-safe. Use external synchronization, give each goroutine its own
// sketch and Merge them, or use [AtomicEstimator] and [AtomicFilter].
//
// # Persistence
//
// [Estimator] and [Filter] implement [encoding.BinaryMarshaler] and
// [encoding.BinaryUnmarshaler]. The raw register and bit arrays are also
// exposed through [Estimator.Registers] and [Filter.TierWords] for callers
// that want their own format.
//
// # References
//
//   - Morris, Counting Large Numbers of Events in Small Registers (1978)
//   - HyperLogLog: http://algo.inria.fr/flajolet/Publications/FlFuGaMe07.pdf
//   - Scalable Bloom Filters: https://gsd.di.uminho.pt/members/cbm/ps/dbloom.pdf
package sketchy
