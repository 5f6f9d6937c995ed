package sketchy

import (
	"fmt"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/twmb/murmur3"
	"github.com/zeebo/xxh3"
)

// HashWidth is the width in bits of every HashFamily output.
const HashWidth = 64

// HashFamily produces deterministic, uniformly distributed 64-bit hashes.
// Each seed selects an independent member of the family, so a single
// HashFamily can stand in for any number of hash functions.
//
// Implementations must be pure: identical (data, seed) pairs always yield
// identical output, and data must not be retained.
type HashFamily interface {
	// Sum64 returns the hash of data under the given seed.
	Sum64(data []byte, seed uint64) uint64
	// Name returns a stable identifier used for compatibility checks
	// and serialization.
	Name() string
}

// Stable family identifiers. These are written into serialized sketches
// and must never change.
const (
	familyIDXXH3     byte = 1
	familyIDXXHash64 byte = 2
	familyIDMurmur3  byte = 3
)

type xxh3Family struct{}

func (xxh3Family) Sum64(data []byte, seed uint64) uint64 { return xxh3.HashSeed(data, seed) }
func (xxh3Family) Name() string                          { return "xxh3" }

type xxhash64Family struct{}

func (xxhash64Family) Sum64(data []byte, seed uint64) uint64 {
	var d xxhash.Digest
	d.ResetWithSeed(seed)
	_, _ = d.Write(data)
	return d.Sum64()
}
func (xxhash64Family) Name() string { return "xxhash64" }

type murmur3Family struct{}

func (murmur3Family) Sum64(data []byte, seed uint64) uint64 { return murmur3.SeedSum64(seed, data) }
func (murmur3Family) Name() string                          { return "murmur3" }

var (
	// XXH3 is the default family, backed by xxh3's seeded 64-bit hash.
	XXH3 HashFamily = xxh3Family{}

	// XXHash64 is backed by the seeded XXH64 digest.
	XXHash64 HashFamily = xxhash64Family{}

	// Murmur3 is backed by the 64-bit half of seeded MurmurHash3 x64_128.
	Murmur3 HashFamily = murmur3Family{}
)

// DefaultHashFamily is used when a configuration leaves the family unset.
var DefaultHashFamily = XXH3

var familiesByName = map[string]HashFamily{
	XXH3.Name():     XXH3,
	XXHash64.Name(): XXHash64,
	Murmur3.Name():  Murmur3,
}

// LookupHashFamily returns the built-in family registered under name.
func LookupHashFamily(name string) (HashFamily, error) {
	f, ok := familiesByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown hash family %q", ErrInvalidConfig, name)
	}
	return f, nil
}

// familyID maps a built-in family to its serialized identifier.
// Custom families cannot be serialized.
func familyID(f HashFamily) (byte, error) {
	switch f.Name() {
	case XXH3.Name():
		return familyIDXXH3, nil
	case XXHash64.Name():
		return familyIDXXHash64, nil
	case Murmur3.Name():
		return familyIDMurmur3, nil
	}
	return 0, fmt.Errorf("%w: hash family %q cannot be serialized", ErrInvalidConfig, f.Name())
}

// familyByID is the inverse of familyID.
func familyByID(id byte) (HashFamily, error) {
	switch id {
	case familyIDXXH3:
		return XXH3, nil
	case familyIDXXHash64:
		return XXHash64, nil
	case familyIDMurmur3:
		return Murmur3, nil
	}
	return nil, fmt.Errorf("%w: unknown hash family id %d", ErrInvalidData, id)
}

// sameFamily reports whether two families produce identical hashes.
func sameFamily(a, b HashFamily) bool {
	return a.Name() == b.Name()
}

// stringBytes views s as a byte slice without copying.
// The result must not be modified.
func stringBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
