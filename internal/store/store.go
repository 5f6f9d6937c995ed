// Package store persists named sketches in a bbolt database.
//
// Each value is a one-byte kind tag followed by the snappy-compressed
// binary encoding of the sketch.
package store

import (
	"encoding"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
	bolt "go.etcd.io/bbolt"

	"github.com/jcalabro/sketchy"
)

var sketchesBucket = []byte("sketches")

// Errors returned by the store.
var (
	ErrNotFound     = errors.New("sketch not found")
	ErrInvalidName  = errors.New("sketch name must not be empty")
	ErrKindMismatch = errors.New("sketch kinds differ")
	ErrCorrupt      = errors.New("stored sketch is corrupt")
)

// Kind identifies the type of a stored sketch.
type Kind byte

// Stored sketch kinds. Values are persisted and must never change.
const (
	KindEstimator Kind = 1
	KindFilter    Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindEstimator:
		return "estimator"
	case KindFilter:
		return "filter"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Sketch is a value the store can encode and decode.
type Sketch interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// KindOf returns the kind of a sketch value.
func KindOf(v any) (Kind, error) {
	switch v.(type) {
	case *sketchy.Estimator:
		return KindEstimator, nil
	case *sketchy.Filter:
		return KindFilter, nil
	}
	return 0, fmt.Errorf("unsupported sketch type %T", v)
}

// Entry describes a stored sketch.
type Entry struct {
	Name string
	Kind Kind
	// Size is the stored (compressed) size in bytes.
	Size int
}

// Store is a named sketch store.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("unable to open sketch store %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sketchesBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to initialize sketch store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores v under name, replacing any existing sketch.
func (s *Store) Put(name string, kind Kind, v encoding.BinaryMarshaler) error {
	if name == "" {
		return ErrInvalidName
	}

	blob, err := v.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	value := append([]byte{byte(kind)}, snappy.Encode(nil, blob)...)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sketchesBucket).Put([]byte(name), value)
	})
}

// Get decodes the sketch stored under name into v and returns its kind.
func (s *Store) Get(name string, v encoding.BinaryUnmarshaler) (Kind, error) {
	kind, blob, err := s.read(name)
	if err != nil {
		return 0, err
	}
	if err := v.UnmarshalBinary(blob); err != nil {
		return 0, fmt.Errorf("decoding %s: %w", name, err)
	}
	return kind, nil
}

// Load decodes the sketch stored under name into a value of the matching
// type: *sketchy.Estimator or *sketchy.Filter.
func (s *Store) Load(name string) (Sketch, error) {
	kind, blob, err := s.read(name)
	if err != nil {
		return nil, err
	}

	var v Sketch
	switch kind {
	case KindEstimator:
		v = &sketchy.Estimator{}
	case KindFilter:
		v = &sketchy.Filter{}
	default:
		return nil, fmt.Errorf("%w: %s has unknown %s", ErrCorrupt, name, kind)
	}

	if err := v.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return v, nil
}

// Kind returns the kind of the sketch stored under name.
func (s *Store) Kind(name string) (Kind, error) {
	kind, _, err := s.read(name)
	return kind, err
}

// read returns the kind and decompressed blob stored under name.
func (s *Store) read(name string) (Kind, []byte, error) {
	var kind Kind
	var blob []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(sketchesBucket).Get([]byte(name))
		if value == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if len(value) < 1 {
			return fmt.Errorf("%w: %s is empty", ErrCorrupt, name)
		}

		// value is only valid inside the transaction; Decode copies.
		decoded, err := snappy.Decode(nil, value[1:])
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
		}
		kind = Kind(value[0])
		blob = decoded
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return kind, blob, nil
}

// List returns every stored sketch ordered by name.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sketchesBucket).ForEach(func(k, v []byte) error {
			e := Entry{Name: string(k), Size: len(v)}
			if len(v) > 0 {
				e.Kind = Kind(v[0])
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes the sketch stored under name.
func (s *Store) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sketchesBucket)
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return b.Delete([]byte(name))
	})
}
