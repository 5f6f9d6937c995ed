package store

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/jcalabro/sketchy"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sketchy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetEstimator(t *testing.T) {
	s := openTestStore(t)

	est, err := sketchy.NewEstimator(10)
	require.NoError(t, err)
	for i := range 1000 {
		est.AddString(strconv.Itoa(i))
	}
	require.NoError(t, s.Put("users", KindEstimator, est))

	var got sketchy.Estimator
	kind, err := s.Get("users", &got)
	require.NoError(t, err)
	assert.Equal(t, KindEstimator, kind)
	assert.Equal(t, est.Registers(), got.Registers())
	assert.InDelta(t, est.Estimate(), got.Estimate(), 0)
}

func TestLoadFilter(t *testing.T) {
	s := openTestStore(t)

	f, err := sketchy.NewFilter(100, 0.01)
	require.NoError(t, err)
	for i := range 250 {
		f.AddString(strconv.Itoa(i))
	}
	require.NoError(t, s.Put("seen", KindFilter, f))

	kind, err := s.Kind("seen")
	require.NoError(t, err)
	assert.Equal(t, KindFilter, kind)

	v, err := s.Load("seen")
	require.NoError(t, err)
	got, ok := v.(*sketchy.Filter)
	require.True(t, ok, "got %T", v)
	assert.Equal(t, f.Tiers(), got.Tiers())
	assert.Equal(t, f.Count(), got.Count())
	for i := range 250 {
		assert.True(t, got.ContainsString(strconv.Itoa(i)))
	}
}

func TestPutReplaces(t *testing.T) {
	s := openTestStore(t)

	a, err := sketchy.NewEstimator(8)
	require.NoError(t, err)
	require.NoError(t, s.Put("x", KindEstimator, a))

	f, err := sketchy.NewFilter(10, 0.1)
	require.NoError(t, err)
	require.NoError(t, s.Put("x", KindFilter, f))

	kind, err := s.Kind("x")
	require.NoError(t, err)
	assert.Equal(t, KindFilter, kind)
}

func TestListAndDelete(t *testing.T) {
	s := openTestStore(t)

	est, err := sketchy.NewEstimator(8)
	require.NoError(t, err)
	f, err := sketchy.NewFilter(10, 0.1)
	require.NoError(t, err)

	require.NoError(t, s.Put("b", KindFilter, f))
	require.NoError(t, s.Put("a", KindEstimator, est))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, KindEstimator, entries[0].Kind)
	assert.Equal(t, "b", entries[1].Name)
	assert.Equal(t, KindFilter, entries[1].Kind)
	assert.Positive(t, entries[0].Size)

	require.NoError(t, s.Delete("a"))
	entries, err = s.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Name)

	assert.ErrorIs(t, s.Delete("a"), ErrNotFound)
}

func TestNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("missing", &sketchy.Estimator{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Kind("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidName(t *testing.T) {
	s := openTestStore(t)

	est, err := sketchy.NewEstimator(8)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Put("", KindEstimator, est), ErrInvalidName)
}

func TestCorruptValue(t *testing.T) {
	s := openTestStore(t)

	put := func(name string, value []byte) {
		require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(sketchesBucket).Put([]byte(name), value)
		}))
	}

	put("garbage", []byte{byte(KindEstimator), 0xff, 0xff, 0xff})
	_, err := s.Load("garbage")
	assert.ErrorIs(t, err, ErrCorrupt)

	put("unknown", append([]byte{9}, snappyBlob(t)...))
	_, err = s.Load("unknown")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func snappyBlob(t *testing.T) []byte {
	t.Helper()
	return snappy.Encode(nil, []byte("not a sketch"))
}

func TestGetWrongType(t *testing.T) {
	s := openTestStore(t)

	f, err := sketchy.NewFilter(10, 0.1)
	require.NoError(t, err)
	require.NoError(t, s.Put("f", KindFilter, f))

	_, err = s.Get("f", &sketchy.Estimator{})
	assert.ErrorIs(t, err, sketchy.ErrInvalidData)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sketchy.db")

	s, err := Open(path)
	require.NoError(t, err)
	est, err := sketchy.NewEstimator(8)
	require.NoError(t, err)
	est.AddString("hello")
	require.NoError(t, s.Put("h", KindEstimator, est))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var got sketchy.Estimator
	_, err = s.Get("h", &got)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Count())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "estimator", KindEstimator.String())
	assert.Equal(t, "filter", KindFilter.String())
	assert.Equal(t, "kind(9)", Kind(9).String())

	k, err := KindOf(&sketchy.Filter{})
	require.NoError(t, err)
	assert.Equal(t, KindFilter, k)

	_, err = KindOf(42)
	assert.Error(t, err)
}
