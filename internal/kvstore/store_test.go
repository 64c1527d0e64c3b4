package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goflare.io/aegis/internal/config"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "a", `{"v":1}`))
	require.NoError(t, s.Set(ctx, "b", `{"v":2}`))
	require.NoError(t, s.Set(ctx, "a", `{"v":3}`))

	v, found, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"v":3}`, v)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "never-written"))

	_, found, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}

func TestMemory_Contract(t *testing.T) {
	exerciseStore(t, NewMemory(0))
}

func TestMemory_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10)

	require.NoError(t, m.Set(ctx, "k", "12345"))
	assert.Equal(t, 6, m.Size())

	err := m.Set(ctx, "k2", "123456")
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// Overwriting frees the old value's bytes first.
	require.NoError(t, m.Set(ctx, "k", "123456789"))
	assert.Equal(t, 10, m.Size())

	require.NoError(t, m.Delete(ctx, "k"))
	assert.Equal(t, 0, m.Size())
	require.NoError(t, m.Set(ctx, "k2", "123456"))
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemory(0)
	require.ErrorIs(t, m.Set(ctx, "k", "v"), context.Canceled)
	_, err := m.Keys(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRistretto_Contract(t *testing.T) {
	s, err := NewRistretto(RistrettoOptions{MaxBytes: 1 << 20}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestRistretto_RejectsOversizedValue(t *testing.T) {
	s, err := NewRistretto(RistrettoOptions{MaxBytes: 64}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	err = s.Set(context.Background(), "big", strings.Repeat("x", 1024))
	require.ErrorIs(t, err, ErrQuotaExceeded)

	keys, err := s.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNewRistretto_InvalidSize(t *testing.T) {
	_, err := NewRistretto(RistrettoOptions{}, nil)
	require.Error(t, err)
}

func TestSQLite_Contract(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "entities?page=1", `{"data":[]}`))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	v, found, err := s.Get(ctx, "entities?page=1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"data":[]}`, v)
}

func TestRedis_Contract(t *testing.T) {
	url := os.Getenv("AEGIS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("AEGIS_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	s, err := DialRedis(ctx, url, "aegis_test:"+t.Name()+":")
	require.NoError(t, err)
	defer s.Close()

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, s.Delete(ctx, k))
	}

	exerciseStore(t, s)
}

func TestTracker_KeysSorted(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	tr.Add("b")
	tr.Add("a")
	tr.Add("c")
	tr.Remove("c")

	assert.Equal(t, []string{"a", "b"}, tr.Keys(context.Background()))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, config.StoreConfig{Driver: "ristretto"}, zap.NewNop())
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.(*Ristretto).Close())

	path := filepath.Join(t.TempDir(), "open.db")
	s, err = Open(ctx, config.StoreConfig{Driver: "sqlite", Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, s.(*SQLite).Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "sqlite"}, nil)
	assert.Error(t, err)
	_, err = Open(ctx, config.StoreConfig{Driver: "redis"}, nil)
	assert.Error(t, err)
	_, err = Open(ctx, config.StoreConfig{Driver: "etcd"}, nil)
	assert.Error(t, err)
}
