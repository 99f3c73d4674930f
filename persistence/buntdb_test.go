package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BuntDBStore {
	s, err := NewBuntDBStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuntDBStoreSetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k1", "v1", 0))
	v, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	ok, err := s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "k1"))
	ok, err = s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting an absent key is not an error
	require.NoError(t, s.Delete(ctx, "k1"))
}

func TestBuntDBStoreExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", "v", 50*time.Millisecond))
	v, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	time.Sleep(100 * time.Millisecond)
	_, err = s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuntDBStoreIncrementWithExpiryConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := s.IncrementWithExpiry(ctx, "counter", time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", n), v)
}

func TestBuntDBStoreIncrementPreservesTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.IncrementWithExpiry(ctx, "c", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// a second increment with a much longer ttl must not extend the window
	count, err = s.IncrementWithExpiry(ctx, "c", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	time.Sleep(200 * time.Millisecond)
	_, err = s.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuntDBStoreDecrementFloor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.Decrement(ctx, "gauge")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = s.IncrementWithExpiry(ctx, "gauge", time.Minute)
	require.NoError(t, err)
	count, err = s.Decrement(ctx, "gauge")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	count, err = s.Decrement(ctx, "gauge")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestBuntDBStoreScanPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := map[string]string{
		"room:r1:metadata": "a",
		"room:r2:metadata": "b",
	}
	require.NoError(t, s.SetMany(ctx, entries, 0))
	require.NoError(t, s.Set(ctx, "roomCode:ABC", "c", 0))

	out, err := s.ScanPrefix(ctx, "room:")
	require.NoError(t, err)
	assert.Equal(t, entries, out)

	out, err = s.ScanPrefix(ctx, "nope:")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBuntDBStoreDeleteMany(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMany(ctx, map[string]string{"a": "1", "b": "2"}, 0))
	require.NoError(t, s.DeleteMany(ctx, []string{"a", "b", "c"}))
	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}
