// Package kvtest is a conformance suite for kv.Store implementations.
// Every backend runs the same suite from its own tests.
package kvtest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scanvault/internal/kv"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) kv.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		s := open(t, newStore)
		_, err := s.Get(context.Background(), "missing")
		assert.True(t, kv.IsNotFound(err), "got %v", err)
	})

	t.Run("PutGet", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "a", []byte("alpha")))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("alpha"), got)
	})

	t.Run("PutIsUpsert", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "op", []byte("v1")))
		require.NoError(t, s.Put(ctx, "op", []byte("v2")))

		got, err := s.Get(ctx, "op")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)

		keys, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"op"}, keys, "upsert must not duplicate records")
	})

	t.Run("EmptyValue", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "empty", []byte{}))

		got, err := s.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Len(t, got, 0)

		size, err := s.ValueSize(ctx, "empty")
		require.NoError(t, err)
		assert.Equal(t, int64(0), size)
	})

	t.Run("PutIfAbsent", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		inserted, err := s.PutIfAbsent(ctx, "k", []byte("first"))
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = s.PutIfAbsent(ctx, "k", []byte("second"))
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), got, "existing value must not be overwritten")
	})

	t.Run("PutIfAbsentConcurrent", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.PutIfAbsent(ctx, "same", []byte("payload"))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		keys, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"same"}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "gone", []byte("x")))

		removed, err := s.Delete(ctx, "gone")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = s.Delete(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, removed)

		_, err = s.Get(ctx, "gone")
		assert.True(t, kv.IsNotFound(err))
	})

	t.Run("KeysPrefixSorted", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		for _, k := range []string{"cas/b", "queue/1", "cas/a", "cas/c", "casual"} {
			require.NoError(t, s.Put(ctx, k, []byte(k)))
		}

		keys, err := s.Keys(ctx, "cas/")
		require.NoError(t, err)
		assert.Equal(t, []string{"cas/a", "cas/b", "cas/c"}, keys)

		all, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})

	t.Run("ValueSize", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, "five", []byte("hello")))

		size, err := s.ValueSize(ctx, "five")
		require.NoError(t, err)
		assert.Equal(t, int64(5), size)

		_, err = s.ValueSize(ctx, "none")
		assert.True(t, kv.IsNotFound(err))
	})

	t.Run("ValueSizeLarge", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		large := bytes.Repeat([]byte{0xa5}, 2<<20+3)
		require.NoError(t, s.Put(ctx, "large", large))

		size, err := s.ValueSize(ctx, "large")
		require.NoError(t, err)
		assert.Equal(t, int64(len(large)), size)

		got, err := s.Get(ctx, "large")
		require.NoError(t, err)
		assert.Equal(t, len(large), len(got))
	})

	t.Run("ReturnedValueIsCopy", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		in := []byte("immutable")
		require.NoError(t, s.Put(ctx, "k", in))
		in[0] = 'X'

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		got[1] = 'Y'

		again, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("immutable"), again)
	})

	t.Run("PrefixView", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		cas := kv.WithPrefix(s, "cas/")
		queue := kv.WithPrefix(s, "queue/")

		require.NoError(t, cas.Put(ctx, "x", []byte("content")))
		require.NoError(t, queue.Put(ctx, "x", []byte("operation")))

		got, err := cas.Get(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, []byte("content"), got)

		keys, err := queue.Keys(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, keys)

		raw, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"cas/x", "queue/x"}, raw)
	})

	t.Run("ManyKeys", func(t *testing.T) {
		s := open(t, newStore)
		ctx := context.Background()
		for i := 0; i < 100; i++ {
			require.NoError(t, s.Put(ctx, fmt.Sprintf("k/%03d", i), []byte{byte(i)}))
		}
		keys, err := s.Keys(ctx, "k/")
		require.NoError(t, err)
		require.Len(t, keys, 100)
		assert.Equal(t, "k/000", keys[0])
		assert.Equal(t, "k/099", keys[99])
	})

	t.Run("ClosedStore", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Close())
		_, err := s.Get(context.Background(), "a")
		assert.ErrorIs(t, err, kv.ErrClosed)
		assert.ErrorIs(t, s.Put(context.Background(), "a", nil), kv.ErrClosed)
	})
}

func open(t *testing.T, newStore Factory) kv.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { s.Close() })
	return s
}
