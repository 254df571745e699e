package store_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwell/gridwell/pkg/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_RoundTripOutOfOrderAppends(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	w, err := s.NewWriter(1, "urls")
	require.NoError(t, err)

	// partitions complete in arbitrary order; indices are explicit
	for _, idx := range []int{7, 0, 3, 5, 1} {
		require.NoError(t, w.Append(idx, fmt.Appendf(nil, "value-%d", idx)))
	}
	require.NoError(t, w.Complete())

	records, err := s.Retrieve(1, "urls")
	require.NoError(t, err)
	require.Len(t, records, 5)

	want := []int{0, 1, 3, 5, 7}
	for i, r := range records {
		assert.Equal(t, want[i], r.Index)
		assert.Equal(t, fmt.Sprintf("value-%d", want[i]), string(r.Payload))
	}
}

func TestStore_RetrieveUnsealedFails(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	w, err := s.NewWriter(2, "urls")
	require.NoError(t, err)
	require.NoError(t, w.Append(0, []byte("partial")))

	_, err = s.Retrieve(2, "urls")
	assert.ErrorIs(t, err, store.ErrIncomplete)
	assert.False(t, s.Completed(2, "urls"))

	require.NoError(t, w.Complete())
	assert.True(t, s.Completed(2, "urls"))
}

func TestStore_RetrieveMissing(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	_, err := s.Retrieve(42, "urls")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_DiscardAllIdempotent(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	// discard of an id never written is a no-op
	require.NoError(t, s.DiscardAll(9))

	w, err := s.NewWriter(9, "urls")
	require.NoError(t, err)
	require.NoError(t, w.Append(0, []byte("x")))
	require.NoError(t, w.Complete())

	require.NoError(t, s.DiscardAll(9))
	require.NoError(t, s.DiscardAll(9))

	_, err = s.Retrieve(9, "urls")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// no residual files for the entry
	_, statErr := os.Stat(filepath.Join(s.Dir(), "9"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_NewWriterDiscardsPriorAttempt(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	w1, err := s.NewWriter(3, "urls")
	require.NoError(t, err)
	require.NoError(t, w1.Append(0, []byte("old")))
	require.NoError(t, w1.Complete())

	// recomputation never merges with a prior attempt
	w2, err := s.NewWriter(3, "urls")
	require.NoError(t, err)
	require.NoError(t, w2.Append(0, []byte("new")))
	require.NoError(t, w2.Complete())

	records, err := s.Retrieve(3, "urls")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", string(records[0].Payload))
}

func TestStore_AbortRemovesPartialContainer(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	w, err := s.NewWriter(4, "urls")
	require.NoError(t, err)
	require.NoError(t, w.Append(0, []byte("x")))
	require.NoError(t, w.Abort())
	// abort after abort is a no-op
	require.NoError(t, w.Abort())

	_, err = s.Retrieve(4, "urls")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, w.Append(1, []byte("y")), store.ErrWriterClosed)
}

func TestStore_CorruptRecordDetected(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := store.New(dir)
	require.NoError(t, err)

	w, err := s.NewWriter(5, "urls")
	require.NoError(t, err)
	require.NoError(t, w.Append(0, []byte("payload-payload-payload")))
	require.NoError(t, w.Complete())

	path := filepath.Join(dir, "5", "urls.cd")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[40] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = s.Retrieve(5, "urls")
	assert.ErrorIs(t, err, store.ErrCorruptData)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	w, err := s.NewWriter(6, "urls")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				idx := g*50 + i
				assert.NoError(t, w.Append(idx, fmt.Appendf(nil, "v%d", idx)))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Complete())

	records, err := s.Retrieve(6, "urls")
	require.NoError(t, err)
	require.Len(t, records, 400)
	for i, r := range records {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, fmt.Sprintf("v%d", i), string(r.Payload))
	}
}
