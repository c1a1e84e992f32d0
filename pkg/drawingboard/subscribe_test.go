package drawingboard

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchCollector captures debounced notification batches.
type batchCollector struct {
	mu      sync.Mutex
	batches [][]ChangeRecord
	snaps   []Snapshot
}

func (c *batchCollector) fn(snap Snapshot, records []ChangeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, records)
	c.snaps = append(c.snaps, snap)
}

func (c *batchCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestSubscribeDebouncing(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, func(o *Options) { o.DebounceWindow = 40 * time.Millisecond })

	col := &batchCollector{}
	unsubscribe := store.Subscribe("collector", col.fn, nil)
	defer unsubscribe()

	// Two rapid writes coalesce into a single batched notification.
	_, err := store.Transact(ctx, Transaction{
		Worker:  "dimension",
		Updates: map[string]any{"dimensions.width": 48},
	})
	require.NoError(t, err)
	_, err = store.Transact(ctx, Transaction{
		Worker:  "material",
		Updates: map[string]any{"materials": []string{"mdf"}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return col.count() == 1 },
		time.Second, 10*time.Millisecond)

	col.mu.Lock()
	defer col.mu.Unlock()
	records := col.batches[0]
	require.Len(t, records, 2)

	// Causal order within the batch follows commit order.
	assert.Equal(t, "dimensions.width", records[0].Path)
	assert.Equal(t, "materials", records[1].Path)
	assert.Equal(t, int64(2), col.snaps[0].Version)
}

func TestSubscribeFilter(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, func(o *Options) { o.DebounceWindow = 20 * time.Millisecond })

	col := &batchCollector{}
	unsubscribe := store.Subscribe("dims-only", col.fn, func(r ChangeRecord) bool {
		return strings.HasPrefix(r.Path, "dimensions.")
	})
	defer unsubscribe()

	_, err := store.Transact(ctx, Transaction{
		Worker: "dimension",
		Updates: map[string]any{
			"dimensions.width": 48,
			"materials":        []string{"mdf"},
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return col.count() == 1 },
		time.Second, 10*time.Millisecond)

	col.mu.Lock()
	defer col.mu.Unlock()
	require.Len(t, col.batches[0], 1)
	assert.Equal(t, "dimensions.width", col.batches[0][0].Path)
}

func TestSubscriberPanicIsolation(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, func(o *Options) { o.DebounceWindow = 20 * time.Millisecond })

	store.Subscribe("broken", func(Snapshot, []ChangeRecord) {
		panic("subscriber bug")
	}, nil)

	col := &batchCollector{}
	store.Subscribe("healthy", col.fn, nil)

	_, err := store.Transact(ctx, Transaction{
		Worker:  "dimension",
		Updates: map[string]any{"type": "bookshelf"},
	})
	require.NoError(t, err)

	// The healthy subscriber is notified despite the panicking one.
	require.Eventually(t, func() bool { return col.count() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, func(o *Options) { o.DebounceWindow = 20 * time.Millisecond })

	col := &batchCollector{}
	unsubscribe := store.Subscribe("collector", col.fn, nil)
	unsubscribe()
	unsubscribe() // safe to call twice

	_, err := store.Transact(ctx, Transaction{
		Worker:  "dimension",
		Updates: map[string]any{"type": "bookshelf"},
	})
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, col.count())
}

func TestSubscriberSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, func(o *Options) { o.DebounceWindow = 20 * time.Millisecond })

	done := make(chan struct{})
	store.Subscribe("mutator", func(snap Snapshot, _ []ChangeRecord) {
		SetPath(snap.Document, "type", "corrupted")
		close(done)
	}, nil)

	_, err := store.Transact(ctx, Transaction{
		Worker:  "dimension",
		Updates: map[string]any{"type": "bookshelf"},
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}

	snap, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bookshelf", snap.Document["type"])
}
