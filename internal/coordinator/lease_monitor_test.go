// Package coordinator implements the job side of the word-count protocol.
// This file contains tests for lease-based reclaim.
package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tally/internal/cluster"
	"github.com/dreamware/tally/internal/storage"
)

// TestNewLeaseMonitor verifies the monitor is configured and idle.
func TestNewLeaseMonitor(t *testing.T) {
	monitor := NewLeaseMonitor(storage.NewMemoryStore(), 5*time.Second, testLog)
	defer monitor.Stop()

	assert.NotNil(t, monitor)
	assert.Equal(t, 5*time.Second, monitor.interval)
	assert.NotNil(t, monitor.ctx)
	assert.NotNil(t, monitor.cancel)
	assert.Zero(t, monitor.Reclaimed())
}

// TestReclaimExpired covers the three kinds of lease a scan can find.
func TestReclaimExpired(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()

	// Chunk 0 expired and unfinished, chunk 1 expired but finished,
	// chunk 2 still within its lease
	require.NoError(t, store.ZAdd(ctx, cluster.LeaseSet, "0", cluster.LeaseScore(now.Add(-time.Second))))
	require.NoError(t, store.ZAdd(ctx, cluster.LeaseSet, "1", cluster.LeaseScore(now.Add(-time.Second))))
	require.NoError(t, store.SAdd(ctx, cluster.CompletedSet, "1"))
	require.NoError(t, store.ZAdd(ctx, cluster.LeaseSet, "2", cluster.LeaseScore(now.Add(time.Minute))))

	monitor := NewLeaseMonitor(store, time.Second, testLog)
	monitor.now = func() time.Time { return now }

	var got []int
	monitor.SetOnReclaim(func(id int) { got = append(got, id) })

	n, err := monitor.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int{0}, got)
	assert.Equal(t, uint64(1), monitor.Reclaimed())

	queued, err := store.RPop(ctx, cluster.PendingQueue)
	require.NoError(t, err)
	assert.Equal(t, "0", queued)
	_, err = store.RPop(ctx, cluster.PendingQueue)
	assert.ErrorIs(t, err, storage.ErrQueueEmpty)

	remaining, err := store.ZRangeByScore(ctx, cluster.LeaseSet, cluster.LeaseScore(now.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, remaining)

	// A second scan finds nothing new
	n, err = monitor.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestReclaimExpiredConcurrentScans checks that two monitors racing over the
// same expired lease requeue the chunk once.
func TestReclaimExpiredConcurrentScans(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.ZAdd(ctx, cluster.LeaseSet, "4", cluster.LeaseScore(time.Now().Add(-time.Second))))

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := NewLeaseMonitor(store, time.Second, testLog).ReclaimExpired(ctx)
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, total)
}

// TestLeaseMonitorStart verifies the background loop reclaims and stops.
func TestLeaseMonitorStart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	monitor := NewLeaseMonitor(store, 20*time.Millisecond, testLog)

	monitor.Start(ctx)

	require.NoError(t, store.ZAdd(ctx, cluster.LeaseSet, "3", cluster.LeaseScore(time.Now().Add(-time.Second))))

	require.Eventually(t, func() bool {
		return monitor.Reclaimed() == 1
	}, 2*time.Second, 10*time.Millisecond)

	monitor.Stop()

	queued, err := store.RPop(ctx, cluster.PendingQueue)
	require.NoError(t, err)
	assert.Equal(t, "3", queued)
}

// TestLeaseMonitorStopsOnContext verifies external cancellation ends the loop
// without a call to Stop.
func TestLeaseMonitorStopsOnContext(t *testing.T) {
	monitor := NewLeaseMonitor(storage.NewMemoryStore(), 10*time.Millisecond, testLog)
	defer monitor.Stop()
	ctx, cancel := context.WithCancel(context.Background())

	monitor.Start(ctx)

	done := make(chan struct{})
	go func() {
		monitor.wg.Wait()
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancellation")
	}
}

// TestLeaseMonitorStopAfterStart checks Stop waits for a loop started just
// before it, so no scan runs once Stop returns.
func TestLeaseMonitorStopAfterStart(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"caller context", context.Background()},
		{"nil context uses the monitor's own", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewCountingStore(storage.NewMemoryStore())
			monitor := NewLeaseMonitor(store, time.Millisecond, testLog)

			for i := 0; i < 50; i++ {
				monitor.Start(tt.ctx)
			}
			time.Sleep(10 * time.Millisecond)
			monitor.Stop()

			reads := store.Stats().Reads
			require.NoError(t, store.ZAdd(ctx, cluster.LeaseSet, "5", cluster.LeaseScore(time.Now().Add(-time.Second))))
			time.Sleep(20 * time.Millisecond)

			assert.Equal(t, reads, store.Stats().Reads, "no scan after Stop")
			assert.Zero(t, monitor.Reclaimed())
		})
	}
}
