// Package coordinator implements the job side of the word-count protocol.
// This file implements lease-based reclaim of chunks claimed by workers.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/tally/internal/cluster"
	"github.com/dreamware/tally/internal/logger"
	"github.com/dreamware/tally/internal/storage"
)

// LeaseMonitor periodically returns chunks whose lease expired to the
// pending queue. A worker records a lease right after popping a chunk id and
// removes it once the chunk is in the completed set; a lease that outlives
// its deadline belongs to a worker that crashed or stalled.
// Thread-safe: All methods are safe for concurrent access.
type LeaseMonitor struct {
	store     storage.Store
	log       *logger.Logger
	now       func() time.Time // Clock, replaceable in tests
	onReclaim func(id int)     // Callback after a chunk is requeued
	ctx       context.Context  // Context for cancellation
	cancel    context.CancelFunc
	interval  time.Duration // How often to scan for expired leases
	wg        sync.WaitGroup
	reclaimed uint64 // Chunks requeued so far, accessed atomically
}

// NewLeaseMonitor creates a monitor scanning every interval.
//
// Example:
//
//	monitor := NewLeaseMonitor(store, time.Second, log)
//	monitor.Start(ctx)
//	defer monitor.Stop()
func NewLeaseMonitor(store storage.Store, interval time.Duration, log *logger.Logger) *LeaseMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &LeaseMonitor{
		store:    store,
		log:      log,
		now:      time.Now,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetOnReclaim sets a callback invoked with each requeued chunk id.
func (m *LeaseMonitor) SetOnReclaim(callback func(id int)) {
	m.onReclaim = callback
}

// Start launches the scan loop in a goroutine and returns immediately. The
// loop runs until ctx or the monitor is stopped.
func (m *LeaseMonitor) Start(ctx context.Context) {
	if ctx == nil {
		ctx = m.ctx
	}

	m.wg.Add(1)
	go m.loop(ctx)
}

func (m *LeaseMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Debug("lease monitor started with interval %v", m.interval)

	for {
		select {
		case <-ticker.C:
			if _, err := m.ReclaimExpired(ctx); err != nil && ctx.Err() == nil {
				m.log.Warn("lease scan failed: %v", err)
			}
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// Stop cancels the scan loop and waits for it to return. No scan is in
// progress once Stop returns.
func (m *LeaseMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Reclaimed returns how many chunks the monitor has requeued.
func (m *LeaseMonitor) Reclaimed() uint64 {
	return atomic.LoadUint64(&m.reclaimed)
}

// ReclaimExpired requeues every chunk whose lease deadline has passed and
// returns how many were requeued.
//
// Implementation:
//  1. List leases with a deadline at or before now
//  2. Remove each lease; only the caller whose removal succeeds continues,
//     so a lease released by its worker in the meantime is left alone
//  3. Skip chunks already in the completed set
//  4. Push the id back onto the pending queue
func (m *LeaseMonitor) ReclaimExpired(ctx context.Context) (int, error) {
	expired, err := m.store.ZRangeByScore(ctx, cluster.LeaseSet, cluster.LeaseScore(m.now()))
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, member := range expired {
		removed, err := m.store.ZRem(ctx, cluster.LeaseSet, member)
		if err != nil {
			return requeued, err
		}
		if !removed {
			continue
		}

		done, err := m.store.SIsMember(ctx, cluster.CompletedSet, member)
		if err != nil {
			return requeued, err
		}
		if done {
			continue
		}

		id, err := cluster.ParseChunkID(member)
		if err != nil {
			m.log.Warn("dropping malformed lease: %v", err)
			continue
		}
		if err := m.store.LPush(ctx, cluster.PendingQueue, member); err != nil {
			return requeued, err
		}

		requeued++
		atomic.AddUint64(&m.reclaimed, 1)
		m.log.Warn("lease on chunk %d expired, requeued", id)
		if m.onReclaim != nil {
			m.onReclaim(id)
		}
	}
	return requeued, nil
}
