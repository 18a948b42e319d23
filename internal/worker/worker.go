// Package worker implements the processing side of the word-count protocol:
// a loop that claims chunk ids from the pending queue, maps the chunk's
// lines and publishes the partial word counts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dreamware/tally/internal/cluster"
	"github.com/dreamware/tally/internal/logger"
	"github.com/dreamware/tally/internal/storage"
	"github.com/dreamware/tally/internal/wordcount"
)

// Options configures a Worker.
type Options struct {
	// PollInterval bounds how long a pop waits for a chunk id before the
	// termination flag is checked again.
	PollInterval time.Duration
	// LeaseTTL is how long the coordinator waits for a claimed chunk before
	// requeueing it. 0 disables leases.
	LeaseTTL time.Duration
}

// Stats counts what a worker did with the chunk ids it popped.
type Stats struct {
	Processed uint64 // Chunks mapped and marked completed
	Failed    uint64 // Chunks abandoned because of a store error
	Dropped   uint64 // Chunk ids whose content was missing
}

// Worker claims and maps chunks until the coordinator sets the termination
// flag. Several workers may share one store; the atomic pop guarantees that
// each queued id is handed to a single worker.
type Worker struct {
	ID    string
	store storage.Store
	opts  Options
	log   *logger.Logger
	now   func() time.Time

	processed uint64
	failed    uint64
	dropped   uint64
}

// New creates a worker. log should already carry the worker's name.
func New(id string, store storage.Store, opts Options, log *logger.Logger) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Worker{
		ID:    id,
		store: store,
		opts:  opts,
		log:   log,
		now:   time.Now,
	}
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed: atomic.LoadUint64(&w.processed),
		Failed:    atomic.LoadUint64(&w.failed),
		Dropped:   atomic.LoadUint64(&w.dropped),
	}
}

// Run loops until the termination flag is observed (returns nil) or ctx is
// canceled (returns ctx.Err()).
//
// Each iteration:
//  1. Checks the termination flag and exits if it is set
//  2. Pops a chunk id, waiting up to PollInterval for one to arrive
//  3. Processes the chunk
//
// Errors of a single chunk or a single store call are logged and the loop
// continues; a failed chunk is not retried by this worker.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker starting")

	for {
		if err := ctx.Err(); err != nil {
			w.log.Info("worker stopping: %v", err)
			return err
		}

		stop, err := w.terminated(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error("worker error: %v", err)
			w.sleep(ctx)
			continue
		}
		if stop {
			w.log.Info("processing complete signal received, shutting down")
			return nil
		}

		raw, err := w.store.BRPop(ctx, cluster.PendingQueue, w.opts.PollInterval)
		if errors.Is(err, storage.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error("worker error: %v", err)
			w.sleep(ctx)
			continue
		}

		id, err := cluster.ParseChunkID(raw)
		if err != nil {
			atomic.AddUint64(&w.dropped, 1)
			w.log.Error("discarding queue entry: %v", err)
			continue
		}

		if err := w.ProcessChunk(ctx, id); err != nil {
			w.log.Error("error processing chunk %d: %v", id, err)
		}
	}
}

func (w *Worker) terminated(ctx context.Context) (bool, error) {
	flag, err := w.store.Get(ctx, cluster.TerminationFlag)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read termination flag: %w", err)
	}
	return len(flag) > 0, nil
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-time.After(w.opts.PollInterval):
	case <-ctx.Done():
	}
}

// ProcessChunk maps chunk id and publishes its word counts.
//
// Steps:
//  1. Record a lease on the chunk (when leases are enabled)
//  2. Fetch the chunk content; a missing chunk is dropped and nil returned
//  3. Map every line
//  4. Write the intermediate table, then add the id to the completed set
//  5. Release the lease and announce the completion
//
// A store error in steps 2 or 4 returns the error and leaves the lease in
// place, so the coordinator can requeue the chunk once it expires.
func (w *Worker) ProcessChunk(ctx context.Context, id int) error {
	member := strconv.Itoa(id)

	if w.opts.LeaseTTL > 0 {
		deadline := w.now().Add(w.opts.LeaseTTL)
		if err := w.store.ZAdd(ctx, cluster.LeaseSet, member, cluster.LeaseScore(deadline)); err != nil {
			w.log.Warn("failed to lease chunk %d: %v", id, err)
		}
	}

	data, err := w.store.Get(ctx, cluster.ChunkKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		atomic.AddUint64(&w.dropped, 1)
		w.log.Warn("no data found for chunk %d", id)
		w.release(ctx, id)
		return nil
	}
	if err != nil {
		atomic.AddUint64(&w.failed, 1)
		return fmt.Errorf("fetch chunk: %w", err)
	}

	w.log.Debug("processing chunk %d", id)
	mapper := wordcount.NewMapper()
	for _, line := range strings.Split(string(data), "\n") {
		mapper.Map(line)
	}

	pairs := mapper.Emit()
	table := make(map[string]string, len(pairs))
	for _, p := range pairs {
		table[p.Word] = strconv.Itoa(p.Count)
	}

	if err := w.store.HSet(ctx, cluster.IntermediateKey(id), table); err != nil {
		atomic.AddUint64(&w.failed, 1)
		return fmt.Errorf("store intermediate results: %w", err)
	}
	if err := w.store.SAdd(ctx, cluster.CompletedSet, member); err != nil {
		atomic.AddUint64(&w.failed, 1)
		return fmt.Errorf("mark completed: %w", err)
	}

	w.release(ctx, id)
	if err := w.store.Publish(ctx, cluster.CompletionChannel, member); err != nil {
		w.log.Warn("failed to announce chunk %d: %v", id, err)
	}

	atomic.AddUint64(&w.processed, 1)
	w.log.Info("completed chunk %d (%d words)", id, len(pairs))
	return nil
}

func (w *Worker) release(ctx context.Context, id int) {
	if w.opts.LeaseTTL <= 0 {
		return
	}
	if _, err := w.store.ZRem(ctx, cluster.LeaseSet, strconv.Itoa(id)); err != nil {
		w.log.Warn("failed to release lease on chunk %d: %v", id, err)
	}
}
