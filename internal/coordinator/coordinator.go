// Package coordinator implements the job side of the word-count protocol.
// See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/tally/internal/cluster"
	"github.com/dreamware/tally/internal/logger"
	"github.com/dreamware/tally/internal/storage"
	"github.com/dreamware/tally/internal/wordcount"
)

// ErrAggregationTimeout is returned by CombineResults when the workers did
// not complete every chunk within the timeout.
var ErrAggregationTimeout = errors.New("timed out waiting for chunks")

// ErrEmptyInput is returned by Run when the input produced no chunks.
var ErrEmptyInput = errors.New("input produced no chunks")

// Options configures a Coordinator.
type Options struct {
	ChunkSize    int           // Lines per chunk used by Run
	Timeout      time.Duration // Aggregation timeout used by Run
	PollInterval time.Duration // Completed-set polling and lease scan interval
	LeaseTTL     time.Duration // 0 disables lease reclaim
}

// DefaultOptions mirrors the defaults of the configuration layer.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    1000,
		Timeout:      60 * time.Second,
		PollInterval: time.Second,
		LeaseTTL:     30 * time.Second,
	}
}

// Coordinator drives one job at a time through the shared store: it resets
// the job keys, publishes chunks, waits for the workers to complete them,
// reduces the partial tables and finally tells the workers to stop.
//
// Thread Safety:
// Status and Job may be called concurrently with the lifecycle methods.
// The lifecycle methods themselves (Setup, SplitInput, CombineResults, Run)
// are meant to be called in sequence by a single goroutine.
type Coordinator struct {
	store storage.Store
	opts  Options
	log   *logger.Logger
	now   func() time.Time

	mu        sync.RWMutex
	job       Job
	completed int64 // Last observed completed-set cardinality
	reclaimed int64 // Chunks requeued after their lease expired
}

// New creates a coordinator with an idle job.
func New(store storage.Store, opts Options, log *logger.Logger) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Coordinator{
		store: store,
		opts:  opts,
		log:   log,
		now:   time.Now,
		job:   Job{ID: newJobID(), State: StateIdle},
	}
}

func newJobID() string {
	return "job-" + uuid.New().String()[:8]
}

// Job returns a snapshot of the current job.
func (c *Coordinator) Job() Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.job
}

// Status reports the job together with the completed-set cardinality last
// observed while waiting for workers and the number of reclaimed chunks.
func (c *Coordinator) Status() cluster.JobStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := cluster.JobStatus{
		JobID:     c.job.ID,
		State:     string(c.job.State),
		Chunks:    c.job.Chunks,
		Completed: c.completed,
		Reclaimed: c.reclaimed,
		StartedAt: c.job.StartedAt,
	}
	if c.job.Err != nil {
		status.Error = c.job.Err.Error()
	}
	return status
}

// Setup deletes every job-scoped key and starts a fresh idle job.
// Calling it repeatedly leaves the store in the same empty state.
func (c *Coordinator) Setup(ctx context.Context) error {
	if err := c.clearKeys(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	c.mu.Lock()
	c.job = Job{ID: newJobID(), State: StateIdle}
	c.completed = 0
	c.reclaimed = 0
	c.mu.Unlock()

	c.log.Info("store reset for job %s", c.Job().ID)
	return nil
}

func (c *Coordinator) clearKeys(ctx context.Context) error {
	var keys []string
	for _, pattern := range cluster.JobKeyPatterns() {
		matched, err := c.store.Keys(ctx, pattern)
		if err != nil {
			return fmt.Errorf("list %s: %w", pattern, err)
		}
		keys = append(keys, matched...)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Delete(ctx, keys...)
}

// transition moves the job to next and mirrors the state to the store once
// the job has published work.
func (c *Coordinator) transition(ctx context.Context, next State) error {
	c.mu.Lock()
	err := c.job.transition(next, c.now())
	chunks := c.job.Chunks
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if chunks > 0 {
		if perr := c.store.Put(ctx, cluster.JobStateKey, []byte(next)); perr != nil {
			c.log.Warn("failed to record job state %s: %v", next, perr)
		}
	}
	return nil
}

func (c *Coordinator) fail(ctx context.Context, err error) {
	c.mu.Lock()
	c.job.Err = err
	c.mu.Unlock()
	_ = c.transition(ctx, StateFailed)
}

func (c *Coordinator) setCompleted(n int64) {
	c.mu.Lock()
	c.completed = n
	c.mu.Unlock()
}

func (c *Coordinator) recordReclaim(int) {
	c.mu.Lock()
	c.reclaimed++
	c.mu.Unlock()
}

// CombineResults waits until n chunks are in the completed set, then reduces
// every intermediate table, sets the termination flag and returns the word
// totals.
//
// Waiting:
//   - The completed-set cardinality is read every PollInterval and whenever a
//     worker announces a finished chunk.
//   - With a positive LeaseTTL, expired chunk leases are reclaimed while
//     waiting, so chunks of crashed workers are processed again.
//
// Returns:
//   - The totals on success
//   - An empty map and ErrAggregationTimeout when timeout elapses first. The
//     termination flag stays unset and intermediate tables are kept, see
//     PartialResults.
//   - ctx.Err() if ctx is canceled
func (c *Coordinator) CombineResults(ctx context.Context, n int, timeout time.Duration) (map[string]int, error) {
	if n <= 0 {
		return map[string]int{}, nil
	}
	if st := c.Job().State; st != StateDispatched {
		return map[string]int{}, fmt.Errorf("%w: combine in state %s", ErrInvalidTransition, st)
	}
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}

	c.log.Info("waiting for %d chunks to be processed (timeout %s)", n, timeout)

	var notify <-chan string
	sub, err := c.store.Subscribe(ctx, cluster.CompletionChannel)
	if err != nil {
		c.log.Warn("completion notifications unavailable, polling only: %v", err)
	} else {
		defer sub.Close()
		notify = sub.Channel()
	}

	if c.opts.LeaseTTL > 0 {
		monitor := NewLeaseMonitor(c.store, c.opts.PollInterval, c.log)
		monitor.SetOnReclaim(c.recordReclaim)
		monitor.Start(ctx)
		defer func() {
			monitor.Stop()
			if n := monitor.Reclaimed(); n > 0 {
				c.log.Info("requeued %d chunks with expired leases", n)
			}
		}()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	var done int64
	for {
		count, err := c.store.SCard(ctx, cluster.CompletedSet)
		if err != nil {
			c.log.Warn("failed to read completed chunks: %v", err)
		} else {
			if count != done {
				c.log.Info("completed chunks: %d/%d", count, n)
			}
			done = count
			c.setCompleted(done)
			if done >= int64(n) {
				break
			}
		}

		select {
		case <-ctx.Done():
			c.fail(context.WithoutCancel(ctx), ctx.Err())
			return map[string]int{}, ctx.Err()
		case <-deadline.C:
			terr := fmt.Errorf("%w: %d/%d chunks completed after %s", ErrAggregationTimeout, done, n, timeout)
			c.log.Error("%v", terr)
			c.mu.Lock()
			c.job.Err = terr
			c.mu.Unlock()
			if err := c.transition(ctx, StateTimedOut); err != nil {
				return map[string]int{}, err
			}
			return map[string]int{}, terr
		case <-ticker.C:
		case _, ok := <-notify:
			if !ok {
				notify = nil
			}
		}
	}

	return c.aggregate(ctx, n)
}

// aggregate reduces the intermediate tables of chunks 0..n-1 and signals
// termination.
func (c *Coordinator) aggregate(ctx context.Context, n int) (map[string]int, error) {
	if err := c.transition(ctx, StateAggregating); err != nil {
		return map[string]int{}, err
	}
	c.log.Info("all chunks processed, combining results")

	reducer := wordcount.NewReducer()
	for id := 0; id < n; id++ {
		if err := c.reduceChunk(ctx, reducer, id); err != nil {
			c.fail(ctx, err)
			return map[string]int{}, err
		}
	}

	if err := c.store.Put(ctx, cluster.TerminationFlag, []byte("true")); err != nil {
		err = fmt.Errorf("set termination flag: %w", err)
		c.fail(ctx, err)
		return map[string]int{}, err
	}

	results := reducer.Emit()
	if err := c.transition(ctx, StateDone); err != nil {
		return map[string]int{}, err
	}
	c.log.Info("combined %d distinct words from %d chunks", len(results), n)
	return results, nil
}

func (c *Coordinator) reduceChunk(ctx context.Context, reducer *wordcount.Reducer, id int) error {
	table, err := c.store.HGetAll(ctx, cluster.IntermediateKey(id))
	if err != nil {
		return fmt.Errorf("read intermediate results of chunk %d: %w", id, err)
	}
	c.log.Debug("intermediate results for chunk %d: %d words", id, len(table))

	for word, raw := range table {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("chunk %d: bad count %q for %q: %w", id, raw, word, err)
		}
		reducer.Add(word, count)
	}
	return nil
}

// PartialResults reduces the intermediate tables of the chunks currently in
// the completed set. It does not change the job state and may be called
// after a timeout to inspect what the workers managed to finish.
func (c *Coordinator) PartialResults(ctx context.Context) (map[string]int, error) {
	members, err := c.store.SMembers(ctx, cluster.CompletedSet)
	if err != nil {
		return nil, fmt.Errorf("read completed chunks: %w", err)
	}

	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := cluster.ParseChunkID(m)
		if err != nil {
			c.log.Warn("ignoring completed entry: %v", err)
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	reducer := wordcount.NewReducer()
	for _, id := range ids {
		if err := c.reduceChunk(ctx, reducer, id); err != nil {
			return nil, err
		}
	}
	return reducer.Emit(), nil
}

// Run executes a complete job: Setup, SplitInput with the configured chunk
// size, then CombineResults with the configured timeout.
// Returns ErrEmptyInput when the input has no lines.
func (c *Coordinator) Run(ctx context.Context, path string) (map[string]int, error) {
	if err := c.Setup(ctx); err != nil {
		return nil, err
	}

	n, err := c.SplitInput(ctx, path, c.opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return map[string]int{}, ErrEmptyInput
	}

	return c.CombineResults(ctx, n, c.opts.Timeout)
}
