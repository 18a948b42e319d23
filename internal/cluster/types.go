package cluster

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/tally/internal/storage"
)

const (
	PendingQueue      = "pending_chunks"
	CompletedSet      = "completed_chunks"
	LeaseSet          = "chunk_leases"
	TerminationFlag   = "processing_complete"
	JobStateKey       = "job_state"
	CompletionChannel = "chunk_completed"

	chunkPrefix        = "chunk:"
	intermediatePrefix = "intermediate:"
)

// ChunkKey returns the key holding the lines of chunk id.
func ChunkKey(id int) string { return chunkPrefix + strconv.Itoa(id) }

// IntermediateKey returns the key holding the word counts of chunk id.
func IntermediateKey(id int) string { return intermediatePrefix + strconv.Itoa(id) }

// JobKeyPatterns lists every key that belongs to a job.
func JobKeyPatterns() []string {
	return []string{
		chunkPrefix + "*",
		intermediatePrefix + "*",
		PendingQueue,
		CompletedSet,
		LeaseSet,
		TerminationFlag,
		JobStateKey,
	}
}

// ParseChunkID parses a chunk id read from the queue, the completed set or
// the lease set.
func ParseChunkID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid chunk id %q: %w", s, err)
	}
	if id < 0 {
		return 0, fmt.Errorf("invalid chunk id %q: negative", s)
	}
	return id, nil
}

// LeaseScore encodes a lease deadline as a sorted-set score.
func LeaseScore(deadline time.Time) float64 {
	return float64(deadline.UnixMilli())
}

// JobStatus is served by the coordinator's /status endpoint.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	State     string    `json:"state"`
	Chunks    int       `json:"chunks"`
	Completed int64     `json:"completed"`
	Reclaimed int64     `json:"reclaimed"`
	StartedAt time.Time `json:"started_at"`
	Error     string    `json:"error,omitempty"`
}

// WorkerInfo is served by a worker's /info endpoint.
type WorkerInfo struct {
	WorkerID  string                 `json:"worker_id"`
	Processed uint64                 `json:"processed"`
	Failed    uint64                 `json:"failed"`
	Dropped   uint64                 `json:"dropped"`
	Store     storage.OperationStats `json:"store"`
}
