// Package coordinator drives one word-count job from input file to final
// counts. It never talks to workers directly; every interaction goes through
// the shared store.
//
// # Overview
//
// A job runs in three phases:
//
//	┌──────────┐    chunk:<id>      ┌──────────┐   intermediate:<id>   ┌──────────┐
//	│  Setup   │ ─ pending_chunks ─▶│ workers  │ ── completed_chunks ─▶│ Combine  │
//	│  Split   │                    │ map+emit │                       │ reduce   │
//	└──────────┘                    └──────────┘                       └──────────┘
//	                                                                         │
//	                                                       processing_complete = "true"
//
// Setup removes every key a previous job may have left behind. Split reads
// the input line by line, groups lines into chunks of at most ChunkSize
// lines, stores each chunk under chunk:<id> and pushes the id onto the
// pending queue. CombineResults waits until the completed set holds every
// id, sums the per-chunk tables and then raises the termination flag that
// tells workers to exit.
//
// # Job Lifecycle
//
// Each job moves through an explicit state machine:
//
//	idle ─▶ splitting ─▶ dispatched ─▶ aggregating ─▶ done
//	            │             │
//	            │             └────────▶ timed_out
//	            └──▶ done (empty input)
//
//	any non-terminal state ─▶ failed
//
// The current state is mirrored to the job_state key once the job has at
// least one chunk, so operators can read it from the store. An empty input
// completes without any store write.
//
// # Waiting for Completion
//
// CombineResults wakes up on three triggers: a poll tick, a message on the
// chunk_completed channel, or the deadline. The poll tick keeps the loop
// correct when notifications are lost; notifications only make it faster.
//
// # Lease Reclaim
//
// Workers record a lease in the chunk_leases sorted set right after taking a
// chunk id, scored by the deadline in unix milliseconds. While waiting,
// the coordinator runs a LeaseMonitor that requeues ids whose lease expired
// and which are not yet completed. Removing the lease is the gate: of two
// scanners racing over the same lease only one requeues the chunk.
//
// A LeaseTTL of zero disables leases. A worker that dies between taking an
// id and marking it completed then loses that chunk, and the job ends with
// ErrAggregationTimeout.
//
// # Timeouts and Partial Results
//
// On timeout CombineResults returns an empty map together with
// ErrAggregationTimeout and leaves the intermediate tables in place.
// PartialResults sums whatever tables are present for callers that prefer
// an incomplete answer to none.
//
// # Usage Example
//
//	c := coordinator.New(store, coordinator.DefaultOptions(), log)
//	results, err := c.Run(ctx, "input/input.txt")
//	if errors.Is(err, coordinator.ErrAggregationTimeout) {
//	    partial, _ := c.PartialResults(ctx)
//	    ...
//	}
//
// # See Also
//
//   - internal/cluster: key names and wire types shared with workers
//   - internal/worker: the consuming side of the protocol
//   - cmd/coordinator: process entry point
package coordinator
