// Package cluster defines the protocol shared by the coordinator and its
// workers. The two sides never talk to each other directly; everything they
// exchange goes through the shared store, so the protocol is the store's key
// layout plus the wire types served by the HTTP status endpoints.
//
// # Key Layout
//
// Every key is scoped to the current job and removed by the coordinator's
// Setup:
//
//	chunk:<id>           string   newline-joined lines       coordinator → worker
//	pending_chunks       list     chunk ids awaiting work    coordinator push, worker pop
//	intermediate:<id>    hash     word → count               worker → coordinator
//	completed_chunks     set      finished chunk ids         worker add, coordinator card
//	chunk_leases         zset     id → lease deadline (ms)   worker claim/release, coordinator reclaim
//	processing_complete  string   "true" once aggregated     coordinator → worker
//	job_state            string   lifecycle state name       coordinator
//
// Workers announce a finished chunk on the chunk_completed channel so the
// coordinator can react without waiting for its next poll.
//
// # Ordering
//
// A chunk's content is written before its id is pushed, so a worker that
// pops an id finds the content unless the job was reset in the meantime.
// Which worker claims which chunk, and in which order results land, is not
// defined.
package cluster
