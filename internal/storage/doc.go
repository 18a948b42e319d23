// Package storage defines the shared-store contract the coordinator and the
// workers coordinate through, and provides its implementations.
//
// # Overview
//
// The word-count protocol needs a small slice of a Redis-like data model:
// string values, hashes, lists used as FIFO queues, sets, sorted sets and
// pub/sub channels. Store captures exactly that slice so the protocol code
// can run against a real Redis server or fully in process.
//
//	┌─────────────────────────────────────┐
//	│   coordinator / worker packages     │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          Store interface            │
//	└─────────────────────────────────────┘
//	         │               │
//	         ▼               ▼
//	┌──────────────┐  ┌──────────────┐
//	│  RedisStore  │  │ MemoryStore  │
//	│  (go-redis)  │  │ (tests, dev) │
//	└──────────────┘  └──────────────┘
//
// CountingStore wraps any Store and keeps per-category operation counters,
// which workers expose on their /info endpoint.
//
// # Semantics
//
// Every operation is atomic with respect to the others on the same key.
// The protocol relies on three of them in particular:
//
//   - RPop and BRPop hand each queued element to at most one caller
//   - SAdd is idempotent, so a chunk processed twice is counted once
//   - ZRem reports whether this caller removed the member, which lets
//     concurrent lease scanners agree on a single owner
//
// Missing keys are not errors for collection reads: HGetAll, SMembers and
// SCard return empty results. Get returns ErrKeyNotFound and RPop returns
// ErrQueueEmpty so callers can tell "absent" from "failed".
//
// # Connecting
//
// Dial pings the server up to RedisOptions.ConnectAttempts times with a
// fixed delay between attempts and returns a *ConnectivityError once the
// attempts are exhausted. Processes treat that error as fatal.
//
// # Blocking Pops
//
// BRPop waits up to timeout for an element. The Redis protocol only accepts
// whole-second block times, so RedisStore serves shorter timeouts with a pop,
// a sleep and a second pop. MemoryStore wakes waiters on every push.
//
// # Pub/Sub
//
// Published messages are best effort. A subscriber that is not draining its
// channel may miss messages; callers that need certainty re-read state from
// the store.
//
// # Usage Example
//
//	store, err := storage.Dial(ctx, cfg.RedisOptions(), log)
//	if err != nil {
//	    log.Error("%v", err)
//	    os.Exit(1)
//	}
//	defer store.Close()
//
//	if err := store.LPush(ctx, "pending_chunks", "0"); err != nil {
//	    return err
//	}
package storage
