package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrKeyNotFound is returned when a key doesn't exist in the store
var ErrKeyNotFound = errors.New("key not found")

// ErrQueueEmpty is returned by pop operations when the list has no elements
var ErrQueueEmpty = errors.New("queue empty")

// Store defines the shared coordination store used by the coordinator and
// its workers. It offers plain values, hashes, lists, sets, sorted sets and
// a pub/sub channel.
// All implementations must be safe for concurrent access, and every single
// operation must be atomic with respect to every other operation.
type Store interface {
	// Get retrieves a value by key
	// Returns ErrKeyNotFound if the key doesn't exist
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a value with the given key
	// Overwrites any existing value for the key
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes keys of any type
	// No error if a key doesn't exist
	Delete(ctx context.Context, keys ...string) error

	// HSet sets the given fields of the hash stored at key
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HGetAll returns every field of the hash stored at key
	// Returns an empty map if the key doesn't exist
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// LPush prepends values to the list stored at key
	LPush(ctx context.Context, key string, values ...string) error

	// RPop removes and returns the last element of the list
	// Returns ErrQueueEmpty if the list is empty or absent
	RPop(ctx context.Context, key string) (string, error)

	// BRPop is RPop that waits up to timeout for an element to arrive
	// Returns ErrQueueEmpty when the timeout elapses
	BRPop(ctx context.Context, key string, timeout time.Duration) (string, error)

	// SAdd adds members to the set stored at key (idempotent)
	SAdd(ctx context.Context, key string, members ...string) error

	// SCard returns the cardinality of the set stored at key
	SCard(ctx context.Context, key string) (int64, error)

	// SIsMember reports whether member belongs to the set stored at key
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// SMembers returns every member of the set stored at key
	SMembers(ctx context.Context, key string) ([]string, error)

	// ZAdd adds or updates member with the given score
	ZAdd(ctx context.Context, key, member string, score float64) error

	// ZRangeByScore returns members whose score is <= max, lowest first
	ZRangeByScore(ctx context.Context, key string, max float64) ([]string, error)

	// ZRem removes member and reports whether this call removed it
	ZRem(ctx context.Context, key, member string) (bool, error)

	// Keys returns every key matching a glob pattern
	// Order is not guaranteed
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Publish sends message to every current subscriber of channel
	Publish(ctx context.Context, channel, message string) error

	// Subscribe starts receiving messages sent to channel
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// Subscription delivers messages published to a single channel.
// Messages published while the receiver is slow may be dropped.
type Subscription interface {
	Channel() <-chan string
	Close() error
}

// ConnectivityError reports that the store stayed unreachable after every
// connection attempt.
type ConnectivityError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("store %s unreachable after %d attempts: %v", e.Addr, e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }
