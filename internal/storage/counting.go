package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// OperationStats tracks operation counts
type OperationStats struct {
	Reads   uint64 `json:"reads"`   // Get, HGetAll, SCard, SIsMember, SMembers, ZRangeByScore, Keys
	Writes  uint64 `json:"writes"`  // Put, HSet, LPush, SAdd, ZAdd, Publish
	Pops    uint64 `json:"pops"`    // RPop and BRPop calls, including empty ones
	Deletes uint64 `json:"deletes"` // Delete and ZRem
	Errors  uint64 `json:"errors"`  // Calls that failed, excluding not-found and empty-queue
}

// CountingStore wraps a Store and counts the operations issued through it.
// Counters are updated atomically; Stats may be read while the store is in use.
type CountingStore struct {
	Store
	ops OperationStats
}

// NewCountingStore wraps s
func NewCountingStore(s Store) *CountingStore {
	return &CountingStore{Store: s}
}

// Stats returns a snapshot of the counters
func (c *CountingStore) Stats() OperationStats {
	return OperationStats{
		Reads:   atomic.LoadUint64(&c.ops.Reads),
		Writes:  atomic.LoadUint64(&c.ops.Writes),
		Pops:    atomic.LoadUint64(&c.ops.Pops),
		Deletes: atomic.LoadUint64(&c.ops.Deletes),
		Errors:  atomic.LoadUint64(&c.ops.Errors),
	}
}

func (c *CountingStore) count(counter *uint64, err error) {
	atomic.AddUint64(counter, 1)
	if err != nil && !errors.Is(err, ErrKeyNotFound) && !errors.Is(err, ErrQueueEmpty) {
		atomic.AddUint64(&c.ops.Errors, 1)
	}
}

func (c *CountingStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.Store.Get(ctx, key)
	c.count(&c.ops.Reads, err)
	return v, err
}

func (c *CountingStore) Put(ctx context.Context, key string, value []byte) error {
	err := c.Store.Put(ctx, key, value)
	c.count(&c.ops.Writes, err)
	return err
}

func (c *CountingStore) Delete(ctx context.Context, keys ...string) error {
	err := c.Store.Delete(ctx, keys...)
	c.count(&c.ops.Deletes, err)
	return err
}

func (c *CountingStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	err := c.Store.HSet(ctx, key, fields)
	c.count(&c.ops.Writes, err)
	return err
}

func (c *CountingStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	v, err := c.Store.HGetAll(ctx, key)
	c.count(&c.ops.Reads, err)
	return v, err
}

func (c *CountingStore) LPush(ctx context.Context, key string, values ...string) error {
	err := c.Store.LPush(ctx, key, values...)
	c.count(&c.ops.Writes, err)
	return err
}

func (c *CountingStore) RPop(ctx context.Context, key string) (string, error) {
	v, err := c.Store.RPop(ctx, key)
	c.count(&c.ops.Pops, err)
	return v, err
}

func (c *CountingStore) BRPop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	v, err := c.Store.BRPop(ctx, key, timeout)
	c.count(&c.ops.Pops, err)
	return v, err
}

func (c *CountingStore) SAdd(ctx context.Context, key string, members ...string) error {
	err := c.Store.SAdd(ctx, key, members...)
	c.count(&c.ops.Writes, err)
	return err
}

func (c *CountingStore) SCard(ctx context.Context, key string) (int64, error) {
	v, err := c.Store.SCard(ctx, key)
	c.count(&c.ops.Reads, err)
	return v, err
}

func (c *CountingStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	v, err := c.Store.SIsMember(ctx, key, member)
	c.count(&c.ops.Reads, err)
	return v, err
}

func (c *CountingStore) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := c.Store.SMembers(ctx, key)
	c.count(&c.ops.Reads, err)
	return v, err
}

func (c *CountingStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	err := c.Store.ZAdd(ctx, key, member, score)
	c.count(&c.ops.Writes, err)
	return err
}

func (c *CountingStore) ZRangeByScore(ctx context.Context, key string, max float64) ([]string, error) {
	v, err := c.Store.ZRangeByScore(ctx, key, max)
	c.count(&c.ops.Reads, err)
	return v, err
}

func (c *CountingStore) ZRem(ctx context.Context, key, member string) (bool, error) {
	v, err := c.Store.ZRem(ctx, key, member)
	c.count(&c.ops.Deletes, err)
	return v, err
}

func (c *CountingStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	v, err := c.Store.Keys(ctx, pattern)
	c.count(&c.ops.Reads, err)
	return v, err
}

func (c *CountingStore) Publish(ctx context.Context, channel, message string) error {
	err := c.Store.Publish(ctx, channel, message)
	c.count(&c.ops.Writes, err)
	return err
}
