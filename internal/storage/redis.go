package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dreamware/tally/internal/logger"
)

// RedisStore implements Store on top of a Redis server.
// Redis executes each command atomically, which gives RPop/BRPop, SAdd and
// ZRem the guarantees the coordination protocol needs.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions holds connection parameters for Dial.
type RedisOptions struct {
	Addr            string
	Password        string
	DB              int
	ConnectAttempts int           // Pings before giving up
	ConnectDelay    time.Duration // Fixed delay between pings
}

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle through Close.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Dial connects to Redis, retrying the initial ping with a fixed delay.
//
// Retry strategy:
//   - opts.ConnectAttempts attempts maximum (at least one)
//   - opts.ConnectDelay between attempts
//   - *ConnectivityError when every attempt fails
//
// A ConnectivityError is meant to be fatal for the calling process: neither
// the coordinator nor a worker can do anything without the store.
func Dial(ctx context.Context, opts RedisOptions, log *logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	attempts := opts.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = client.Ping(ctx).Err()
		if lastErr == nil {
			log.Info("connected to store @ %s", opts.Addr)
			return NewRedisStore(client), nil
		}
		log.Warn("waiting for store @ %s, attempt %d/%d: %v", opts.Addr, i+1, attempts, lastErr)
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(opts.ConnectDelay):
		case <-ctx.Done():
			_ = client.Close()
			return nil, &ConnectivityError{Addr: opts.Addr, Attempts: i + 1, Err: ctx.Err()}
		}
	}

	_ = client.Close()
	return nil, &ConnectivityError{Addr: opts.Addr, Attempts: attempts, Err: lastErr}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	return value, err
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// HSet is a no-op for an empty field map; Redis rejects HSET without fields.
func (r *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, 2*len(fields))
	for f, v := range fields {
		args = append(args, f, v)
	}
	return r.client.HSet(ctx, key, args...).Err()
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *RedisStore) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.client.LPush(ctx, key, args...).Err()
}

func (r *RedisStore) RPop(ctx context.Context, key string) (string, error) {
	v, err := r.client.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrQueueEmpty
	}
	return v, err
}

// BRPop uses BRPOP for timeouts of a second or more. The client only sends
// whole seconds, so shorter timeouts fall back to a pop, a wait and a pop.
func (r *RedisStore) BRPop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	if timeout < time.Second {
		v, err := r.RPop(ctx, key)
		if !errors.Is(err, ErrQueueEmpty) {
			return v, err
		}
		select {
		case <-time.After(timeout):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return r.RPop(ctx, key)
	}

	res, err := r.client.BRPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrQueueEmpty
	}
	if err != nil {
		return "", err
	}
	// res is [key, value]
	return res[1], nil
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.SAdd(ctx, key, args...).Err()
}

func (r *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	return r.client.SCard(ctx, key).Result()
}

func (r *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return r.client.SIsMember(ctx, key, member).Result()
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *RedisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *RedisStore) ZRangeByScore(ctx context.Context, key string, max float64) ([]string, error) {
	return r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}).Result()
}

func (r *RedisStore) ZRem(ctx context.Context, key, member string) (bool, error) {
	n, err := r.client.ZRem(ctx, key, member).Result()
	return n > 0, err
}

// Keys walks the keyspace with SCAN rather than KEYS to avoid blocking the server
func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *RedisStore) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Subscribe waits for the server to confirm the subscription so that no
// message published after it returns is missed.
func (r *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSubscription{ps: ps, ch: make(chan string, 64)}
	go func() {
		defer close(sub.ch)
		for msg := range ps.Channel() {
			select {
			case sub.ch <- msg.Payload:
			default:
			}
		}
	}()
	return sub, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	ps *redis.PubSub
	ch chan string
}

func (s *redisSubscription) Channel() <-chan string { return s.ch }

func (s *redisSubscription) Close() error { return s.ps.Close() }
