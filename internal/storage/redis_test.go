package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tally/internal/logger"
)

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestRedisStoreEmptyHSetIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer store.Close()

	require.NoError(t, store.HSet(context.Background(), "intermediate:0", map[string]string{}))
	assert.False(t, mr.Exists("intermediate:0"))
}

func TestDial(t *testing.T) {
	log := logger.NewWithWriter("ERROR", io.Discard)

	t.Run("connects on first attempt", func(t *testing.T) {
		mr := miniredis.RunT(t)

		store, err := Dial(context.Background(), RedisOptions{
			Addr:            mr.Addr(),
			ConnectAttempts: 3,
			ConnectDelay:    10 * time.Millisecond,
		}, log)
		require.NoError(t, err)
		defer store.Close()

		assert.NoError(t, store.Ping(context.Background()))
	})

	t.Run("gives up after bounded attempts", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		start := time.Now()
		_, err := Dial(context.Background(), RedisOptions{
			Addr:            addr,
			ConnectAttempts: 3,
			ConnectDelay:    20 * time.Millisecond,
		}, log)
		require.Error(t, err)

		var connErr *ConnectivityError
		require.True(t, errors.As(err, &connErr))
		assert.Equal(t, 3, connErr.Attempts)
		assert.Equal(t, addr, connErr.Addr)
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("connects once store comes up", func(t *testing.T) {
		mr := miniredis.NewMiniRedis()
		require.NoError(t, mr.Start())
		addr := mr.Addr()
		mr.Close()

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = mr.StartAddr(addr)
		}()
		defer mr.Close()

		store, err := Dial(context.Background(), RedisOptions{
			Addr:            addr,
			ConnectAttempts: 20,
			ConnectDelay:    25 * time.Millisecond,
		}, log)
		require.NoError(t, err)
		store.Close()
	})
}
