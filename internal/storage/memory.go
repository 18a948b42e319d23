package storage

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process maps.
// Uses a single sync.Mutex so every operation is atomic, which is what the
// pending queue pop relies on when several workers share one store.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	hashes  map[string]map[string]string
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	subs    map[string]map[*memorySubscription]struct{}
	changed chan struct{} // closed and replaced on every push
	closed  bool
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string][]byte),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
		subs:    make(map[string]map[*memorySubscription]struct{}),
		changed: make(chan struct{}),
	}
}

// Get retrieves a value by key
// Returns a copy of the value to prevent external modification
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, exists := m.values[key]
	if !exists {
		return nil, ErrKeyNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a value with the given key
// Makes a copy of the value to prevent external modification
func (m *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[key] = stored
	return nil
}

// Delete removes keys of any type (idempotent)
func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.values, key)
		delete(m.hashes, key)
		delete(m.lists, key)
		delete(m.sets, key)
		delete(m.zsets, key)
	}
	return nil
}

// HSet with no fields is a no-op, as in Redis where a hash never exists empty
func (m *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

// LPush keeps lists oldest first, so the Redis head is the slice tail and
// RPop takes index 0.
func (m *MemoryStore) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists[key] = append(m.lists[key], values...)

	close(m.changed)
	m.changed = make(chan struct{})
	return nil
}

func (m *MemoryStore) RPop(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popLocked(key)
}

func (m *MemoryStore) popLocked(key string) (string, error) {
	list := m.lists[key]
	if len(list) == 0 {
		return "", ErrQueueEmpty
	}
	v := list[0]
	if len(list) == 1 {
		delete(m.lists, key)
	} else {
		m.lists[key] = list[1:]
	}
	return v, nil
}

// BRPop waits for a push instead of polling, so an idle worker wakes up as
// soon as a chunk id arrives.
func (m *MemoryStore) BRPop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		v, err := m.popLocked(key)
		changed := m.changed
		m.mu.Unlock()
		if err == nil {
			return v, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return "", ErrQueueEmpty
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	for _, member := range members {
		s[member] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[key])), nil
}

func (m *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (m *MemoryStore) ZRangeByScore(_ context.Context, key string, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z := m.zsets[key]
	out := make([]string, 0, len(z))
	for member, score := range z {
		if score <= max {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if z[out[i]] != z[out[j]] {
			return z[out[i]] < z[out[j]]
		}
		return out[i] < out[j]
	})
	return out, nil
}

func (m *MemoryStore) ZRem(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	z := m.zsets[key]
	if _, ok := z[member]; !ok {
		return false, nil
	}
	delete(z, member)
	if len(z) == 0 {
		delete(m.zsets, key)
	}
	return true, nil
}

// Keys returns every key of any type matching pattern (path.Match syntax)
func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	add := func(key string) error {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return err
		}
		if ok {
			seen[key] = struct{}{}
		}
		return nil
	}
	for k := range m.values {
		if err := add(k); err != nil {
			return nil, err
		}
	}
	for k := range m.hashes {
		if err := add(k); err != nil {
			return nil, err
		}
	}
	for k := range m.lists {
		if err := add(k); err != nil {
			return nil, err
		}
	}
	for k := range m.sets {
		if err := add(k); err != nil {
			return nil, err
		}
	}
	for k := range m.zsets {
		if err := add(k); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys, nil
}

// Publish never blocks; subscribers with a full buffer miss the message
func (m *MemoryStore) Publish(_ context.Context, channel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subs[channel] {
		select {
		case sub.ch <- message:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &memorySubscription{store: m, channel: channel, ch: make(chan string, 64)}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySubscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	return sub, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close drops every subscription; stored data stays readable
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for channel, subs := range m.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(m.subs, channel)
	}
	return nil
}

type memorySubscription struct {
	store   *MemoryStore
	channel string
	ch      chan string
}

func (s *memorySubscription) Channel() <-chan string { return s.ch }

func (s *memorySubscription) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, ok := s.store.subs[s.channel][s]; ok {
		delete(s.store.subs[s.channel], s)
		close(s.ch)
	}
	return nil
}
