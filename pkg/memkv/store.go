package memkv

import (
	"sync"
	"sync/atomic"
	"time"
)

// Options tunes a Store.
type Options struct {
	Shards        int           // number of shards (default 64)
	SweepInterval time.Duration // expiry sweep period (default 1s)
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 64
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Second
	}
	return o
}

// Store is a sharded in-memory KV with per-key TTL.
type Store struct {
	opts    Options
	shards  []shard
	closeCh chan struct{}
	wg      sync.WaitGroup

	nowFn func() time.Time

	mKeys    atomic.Int64
	mSets    atomic.Uint64
	mGets    atomic.Uint64
	mHits    atomic.Uint64
	mMisses  atomic.Uint64
	mDels    atomic.Uint64
	mExpired atomic.Uint64
	mUpdates atomic.Uint64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

type entry struct {
	val      []byte
	expireAt int64 // unix nano; 0 = no expiry
}

// New creates a Store and starts its expiry sweeper.
func New(opts Options) *Store {
	opts = opts.withDefaults()
	s := &Store{
		opts:    opts,
		shards:  make([]shard, opts.Shards),
		closeCh: make(chan struct{}),
		nowFn:   time.Now,
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*entry, 64)
	}
	s.wg.Add(1)
	go s.sweeper()
	return s
}

// Close stops the sweeper. The store stays readable but no longer expires keys.
func (s *Store) Close() {
	close(s.closeCh)
	s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
	// FNV-1a 64
	var h uint64 = 1469598103934665603
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &s.shards[int(h%uint64(len(s.shards)))]
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (e *entry) expired(now int64) bool {
	return e.expireAt != 0 && e.expireAt <= now
}

// Set stores a value with an optional TTL (0 = no expiry).
// Returns true when the key was created rather than overwritten.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
	now := s.nowFn()
	var expAt int64
	if ttl > 0 {
		expAt = now.Add(ttl).UnixNano()
	}
	v := cloneBytes(val)

	sh := s.shardFor(key)
	sh.mu.Lock()
	prev, existed := sh.m[key]
	if existed && prev.expired(now.UnixNano()) {
		existed = false
	}
	sh.m[key] = &entry{val: v, expireAt: expAt}
	sh.mu.Unlock()

	s.mSets.Add(1)
	if !existed {
		s.mKeys.Add(1)
	}
	return !existed
}

// Get returns a copy of the value for key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mGets.Add(1)
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	if !ok || e.expired(now) {
		sh.mu.RUnlock()
		s.mMisses.Add(1)
		return nil, false
	}
	v := cloneBytes(e.val)
	sh.mu.RUnlock()
	s.mHits.Add(1)
	return v, true
}

// Has reports whether key exists and has not expired, without copying.
func (s *Store) Has(key string) bool {
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	alive := ok && !e.expired(now)
	sh.mu.RUnlock()
	return alive
}

// SetNX stores the value only when the key is absent (or expired).
// Returns true when the value was stored.
func (s *Store) SetNX(key string, val []byte, ttl time.Duration) bool {
	now := s.nowFn()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.m[key]; ok && !e.expired(now.UnixNano()) {
		return false
	}
	var expAt int64
	if ttl > 0 {
		expAt = now.Add(ttl).UnixNano()
	}
	sh.m[key] = &entry{val: cloneBytes(val), expireAt: expAt}
	s.mSets.Add(1)
	s.mKeys.Add(1)
	return true
}

// GetDel returns the value and removes the key.
func (s *Store) GetDel(key string) ([]byte, bool) {
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.m[key]
	if !ok || e.expired(now) {
		sh.mu.Unlock()
		return nil, false
	}
	delete(sh.m, key)
	sh.mu.Unlock()
	s.mDels.Add(1)
	s.mKeys.Add(-1)
	return e.val, true
}

// Delete removes a key. Returns true if it was present.
func (s *Store) Delete(key string) bool {
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.m[key]
	if ok {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
	if !ok || e.expired(now) {
		return false
	}
	s.mDels.Add(1)
	s.mKeys.Add(-1)
	return true
}

// Update atomically rewrites the value for key. fn receives the current value
// (nil when absent) and returns the replacement; the existing TTL is kept.
func (s *Store) Update(key string, fn func(old []byte) []byte) error {
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	var old []byte
	var expAt int64
	if ok && !e.expired(now) {
		old = e.val
		expAt = e.expireAt
	} else {
		ok = false
	}
	v := fn(old)
	sh.m[key] = &entry{val: cloneBytes(v), expireAt: expAt}
	s.mUpdates.Add(1)
	if !ok {
		s.mKeys.Add(1)
	}
	return nil
}

// Expire sets a new TTL for an existing key. Returns false when absent.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	now := s.nowFn()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok || e.expired(now.UnixNano()) {
		return false
	}
	if ttl <= 0 {
		e.expireAt = 0
	} else {
		e.expireAt = now.Add(ttl).UnixNano()
	}
	return true
}

// TTL returns the remaining lifetime of key. ok is false when the key is
// absent or already expired; a zero duration means no expiry is set.
func (s *Store) TTL(key string) (time.Duration, bool) {
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.m[key]
	if !ok || e.expired(now) {
		return 0, false
	}
	if e.expireAt == 0 {
		return 0, true
	}
	return time.Duration(e.expireAt - now), true
}

// Keys returns a snapshot of live keys with the given prefix.
func (s *Store) Keys(prefix string) []string {
	now := s.nowFn().UnixNano()
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, e := range sh.m {
			if e.expired(now) {
				continue
			}
			if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Metrics is a snapshot of store counters.
type Metrics struct {
	Keys    int64
	Sets    uint64
	Gets    uint64
	Hits    uint64
	Misses  uint64
	Dels    uint64
	Expired uint64
	Updates uint64
}

// MetricsSnapshot returns current counters.
func (s *Store) MetricsSnapshot() Metrics {
	return Metrics{
		Keys:    s.mKeys.Load(),
		Sets:    s.mSets.Load(),
		Gets:    s.mGets.Load(),
		Hits:    s.mHits.Load(),
		Misses:  s.mMisses.Load(),
		Dels:    s.mDels.Load(),
		Expired: s.mExpired.Load(),
		Updates: s.mUpdates.Load(),
	}
}

func (s *Store) sweeper() {
	defer s.wg.Done()
	t := time.NewTicker(s.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := s.nowFn().UnixNano()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.m {
			if e.expired(now) {
				delete(sh.m, k)
				s.mExpired.Add(1)
				s.mKeys.Add(-1)
			}
		}
		sh.mu.Unlock()
	}
}
