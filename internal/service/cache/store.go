package cache

import (
	"context"
	"sync"
	"time"
)

// Store is a keyed cache with two freshness thresholds. An entry is
// fresh while age < FreshFor, stale-but-usable until StaleFor, and
// dropped past that. Eviction at capacity is insertion-order, not
// LRU-by-access, so reads never mutate bookkeeping.
type Store[T any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[T]
	order    []string
	inflight map[string]*revalidation[T]

	freshFor  time.Duration
	staleFor  time.Duration
	retention time.Duration
	capacity  int
	now       func() time.Time
}

type entry[T any] struct {
	value    T
	token    string
	storedAt time.Time
}

type revalidation[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Fetcher produces a fresh value for a key during revalidation.
type Fetcher[T any] func(ctx context.Context) (T, error)

type Options struct {
	FreshFor time.Duration
	StaleFor time.Duration
	// Retention keeps entries past the staleness ceiling for the
	// last-resort widened window. Defaults to StaleFor.
	Retention time.Duration
	Capacity  int
	Now       func() time.Time
}

func New[T any](opts Options) *Store[T] {
	if opts.Capacity <= 0 {
		opts.Capacity = 500
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retention < opts.StaleFor {
		opts.Retention = opts.StaleFor
	}
	return &Store[T]{
		entries:   make(map[string]*entry[T]),
		inflight:  make(map[string]*revalidation[T]),
		freshFor:  opts.FreshFor,
		staleFor:  opts.StaleFor,
		retention: opts.Retention,
		capacity:  opts.Capacity,
		now:       opts.Now,
	}
}

// Get returns the value if its age is below the staleness ceiling.
// Expired entries are silently dropped.
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usableLocked(key, s.staleFor)
}

// GetWithin returns the value if its age is below ceiling, regardless
// of the store's own staleness ceiling. Used for the last-resort
// widened window when every provider has failed.
func (s *Store[T]) GetWithin(key string, ceiling time.Duration) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if s.now().Sub(e.storedAt) >= ceiling {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set inserts or overwrites key. At capacity the least-recently-
// inserted entry is evicted.
func (s *Store[T]) Set(key string, v T) {
	s.SetWithToken(key, v, "")
}

// SetWithToken stores a value together with its validation token.
func (s *Store[T]) SetWithToken(key string, v T, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, v, token)
}

// Stale reports whether key needs refresh: missing, or aged past the
// freshness ceiling.
func (s *Store[T]) Stale(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return true
	}
	return s.now().Sub(e.storedAt) >= s.freshFor
}

// Token returns the validation token stored for key, if any.
func (s *Store[T]) Token(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.token == "" {
		return "", false
	}
	return e.token, true
}

// Len returns the number of entries, expired ones included.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// GetOrRevalidate returns a value for key, deduplicating concurrent
// revalidations: at most one fetch is in flight per key, and every
// concurrent caller shares its result. When a stale-but-usable value
// exists and force is false, it is returned immediately while the
// fetch proceeds in the background with its failure swallowed. With
// no usable value, callers block on the fetch and its error
// propagates.
func (s *Store[T]) GetOrRevalidate(ctx context.Context, key string, fetch Fetcher[T], force bool) (T, error) {
	s.mu.Lock()

	if !force {
		if e, ok := s.entries[key]; ok && s.now().Sub(e.storedAt) < s.freshFor {
			v := e.value
			s.mu.Unlock()
			return v, nil
		}
	}

	stale, usable := s.usableLocked(key, s.staleFor)

	if rev, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		if usable && !force {
			return stale, nil
		}
		return s.await(ctx, rev)
	}

	// Register before the fetch starts so a second caller can never
	// race a duplicate revalidation in.
	rev := &revalidation[T]{done: make(chan struct{})}
	s.inflight[key] = rev
	s.mu.Unlock()

	// The fetch must outlive a caller that returns stale immediately.
	bg := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
			close(rev.done)
		}()
		v, err := fetch(bg)
		rev.value, rev.err = v, err
		if err == nil {
			s.mu.Lock()
			s.setLocked(key, v, "")
			s.mu.Unlock()
		}
	}()

	if usable && !force {
		return stale, nil
	}
	return s.await(ctx, rev)
}

func (s *Store[T]) await(ctx context.Context, rev *revalidation[T]) (T, error) {
	select {
	case <-rev.done:
		return rev.value, rev.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// usableLocked returns the value if aged below ceiling. Entries aged
// past the retention window are silently dropped. Caller holds the
// lock.
func (s *Store[T]) usableLocked(key string, ceiling time.Duration) (T, bool) {
	var zero T
	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	age := s.now().Sub(e.storedAt)
	if age >= ceiling {
		if age >= s.retention {
			s.removeLocked(key)
		}
		return zero, false
	}
	return e.value, true
}

func (s *Store[T]) setLocked(key string, v T, token string) {
	if _, exists := s.entries[key]; exists {
		s.removeFromOrder(key)
	} else if len(s.entries) >= s.capacity && len(s.order) > 0 {
		s.removeLocked(s.order[0])
	}
	s.entries[key] = &entry[T]{value: v, token: token, storedAt: s.now()}
	s.order = append(s.order, key)
}

func (s *Store[T]) removeLocked(key string) {
	delete(s.entries, key)
	s.removeFromOrder(key)
}

func (s *Store[T]) removeFromOrder(key string) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
