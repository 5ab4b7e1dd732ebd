package cache

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the store when no explicit size is configured.
const DefaultMaxEntries = 512

// Listener receives a snapshot of an entry after each write affecting its key.
type Listener func(Entry)

// Store is the process-wide cache shared by every consumer in a session. All
// mutation of cached state goes through Set/Patch/SetError; consumers never
// reach into an Entry directly.
type Store struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Entry]
	ttl     TTL
	now     func() time.Time

	subs    map[string]map[int]Listener
	nextSub int

	metrics *storeMetrics
}

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	ttl        TTL
	maxEntries int
	now        func() time.Time
	metrics    *storeMetrics
}

// WithTTL sets the default freshness window applied by Set.
func WithTTL(ttl TTL) StoreOption {
	return func(c *storeConfig) { c.ttl = ttl }
}

// WithMaxEntries bounds the number of cached entries; the least recently used
// entry is dropped when the bound is exceeded.
func WithMaxEntries(n int) StoreOption {
	return func(c *storeConfig) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithClock overrides the store's time source. Tests use this to drive
// fresh-to-stale decay without sleeping.
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewStore creates a bounded cache store.
func NewStore(opts ...StoreOption) *Store {
	cfg := storeConfig{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}

	s := &Store{
		ttl:     cfg.ttl,
		now:     cfg.now,
		subs:    make(map[string]map[int]Listener),
		metrics: cfg.metrics,
	}
	s.entries, _ = lru.NewWithEvict(cfg.maxEntries, func(string, *Entry) {
		s.metrics.eviction()
	})
	return s
}

// Get returns a snapshot of the entry for key. Expired entries are evicted
// lazily and reported as misses. Get never fails; malformed keys simply miss.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Get(key)
	if !ok {
		s.metrics.miss()
		return Entry{}, false
	}
	if e.Expired(s.now()) {
		s.entries.Remove(key)
		s.metrics.miss()
		return Entry{}, false
	}
	s.metrics.hit()
	return *e, true
}

// Set writes data under key with the store's default TTL and marks it fresh.
func (s *Store) Set(key string, data any) Entry {
	return s.SetWithTTL(key, data, s.ttl)
}

// SetWithTTL writes data under key, stamping FetchedAt/StaleAt/ExpiresAt from
// the given TTL. Subscribers are notified synchronously.
func (s *Store) SetWithTTL(key string, data any, ttl TTL) Entry {
	s.mu.Lock()
	now := s.now()
	e := s.obtain(key)
	e.Data = data
	e.Err = nil
	e.FetchedAt = now
	e.StaleAt = now.Add(ttl.FreshFor)
	e.ExpiresAt = now.Add(ttl.ExpireAfter)
	e.base = StatusFresh
	e.Version++
	snap := *e
	s.mu.Unlock()

	s.notify(key, snap)
	return snap
}

// Patch applies a pure function to the current data under key and returns the
// previous value. The updater must not mutate its argument; it returns the
// replacement value. Patch on a missing key is a no-op reporting ok=false.
func (s *Store) Patch(key string, updater func(any) any) (prev any, ok bool) {
	s.mu.Lock()
	e, found := s.entries.Get(key)
	if !found || e.Expired(s.now()) {
		s.mu.Unlock()
		return nil, false
	}
	prev = e.Data
	e.Data = updater(prev)
	e.Version++
	snap := *e
	s.mu.Unlock()

	s.notify(key, snap)
	return prev, true
}

// MarkFetching flags the entry as having a request in flight, creating the
// slot if needed. Existing data stays visible.
func (s *Store) MarkFetching(key string) {
	s.mu.Lock()
	e := s.obtain(key)
	e.base = StatusFetching
	snap := *e
	s.mu.Unlock()

	s.notify(key, snap)
}

// SetError records a terminal fetch failure. Last-known-good data is kept so
// consumers continue to see the previous value alongside the error.
func (s *Store) SetError(key string, err error) {
	s.mu.Lock()
	e := s.obtain(key)
	e.Err = err
	e.base = StatusError
	snap := *e
	s.mu.Unlock()

	s.notify(key, snap)
}

// Version reports the current write version for key, zero if absent.
func (s *Store) Version(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries.Get(key); ok {
		return e.Version
	}
	return 0
}

// Delete removes an entry. Subscribers are notified with an idle snapshot.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	s.entries.Remove(key)
	s.mu.Unlock()

	s.notify(key, Entry{Key: key})
}

// InvalidatePrefix drops every entry belonging to a resource: the bare
// resource key plus any derived list ("?...") or record ("/id") keys.
func (s *Store) InvalidatePrefix(resource string) {
	resource = strings.Trim(resource, "/ ")

	s.mu.Lock()
	var dropped []string
	for _, key := range s.entries.Keys() {
		if key == resource ||
			strings.HasPrefix(key, resource+"?") ||
			strings.HasPrefix(key, resource+"/") {
			s.entries.Remove(key)
			dropped = append(dropped, key)
		}
	}
	s.mu.Unlock()

	for _, key := range dropped {
		s.notify(key, Entry{Key: key})
	}
}

// MarkStale forces an entry past its freshness window while keeping its
// data. The next access serves the cached value and revalidates.
func (s *Store) MarkStale(key string) {
	s.mu.Lock()
	if e, ok := s.entries.Peek(key); ok {
		e.StaleAt = s.now().Add(-time.Nanosecond)
	}
	s.mu.Unlock()
}

// MarkStalePrefix demotes every entry derived from a resource to stale: the
// bare resource key plus any list ("?...") or record ("/id") keys. Cached
// data stays visible; later reads revalidate against the server.
func (s *Store) MarkStalePrefix(resource string) {
	resource = strings.Trim(resource, "/ ")

	s.mu.Lock()
	cutoff := s.now().Add(-time.Nanosecond)
	for _, key := range s.entries.Keys() {
		if key == resource ||
			strings.HasPrefix(key, resource+"?") ||
			strings.HasPrefix(key, resource+"/") {
			if e, ok := s.entries.Peek(key); ok {
				e.StaleAt = cutoff
			}
		}
	}
	s.mu.Unlock()
}

// ListKeys returns the cached list keys derived from a resource (the bare
// resource key and its "?..." variants), skipping single-record keys. Used
// to pick the entries an optimistic mutation patches.
func (s *Store) ListKeys(resource string) []string {
	resource = strings.Trim(resource, "/ ")

	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	now := s.now()
	for _, key := range s.entries.Keys() {
		if key != resource && !strings.HasPrefix(key, resource+"?") {
			continue
		}
		if e, ok := s.entries.Peek(key); ok && !e.Expired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// EvictExpired removes entries past their eviction horizon. Never required
// for correctness; expired entries also miss lazily on Get.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, key := range s.entries.Keys() {
		if e, ok := s.entries.Peek(key); ok && e.Expired(now) {
			s.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Subscribe registers a listener for writes affecting key and returns its
// cancel function. Listeners run synchronously after each Set/Patch/SetError.
func (s *Store) Subscribe(key string, fn Listener) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]Listener)
	}
	s.subs[key][id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.subs[key]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.subs, key)
			}
		}
	}
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// obtain returns the live entry for key, creating an idle slot if absent.
// Caller holds s.mu.
func (s *Store) obtain(key string) *Entry {
	if e, ok := s.entries.Get(key); ok {
		return e
	}
	e := &Entry{Key: key, base: StatusIdle}
	s.entries.Add(key, e)
	return e
}

// notify runs outside the store lock; listeners may call back into the store.
func (s *Store) notify(key string, snap Entry) {
	s.mu.Lock()
	var fns []Listener
	for _, fn := range s.subs[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
