package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock lets tests advance time without sleeping.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestClock() *testClock { return &testClock{now: time.Unix(1730000000, 0)} }

func newTestStore(c *testClock, opts ...StoreOption) *Store {
	opts = append([]StoreOption{WithClock(c.Now)}, opts...)
	return NewStore(opts...)
}

func TestSetThenGet(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(clock)

	s.Set("system/role?limit=25", []string{"admin", "viewer"})
	e, ok := s.Get("system/role?limit=25")
	require.True(t, ok)
	assert.Equal(t, []string{"admin", "viewer"}, e.Data)
	assert.Equal(t, StatusFresh, e.Status(clock.Now()))
	assert.NoError(t, e.Err)
}

func TestGetMissesOnMalformedKey(t *testing.T) {
	s := newTestStore(newTestClock())
	_, ok := s.Get("???not a key")
	assert.False(t, ok)
}

func TestFreshToStaleDecay(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(clock, WithTTL(TTL{FreshFor: 30 * time.Second, ExpireAfter: 5 * time.Minute}))

	s.Set("k", 1)
	e, _ := s.Get("k")
	assert.Equal(t, StatusFresh, e.Status(clock.Now()))

	clock.Advance(31 * time.Second)
	e, ok := s.Get("k")
	require.True(t, ok, "stale entries are still servable")
	assert.Equal(t, StatusStale, e.Status(clock.Now()))
}

func TestExpiredEntryMissesLazily(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(clock, WithTTL(TTL{FreshFor: 30 * time.Second, ExpireAfter: time.Minute}))

	s.Set("k", 1)
	clock.Advance(2 * time.Minute)
	_, ok := s.Get("k")
	assert.False(t, ok, "expired entry must miss")
	assert.Equal(t, 0, s.Len(), "expired entry is removed on access")
}

func TestEvictExpired(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(clock, WithTTL(TTL{FreshFor: time.Second, ExpireAfter: time.Minute}))

	s.Set("a", 1)
	s.Set("b", 2)
	clock.Advance(30 * time.Second)
	s.Set("c", 3)
	clock.Advance(45 * time.Second) // a, b past ExpireAfter; c not

	assert.Equal(t, 2, s.EvictExpired())
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("c")
	assert.True(t, ok)
}

func TestPatchReturnsPrevious(t *testing.T) {
	s := newTestStore(newTestClock())
	s.Set("k", 10)

	prev, ok := s.Patch("k", func(cur any) any { return cur.(int) + 1 })
	require.True(t, ok)
	assert.Equal(t, 10, prev)

	e, _ := s.Get("k")
	assert.Equal(t, 11, e.Data)
}

func TestPatchMissingKeyIsNoop(t *testing.T) {
	s := newTestStore(newTestClock())
	prev, ok := s.Patch("absent", func(cur any) any { return 1 })
	assert.False(t, ok)
	assert.Nil(t, prev)
	assert.Equal(t, 0, s.Len())
}

func TestSetErrorKeepsLastKnownGood(t *testing.T) {
	clock := newTestClock()
	s := newTestStore(clock)

	s.Set("k", "good")
	s.SetError("k", errors.New("backend down"))

	e, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "good", e.Data, "error must not clear previously fresh data")
	assert.Equal(t, StatusError, e.Status(clock.Now()))
	assert.EqualError(t, e.Err, "backend down")
}

func TestVersionIncrementsOnWrites(t *testing.T) {
	s := newTestStore(newTestClock())
	s.Set("k", 1)
	v1 := s.Version("k")
	s.Patch("k", func(any) any { return 2 })
	v2 := s.Version("k")
	assert.Greater(t, v2, v1)
	assert.Zero(t, s.Version("absent"))
}

func TestSubscribeNotifiesSynchronously(t *testing.T) {
	s := newTestStore(newTestClock())

	var seen []Entry
	cancel := s.Subscribe("k", func(e Entry) { seen = append(seen, e) })
	defer cancel()

	s.Set("k", 1)
	s.Patch("k", func(any) any { return 2 })
	s.SetError("k", errors.New("x"))

	require.Len(t, seen, 3)
	assert.Equal(t, 1, seen[0].Data)
	assert.Equal(t, 2, seen[1].Data)
	assert.Equal(t, StatusError, seen[2].Status(time.Now()))
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := newTestStore(newTestClock())

	calls := 0
	cancel := s.Subscribe("k", func(Entry) { calls++ })
	s.Set("k", 1)
	cancel()
	s.Set("k", 2)

	assert.Equal(t, 1, calls)
}

func TestSubscriberMayCallBackIntoStore(t *testing.T) {
	s := newTestStore(newTestClock())
	cancel := s.Subscribe("k", func(Entry) {
		s.Get("k") // must not deadlock
	})
	defer cancel()
	s.Set("k", 1)
}

func TestInvalidatePrefix(t *testing.T) {
	s := newTestStore(newTestClock())
	s.Set("system/user?limit=25", "page1")
	s.Set("system/user?limit=25&offset=25", "page2")
	s.Set("system/user/7", "record")
	s.Set("system/user_custom?limit=25", "other resource")

	s.InvalidatePrefix("system/user")

	_, ok := s.Get("system/user?limit=25")
	assert.False(t, ok)
	_, ok = s.Get("system/user/7")
	assert.False(t, ok)
	_, ok = s.Get("system/user_custom?limit=25")
	assert.True(t, ok, "prefix invalidation must not bleed into sibling resources")
}

func TestMarkStalePrefixKeepsData(t *testing.T) {
	c := newTestClock()
	s := newTestStore(c)
	s.Set("system/user?limit=25", "page1")
	s.Set("system/user/7", "record")
	s.Set("system/user_custom?limit=25", "other resource")

	s.MarkStalePrefix("system/user")

	e, ok := s.Get("system/user?limit=25")
	require.True(t, ok)
	assert.Equal(t, "page1", e.Data, "demotion must not drop cached data")
	assert.Equal(t, StatusStale, e.Status(c.Now()))

	e, ok = s.Get("system/user/7")
	require.True(t, ok)
	assert.Equal(t, StatusStale, e.Status(c.Now()))

	e, ok = s.Get("system/user_custom?limit=25")
	require.True(t, ok)
	assert.Equal(t, StatusFresh, e.Status(c.Now()), "sibling resources keep their freshness")
}

func TestListKeysSkipsRecordsAndSiblings(t *testing.T) {
	c := newTestClock()
	s := newTestStore(c)
	s.Set("system/user", "bare")
	s.Set("system/user?limit=25", "page1")
	s.Set("system/user?limit=25&offset=25", "page2")
	s.Set("system/user/7", "record")
	s.Set("system/user_custom?limit=25", "other resource")

	keys := s.ListKeys("system/user")

	assert.ElementsMatch(t, []string{
		"system/user",
		"system/user?limit=25",
		"system/user?limit=25&offset=25",
	}, keys)

	c.Advance(10 * time.Minute)
	assert.Empty(t, s.ListKeys("system/user"), "expired entries are not patch targets")
}

func TestLRUBound(t *testing.T) {
	s := newTestStore(newTestClock(), WithMaxEntries(2))
	s.Set("a", 1)
	s.Set("b", 2)
	s.Set("c", 3)

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestStore(newTestClock(), WithMetrics(reg))

	s.Set("k", 1)
	s.Get("k")
	s.Get("absent")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["dfadmin_cache_hits_total"])
	assert.True(t, names["dfadmin_cache_misses_total"])
}
