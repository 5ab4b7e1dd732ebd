package table

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamfactorysoftware/df-admin-data/apierror"
	"github.com/dreamfactorysoftware/df-admin-data/cache"
	"github.com/dreamfactorysoftware/df-admin-data/fetch"
	"github.com/dreamfactorysoftware/df-admin-data/resource"
)

// fakeBackend records the list queries that actually hit the "network".
type fakeBackend struct {
	mu      sync.Mutex
	queries []cache.Params
	total   int
}

func (b *fakeBackend) fetcher(p cache.Params) fetch.FetchFunc {
	return func(ctx context.Context) (any, error) {
		b.mu.Lock()
		b.queries = append(b.queries, p)
		b.mu.Unlock()

		n := p.Limit
		if n > b.total-p.Offset {
			n = b.total - p.Offset
		}
		page := resource.Page{Total: b.total, Limit: p.Limit, Offset: p.Offset}
		for i := 0; i < n; i++ {
			page.Records = append(page.Records,
				&resource.Service{ID: p.Offset + i + 1, Name: fmt.Sprintf("service_%d", p.Offset+i+1), Type: "mysql"})
		}
		return page, nil
	}
}

func (b *fakeBackend) queryCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queries)
}

func (b *fakeBackend) lastQuery() cache.Params {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queries) == 0 {
		return cache.Params{}
	}
	return b.queries[len(b.queries)-1]
}

func newController(t *testing.T, backend *fakeBackend, opts ...func(*Options)) *Controller {
	t.Helper()
	store := cache.NewStore()
	co := fetch.NewCoordinator(store, fetch.WithRetry(1, time.Millisecond, time.Millisecond))
	o := Options{
		Resource:     "system/service",
		Coordinator:  co,
		Fetch:        backend.fetcher,
		SearchFields: []string{"name", "label"},
		Debounce:     30 * time.Millisecond,
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := New(o)
	require.NoError(t, err)
	return c
}

func waitForData(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return !s.IsLoading && (s.Err != nil || s.Data.Records != nil)
	}, 2*time.Second, 5*time.Millisecond)
	return c.Snapshot()
}

func TestInitialQueryPagination(t *testing.T) {
	backend := &fakeBackend{total: 150}
	c := newController(t, backend)

	snap := waitForData(t, c)
	assert.Equal(t, 150, snap.Pagination.Total, "total comes from meta count")
	assert.Len(t, snap.Data.Records, 25)
	assert.Equal(t, cache.Params{Limit: 25}, backend.lastQuery())
}

func TestSetPageQueriesNextOffset(t *testing.T) {
	backend := &fakeBackend{total: 150}
	c := newController(t, backend)
	waitForData(t, c)

	c.SetPage(2)
	require.Eventually(t, func() bool {
		return backend.lastQuery().Offset == 50
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return len(s.Data.Records) > 0 && s.Data.Records[0].RecordID() == 51
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSortResetsPage(t *testing.T) {
	backend := &fakeBackend{total: 150}
	c := newController(t, backend)
	waitForData(t, c)

	c.SetPage(3)
	require.Eventually(t, func() bool { return backend.lastQuery().Offset == 75 }, 2*time.Second, 5*time.Millisecond)

	c.SetSort("name", "desc")
	require.Eventually(t, func() bool {
		q := backend.lastQuery()
		return q.Sort == "name desc" && q.Offset == 0
	}, 2*time.Second, 5*time.Millisecond, "sort change must reset to the first page")
}

func TestSetPageSizeResetsPage(t *testing.T) {
	backend := &fakeBackend{total: 150}
	c := newController(t, backend)
	waitForData(t, c)

	c.SetPage(3)
	require.Eventually(t, func() bool { return backend.lastQuery().Offset == 75 }, 2*time.Second, 5*time.Millisecond)

	c.SetPageSize(50)
	require.Eventually(t, func() bool {
		q := backend.lastQuery()
		return q.Limit == 50 && q.Offset == 0
	}, 2*time.Second, 5*time.Millisecond, "page size change must reset to the first page")
}

func TestSearchDebounceCollapsesKeystrokes(t *testing.T) {
	backend := &fakeBackend{total: 150}
	c := newController(t, backend)
	waitForData(t, c)
	before := backend.queryCount()

	for _, term := range []string{"s", "se", "ser", "serv", "service_1"} {
		c.SetSearch(term)
		time.Sleep(5 * time.Millisecond) // keystrokes inside the debounce window
	}

	require.Eventually(t, func() bool {
		q := backend.lastQuery()
		return q.Filter != ""
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, before+1, backend.queryCount(), "one query for the final term, not one per keystroke")
	assert.Equal(t, `(name like "%service_1%") or (label like "%service_1%")`, backend.lastQuery().Filter)
	assert.Equal(t, 0, backend.lastQuery().Offset, "search change resets the page")
}

func TestSelection(t *testing.T) {
	backend := &fakeBackend{total: 10}
	c := newController(t, backend)

	c.Select(1, true)
	c.Select(2, true)
	c.Select(1, false)
	assert.ElementsMatch(t, []int{2}, c.Selected())

	c.SetSelected([]int{4, 5})
	assert.ElementsMatch(t, []int{4, 5}, c.Selected())

	c.ClearSelection()
	assert.Empty(t, c.Selected())
}

func TestBulkDeleteReportsPerIDOutcomes(t *testing.T) {
	backend := &fakeBackend{total: 10}
	failing := map[int]bool{2: true}
	var deleted []int

	c := newController(t, backend, func(o *Options) {
		o.Delete = func(ctx context.Context, id int) error {
			if failing[id] {
				return &apierror.HTTPError{StatusCode: 500, Message: "in use"}
			}
			deleted = append(deleted, id)
			return nil
		}
	})
	waitForData(t, c)

	outcomes := c.BulkDelete(context.Background(), []int{1, 2, 3})
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err, "failures are reported per id")
	assert.NoError(t, outcomes[2].Err)
	assert.Equal(t, []int{1, 3}, deleted, "one failure must not abort the batch")
}

func TestOnChangeNotifies(t *testing.T) {
	backend := &fakeBackend{total: 10}

	var mu sync.Mutex
	var snaps []Snapshot
	c := newController(t, backend)
	cancel := c.OnChange(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})
	defer cancel()

	c.SetPage(0) // no-op, same page
	c.SetSort("name", "asc")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range snaps {
			if !s.IsLoading && s.Data.Records != nil {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCloseStopsPendingSearchAndListeners(t *testing.T) {
	backend := &fakeBackend{total: 150}
	c := newController(t, backend)
	waitForData(t, c)

	var mu sync.Mutex
	var late []Snapshot
	c.OnChange(func(s Snapshot) {
		mu.Lock()
		late = append(late, s)
		mu.Unlock()
	})

	before := backend.queryCount()
	c.SetSearch("ser") // closed before the debounce window elapses
	c.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, backend.queryCount(), "a discarded screen issues no further queries")
	mu.Lock()
	assert.Empty(t, late, "listeners are released on close")
	mu.Unlock()

	c.SetPage(5)
	c.SetSearch("vice")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, backend.queryCount(), "setters after close are inert")

	c.Close() // idempotent
}

func TestQueryErrorSurfaces(t *testing.T) {
	store := cache.NewStore()
	co := fetch.NewCoordinator(store, fetch.WithRetry(1, time.Millisecond, time.Millisecond))
	c, err := New(Options{
		Resource:    "system/service",
		Coordinator: co,
		Fetch: func(p cache.Params) fetch.FetchFunc {
			return func(ctx context.Context) (any, error) {
				return nil, &apierror.HTTPError{StatusCode: 503, Message: "maintenance"}
			}
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return !s.IsLoading && s.Err != nil
	}, 2*time.Second, 5*time.Millisecond)

	var he *apierror.HTTPError
	require.ErrorAs(t, c.Snapshot().Err, &he)
	assert.Equal(t, 503, he.StatusCode)
}
