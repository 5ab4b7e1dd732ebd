// Package table owns the query state behind an admin list screen: pagination,
// sorting, debounced search, and row selection, re-queried through the fetch
// coordinator whenever the derived request key changes.
package table

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamfactorysoftware/df-admin-data/cache"
	"github.com/dreamfactorysoftware/df-admin-data/fetch"
	"github.com/dreamfactorysoftware/df-admin-data/resource"
)

// DefaultPageSize matches the admin console's default table page.
const DefaultPageSize = 25

// DefaultDebounce is the search input settle window.
const DefaultDebounce = 300 * time.Millisecond

// Fetcher builds the network call for a given parameter set.
type Fetcher func(p cache.Params) fetch.FetchFunc

// Pagination is the derived paging readout.
type Pagination struct {
	Total  int
	Limit  int
	Offset int
}

// Snapshot is the read-only view consumers render from.
type Snapshot struct {
	Data       resource.Page
	Pagination Pagination
	IsLoading  bool
	Err        error
}

// Outcome is the per-record result of a bulk operation.
type Outcome struct {
	ID  int
	Err error
}

// Options wires a Controller to its collaborators.
type Options struct {
	// Resource is the list's resource path, e.g. "system/service".
	Resource string

	// Coordinator resolves list queries.
	Coordinator *fetch.Coordinator

	// Fetch builds the network call for the current parameters.
	Fetch Fetcher

	// Delete removes one record remotely; used by BulkDelete.
	Delete func(ctx context.Context, id int) error

	// Update patches one record remotely; used by BulkUpdate.
	Update func(ctx context.Context, id int, apply func(resource.Record)) error

	// SearchFields are the columns a search term is matched against.
	SearchFields []string

	// PageSize overrides DefaultPageSize.
	PageSize int

	// Debounce overrides DefaultDebounce.
	Debounce time.Duration

	// Logger is optional; nil disables logging.
	Logger *zerolog.Logger
}

// Controller maintains one table's query state. Setters may be called from
// any goroutine; queries run asynchronously and out-of-date responses are
// dropped by generation counting.
type Controller struct {
	opts   Options
	logger zerolog.Logger

	mu            sync.Mutex
	page          int
	pageSize      int
	sortColumn    string
	sortDirection string
	search        string // applied (post-debounce)
	pendingSearch string
	selected      map[int]bool
	debounce      *time.Timer
	closed        bool

	snapshot   Snapshot
	generation uint64

	listeners map[int]func(Snapshot)
	nextLis   int
}

// New creates a table controller and issues its initial query.
func New(opts Options) (*Controller, error) {
	if opts.Resource == "" {
		return nil, fmt.Errorf("table: resource is required")
	}
	if opts.Coordinator == nil || opts.Fetch == nil {
		return nil, fmt.Errorf("table: coordinator and fetcher are required")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Controller{
		opts:          opts,
		logger:        logger,
		pageSize:      opts.PageSize,
		sortDirection: "asc",
		selected:      make(map[int]bool),
		listeners:     make(map[int]func(Snapshot)),
	}
	c.requery()
	return c, nil
}

// Params derives the request parameters for the current state.
func (c *Controller) Params() cache.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paramsLocked()
}

func (c *Controller) paramsLocked() cache.Params {
	p := cache.Params{
		Limit:  c.pageSize,
		Offset: c.page * c.pageSize,
		Filter: searchFilter(c.search, c.opts.SearchFields),
	}
	if c.sortColumn != "" {
		p.Sort = c.sortColumn + " " + c.sortDirection
	}
	return p
}

// searchFilter composes a DreamFactory filter expression matching term
// against each field, e.g. `(name like "%db%") or (label like "%db%")`.
func searchFilter(term string, fields []string) string {
	term = strings.TrimSpace(term)
	if term == "" || len(fields) == 0 {
		return ""
	}
	clauses := make([]string, len(fields))
	for i, f := range fields {
		clauses[i] = fmt.Sprintf("(%s like %q)", f, "%"+term+"%")
	}
	return strings.Join(clauses, " or ")
}

// SetPage moves to a zero-based page and re-queries.
func (c *Controller) SetPage(page int) {
	c.mu.Lock()
	if page < 0 {
		page = 0
	}
	if page == c.page {
		c.mu.Unlock()
		return
	}
	c.page = page
	c.mu.Unlock()
	c.requery()
}

// SetPageSize changes the page length and resets to the first page.
func (c *Controller) SetPageSize(n int) {
	if n <= 0 {
		n = DefaultPageSize
	}
	c.mu.Lock()
	if n == c.pageSize {
		c.mu.Unlock()
		return
	}
	c.pageSize = n
	c.page = 0
	c.mu.Unlock()
	c.requery()
}

// SetSort orders by column and resets to the first page: a new ordering is a
// new result set.
func (c *Controller) SetSort(column, direction string) {
	if direction != "desc" {
		direction = "asc"
	}
	c.mu.Lock()
	if column == c.sortColumn && direction == c.sortDirection {
		c.mu.Unlock()
		return
	}
	c.sortColumn = column
	c.sortDirection = direction
	c.page = 0
	c.mu.Unlock()
	c.requery()
}

// SetSearch updates the search term. The derived query only changes after the
// debounce window elapses with no further keystrokes; the page then resets
// to 0.
func (c *Controller) SetSearch(term string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.pendingSearch = term
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.opts.Debounce, func() {
		c.mu.Lock()
		if c.search == c.pendingSearch {
			c.mu.Unlock()
			return
		}
		c.search = c.pendingSearch
		c.page = 0
		c.mu.Unlock()
		c.requery()
	})
}

// Select marks or unmarks one row.
func (c *Controller) Select(id int, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.selected[id] = true
	} else {
		delete(c.selected, id)
	}
}

// SetSelected replaces the selection.
func (c *Controller) SetSelected(ids []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[int]bool, len(ids))
	for _, id := range ids {
		c.selected[id] = true
	}
}

// ClearSelection unmarks every row.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[int]bool)
}

// Selected returns the selected record ids, unordered.
func (c *Controller) Selected() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.selected))
	for id := range c.selected {
		out = append(out, id)
	}
	return out
}

// Snapshot returns the current render state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// OnChange registers a listener invoked after each snapshot update. Returns
// its cancel function.
func (c *Controller) OnChange(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextLis
	c.nextLis++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Close retires the controller when its screen is discarded: the pending
// search timer stops, in-flight query results are dropped, and listeners are
// released. Setters called afterwards no longer issue queries.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.generation++
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.listeners = make(map[int]func(Snapshot))
}

// Refresh forces a fresh query for the current parameters, bypassing cache
// freshness.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	p := c.paramsLocked()
	c.mu.Unlock()

	_, err := c.opts.Coordinator.Refetch(ctx, c.opts.Resource, p, c.opts.Fetch(p))
	if err == nil {
		c.requery()
	}
	return err
}

// requery resolves the current parameters through the coordinator in the
// background and publishes the result unless the state moved on meanwhile.
func (c *Controller) requery() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	p := c.paramsLocked()
	c.snapshot.IsLoading = true
	snap := c.snapshot
	c.mu.Unlock()
	c.emit(snap)

	go func() {
		res := c.opts.Coordinator.Query(context.Background(), c.opts.Resource, p, c.opts.Fetch(p))
		c.publish(gen, res)

		if res.Status == cache.StatusStale {
			// pick up the background revalidation once it lands
			<-res.Done
			refreshed := c.opts.Coordinator.Query(context.Background(), c.opts.Resource, p, c.opts.Fetch(p))
			c.publish(gen, refreshed)
		}
	}()
}

func (c *Controller) publish(gen uint64, res fetch.Result) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return // a newer query owns the snapshot now
	}

	snap := Snapshot{IsLoading: false, Err: res.Err}
	if page, ok := res.Data.(resource.Page); ok {
		snap.Data = page
		snap.Pagination = Pagination{Total: page.Total, Limit: page.Limit, Offset: page.Offset}
	}
	c.snapshot = snap
	c.mu.Unlock()
	c.emit(snap)
}

func (c *Controller) emit(snap Snapshot) {
	c.mu.Lock()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// BulkDelete deletes each id individually and reports per-id outcomes;
// one failure never aborts the rest of the batch.
func (c *Controller) BulkDelete(ctx context.Context, ids []int) []Outcome {
	outcomes := make([]Outcome, len(ids))
	for i, id := range ids {
		var err error
		if c.opts.Delete == nil {
			err = fmt.Errorf("table: no delete operation wired for %s", c.opts.Resource)
		} else {
			err = c.opts.Delete(ctx, id)
		}
		outcomes[i] = Outcome{ID: id, Err: err}
		if err != nil {
			c.logger.Warn().Err(err).Int("id", id).Str("resource", c.opts.Resource).Msg("bulk delete item failed")
		}
	}
	c.requery()
	return outcomes
}

// BulkUpdate applies the same field change to each id and reports per-id
// outcomes.
func (c *Controller) BulkUpdate(ctx context.Context, ids []int, apply func(resource.Record)) []Outcome {
	outcomes := make([]Outcome, len(ids))
	for i, id := range ids {
		var err error
		if c.opts.Update == nil {
			err = fmt.Errorf("table: no update operation wired for %s", c.opts.Resource)
		} else {
			err = c.opts.Update(ctx, id, apply)
		}
		outcomes[i] = Outcome{ID: id, Err: err}
	}
	c.requery()
	return outcomes
}
