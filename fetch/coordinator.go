// Package fetch coordinates reads against the shared cache store: concurrent
// requests for one key collapse into a single network call, stale entries are
// served immediately while a background refresh runs, and completions that
// arrive out of order are discarded by per-key sequence numbers.
package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dreamfactorysoftware/df-admin-data/apierror"
	"github.com/dreamfactorysoftware/df-admin-data/cache"
)

// FetchFunc performs the actual network read for a query.
type FetchFunc func(ctx context.Context) (any, error)

// Result is what a Query returns synchronously. Data is the best value known
// right now; Done closes once any fetch triggered by this call has settled
// into the store (already closed when served fresh from cache).
type Result struct {
	Data   any
	Status cache.Status
	Err    error
	Done   <-chan struct{}
}

// Coordinator multiplexes queries over a shared cache store.
type Coordinator struct {
	store  *cache.Store
	logger zerolog.Logger
	now    func() time.Time

	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	bgTimeout    time.Duration

	sf singleflight.Group

	seqMu      sync.Mutex
	lastIssued map[string]uint64

	applyMu     sync.Mutex
	lastApplied map[string]uint64

	metrics *coordMetrics
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRetry bounds the retry loop: at most maxAttempts calls per fetch, with
// exponential backoff starting at initialDelay and capped at maxDelay.
func WithRetry(maxAttempts int, initialDelay, maxDelay time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if initialDelay > 0 {
			c.initialDelay = initialDelay
		}
		if maxDelay > 0 {
			c.maxDelay = maxDelay
		}
	}
}

// WithLogger attaches a logger for fetch lifecycle events.
func WithLogger(l zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the freshness clock; keep it aligned with the store's.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithBackgroundTimeout bounds each shared flight's lifetime. Flights run
// detached from their initiating caller's context, so this is the only
// deadline that can abort one.
func WithBackgroundTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.bgTimeout = d
		}
	}
}

// NewCoordinator creates a coordinator over the given store.
func NewCoordinator(store *cache.Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:        store,
		logger:       zerolog.Nop(),
		now:          time.Now,
		maxAttempts:  3,
		initialDelay: 100 * time.Millisecond,
		maxDelay:     5 * time.Second,
		bgTimeout:    30 * time.Second,
		lastIssued:   make(map[string]uint64),
		lastApplied:  make(map[string]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Store exposes the underlying cache store for subscriptions.
func (c *Coordinator) Store() *cache.Store { return c.store }

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Query resolves a list/record read against the cache:
//
//   - fresh entry: cached data, no network call;
//   - stale entry: cached data now, background revalidation;
//   - missing, idle, or errored entry: blocking fetch, deduplicated so
//     concurrent callers for the same key share one network call.
//
// Fetch results always land in the shared store, even if the initiating
// consumer has gone away by the time they arrive.
func (c *Coordinator) Query(ctx context.Context, resourceName string, p cache.Params, fn FetchFunc) Result {
	key := cache.BuildKey(resourceName, p)
	return c.QueryKey(ctx, key, fn)
}

// QueryKey is Query for callers that already hold a canonical key.
func (c *Coordinator) QueryKey(ctx context.Context, key string, fn FetchFunc) Result {
	entry, ok := c.store.Get(key)
	if ok {
		switch status := entry.Status(c.now()); status {
		case cache.StatusFresh:
			c.metrics.servedFresh()
			return Result{Data: entry.Data, Status: cache.StatusFresh, Done: closedDone}
		case cache.StatusStale, cache.StatusFetching:
			if entry.HasData() {
				c.metrics.servedStale()
				return Result{Data: entry.Data, Status: cache.StatusStale, Done: c.revalidate(key, fn)}
			}
		}
	}

	data, err := c.fetch(ctx, key, fn, true)
	if err != nil {
		// last-known-good stays visible alongside the error
		return Result{Data: entry.Data, Status: cache.StatusError, Err: err, Done: closedDone}
	}
	return Result{Data: data, Status: cache.StatusFresh, Done: closedDone}
}

// Refetch bypasses freshness checks and the backoff policy: one immediate
// attempt, issued even while an older request for the key is still in flight.
// The sequence counter guarantees the newer completion wins.
func (c *Coordinator) Refetch(ctx context.Context, resourceName string, p cache.Params, fn FetchFunc) (any, error) {
	key := cache.BuildKey(resourceName, p)
	return c.RefetchKey(ctx, key, fn)
}

// RefetchKey is Refetch for callers that already hold a canonical key.
func (c *Coordinator) RefetchKey(ctx context.Context, key string, fn FetchFunc) (any, error) {
	c.sf.Forget(key)
	return c.fetch(ctx, key, fn, false)
}

// revalidate refreshes key in the background. The caller's context is not
// used: teardown of the initiating consumer must not abandon the shared
// cache update.
func (c *Coordinator) revalidate(key string, fn FetchFunc) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.fetch(context.Background(), key, fn, true); err != nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("background revalidation failed")
		}
	}()
	return done
}

// fetch joins (or starts) the shared flight for key. The flight runs detached
// from ctx, bounded only by the coordinator's background timeout: a caller
// whose context is cancelled gets its own ctx error back while the flight
// keeps going and lands in the store for the remaining subscribers.
func (c *Coordinator) fetch(ctx context.Context, key string, fn FetchFunc, withRetry bool) (any, error) {
	ch := c.sf.DoChan(key, func() (any, error) {
		seq := c.nextSeq(key)
		c.store.MarkFetching(key)
		c.metrics.fetchIssued()

		fctx, cancel := context.WithTimeout(context.Background(), c.bgTimeout)
		defer cancel()

		data, ferr := c.attempt(fctx, key, fn, withRetry)
		if !c.apply(key, seq, data, ferr) {
			// a newer request already completed; surface its value instead
			if cur, ok := c.store.Get(key); ok {
				return cur.Data, cur.Err
			}
		}
		return data, ferr
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.metrics.dedupJoin()
		}
		return res.Val, res.Err
	}
}

// attempt runs fn with the bounded backoff policy. Terminal client errors and
// context cancellation stop the loop immediately.
func (c *Coordinator) attempt(ctx context.Context, key string, fn FetchFunc, withRetry bool) (any, error) {
	if !withRetry {
		return fn(ctx)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialDelay
	bo.MaxInterval = c.maxDelay
	bo.MaxElapsedTime = 0

	var data any
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		d, ferr := fn(ctx)
		if ferr != nil {
			if !apierror.IsRetryable(ferr) || attempts >= c.maxAttempts {
				return backoff.Permanent(ferr)
			}
			c.metrics.retry()
			c.logger.Debug().Err(ferr).Str("key", key).Int("attempt", attempts).Msg("retrying fetch")
			return ferr
		}
		data = d
		return nil
	}, backoff.WithContext(bo, ctx))
	return data, err
}

func (c *Coordinator) nextSeq(key string) uint64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.lastIssued[key]++
	return c.lastIssued[key]
}

// apply commits a completion to the store unless a higher-sequence completion
// for the key already landed.
func (c *Coordinator) apply(key string, seq uint64, data any, err error) bool {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	if seq < c.lastApplied[key] {
		c.metrics.discardedStaleCompletion()
		c.logger.Debug().Str("key", key).Uint64("seq", seq).Msg("discarding out-of-order completion")
		return false
	}
	c.lastApplied[key] = seq

	if err != nil {
		c.store.SetError(key, err)
		c.metrics.fetchFailed()
		return true
	}
	c.store.Set(key, data)
	return true
}
