// Package cache provides the shared request/response cache for the admin data
// layer: canonical key construction and a TTL store with subscriptions,
// optimistic patches, and LRU bounding.
package cache

import "time"

// Status is the lifecycle state of a cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusFetching
	StatusFresh
	StatusStale
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusFetching:
		return "fetching"
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// TTL configures entry freshness. FreshFor bounds the window in which cached
// data is served without revalidation; ExpireAfter bounds how long stale data
// remains servable before eviction.
type TTL struct {
	FreshFor    time.Duration
	ExpireAfter time.Duration
}

// DefaultTTL matches the admin console's default freshness window.
var DefaultTTL = TTL{FreshFor: 30 * time.Second, ExpireAfter: 5 * time.Minute}

// Entry is a snapshot of one cache slot. Entries are owned by the Store;
// consumers receive copies and must treat Data as immutable.
type Entry struct {
	Key       string
	Data      any
	Err       error
	FetchedAt time.Time
	StaleAt   time.Time
	ExpiresAt time.Time

	// Version increments on every Set and Patch. The mutation layer uses it
	// to detect optimistic writes superseded by fresher reads.
	Version uint64

	base Status
}

// Status reports the entry's lifecycle state at time now, accounting for
// fresh-to-stale decay.
func (e Entry) Status(now time.Time) Status {
	if e.base == StatusFresh && !e.StaleAt.IsZero() && now.After(e.StaleAt) {
		return StatusStale
	}
	return e.base
}

// Expired reports whether the entry is past its eviction horizon.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// HasData reports whether the entry carries a usable value. An entry in error
// state keeps its last-known-good data.
func (e Entry) HasData() bool { return e.Data != nil }
