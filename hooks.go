package dfadmin

import (
	"context"
	"time"

	"github.com/dreamfactorysoftware/df-admin-data/apierror"
	"github.com/dreamfactorysoftware/df-admin-data/cache"
	"github.com/dreamfactorysoftware/df-admin-data/fetch"
	"github.com/dreamfactorysoftware/df-admin-data/mutate"
	"github.com/dreamfactorysoftware/df-admin-data/resource"
)

// ListHandle is a live view over one cached list query. Reads always reflect
// the store's current entry; Subscribe reports every change to it.
type ListHandle struct {
	s    *Session
	name string
	key  string
	fn   fetch.FetchFunc
	done <-chan struct{}
}

// UseList resolves a list query through the cache. A fresh entry returns
// immediately without network traffic; a stale one returns the cached page
// and revalidates in the background; a miss blocks until the fetch settles.
func (s *Session) UseList(ctx context.Context, name string, p cache.Params) (*ListHandle, error) {
	info, err := lookup(name)
	if err != nil {
		return nil, err
	}

	h := &ListHandle{
		s:    s,
		name: name,
		key:  cache.BuildKey(name, p),
		fn:   s.fetcher(name, info.factory)(p),
	}
	res := s.coord.QueryKey(ctx, h.key, h.fn)
	h.done = res.Done
	return h, nil
}

// Key is the canonical cache key this handle reads.
func (h *ListHandle) Key() string { return h.key }

// Data returns the current page, zero when nothing is cached yet.
func (h *ListHandle) Data() resource.Page {
	if e, ok := h.s.store.Get(h.key); ok {
		if page, ok := e.Data.(resource.Page); ok {
			return page
		}
	}
	return resource.Page{}
}

// IsLoading reports whether a fetch is running with no data to show yet.
func (h *ListHandle) IsLoading() bool {
	e, ok := h.s.store.Get(h.key)
	if !ok {
		return true
	}
	return e.Status(time.Now()) == cache.StatusFetching && !e.HasData()
}

// Err returns the entry's last fetch error, nil after any success.
func (h *ListHandle) Err() error {
	if e, ok := h.s.store.Get(h.key); ok {
		return e.Err
	}
	return nil
}

// Ready closes once the query issued by UseList has settled. Already closed
// when the entry was served fresh.
func (h *ListHandle) Ready() <-chan struct{} { return h.done }

// Refetch forces a network round trip regardless of freshness.
func (h *ListHandle) Refetch(ctx context.Context) error {
	_, err := h.s.coord.RefetchKey(ctx, h.key, h.fn)
	return err
}

// Subscribe registers fn to run after every store write affecting this
// query, returning its cancel function.
func (h *ListHandle) Subscribe(fn func()) (cancel func()) {
	return h.s.store.Subscribe(h.key, func(cache.Entry) { fn() })
}

// RecordHandle is the single-record analogue of ListHandle.
type RecordHandle struct {
	s    *Session
	name string
	id   int
	key  string
	fn   fetch.FetchFunc
	done <-chan struct{}
}

// UseRecord resolves one record through the cache, with the same freshness
// semantics as UseList.
func (s *Session) UseRecord(ctx context.Context, name string, id int) (*RecordHandle, error) {
	info, err := lookup(name)
	if err != nil {
		return nil, err
	}

	h := &RecordHandle{
		s:    s,
		name: name,
		id:   id,
		key:  cache.RecordKey(name, id),
	}
	h.fn = func(ctx context.Context) (any, error) {
		rec, err := s.client.GetRecord(ctx, name, id, info.factory)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	res := s.coord.QueryKey(ctx, h.key, h.fn)
	h.done = res.Done
	return h, nil
}

// Key is the canonical cache key this handle reads.
func (h *RecordHandle) Key() string { return h.key }

// Data returns the current record, nil when nothing is cached yet.
func (h *RecordHandle) Data() resource.Record {
	if e, ok := h.s.store.Get(h.key); ok {
		if rec, ok := e.Data.(resource.Record); ok {
			return rec
		}
	}
	return nil
}

// IsLoading reports whether a fetch is running with no data to show yet.
func (h *RecordHandle) IsLoading() bool {
	e, ok := h.s.store.Get(h.key)
	if !ok {
		return true
	}
	return e.Status(time.Now()) == cache.StatusFetching && !e.HasData()
}

// Err returns the entry's last fetch error, nil after any success.
func (h *RecordHandle) Err() error {
	if e, ok := h.s.store.Get(h.key); ok {
		return e.Err
	}
	return nil
}

// Ready closes once the query issued by UseRecord has settled.
func (h *RecordHandle) Ready() <-chan struct{} { return h.done }

// Refetch forces a network round trip regardless of freshness.
func (h *RecordHandle) Refetch(ctx context.Context) error {
	_, err := h.s.coord.RefetchKey(ctx, h.key, h.fn)
	return err
}

// Subscribe registers fn to run after every store write affecting this
// record, returning its cancel function.
func (h *RecordHandle) Subscribe(fn func()) (cancel func()) {
	return h.s.store.Subscribe(h.key, func(cache.Entry) { fn() })
}

// Mutator issues optimistic writes for one resource: cached entries are
// patched before the remote call and restored exactly if it fails.
type Mutator struct {
	s       *Session
	name    string
	factory resource.Factory
}

// UseMutate returns a Mutator for the named resource.
func (s *Session) UseMutate(name string) (*Mutator, error) {
	info, err := lookup(name)
	if err != nil {
		return nil, err
	}
	return &Mutator{s: s, name: name, factory: info.factory}, nil
}

// CreateRecord creates rec remotely and returns the server-assigned id.
// Cached pages show the record immediately under a temporary id, which the
// commit swaps for the real one.
func (m *Mutator) CreateRecord(ctx context.Context, rec resource.Record) (int, error) {
	if errs := rec.Validate(); len(errs) > 0 {
		return 0, &apierror.ValidationError{Resource: m.name, Fields: errs}
	}

	keys := m.s.store.ListKeys(m.name)
	if len(keys) == 0 {
		return m.s.client.Create(ctx, m.name, rec)
	}

	optimistic := rec.Clone()
	tempID := mutate.TempID()
	optimistic.SetRecordID(tempID)

	result, err := m.s.mut.Mutate(ctx, mutate.OpCreate, mutate.Plan{
		Keys: keys,
		Patch: func(_ string, data any) any {
			return mutate.PrependRecord(optimistic)(data)
		},
		Call: func(ctx context.Context) (any, error) {
			return m.s.client.Create(ctx, m.name, rec)
		},
		Reconcile: func(_ string, data, result any) any {
			return mutate.ReplaceTempID(tempID, result.(int))(data)
		},
		InvalidateResources: []string{m.name},
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// UpdateRecord patches rec's server-side record with rec's fields. Cached
// copies are replaced optimistically.
func (m *Mutator) UpdateRecord(ctx context.Context, rec resource.Record) error {
	if errs := rec.Validate(); len(errs) > 0 {
		return &apierror.ValidationError{Resource: m.name, Fields: errs}
	}

	keys := append(m.s.store.ListKeys(m.name), cache.RecordKey(m.name, rec.RecordID()))
	_, err := m.s.mut.Mutate(ctx, mutate.OpUpdate, mutate.Plan{
		Keys: keys,
		Patch: func(_ string, data any) any {
			return mutate.ReplaceRecord(rec)(data)
		},
		Call: func(ctx context.Context) (any, error) {
			return nil, m.s.client.Update(ctx, m.name, rec)
		},
		InvalidateResources: []string{m.name},
	})
	return err
}

// UpdateFields loads the record's current state, applies the edit to a
// clone, and submits it as an update.
func (m *Mutator) UpdateFields(ctx context.Context, id int, apply func(resource.Record)) error {
	rec, err := m.current(ctx, id)
	if err != nil {
		return err
	}
	updated := rec.Clone()
	apply(updated)
	return m.UpdateRecord(ctx, updated)
}

// DeleteRecord deletes the record remotely. Cached pages drop the row
// immediately; a failed call puts it back where it was.
func (m *Mutator) DeleteRecord(ctx context.Context, id int) error {
	keys := append(m.s.store.ListKeys(m.name), cache.RecordKey(m.name, id))
	_, err := m.s.mut.Mutate(ctx, mutate.OpDelete, mutate.Plan{
		Keys: keys,
		Patch: func(_ string, data any) any {
			return mutate.RemoveRecord(id)(data)
		},
		Call: func(ctx context.Context) (any, error) {
			return nil, m.s.client.Delete(ctx, m.name, id)
		},
		InvalidateResources: []string{m.name},
	})
	return err
}

// current resolves a record's present state, preferring cached copies over
// a network read.
func (m *Mutator) current(ctx context.Context, id int) (resource.Record, error) {
	if e, ok := m.s.store.Get(cache.RecordKey(m.name, id)); ok {
		if rec, ok := e.Data.(resource.Record); ok {
			return rec, nil
		}
	}
	for _, key := range m.s.store.ListKeys(m.name) {
		e, ok := m.s.store.Get(key)
		if !ok {
			continue
		}
		page, ok := e.Data.(resource.Page)
		if !ok {
			continue
		}
		for _, r := range page.Records {
			if r.RecordID() == id {
				return r, nil
			}
		}
	}
	return m.s.client.GetRecord(ctx, m.name, id, m.factory)
}
