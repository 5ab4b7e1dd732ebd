// Package mutate implements optimistic writes over the shared cache store:
// affected entries are snapshotted and patched before the remote call, then
// reconciled on success or restored exactly on failure.
package mutate

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dreamfactorysoftware/df-admin-data/apierror"
	"github.com/dreamfactorysoftware/df-admin-data/cache"
)

// Op is the kind of write being performed.
type Op int

const (
	OpCreate Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// State is the lifecycle of a pending mutation.
type State int

const (
	StatePending State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolledback"
	default:
		return "unknown"
	}
}

// Plan describes one mutation.
type Plan struct {
	// Keys are the cache keys whose entries receive the optimistic patch.
	Keys []string

	// Patch maps an entry's current data to its optimistic replacement. It
	// must be pure: build new values, never mutate the argument.
	Patch func(key string, data any) any

	// Call performs the remote write.
	Call func(ctx context.Context) (any, error)

	// Reconcile folds the server result into a patched entry after a
	// successful Call (e.g. replacing a temporary id). Optional.
	Reconcile func(key string, data any, result any) any

	// InvalidateResources names resources whose derived cache keys are
	// demoted to stale after commit: cached data stays visible and the
	// next read revalidates against authoritative ordering and pagination.
	InvalidateResources []string
}

type snapshot struct {
	data    any
	version uint64
	present bool
}

// Pending tracks one in-flight mutation.
type Pending struct {
	ID    string
	Op    Op
	Keys  []string
	state State

	snapshots map[string]snapshot
	patched   map[string]uint64
}

// State reports the mutation's lifecycle state.
func (p *Pending) State() State { return p.state }

// Orchestrator serializes mutations per cache key and owns their
// snapshot/patch/settle sequence.
type Orchestrator struct {
	store  *cache.Store
	logger zerolog.Logger

	mu       sync.Mutex
	keyLocks map[string]*keyLock
	inflight map[string]*Pending
}

// keyLock is a refcounted per-key mutex. The refcount tracks mutations that
// hold or are waiting on the lock so the map entry can be pruned once the
// last one settles.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger attaches a logger for mutation lifecycle events.
func WithLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator over the given store.
func NewOrchestrator(store *cache.Store, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		logger:   zerolog.Nop(),
		keyLocks: make(map[string]*keyLock),
		inflight: make(map[string]*Pending),
	}
	for _, op := range opts {
		op(o)
	}
	return o
}

// InFlight reports the number of unsettled mutations.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// Mutate runs one optimistic write to completion:
//
//  1. snapshot every affected entry,
//  2. apply the optimistic patch synchronously,
//  3. invoke the remote call,
//  4. on success reconcile and demote derived keys to stale; on failure restore
//     every snapshot exactly and surface the error.
//
// Mutations with overlapping keys serialize: the second waits until the
// first settles and snapshots the settled state, never a mid-flight one.
func (o *Orchestrator) Mutate(ctx context.Context, op Op, plan Plan) (any, error) {
	if plan.Call == nil {
		return nil, errors.New("mutate: plan has no remote call")
	}
	if len(plan.Keys) == 0 {
		return nil, errors.New("mutate: plan affects no cache keys")
	}

	keys := uniqueSorted(plan.Keys)
	unlock := o.lockKeys(keys)
	defer unlock()

	p := &Pending{
		ID:        uuid.NewString(),
		Op:        op,
		Keys:      keys,
		state:     StatePending,
		snapshots: make(map[string]snapshot, len(keys)),
		patched:   make(map[string]uint64, len(keys)),
	}
	o.track(p)
	defer o.untrack(p)

	for _, key := range keys {
		e, ok := o.store.Get(key)
		if !ok {
			p.snapshots[key] = snapshot{present: false}
			continue
		}
		p.snapshots[key] = snapshot{data: e.Data, version: e.Version, present: true}
		if plan.Patch != nil {
			o.store.Patch(key, func(cur any) any { return plan.Patch(key, cur) })
		}
		p.patched[key] = o.store.Version(key)
	}

	o.logger.Debug().Str("mutation", p.ID).Stringer("op", op).Strs("keys", keys).Msg("optimistic patch applied")

	result, err := plan.Call(ctx)
	if err != nil {
		o.rollback(p)
		return nil, err
	}

	o.commit(p, plan, result)
	return result, nil
}

func (o *Orchestrator) commit(p *Pending, plan Plan, result any) {
	for _, key := range p.Keys {
		if !p.snapshots[key].present {
			continue
		}
		if o.superseded(p, key) {
			// a fresher read landed mid-flight; the server value wins and
			// Reconcile is applied over it
			o.logger.Debug().Err(&apierror.StaleWriteConflict{Key: key}).Msg("commit over superseded patch")
		}
		if plan.Reconcile != nil {
			o.store.Patch(key, func(cur any) any { return plan.Reconcile(key, cur, result) })
		}
	}
	for _, res := range plan.InvalidateResources {
		// reconciled data stays visible; the next read of any derived key
		// revalidates against authoritative server ordering
		o.store.MarkStalePrefix(res)
	}
	p.state = StateCommitted
}

// rollback restores every affected entry to its pre-mutation snapshot. An
// entry superseded by a fresher read is not clobbered with old data; it is
// dropped instead so the next access refetches.
func (o *Orchestrator) rollback(p *Pending) {
	for _, key := range p.Keys {
		snap := p.snapshots[key]
		if !snap.present {
			continue
		}
		if o.superseded(p, key) {
			o.logger.Debug().Err(&apierror.StaleWriteConflict{Key: key}).Msg("rollback skipped for superseded entry")
			o.store.Delete(key)
			continue
		}
		o.store.Patch(key, func(any) any { return snap.data })
	}
	p.state = StateRolledBack
	o.logger.Debug().Str("mutation", p.ID).Msg("mutation rolled back")
}

// superseded reports whether something other than this mutation's own patch
// wrote the entry since the patch was applied.
func (o *Orchestrator) superseded(p *Pending, key string) bool {
	return o.store.Version(key) != p.patched[key]
}

func (o *Orchestrator) track(p *Pending) {
	o.mu.Lock()
	o.inflight[p.ID] = p
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(p *Pending) {
	o.mu.Lock()
	delete(o.inflight, p.ID)
	o.mu.Unlock()
}

// lockKeys acquires per-key mutexes in sorted order so overlapping mutations
// serialize without deadlocking. Returns the matching unlock, which also
// prunes locks no other mutation is holding or waiting on.
func (o *Orchestrator) lockKeys(keys []string) func() {
	locks := make([]*keyLock, len(keys))
	o.mu.Lock()
	for i, key := range keys {
		l, ok := o.keyLocks[key]
		if !ok {
			l = &keyLock{}
			o.keyLocks[key] = l
		}
		l.refs++
		locks[i] = l
	}
	o.mu.Unlock()

	for _, l := range locks {
		l.mu.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].mu.Unlock()
		}
		o.mu.Lock()
		for i, key := range keys {
			locks[i].refs--
			if locks[i].refs == 0 {
				delete(o.keyLocks, key)
			}
		}
		o.mu.Unlock()
	}
}

func uniqueSorted(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i == 0 || k != out[i-1] {
			out[n] = k
			n++
		}
	}
	return out[:n]
}
