// Package scopecache provides the scoped fetch/cache collections backing
// the review UI: per-entity request-deduplicating caches with durable
// persistence, bounded by an LRU over scope instances, with two-phase
// hydration for pull request bundles.
package scopecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/prdeck/prdeck/internal/core/kv"
	"github.com/prdeck/prdeck/pkg/lru"
)

// maxScopes bounds the number of live scope instances per collection.
const maxScopes = 100

// FetchFunc produces the payload for one scope from the host.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Record is the persisted form of one scope's payload.
type Record[T any] struct {
	ID        string    `json:"id"`
	FetchedAt time.Time `json:"fetched_at"`
	Data      T         `json:"data"`
}

// RefetchOptions controls a single refetch.
type RefetchOptions struct {
	// PropagateError returns the fetch error to the caller instead of
	// only capturing it in LastError.
	PropagateError bool

	// Force supersedes any in-flight fetch for this scope: a fresh fetch
	// starts and the superseded one's result is silently discarded on
	// completion.
	Force bool
}

// Collection is a cache of scope instances for one entity kind. Scope
// instances are deduplicated by scope key and evicted LRU; eviction
// atomically clears the scope's fetch-activity and refetch registration.
type Collection[T any] struct {
	name     string
	log      zerolog.Logger
	store    *kv.TypedKV[Record[T]]
	activity *ActivityTracker
	reg      *Registry

	mu     sync.Mutex
	scopes *lru.Cache[string, *Scope[T]]
}

func newCollection[T any](reg *Registry, name string) *Collection[T] {
	c := &Collection[T]{
		name:     name,
		log:      reg.log.With().Str("collection", name).Logger(),
		store:    kv.Scoped[Record[T]](reg.store, name),
		activity: reg.activity,
		reg:      reg,
	}
	c.scopes = lru.New[string, *Scope[T]](maxScopes, func(key string, s *Scope[T]) {
		c.activity.ClearScope(s.ID())
		c.reg.unregisterRefetch(s.ID())
	})
	return c
}

// Scope returns the scope instance for key, creating it on first access.
// Repeated calls with the same key return the same instance, so callers
// racing on one scope share one fetch pipeline.
func (c *Collection[T]) Scope(key string, fetch FetchFunc[T]) *Scope[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.scopes.Get(key); ok {
		return s
	}

	s := &Scope[T]{coll: c, key: key, fetch: fetch}
	c.scopes.Set(key, s)
	c.reg.registerRefetch(s.ID(), func(ctx context.Context) error {
		_, err := s.Refetch(ctx, RefetchOptions{PropagateError: true})
		return err
	})
	return s
}

// Len returns the number of live scope instances.
func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scopes.Len()
}

// Scope is one cached, deduplicated fetch pipeline. All methods are safe
// for concurrent use.
type Scope[T any] struct {
	coll  *Collection[T]
	key   string
	fetch FetchFunc[T]

	flight singleflight.Group

	// persistMu serializes store writes so the generation re-check and
	// the write are atomic with respect to newer fetches.
	persistMu sync.Mutex

	mu            sync.Mutex
	gen           uint64
	fetching      int
	loaded        bool
	lastErr       error
	dataUpdatedAt time.Time
	record        *Record[T]
}

// ID returns the globally unique scope id, "<collection>/<scope key>".
func (s *Scope[T]) ID() string {
	return s.coll.name + "/" + s.key
}

// LastError returns the error of the most recent failed fetch, cleared
// by the next successful one.
func (s *Scope[T]) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// IsFetching reports whether a fetch is in flight for this scope.
func (s *Scope[T]) IsFetching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetching > 0
}

// DataUpdatedAt returns when this scope's data last changed in memory.
func (s *Scope[T]) DataUpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataUpdatedAt
}

// Get returns the scope's data, loading from the persisted store first
// and fetching from the host only on a cache miss.
func (s *Scope[T]) Get(ctx context.Context) (T, error) {
	s.loadOnce(ctx)

	s.mu.Lock()
	if s.record != nil {
		data := s.record.Data
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	return s.Refetch(ctx, RefetchOptions{PropagateError: true})
}

// Refetch fetches fresh data from the host. Concurrent callers share one
// in-flight fetch; a Force refetch supersedes it instead.
func (s *Scope[T]) Refetch(ctx context.Context, opts RefetchOptions) (T, error) {
	s.loadOnce(ctx)

	if opts.Force {
		s.flight.Forget("fetch")
	}

	v, err, _ := s.flight.Do("fetch", func() (any, error) {
		return s.doFetch(ctx)
	})

	if err != nil {
		if opts.PropagateError {
			var zero T
			return zero, err
		}
		// Error is captured in LastError; fall back to whatever data we
		// already have.
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.record != nil {
			return s.record.Data, nil
		}
		var zero T
		return zero, nil
	}
	return v.(T), nil
}

// doFetch runs one host fetch under the stale-response guard: results of
// a fetch superseded by a newer one are discarded, never persisted over
// fresher data.
func (s *Scope[T]) doFetch(ctx context.Context) (T, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.fetching++
	s.mu.Unlock()

	done := s.coll.activity.Register(s.ID(), s.coll.name)
	defer done()
	defer func() {
		s.mu.Lock()
		s.fetching--
		s.mu.Unlock()
	}()

	data, err := s.fetch(ctx)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.coll.log.Debug().Str("scope", s.key).Msg("discarding superseded fetch result")
		return data, err
	}

	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return data, fmt.Errorf("fetch %s %q: %w", s.coll.name, s.key, err)
	}

	now := time.Now()
	rec := Record[T]{ID: s.key, FetchedAt: now, Data: data}
	s.record = &rec
	s.lastErr = nil
	s.dataUpdatedAt = now
	s.mu.Unlock()

	s.persist(ctx, gen, rec)
	return data, nil
}

// persist writes a committed record to the store. The generation is
// re-checked while holding persistMu: a write that was delayed past a
// newer fetch's commit must not land on top of the fresher record.
func (s *Scope[T]) persist(ctx context.Context, gen uint64, rec Record[T]) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		s.coll.log.Debug().Str("scope", s.key).Msg("skipping persist of superseded fetch result")
		return
	}

	// Persistence is best effort; the failover store already absorbs
	// quota failures, anything else only costs cache warmth.
	if err := s.coll.store.Set(ctx, s.key, rec); err != nil {
		s.coll.log.Warn().Ctx(ctx).Err(err).Str("scope", s.key).Msg("failed to persist scope record")
	}
}

// loadOnce hydrates the scope from the persisted store on first access.
func (s *Scope[T]) loadOnce(ctx context.Context) {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return
	}
	s.loaded = true
	s.mu.Unlock()

	rec, err := s.coll.store.Get(ctx, s.key)
	if err != nil {
		if !kv.IsNotFound(err) {
			s.coll.log.Warn().Err(err).Str("scope", s.key).Msg("failed to load persisted scope record")
		}
		return
	}

	s.mu.Lock()
	if s.record == nil {
		s.record = &rec
		s.dataUpdatedAt = rec.FetchedAt
	}
	s.mu.Unlock()
}
