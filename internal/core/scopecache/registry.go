package scopecache

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prdeck/prdeck/internal/core/host"
	"github.com/prdeck/prdeck/internal/core/kv"
)

// Registry owns the scoped collections for one review session: the six
// entity caches, their shared activity tracker, and the refetch handles
// of live scopes. It replaces module-level singletons with an explicit
// lifecycle so sessions (and tests) are isolated.
type Registry struct {
	log      zerolog.Logger
	store    kv.KV
	fetcher  host.Fetcher
	activity *ActivityTracker

	mu      sync.Mutex
	refetch map[string]func(context.Context) error

	reposOnce sync.Once
	repos     *Collection[[]host.Repository]

	repoPRsOnce sync.Once
	repoPRs     *Collection[[]host.PullRequest]

	bundlesOnce sync.Once
	bundles     *Bundles

	historiesOnce sync.Once
	histories     *Collection[host.FileHistory]

	rangeDiffsOnce sync.Once
	rangeDiffs     *Collection[host.RangeDiff]

	contextsOnce sync.Once
	contexts     *Collection[host.FileContext]
}

// NewRegistry creates a registry over the given store and fetcher. The
// registry takes ownership of the store; Teardown closes it.
func NewRegistry(store kv.KV, fetcher host.Fetcher, log zerolog.Logger) *Registry {
	return &Registry{
		log:      log,
		store:    store,
		fetcher:  fetcher,
		activity: NewActivityTracker(),
		refetch:  make(map[string]func(context.Context) error),
	}
}

// Activity returns the shared fetch-activity tracker.
func (r *Registry) Activity() *ActivityTracker {
	return r.activity
}

// Fetcher returns the host fetcher the registry was created with.
func (r *Registry) Fetcher() host.Fetcher {
	return r.fetcher
}

// Repositories returns the repository-list collection, keyed by
// normalized workspace selection.
func (r *Registry) Repositories() *Collection[[]host.Repository] {
	r.reposOnce.Do(func() {
		r.repos = newCollection[[]host.Repository](r, "repositories")
	})
	return r.repos
}

// RepoPullRequests returns the per-repository pull request list
// collection.
func (r *Registry) RepoPullRequests() *Collection[[]host.PullRequest] {
	r.repoPRsOnce.Do(func() {
		r.repoPRs = newCollection[[]host.PullRequest](r, "repo_pull_requests")
	})
	return r.repoPRs
}

// Bundles returns the two-phase pull-request-bundle collection.
func (r *Registry) Bundles() *Bundles {
	r.bundlesOnce.Do(func() {
		r.bundles = newBundles(r)
	})
	return r.bundles
}

// FileHistories returns the per-file commit history collection.
func (r *Registry) FileHistories() *Collection[host.FileHistory] {
	r.historiesOnce.Do(func() {
		r.histories = newCollection[host.FileHistory](r, "file_histories")
	})
	return r.histories
}

// RangeDiffs returns the commit-range diff collection.
func (r *Registry) RangeDiffs() *Collection[host.RangeDiff] {
	r.rangeDiffsOnce.Do(func() {
		r.rangeDiffs = newCollection[host.RangeDiff](r, "commit_range_diffs")
	})
	return r.rangeDiffs
}

// FileContexts returns the full-file-content collection.
func (r *Registry) FileContexts() *Collection[host.FileContext] {
	r.contextsOnce.Do(func() {
		r.contexts = newCollection[host.FileContext](r, "file_contexts")
	})
	return r.contexts
}

// RefreshAll refetches every live scope, propagating a joined error.
// Intended for an explicit user "refresh" action; there is no automatic
// retry or backoff anywhere in the cache layer.
func (r *Registry) RefreshAll(ctx context.Context) error {
	r.mu.Lock()
	fns := make([]func(context.Context) error, 0, len(r.refetch))
	for _, fn := range r.refetch {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Teardown releases the registry: refetch handles are dropped and the
// store is closed. The registry must not be used afterwards.
func (r *Registry) Teardown() error {
	r.mu.Lock()
	r.refetch = make(map[string]func(context.Context) error)
	r.mu.Unlock()

	return r.store.Close()
}

func (r *Registry) registerRefetch(scopeID string, fn func(context.Context) error) {
	r.mu.Lock()
	r.refetch[scopeID] = fn
	r.mu.Unlock()
}

func (r *Registry) unregisterRefetch(scopeID string) {
	r.mu.Lock()
	delete(r.refetch, scopeID)
	r.mu.Unlock()
}
