package scopecache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prdeck/prdeck/internal/core/host"
	"github.com/prdeck/prdeck/internal/core/kv"
	"github.com/prdeck/prdeck/internal/core/scopecache"
	"github.com/prdeck/prdeck/internal/store/failover"
	"github.com/prdeck/prdeck/internal/store/memkv"
)

var testRef = host.Ref{Host: host.KindGitHub, Workspace: "acme", Repo: "widgets", PullRequestID: 7}

// fakeFetcher implements host.Fetcher with scriptable results.
type fakeFetcher struct {
	mu            sync.Mutex
	critical      host.CriticalBundle
	criticalErr   error
	criticalCalls int
	deferred      host.DeferredBundle
	deferredErr   error
	deferredCalls int
}

func (f *fakeFetcher) PullRequestCritical(ctx context.Context, ref host.Ref) (host.CriticalBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.criticalCalls++
	return f.critical, f.criticalErr
}

func (f *fakeFetcher) PullRequestDeferred(ctx context.Context, ref host.Ref) (host.DeferredBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferredCalls++
	return f.deferred, f.deferredErr
}

func (f *fakeFetcher) CommitRangeDiff(ctx context.Context, req host.RangeDiffRequest) (host.RangeDiff, error) {
	return host.RangeDiff{Diff: "range diff"}, nil
}

func (f *fakeFetcher) FileHistory(ctx context.Context, req host.FileHistoryRequest) (host.FileHistory, error) {
	return host.FileHistory{Path: req.Path}, nil
}

func (f *fakeFetcher) FileContext(ctx context.Context, req host.FileContextRequest) (host.FileContext, error) {
	return host.FileContext{Path: req.Path, CommitHash: req.CommitHash}, nil
}

func (f *fakeFetcher) RepoPullRequests(ctx context.Context, repo host.Repository) ([]host.PullRequest, error) {
	return []host.PullRequest{{ID: 1}}, nil
}

func (f *fakeFetcher) ListRepositories(ctx context.Context, kind host.Kind, workspace string) ([]host.Repository, error) {
	return []host.Repository{{Host: kind, Workspace: workspace, Repo: "widgets"}}, nil
}

func testCritical() host.CriticalBundle {
	return host.CriticalBundle{
		PR:       host.PullRequest{ID: 7, Title: "Add widgets", DestinationCommitHash: "dest"},
		Diff:     "diff content",
		DiffStat: []host.DiffStatEntry{{Path: "src/a.go", Status: "modified", Additions: 3}},
		Commits:  []host.Commit{{Hash: "c2"}, {Hash: "c1"}},
	}
}

func testDeferred() host.DeferredBundle {
	return host.DeferredBundle{
		Comments:      []host.Comment{{ID: "cm1", Body: "nit"}},
		Reviewers:     []host.Reviewer{{State: "approved", Approved: true}},
		BuildStatuses: []host.BuildStatus{{Key: "ci", State: "successful"}},
	}
}

func newRegistry(t *testing.T, store kv.KV, fetcher host.Fetcher) *scopecache.Registry {
	t.Helper()
	reg := scopecache.NewRegistry(store, fetcher, zerolog.Nop())
	t.Cleanup(func() { _ = reg.Teardown() })
	return reg
}

func TestCollection_ScopeDeduplicates(t *testing.T) {
	reg := newRegistry(t, memkv.New(), &fakeFetcher{})
	coll := reg.RangeDiffs()

	fetch := func(ctx context.Context) (host.RangeDiff, error) {
		return host.RangeDiff{Diff: "d"}, nil
	}

	a := coll.Scope("key-1", fetch)
	b := coll.Scope("key-1", fetch)
	c := coll.Scope("key-2", fetch)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestCollection_GetFetchesOnceAndPersists(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	reg := newRegistry(t, store, &fakeFetcher{})

	var calls int
	s := reg.FileContexts().Scope("k", func(ctx context.Context) (host.FileContext, error) {
		calls++
		return host.FileContext{Path: "src/a.go", Content: "body"}, nil
	})

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "body", got.Content)

	// Second Get serves from memory.
	_, err = s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// The record was persisted under the collection namespace.
	var rec scopecache.Record[host.FileContext]
	require.NoError(t, store.Get(ctx, "file_contexts:k", &rec))
	assert.Equal(t, "k", rec.ID)
	assert.Equal(t, "body", rec.Data.Content)
	assert.False(t, rec.FetchedAt.IsZero())
}

func TestCollection_GetHydratesFromPersistedStore(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	require.NoError(t, store.Set(ctx, "file_contexts:k", scopecache.Record[host.FileContext]{
		ID:        "k",
		FetchedAt: time.Now(),
		Data:      host.FileContext{Content: "persisted"},
	}))

	reg := newRegistry(t, store, &fakeFetcher{})
	s := reg.FileContexts().Scope("k", func(ctx context.Context) (host.FileContext, error) {
		t.Fatal("fetch should not run when a persisted record exists")
		return host.FileContext{}, nil
	})

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Content)
}

func TestCollection_RefetchCapturesErrorWithoutPropagating(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, memkv.New(), &fakeFetcher{})

	fetchErr := errors.New("rate limited")
	s := reg.RangeDiffs().Scope("k", func(ctx context.Context) (host.RangeDiff, error) {
		return host.RangeDiff{}, fetchErr
	})

	_, err := s.Refetch(ctx, scopecache.RefetchOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.LastError(), fetchErr)

	_, err = s.Refetch(ctx, scopecache.RefetchOptions{PropagateError: true})
	assert.ErrorIs(t, err, fetchErr)
}

func TestCollection_StaleResponseDiscarded(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	reg := newRegistry(t, store, &fakeFetcher{})

	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	s := reg.RangeDiffs().Scope("k", func(ctx context.Context) (host.RangeDiff, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-release
			return host.RangeDiff{Diff: "stale"}, nil
		}
		return host.RangeDiff{Diff: "fresh"}, nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Refetch(ctx, scopecache.RefetchOptions{})
	}()

	// Wait for the first fetch to be in flight.
	require.Eventually(t, s.IsFetching, time.Second, time.Millisecond)

	// A forced refetch supersedes it.
	got, err := s.Refetch(ctx, scopecache.RefetchOptions{Force: true, PropagateError: true})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Diff)

	close(release)
	wg.Wait()

	// The superseded result never replaced the fresh one, in memory or
	// in the persisted store.
	data, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", data.Diff)

	var rec scopecache.Record[host.RangeDiff]
	require.NoError(t, store.Get(ctx, "commit_range_diffs:k", &rec))
	assert.Equal(t, "fresh", rec.Data.Diff)
}

func TestBundles_TwoPhaseHydration(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	fetcher := &fakeFetcher{critical: testCritical(), deferred: testDeferred()}
	reg := newRegistry(t, store, fetcher)

	s := reg.Bundles().Scope(testRef)
	rec, err := s.Refetch(ctx, scopecache.RefetchOptions{PropagateError: true})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, scopecache.DeferredReady, rec.DeferredStatus)
	assert.Equal(t, scopecache.PhaseReady, s.Phase())
	assert.Equal(t, "diff content", rec.Diff)
	assert.Len(t, rec.Comments, 1)
	assert.Len(t, rec.Reviewers, 1)
	assert.False(t, rec.CriticalFetchedAt.IsZero())
	assert.False(t, rec.DeferredFetchedAt.IsZero())
	assert.Equal(t, 1, fetcher.criticalCalls)
	assert.Equal(t, 1, fetcher.deferredCalls)

	var persisted scopecache.BundleRecord
	require.NoError(t, store.Get(ctx, "pull_request_bundles:"+testRef.String(), &persisted))
	assert.Equal(t, scopecache.DeferredReady, persisted.DeferredStatus)
}

func TestBundles_DeferredFailurePreservesCriticalData(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	fetcher := &fakeFetcher{critical: testCritical(), deferredErr: errors.New("comments endpoint down")}
	reg := newRegistry(t, store, fetcher)

	s := reg.Bundles().Scope(testRef)
	rec, err := s.Refetch(ctx, scopecache.RefetchOptions{PropagateError: true})

	// Deferred failure never propagates.
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, scopecache.DeferredError, rec.DeferredStatus)
	assert.Equal(t, scopecache.PhaseDeferredFailed, s.Phase())
	assert.Equal(t, "diff content", rec.Diff)
	assert.Len(t, rec.DiffStat, 1)
	assert.Len(t, rec.Commits, 2)
	assert.Empty(t, rec.Comments)

	var persisted scopecache.BundleRecord
	require.NoError(t, store.Get(ctx, "pull_request_bundles:"+testRef.String(), &persisted))
	assert.Equal(t, scopecache.DeferredError, persisted.DeferredStatus)
	assert.Equal(t, "diff content", persisted.Diff)
}

func TestBundles_CriticalFailure(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{criticalErr: errors.New("network down")}
	reg := newRegistry(t, memkv.New(), fetcher)

	s := reg.Bundles().Scope(testRef)

	_, err := s.Refetch(ctx, scopecache.RefetchOptions{PropagateError: true})
	require.Error(t, err)
	assert.ErrorIs(t, s.LastError(), fetcher.criticalErr)
	assert.Equal(t, scopecache.PhaseIdle, s.Phase())
	assert.Nil(t, s.Record())

	// Deferred fetch never started.
	assert.Equal(t, 0, fetcher.deferredCalls)
}

func TestBundles_CriticalFailureKeepsExistingRecord(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{critical: testCritical(), deferred: testDeferred()}
	reg := newRegistry(t, memkv.New(), fetcher)

	s := reg.Bundles().Scope(testRef)
	_, err := s.Refetch(ctx, scopecache.RefetchOptions{PropagateError: true})
	require.NoError(t, err)

	fetcher.mu.Lock()
	fetcher.criticalErr = errors.New("network down")
	fetcher.mu.Unlock()

	rec, err := s.Refetch(ctx, scopecache.RefetchOptions{Force: true})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "diff content", rec.Diff)
	assert.Error(t, s.LastError())
}

func TestBundles_ScopeDeduplicates(t *testing.T) {
	reg := newRegistry(t, memkv.New(), &fakeFetcher{})

	a := reg.Bundles().Scope(testRef)
	b := reg.Bundles().Scope(testRef)
	other := testRef
	other.PullRequestID = 8
	c := reg.Bundles().Scope(other)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

// quotaStore fails writes with a quota error once tripped.
type quotaStore struct {
	*memkv.Store
	mu      sync.Mutex
	tripped bool
}

func (q *quotaStore) trip() {
	q.mu.Lock()
	q.tripped = true
	q.mu.Unlock()
}

func (q *quotaStore) Set(ctx context.Context, key string, value any) error {
	q.mu.Lock()
	tripped := q.tripped
	q.mu.Unlock()
	if tripped {
		return fmt.Errorf("set %q: %w", key, failover.ErrQuotaExceeded)
	}
	return q.Store.Set(ctx, key, value)
}

func TestRegistry_QuotaFallbackCoversAllCollections(t *testing.T) {
	ctx := context.Background()
	primary := &quotaStore{Store: memkv.New()}
	store := failover.New(func() (kv.KV, error) { return primary, nil }, zerolog.Nop())
	fetcher := &fakeFetcher{critical: testCritical(), deferred: testDeferred()}
	reg := newRegistry(t, store, fetcher)

	primary.trip()

	// Every collection keeps working against the in-memory fallback.
	_, err := reg.Repositories().Scope("sel", func(ctx context.Context) ([]host.Repository, error) {
		return []host.Repository{{Workspace: "acme", Repo: "widgets"}}, nil
	}).Get(ctx)
	require.NoError(t, err)

	_, err = reg.RepoPullRequests().Scope("acme/widgets", func(ctx context.Context) ([]host.PullRequest, error) {
		return []host.PullRequest{{ID: 1}}, nil
	}).Get(ctx)
	require.NoError(t, err)

	rec, err := reg.Bundles().Scope(testRef).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, scopecache.DeferredReady, rec.DeferredStatus)

	_, err = reg.FileHistories().Scope("h", func(ctx context.Context) (host.FileHistory, error) {
		return host.FileHistory{Path: "src/a.go"}, nil
	}).Get(ctx)
	require.NoError(t, err)

	_, err = reg.RangeDiffs().Scope("r", func(ctx context.Context) (host.RangeDiff, error) {
		return host.RangeDiff{Diff: "d"}, nil
	}).Get(ctx)
	require.NoError(t, err)

	_, err = reg.FileContexts().Scope("f", func(ctx context.Context) (host.FileContext, error) {
		return host.FileContext{Content: "c"}, nil
	}).Get(ctx)
	require.NoError(t, err)

	assert.True(t, store.Degraded())

	// Reads succeed against the fallback too.
	got, err := reg.RangeDiffs().Scope("r", nil).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d", got.Diff)
}

func TestCollection_EvictionClearsActivityAndRefetch(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t, memkv.New(), &fakeFetcher{})
	coll := reg.RangeDiffs()

	release := make(chan struct{})
	blocked := coll.Scope("victim", func(ctx context.Context) (host.RangeDiff, error) {
		<-release
		return host.RangeDiff{}, nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = blocked.Refetch(ctx, scopecache.RefetchOptions{})
	}()
	require.Eventually(t, func() bool {
		return len(reg.Activity().Active()) == 1
	}, time.Second, time.Millisecond)

	// Fill the collection past capacity so "victim" is evicted.
	for i := 0; i < 100; i++ {
		coll.Scope(fmt.Sprintf("filler-%d", i), func(ctx context.Context) (host.RangeDiff, error) {
			return host.RangeDiff{}, nil
		})
	}

	assert.Equal(t, 100, coll.Len())
	assert.Empty(t, reg.Activity().Active(), "evicted scope's activity must not linger")

	close(release)
	wg.Wait()
}

func TestActivityTracker_Notifies(t *testing.T) {
	tracker := scopecache.NewActivityTracker()

	var mu sync.Mutex
	var counts []int
	unsub := tracker.Subscribe(func(active []scopecache.Activity) {
		mu.Lock()
		counts = append(counts, len(active))
		mu.Unlock()
	})
	defer unsub()

	done := tracker.Register("scope-1", "critical")
	done()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 0}, counts)
}

func TestRepoSelectionKey_OrderIndependent(t *testing.T) {
	a := []host.Repository{
		{Host: host.KindGitHub, Workspace: "acme", Repo: "widgets"},
		{Host: host.KindGitHub, Workspace: "acme", Repo: "api"},
	}
	b := []host.Repository{
		{Host: host.KindGitHub, Workspace: " acme", Repo: "api "},
		{Host: host.KindGitHub, Workspace: "acme", Repo: "widgets"},
	}
	c := []host.Repository{
		{Host: host.KindGitHub, Workspace: "acme", Repo: "widgets"},
	}

	assert.Equal(t, scopecache.RepoSelectionKey(a), scopecache.RepoSelectionKey(b))
	assert.NotEqual(t, scopecache.RepoSelectionKey(a), scopecache.RepoSelectionKey(c))
}

// stallStore delays the first write so a superseded fetch's persist can
// land after a newer fetch has already committed.
type stallStore struct {
	*memkv.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStallStore(backing *memkv.Store) *stallStore {
	return &stallStore{
		Store:   backing,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *stallStore) Set(ctx context.Context, key string, value any) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.Set(ctx, key, value)
}

func TestScope_SupersededFetchNeverPersistsOverFresher(t *testing.T) {
	ctx := context.Background()
	backing := memkv.New()
	store := newStallStore(backing)
	reg := newRegistry(t, store, &fakeFetcher{})

	var mu sync.Mutex
	diff := "stale"
	s := reg.RangeDiffs().Scope("r", func(ctx context.Context) (host.RangeDiff, error) {
		mu.Lock()
		defer mu.Unlock()
		return host.RangeDiff{Diff: diff}, nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Refetch(ctx, scopecache.RefetchOptions{})
	}()

	// The first fetch has committed in memory and is now stalled inside
	// the store write.
	<-store.entered

	mu.Lock()
	diff = "fresh"
	mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Refetch(ctx, scopecache.RefetchOptions{Force: true, PropagateError: true})
	}()

	// The forced refetch supersedes the stalled one in memory before the
	// stalled write is released.
	require.Eventually(t, func() bool {
		got, err := s.Get(ctx)
		return err == nil && got.Diff == "fresh"
	}, time.Second, time.Millisecond)

	close(store.release)
	wg.Wait()

	// A fresh session hydrating from the store must see the newer data,
	// never the superseded fetch's.
	reg2 := newRegistry(t, backing, &fakeFetcher{})
	got, err := reg2.RangeDiffs().Scope("r", nil).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Diff)
}
