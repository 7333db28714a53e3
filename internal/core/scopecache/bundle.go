package scopecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/prdeck/prdeck/internal/core/host"
	"github.com/prdeck/prdeck/internal/core/kv"
	"github.com/prdeck/prdeck/pkg/lru"
)

// DeferredStatus models the persisted state of a bundle's deferred data.
type DeferredStatus string

// Deferred data states.
const (
	DeferredLoading DeferredStatus = "loading"
	DeferredReady   DeferredStatus = "ready"
	DeferredError   DeferredStatus = "error"
)

// Phase is the hydration phase of one bundle scope. Transitions are
// checked by a pure function so an illegal sequencing bug (deferred data
// before its critical baseline) cannot reach persisted state.
type Phase string

// Hydration phases.
const (
	PhaseIdle            Phase = "idle"
	PhaseCriticalLoading Phase = "critical-loading"
	PhaseDeferredLoading Phase = "deferred-loading"
	PhaseReady           Phase = "ready"
	PhaseDeferredFailed  Phase = "deferred-error"
)

type phaseEvent string

const (
	eventStartCritical phaseEvent = "start-critical"
	eventCriticalOK    phaseEvent = "critical-ok"
	eventCriticalFail  phaseEvent = "critical-fail"
	eventDeferredOK    phaseEvent = "deferred-ok"
	eventDeferredFail  phaseEvent = "deferred-fail"
)

// transition is the bundle hydration state machine. The critical phase
// always completes before the deferred phase starts; any other sequencing
// is rejected.
func transition(p Phase, ev phaseEvent) (Phase, error) {
	switch ev {
	case eventStartCritical:
		// A restart is always legal: it supersedes whatever was in
		// flight and the superseded fetch's results are discarded.
		return PhaseCriticalLoading, nil
	case eventCriticalOK:
		if p != PhaseCriticalLoading {
			return p, fmt.Errorf("critical completion in phase %q", p)
		}
		return PhaseDeferredLoading, nil
	case eventCriticalFail:
		if p != PhaseCriticalLoading {
			return p, fmt.Errorf("critical failure in phase %q", p)
		}
		return PhaseIdle, nil
	case eventDeferredOK:
		if p != PhaseDeferredLoading {
			return p, fmt.Errorf("deferred completion in phase %q", p)
		}
		return PhaseReady, nil
	case eventDeferredFail:
		if p != PhaseDeferredLoading {
			return p, fmt.Errorf("deferred failure in phase %q", p)
		}
		return PhaseDeferredFailed, nil
	default:
		return p, fmt.Errorf("unknown event %q", ev)
	}
}

// BundleRecord is the persisted pull request bundle: critical data plus
// deferred data and the deferred hydration status.
type BundleRecord struct {
	ID                string         `json:"id"`
	CriticalFetchedAt time.Time      `json:"critical_fetched_at"`
	DeferredFetchedAt time.Time      `json:"deferred_fetched_at,omitzero"`
	DeferredStatus    DeferredStatus `json:"deferred_status"`

	PR       host.PullRequest     `json:"pr"`
	Diff     string               `json:"diff"`
	DiffStat []host.DiffStatEntry `json:"diffstat"`
	Commits  []host.Commit        `json:"commits"`

	Comments      []host.Comment     `json:"comments,omitempty"`
	Reviewers     []host.Reviewer    `json:"reviewers,omitempty"`
	BuildStatuses []host.BuildStatus `json:"build_statuses,omitempty"`
}

const bundleCollection = "pull_request_bundles"

// Bundles caches pull-request-bundle scopes with two-phase hydration:
// critical data (PR metadata, diff, diffstat, commits) is fetched and
// persisted first to unblock rendering, then deferred data (comments,
// reviewers, build statuses) is merged in without ever blocking on it.
type Bundles struct {
	log      zerolog.Logger
	store    *kv.TypedKV[BundleRecord]
	fetcher  host.Fetcher
	activity *ActivityTracker
	reg      *Registry

	mu     sync.Mutex
	scopes *lru.Cache[string, *BundleScope]
}

func newBundles(reg *Registry) *Bundles {
	b := &Bundles{
		log:      reg.log.With().Str("collection", bundleCollection).Logger(),
		store:    kv.Scoped[BundleRecord](reg.store, bundleCollection),
		fetcher:  reg.fetcher,
		activity: reg.activity,
		reg:      reg,
	}
	b.scopes = lru.New[string, *BundleScope](maxScopes, func(key string, s *BundleScope) {
		b.activity.ClearScope(s.ID())
		b.reg.unregisterRefetch(s.ID())
	})
	return b
}

// Scope returns the bundle scope for a pull request, creating it on
// first access. Calls with the same ref share one instance.
func (b *Bundles) Scope(ref host.Ref) *BundleScope {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := ref.String()
	if s, ok := b.scopes.Get(key); ok {
		return s
	}

	s := &BundleScope{bundles: b, ref: ref, phase: PhaseIdle}
	b.scopes.Set(key, s)
	b.reg.registerRefetch(s.ID(), func(ctx context.Context) error {
		_, err := s.Refetch(ctx, RefetchOptions{PropagateError: true})
		return err
	})
	return s
}

// Len returns the number of live bundle scopes.
func (b *Bundles) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scopes.Len()
}

// BundleScope is the two-phase fetch pipeline for one pull request.
type BundleScope struct {
	bundles *Bundles
	ref     host.Ref

	flight singleflight.Group

	// persistMu serializes store writes so the generation re-check and
	// the write are atomic with respect to newer refetches.
	persistMu sync.Mutex

	mu            sync.Mutex
	gen           uint64
	fetching      int
	loaded        bool
	phase         Phase
	lastErr       error
	dataUpdatedAt time.Time
	record        *BundleRecord
}

// ID returns the globally unique scope id.
func (s *BundleScope) ID() string {
	return bundleCollection + "/" + s.ref.String()
}

// Phase returns the current hydration phase.
func (s *BundleScope) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// LastError returns the error of the most recent failed fetch.
func (s *BundleScope) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// IsFetching reports whether a refetch is in flight.
func (s *BundleScope) IsFetching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetching > 0
}

// DataUpdatedAt returns when the bundle last changed in memory.
func (s *BundleScope) DataUpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataUpdatedAt
}

// Record returns a copy of the current bundle record, or nil if nothing
// has been loaded yet.
func (s *BundleScope) Record() *BundleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil
	}
	rec := *s.record
	return &rec
}

// Get returns the bundle, hydrating from the persisted store or, on a
// miss, running a full two-phase refetch.
func (s *BundleScope) Get(ctx context.Context) (*BundleRecord, error) {
	s.loadOnce(ctx)

	if rec := s.Record(); rec != nil {
		return rec, nil
	}
	return s.Refetch(ctx, RefetchOptions{PropagateError: true})
}

// Refetch runs the two-phase hydration: the critical fetch is awaited and
// persisted first (with deferred status "loading"), then the deferred
// fetch merges in. A deferred failure marks the record but preserves the
// committed critical data. Concurrent callers share one in-flight
// refetch; Force supersedes it and the superseded result is discarded.
func (s *BundleScope) Refetch(ctx context.Context, opts RefetchOptions) (*BundleRecord, error) {
	s.loadOnce(ctx)

	if opts.Force {
		s.flight.Forget("refetch")
	}

	v, err, _ := s.flight.Do("refetch", func() (any, error) {
		return s.doRefetch(ctx)
	})

	if err != nil {
		if opts.PropagateError {
			return nil, err
		}
		return s.Record(), nil
	}
	return v.(*BundleRecord), nil
}

func (s *BundleScope) doRefetch(ctx context.Context) (*BundleRecord, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.fetching++
	s.applyTransition(eventStartCritical)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.fetching--
		s.mu.Unlock()
	}()

	rec, err := s.fetchCritical(ctx, gen)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// Superseded by a newer refetch.
		return s.Record(), nil
	}

	s.fetchDeferred(ctx, gen, rec)
	return s.Record(), nil
}

// fetchCritical awaits the critical bundle and commits it with deferred
// status "loading". A nil record with nil error means the result was
// superseded and discarded.
func (s *BundleScope) fetchCritical(ctx context.Context, gen uint64) (*BundleRecord, error) {
	done := s.bundles.activity.Register(s.ID(), "critical")
	defer done()

	critical, err := s.bundles.fetcher.PullRequestCritical(ctx, s.ref)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.bundles.log.Debug().Str("scope", s.ref.String()).Msg("discarding superseded critical fetch")
		return nil, nil
	}

	if err != nil {
		s.lastErr = err
		s.applyTransition(eventCriticalFail)
		s.mu.Unlock()
		return nil, fmt.Errorf("fetch critical bundle %q: %w", s.ref, err)
	}

	now := time.Now()
	rec := BundleRecord{
		ID:                s.ref.String(),
		CriticalFetchedAt: now,
		DeferredStatus:    DeferredLoading,
		PR:                critical.PR,
		Diff:              critical.Diff,
		DiffStat:          critical.DiffStat,
		Commits:           critical.Commits,
	}
	s.record = &rec
	s.lastErr = nil
	s.dataUpdatedAt = now
	s.applyTransition(eventCriticalOK)
	s.mu.Unlock()

	s.persist(ctx, gen, rec)
	return &rec, nil
}

// fetchDeferred awaits the deferred bundle and merges it into the
// committed record. Failures degrade the record's deferred status but
// never undo the critical data and never propagate.
func (s *BundleScope) fetchDeferred(ctx context.Context, gen uint64, rec *BundleRecord) {
	done := s.bundles.activity.Register(s.ID(), "deferred")
	defer done()

	deferred, err := s.bundles.fetcher.PullRequestDeferred(ctx, s.ref)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.bundles.log.Debug().Str("scope", s.ref.String()).Msg("discarding superseded deferred fetch")
		return
	}

	now := time.Now()
	if err != nil {
		rec.DeferredStatus = DeferredError
		s.record = rec
		s.dataUpdatedAt = now
		s.applyTransition(eventDeferredFail)
		s.mu.Unlock()

		s.bundles.log.Warn().Ctx(ctx).Err(err).Str("scope", s.ref.String()).
			Msg("deferred bundle fetch failed, keeping critical data")
		s.persist(ctx, gen, *rec)
		return
	}

	rec.DeferredFetchedAt = now
	rec.DeferredStatus = DeferredReady
	rec.Comments = deferred.Comments
	rec.Reviewers = deferred.Reviewers
	rec.BuildStatuses = deferred.BuildStatuses
	if deferred.PRPatch != nil {
		rec.PR = *deferred.PRPatch
	}
	s.record = rec
	s.dataUpdatedAt = now
	s.applyTransition(eventDeferredOK)
	s.mu.Unlock()

	s.persist(ctx, gen, *rec)
}

// applyTransition advances the phase machine. Callers hold s.mu. An
// illegal transition indicates a sequencing bug; the phase is left
// unchanged and the violation logged.
func (s *BundleScope) applyTransition(ev phaseEvent) {
	next, err := transition(s.phase, ev)
	if err != nil {
		s.bundles.log.Error().Err(err).Str("scope", s.ref.String()).
			Msg("illegal bundle phase transition")
		return
	}
	s.phase = next
}

// persist writes a committed record to the store. The generation is
// re-checked while holding persistMu: a write that was delayed past a
// newer refetch's commit must not land on top of the fresher record.
func (s *BundleScope) persist(ctx context.Context, gen uint64, rec BundleRecord) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		s.bundles.log.Debug().Str("scope", s.ref.String()).Msg("skipping persist of superseded bundle record")
		return
	}

	if err := s.bundles.store.Set(ctx, s.ref.String(), rec); err != nil {
		s.bundles.log.Warn().Ctx(ctx).Err(err).Str("scope", s.ref.String()).
			Msg("failed to persist bundle record")
	}
}

func (s *BundleScope) loadOnce(ctx context.Context) {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return
	}
	s.loaded = true
	s.mu.Unlock()

	rec, err := s.bundles.store.Get(ctx, s.ref.String())
	if err != nil {
		if !kv.IsNotFound(err) {
			s.bundles.log.Warn().Err(err).Str("scope", s.ref.String()).
				Msg("failed to load persisted bundle record")
		}
		return
	}

	s.mu.Lock()
	if s.record == nil {
		s.record = &rec
		s.dataUpdatedAt = rec.CriticalFetchedAt
		switch rec.DeferredStatus {
		case DeferredReady:
			s.phase = PhaseReady
		case DeferredError:
			s.phase = PhaseDeferredFailed
		default:
			// A record persisted mid-hydration; the deferred data never
			// arrived, so surface it as the error state.
			s.phase = PhaseDeferredFailed
		}
	}
	s.mu.Unlock()
}
