// Package review wires the reconciliation core into a per-pull-request
// session: it resolves the active diff scope, derives the scoped file
// list with per-file version ids, and reads and updates viewed state as
// the reviewer works through files.
package review

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prdeck/prdeck/internal/core/fingerprint"
	"github.com/prdeck/prdeck/internal/core/host"
	"github.com/prdeck/prdeck/internal/core/logging"
	"github.com/prdeck/prdeck/internal/core/scope"
	"github.com/prdeck/prdeck/internal/core/scopecache"
	"github.com/prdeck/prdeck/internal/core/uistate"
	"github.com/prdeck/prdeck/internal/core/viewed"
)

// Options configures a review session.
type Options struct {
	// AutoMarkViewed marks a file's current version viewed when it
	// becomes the active selection, once per version id per session.
	AutoMarkViewed bool

	// FileHistoryLimit caps how many commits a file-history fetch asks
	// the host for. Zero means no cap.
	FileHistoryLimit int
}

// Session is one reviewer's view of one pull request. It owns no global
// state; everything flows through the injected registry and tracker.
type Session struct {
	ref     host.Ref
	reg     *scopecache.Registry
	tracker *viewed.Tracker
	marker  *viewed.AutoMarker
	ui      *uistate.Store
	opts    Options
	log     zerolog.Logger
}

// NewSession creates a review session for ref.
func NewSession(ref host.Ref, reg *scopecache.Registry, tracker *viewed.Tracker, ui *uistate.Store, opts Options, log zerolog.Logger) *Session {
	return &Session{
		ref:     ref,
		reg:     reg,
		tracker: tracker,
		marker:  viewed.NewAutoMarker(),
		ui:      ui,
		opts:    opts,
		log:     log.With().Str("pr", ref.String()).Logger(),
	}
}

// Ref returns the pull request this session reviews.
func (s *Session) Ref() host.Ref { return s.ref }

// UIState returns the UI preference store shared by the review page.
func (s *Session) UIState() *uistate.Store { return s.ui }

// Bundle returns the pull request bundle, fetching it if needed. The
// returned record may still be awaiting deferred data; check its
// DeferredStatus before rendering comments or build results.
func (s *Session) Bundle(ctx context.Context) (*scopecache.BundleRecord, error) {
	ctx = logging.WithPullRequest(ctx, s.ref.String())
	return s.reg.Bundles().Scope(s.ref).Get(ctx)
}

// Refresh forces a full two-phase refetch of the bundle, superseding any
// fetch already in flight.
func (s *Session) Refresh(ctx context.Context) (*scopecache.BundleRecord, error) {
	ctx = logging.WithPullRequest(ctx, s.ref.String())
	return s.reg.Bundles().Scope(s.ref).Refetch(ctx, scopecache.RefetchOptions{
		PropagateError: true,
		Force:          true,
	})
}

// ResolveScope resolves the requested diff scope against the bundle's
// commit list. Invalid requests canonicalize to the full scope with a
// fallback reason for the UI to surface.
func (s *Session) ResolveScope(rec *scopecache.BundleRecord, search scope.Search) scope.Resolved {
	return scope.Resolve(search, rec.Commits, rec.PR.DestinationCommitHash)
}

// ScopedDiff returns the diff and diffstat for the resolved scope: the
// bundle's own diff for the full scope, or the commit-range diff fetched
// through the range-diff collection.
func (s *Session) ScopedDiff(ctx context.Context, rec *scopecache.BundleRecord, resolved scope.Resolved) (host.RangeDiff, error) {
	if resolved.Mode == scope.ModeFull {
		return host.RangeDiff{Diff: rec.Diff, DiffStat: rec.DiffStat}, nil
	}

	ctx = logging.WithPullRequest(ctx, s.ref.String())
	ctx = logging.WithDiffScope(ctx, resolved.NormalizedSearch.String())
	req := host.RangeDiffRequest{
		Ref:                  s.ref,
		BaseCommitHash:       resolved.BaseCommitHash,
		HeadCommitHash:       resolved.HeadCommitHash,
		SelectedCommitHashes: resolved.SelectedCommitHashes,
	}
	return s.reg.RangeDiffs().Scope(scopecache.RangeDiffKey(req), func(ctx context.Context) (host.RangeDiff, error) {
		return s.reg.Fetcher().CommitRangeDiff(ctx, req)
	}).Get(ctx)
}

// FileState is one file of the scoped diff together with its version id
// and viewed status.
type FileState struct {
	Path        string
	Status      string
	Additions   int
	Deletions   int
	Fingerprint string
	VersionID   string
	Viewed      bool
}

// FileStates derives the scoped file list. Version ids are content
// fingerprints of each file's diff, so a file changed by a new commit
// shows up un-viewed while an untouched file keeps its status.
func (s *Session) FileStates(ctx context.Context, rec *scopecache.BundleRecord, resolved scope.Resolved) ([]FileState, error) {
	diff, err := s.ScopedDiff(ctx, rec, resolved)
	if err != nil {
		return nil, fmt.Errorf("scoped diff: %w", err)
	}

	prints, err := fingerprint.Fingerprints(diff.Diff)
	if err != nil {
		return nil, fmt.Errorf("fingerprint diff: %w", err)
	}

	head := headHash(rec, resolved)
	files := make([]FileState, 0, len(diff.DiffStat))
	for _, entry := range diff.DiffStat {
		f := FileState{
			Path:      entry.Path,
			Status:    entry.Status,
			Additions: entry.Additions,
			Deletions: entry.Deletions,
		}
		if fp, ok := prints[entry.Path]; ok {
			f.Fingerprint = fp
			f.VersionID = viewed.VersionID(entry.Path, fp)
		} else {
			// No hunks to fingerprint (binary or metadata-only change);
			// version the file by the head commit instead.
			f.VersionID = viewed.CommitVersionID(entry.Path, head)
		}
		files = append(files, f)
	}

	set, err := s.readViewed(ctx, resolved, prints, files, rec)
	if err != nil {
		return nil, err
	}
	for i := range files {
		files[i].Viewed = set.Has(files[i].VersionID)
	}
	return files, nil
}

// ViewedVersionIDs returns the persisted viewed set for the resolved
// scope, filtered to the version ids still reachable from it.
func (s *Session) ViewedVersionIDs(ctx context.Context, rec *scopecache.BundleRecord, resolved scope.Resolved) (viewed.Set, error) {
	diff, err := s.ScopedDiff(ctx, rec, resolved)
	if err != nil {
		return nil, fmt.Errorf("scoped diff: %w", err)
	}
	prints, err := fingerprint.Fingerprints(diff.Diff)
	if err != nil {
		return nil, fmt.Errorf("fingerprint diff: %w", err)
	}

	head := headHash(rec, resolved)
	files := make([]FileState, 0, len(diff.DiffStat))
	for _, entry := range diff.DiffStat {
		f := FileState{Path: entry.Path}
		if fp, ok := prints[entry.Path]; ok {
			f.VersionID = viewed.VersionID(entry.Path, fp)
		} else {
			f.VersionID = viewed.CommitVersionID(entry.Path, head)
		}
		files = append(files, f)
	}
	return s.readViewed(ctx, resolved, prints, files, rec)
}

// ToggleViewed flips the viewed bit for a file's version id and persists
// the result. Last write wins.
func (s *Session) ToggleViewed(ctx context.Context, resolved scope.Resolved, versionID string) error {
	key := s.storageKey(resolved)
	set, err := s.tracker.Read(ctx, key, viewed.ReadOptions{})
	if err != nil {
		return err
	}

	if set.Has(versionID) {
		set.Remove(versionID)
	} else {
		set.Add(versionID)
	}
	return s.tracker.Write(ctx, key, set)
}

// SelectFile applies the auto-mark policy when a file becomes the active
// selection: with the preference enabled, the file's current version id
// is marked viewed exactly once per session, so a manual un-mark is not
// overridden on revisit.
func (s *Session) SelectFile(ctx context.Context, resolved scope.Resolved, versionID string) error {
	if !s.opts.AutoMarkViewed || versionID == "" {
		return nil
	}
	if !s.marker.TryMark(versionID) {
		return nil
	}

	key := s.storageKey(resolved)
	set, err := s.tracker.Read(ctx, key, viewed.ReadOptions{})
	if err != nil {
		return err
	}
	if set.Has(versionID) {
		return nil
	}
	set.Add(versionID)
	return s.tracker.Write(ctx, key, set)
}

// FileHistory returns the per-commit history of one file through the
// file-history collection.
func (s *Session) FileHistory(ctx context.Context, rec *scopecache.BundleRecord, path string) (host.FileHistory, error) {
	ctx = logging.WithPullRequest(ctx, s.ref.String())
	req := host.FileHistoryRequest{Ref: s.ref, Path: path, Commits: rec.Commits, Limit: s.opts.FileHistoryLimit}
	return s.reg.FileHistories().Scope(scopecache.FileHistoryKey(req), func(ctx context.Context) (host.FileHistory, error) {
		return s.reg.Fetcher().FileHistory(ctx, req)
	}).Get(ctx)
}

// FileContext returns a file's full content at a commit through the
// file-context collection, for expanding diff context.
func (s *Session) FileContext(ctx context.Context, path, commitHash string) (host.FileContext, error) {
	ctx = logging.WithPullRequest(ctx, s.ref.String())
	req := host.FileContextRequest{Ref: s.ref, Path: path, CommitHash: commitHash}
	return s.reg.FileContexts().Scope(scopecache.FileContextKey(req), func(ctx context.Context) (host.FileContext, error) {
		return s.reg.Fetcher().FileContext(ctx, req)
	}).Get(ctx)
}

func (s *Session) storageKey(resolved scope.Resolved) string {
	return viewed.StorageKey(s.ref, resolved.NormalizedSearch.Segment())
}

// readViewed loads the persisted set filtered against the version ids
// reachable from the resolved scope: the current per-file ids plus the
// historical per-commit ids of the scoped commits.
func (s *Session) readViewed(ctx context.Context, resolved scope.Resolved, prints map[string]string, files []FileState, rec *scopecache.BundleRecord) (viewed.Set, error) {
	known := viewed.Set{}
	for _, f := range files {
		known.Add(f.VersionID)
		for _, c := range scopedCommits(rec, resolved) {
			known.Add(viewed.CommitVersionID(f.Path, c.Hash))
		}
	}

	set, err := s.tracker.Read(ctx, s.storageKey(resolved), viewed.ReadOptions{
		FileDiffFingerprints: prints,
		KnownVersionIDs:      known,
	})
	if err != nil {
		return nil, fmt.Errorf("read viewed state: %w", err)
	}
	return set, nil
}

func scopedCommits(rec *scopecache.BundleRecord, resolved scope.Resolved) []host.Commit {
	if resolved.Mode == scope.ModeRange {
		return resolved.SelectedCommits
	}
	return rec.Commits
}

func headHash(rec *scopecache.BundleRecord, resolved scope.Resolved) string {
	if resolved.Mode == scope.ModeRange {
		return resolved.HeadCommitHash
	}
	if len(rec.Commits) > 0 {
		// Commits are newest-first.
		return rec.Commits[0].Hash
	}
	return ""
}
