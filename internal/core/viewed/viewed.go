// Package viewed tracks which file-diff versions a reviewer has marked
// as viewed. State is keyed by content version id rather than file path,
// so new commits to a file reset its viewed status while reverts restore
// it.
package viewed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/prdeck/prdeck/internal/core/host"
	"github.com/prdeck/prdeck/internal/core/kv"
)

// VersionID builds the id for a file's current diff version,
// "<path>::<fingerprint>".
func VersionID(path, fingerprint string) string {
	return path + "::" + fingerprint
}

// CommitVersionID builds the id for a historical per-commit version of a
// file, "<path>:<commitHash>".
func CommitVersionID(path, commitHash string) string {
	return path + ":" + commitHash
}

// StorageKey derives the persistence key for viewed state. The diff
// scope segment keeps state for a commit-range view independent from the
// full-diff view; a file marked viewed under one scope never suppresses
// review under another.
func StorageKey(ref host.Ref, scopeSegment string) string {
	return fmt.Sprintf("viewed_state:v1:%s:%s/%s/%d:%s",
		ref.Host, ref.Workspace, ref.Repo, ref.PullRequestID, scopeSegment)
}

// versionedSuffix is the sub-key under which versioned payloads live.
// The base key may still hold a legacy flat {path → fingerprint} record;
// it is migrated on read, never rewritten eagerly.
const versionedSuffix = ":viewed_versions"

const payloadVersion = 1

type payload struct {
	Version          int      `json:"version"`
	ViewedVersionIDs []string `json:"viewedVersionIds"`
}

// Set is a set of version ids.
type Set map[string]struct{}

// NewSet builds a set from ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s Set) Add(id string) { s[id] = struct{}{} }

// Remove deletes id from the set.
func (s Set) Remove(id string) { delete(s, id) }

// Sorted returns the ids in sorted order.
func (s Set) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReadOptions controls migration and filtering during Read.
type ReadOptions struct {
	// FileDiffFingerprints maps file path to its current diff
	// fingerprint, used to reconstruct version ids from legacy records
	// that stored no fingerprint for a path.
	FileDiffFingerprints map[string]string

	// KnownVersionIDs, when non-nil, drops any persisted id not in the
	// set. This clears stale entries from a prior diff scope or a
	// rewritten history.
	KnownVersionIDs Set
}

// Tracker reads and writes viewed-state records through a KV store.
type Tracker struct {
	store kv.KV
	log   zerolog.Logger
}

// NewTracker creates a tracker backed by store.
func NewTracker(store kv.KV, log zerolog.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

// Read returns the persisted viewed version ids for storageKey. A missing
// or undecodable record yields the empty set, never an error; only store
// failures propagate.
func (t *Tracker) Read(ctx context.Context, storageKey string, opts ReadOptions) (Set, error) {
	var raw json.RawMessage
	err := t.store.Get(ctx, storageKey+versionedSuffix, &raw)
	if kv.IsNotFound(err) {
		// No versioned record yet; fall back to the legacy base key.
		err = t.store.Get(ctx, storageKey, &raw)
		if kv.IsNotFound(err) {
			return Set{}, nil
		}
	}
	if err != nil {
		return Set{}, fmt.Errorf("read viewed state %q: %w", storageKey, err)
	}

	ids := t.decode(storageKey, raw, opts)
	if opts.KnownVersionIDs != nil {
		for id := range ids {
			if !opts.KnownVersionIDs.Has(id) {
				ids.Remove(id)
			}
		}
	}
	return ids, nil
}

// decode handles the two persisted shapes: the versioned payload and the
// legacy flat {path → fingerprint} map, discriminated by the schema
// version field.
func (t *Tracker) decode(storageKey string, raw json.RawMessage, opts ReadOptions) Set {
	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &header); err == nil && header.Version > 0 {
		if header.Version != payloadVersion {
			t.log.Warn().Str("key", storageKey).Int("version", header.Version).
				Msg("unknown viewed-state schema version, ignoring record")
			return Set{}
		}

		var p payload
		if err := json.Unmarshal(raw, &p); err != nil {
			t.log.Warn().Err(err).Str("key", storageKey).Msg("corrupt viewed-state record, ignoring")
			return Set{}
		}
		return NewSet(p.ViewedVersionIDs...)
	}

	var legacy map[string]string
	if err := json.Unmarshal(raw, &legacy); err != nil {
		t.log.Warn().Err(err).Str("key", storageKey).Msg("corrupt viewed-state record, ignoring")
		return Set{}
	}

	ids := make(Set, len(legacy))
	for path, fp := range legacy {
		if fp == "" {
			// Oldest records stored only the path; migrate forward via
			// the current fingerprint when one is supplied.
			cur, ok := opts.FileDiffFingerprints[path]
			if !ok {
				continue
			}
			fp = cur
		}
		ids.Add(VersionID(path, fp))
	}
	return ids
}

// Write persists the viewed version ids under the versioned sub-key.
// Last write wins; there is no merging across concurrent writers.
func (t *Tracker) Write(ctx context.Context, storageKey string, ids Set) error {
	p := payload{
		Version:          payloadVersion,
		ViewedVersionIDs: ids.Sorted(),
	}
	if err := t.store.Set(ctx, storageKey+versionedSuffix, p); err != nil {
		return fmt.Errorf("write viewed state %q: %w", storageKey, err)
	}
	return nil
}
