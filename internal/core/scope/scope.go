// Package scope resolves a user-chosen diff scope (full history or a
// commit range) against a pull request's commit list. Resolution is pure
// and recomputed per render; only the search form is ever persisted.
package scope

import (
	"strings"

	"github.com/prdeck/prdeck/internal/core/host"
)

// Mode is the resolved diff scope mode.
type Mode string

// Resolution modes.
const (
	ModeFull  Mode = "full"
	ModeRange Mode = "range"
)

// FallbackReason explains why a range request was downgraded to full.
type FallbackReason string

// Fallback reasons.
const (
	// FallbackInvalidRange means from/to referenced commits not present
	// in the commit list.
	FallbackInvalidRange FallbackReason = "invalid_range"
	// FallbackUnresolvedCommits means the range started at the first
	// commit and no destination commit was available to diff against.
	FallbackUnresolvedCommits FallbackReason = "unresolved_commits"
)

// Search is the user-facing scope selector as carried in the URL/search
// state. The zero value selects the full diff.
type Search struct {
	Scope Mode   `json:"scope"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
}

// FullSearch selects the full pull request diff.
func FullSearch() Search {
	return Search{Scope: ModeFull}
}

// RangeSearch selects the diff introduced between two commits, inclusive.
func RangeSearch(from, to string) Search {
	return Search{Scope: ModeRange, From: from, To: to}
}

// String serializes the search in its canonical form: "full" or
// "range:<from>..<to>". Parse(s.String()) == s for canonical searches.
func (s Search) String() string {
	if s.Scope == ModeRange && s.From != "" && s.To != "" {
		return "range:" + s.From + ".." + s.To
	}
	return string(ModeFull)
}

// Segment returns the storage-key segment for this search. Viewed state
// is keyed per segment so a commit-range view tracks independently from
// the full-diff view.
func (s Search) Segment() string {
	return s.String()
}

// Parse decodes a serialized search. Anything unrecognized decodes to the
// full scope, matching the resolver's canonicalize-on-invalid behavior.
func Parse(raw string) Search {
	rest, ok := strings.CutPrefix(raw, "range:")
	if !ok {
		return FullSearch()
	}
	from, to, ok := strings.Cut(rest, "..")
	if !ok || from == "" || to == "" {
		return FullSearch()
	}
	return RangeSearch(from, to)
}

// Resolved is the outcome of scope resolution, recomputed per render and
// never persisted.
type Resolved struct {
	Mode Mode

	// Range-mode fields. BaseCommitHash is the commit the diff is taken
	// against: the commit before the earliest selected commit, or the
	// destination commit when the range starts at the first commit.
	BaseCommitHash       string
	HeadCommitHash       string
	SelectedCommitHashes []string
	SelectedCommits      []host.Commit

	// VisibleCommits is every commit eligible for scope selection,
	// ordered oldest to newest.
	VisibleCommits []host.Commit

	// FallbackReason is set when the request was downgraded to full.
	FallbackReason FallbackReason

	// NormalizedSearch is the canonical form of the input, suitable for
	// writing back to the URL. Round-tripping it through Resolve is
	// idempotent.
	NormalizedSearch Search
}

// Resolve maps a scope search onto a concrete base/head commit pair.
// commits are ordered newest-first as fetched from the host. Invalid
// searches never error; they canonicalize to the full scope with a
// fallback reason.
func Resolve(search Search, commits []host.Commit, destinationCommitHash string) Resolved {
	visible := make([]host.Commit, len(commits))
	for i, c := range commits {
		visible[len(commits)-1-i] = c
	}

	resolved := Resolved{
		Mode:             ModeFull,
		VisibleCommits:   visible,
		NormalizedSearch: FullSearch(),
	}

	if search.Scope != ModeRange {
		return resolved
	}

	// Duplicate hashes are a data anomaly; the first occurrence in the
	// fetched (newest-first) order wins.
	index := make(map[string]int, len(commits))
	for i, c := range commits {
		if _, ok := index[c.Hash]; !ok {
			index[c.Hash] = len(commits) - 1 - i
		}
	}

	fromIdx, fromOK := index[search.From]
	toIdx, toOK := index[search.To]
	if !fromOK || !toOK {
		resolved.FallbackReason = FallbackInvalidRange
		return resolved
	}

	start, end := fromIdx, toIdx
	if start > end {
		start, end = end, start
	}

	base := destinationCommitHash
	if start > 0 {
		base = visible[start-1].Hash
	}
	if base == "" {
		resolved.FallbackReason = FallbackUnresolvedCommits
		return resolved
	}

	// Selection is expanded to the minimal contiguous superset, oldest
	// to newest; a gapped range is never produced.
	selected := visible[start : end+1]
	hashes := make([]string, len(selected))
	for i, c := range selected {
		hashes[i] = c.Hash
	}

	resolved.Mode = ModeRange
	resolved.BaseCommitHash = base
	resolved.HeadCommitHash = visible[end].Hash
	resolved.SelectedCommits = selected
	resolved.SelectedCommitHashes = hashes
	resolved.NormalizedSearch = RangeSearch(hashes[0], hashes[len(hashes)-1])
	return resolved
}
