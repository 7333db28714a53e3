// Package uistate persists the lightweight per-review UI preferences:
// file-tree layout and inline comment drafts. Each concern lives under
// its own versioned namespace so a schema change can move to a new
// namespace without migrating or destroying old records.
package uistate

import (
	"context"

	"github.com/prdeck/prdeck/internal/core/host"
	"github.com/prdeck/prdeck/internal/core/kv"
)

// TreeState is the persisted file-tree layout for one pull request.
type TreeState struct {
	Width         int      `json:"width,omitempty"`
	ExpandedDirs  []string `json:"expanded_dirs,omitempty"`
	CollapsedDirs []string `json:"collapsed_dirs,omitempty"`
}

// Store provides access to the UI preference namespaces.
type Store struct {
	tree   *kv.TypedKV[TreeState]
	drafts *kv.TypedKV[string]
}

// New creates a preference store over the shared KV store.
func New(store kv.KV) *Store {
	return &Store{
		tree:   kv.Scoped[TreeState](store, "tree:v1"),
		drafts: kv.Scoped[string](store, "comment_drafts:v1"),
	}
}

// TreeState returns the persisted tree layout for a pull request, or the
// zero value when none is stored.
func (s *Store) TreeState(ctx context.Context, ref host.Ref) (TreeState, error) {
	state, err := s.tree.Get(ctx, ref.String())
	if kv.IsNotFound(err) {
		return TreeState{}, nil
	}
	return state, err
}

// SetTreeState persists the tree layout for a pull request.
func (s *Store) SetTreeState(ctx context.Context, ref host.Ref, state TreeState) error {
	return s.tree.Set(ctx, ref.String(), state)
}

// Draft returns the saved inline-comment draft for a file, or "" when
// none is stored.
func (s *Store) Draft(ctx context.Context, ref host.Ref, path string) (string, error) {
	draft, err := s.drafts.Get(ctx, ref.String()+"#"+path)
	if kv.IsNotFound(err) {
		return "", nil
	}
	return draft, err
}

// SetDraft persists an inline-comment draft. An empty draft deletes the
// record instead of storing an empty string.
func (s *Store) SetDraft(ctx context.Context, ref host.Ref, path, draft string) error {
	key := ref.String() + "#" + path
	if draft == "" {
		return s.drafts.Delete(ctx, key)
	}
	return s.drafts.Set(ctx, key, draft)
}
