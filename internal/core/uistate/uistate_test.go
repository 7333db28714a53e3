package uistate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prdeck/prdeck/internal/core/host"
	"github.com/prdeck/prdeck/internal/core/uistate"
	"github.com/prdeck/prdeck/internal/store/memkv"
)

var testRef = host.Ref{Host: host.KindGitHub, Workspace: "acme", Repo: "widgets", PullRequestID: 7}

func TestStore_TreeStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := uistate.New(memkv.New())

	// Missing state is the zero value, not an error.
	state, err := store.TreeState(ctx, testRef)
	require.NoError(t, err)
	assert.Zero(t, state)

	want := uistate.TreeState{Width: 320, ExpandedDirs: []string{"src", "src/internal"}}
	require.NoError(t, store.SetTreeState(ctx, testRef, want))

	got, err := store.TreeState(ctx, testRef)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_Drafts(t *testing.T) {
	ctx := context.Background()
	store := uistate.New(memkv.New())

	draft, err := store.Draft(ctx, testRef, "src/a.go")
	require.NoError(t, err)
	assert.Empty(t, draft)

	require.NoError(t, store.SetDraft(ctx, testRef, "src/a.go", "needs a nil check"))

	draft, err = store.Draft(ctx, testRef, "src/a.go")
	require.NoError(t, err)
	assert.Equal(t, "needs a nil check", draft)

	// Clearing the draft removes the record.
	require.NoError(t, store.SetDraft(ctx, testRef, "src/a.go", ""))
	draft, err = store.Draft(ctx, testRef, "src/a.go")
	require.NoError(t, err)
	assert.Empty(t, draft)
}

func TestStore_DraftsAreFileScoped(t *testing.T) {
	ctx := context.Background()
	store := uistate.New(memkv.New())

	require.NoError(t, store.SetDraft(ctx, testRef, "src/a.go", "on a"))
	require.NoError(t, store.SetDraft(ctx, testRef, "src/b.go", "on b"))

	a, err := store.Draft(ctx, testRef, "src/a.go")
	require.NoError(t, err)
	b, err := store.Draft(ctx, testRef, "src/b.go")
	require.NoError(t, err)

	assert.Equal(t, "on a", a)
	assert.Equal(t, "on b", b)
}
