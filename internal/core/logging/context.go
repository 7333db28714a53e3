package logging

import "context"

type contextKey string

const (
	pullRequestKey contextKey = "pull_request"
	diffScopeKey   contextKey = "diff_scope"
)

// WithPullRequest adds a pull request ref to the context.
func WithPullRequest(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, pullRequestKey, ref)
}

// WithDiffScope adds a diff scope identifier to the context.
func WithDiffScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, diffScopeKey, scope)
}

// GetPullRequest retrieves the pull request ref from the context.
// Returns empty string if not present.
func GetPullRequest(ctx context.Context) string {
	if ref, ok := ctx.Value(pullRequestKey).(string); ok {
		return ref
	}
	return ""
}

// GetDiffScope retrieves the diff scope identifier from the context.
// Returns empty string if not present.
func GetDiffScope(ctx context.Context) string {
	if s, ok := ctx.Value(diffScopeKey).(string); ok {
		return s
	}
	return ""
}
