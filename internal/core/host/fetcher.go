package host

import "context"

// Fetcher is the contract for retrieving review data from a hosting
// provider. Implementations wrap the provider's REST API and are treated
// as opaque: the cache layer never retries, paginates, or authenticates
// on their behalf.
type Fetcher interface {
	// PullRequestCritical returns the minimal bundle needed to render a
	// review: PR metadata, full diff, diffstat, and commit list.
	PullRequestCritical(ctx context.Context, ref Ref) (CriticalBundle, error)

	// PullRequestDeferred returns supplementary review data: comments,
	// reviewers, build statuses, and an optional PR metadata patch.
	PullRequestDeferred(ctx context.Context, ref Ref) (DeferredBundle, error)

	// CommitRangeDiff returns the diff restricted to a contiguous commit
	// range of the pull request.
	CommitRangeDiff(ctx context.Context, req RangeDiffRequest) (RangeDiff, error)

	// FileHistory returns the per-commit change history of one file.
	FileHistory(ctx context.Context, req FileHistoryRequest) (FileHistory, error)

	// FileContext returns a file's full content at a commit.
	FileContext(ctx context.Context, req FileContextRequest) (FileContext, error)

	// RepoPullRequests lists open pull requests for a repository.
	RepoPullRequests(ctx context.Context, repo Repository) ([]PullRequest, error)

	// ListRepositories lists repositories visible in a workspace.
	ListRepositories(ctx context.Context, kind Kind, workspace string) ([]Repository, error)
}
