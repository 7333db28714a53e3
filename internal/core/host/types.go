// Package host defines the data model for externally-hosted review data
// (GitHub, Bitbucket) and the fetch contract the cache layer consumes.
// The actual REST wiring lives behind the Fetcher interface.
package host

import (
	"fmt"
	"time"
)

// Kind identifies a code-hosting provider.
type Kind string

// Supported hosting providers.
const (
	KindGitHub    Kind = "github"
	KindBitbucket Kind = "bitbucket"
)

// Ref identifies a single pull request on a host.
type Ref struct {
	Host          Kind   `json:"host"`
	Workspace     string `json:"workspace"`
	Repo          string `json:"repo"`
	PullRequestID int    `json:"pull_request_id"`
}

// String returns the deterministic scope id for this pull request,
// "host:workspace/repo/id". Used as the cache and persistence key.
func (r Ref) String() string {
	return fmt.Sprintf("%s:%s/%s/%d", r.Host, r.Workspace, r.Repo, r.PullRequestID)
}

// RepoRef returns the repository portion of the ref.
func (r Ref) RepoRef() Repository {
	return Repository{Host: r.Host, Workspace: r.Workspace, Repo: r.Repo}
}

// Commit is a single commit in a pull request. Immutable once fetched.
// Bundles carry commits ordered newest-first.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message,omitempty"`
	Date    time.Time `json:"date,omitzero"`
}

// Repository identifies a repository on a host.
type Repository struct {
	Host        Kind   `json:"host"`
	Workspace   string `json:"workspace"`
	Repo        string `json:"repo"`
	FullName    string `json:"full_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// User is a host account referenced by pull requests and comments.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// PullRequest is the host-side pull request metadata.
type PullRequest struct {
	ID                    int       `json:"id"`
	Title                 string    `json:"title"`
	Description           string    `json:"description,omitempty"`
	State                 string    `json:"state"`
	Author                User      `json:"author"`
	SourceBranch          string    `json:"source_branch"`
	DestinationBranch     string    `json:"destination_branch"`
	DestinationCommitHash string    `json:"destination_commit_hash,omitempty"`
	CreatedAt             time.Time `json:"created_at,omitzero"`
	UpdatedAt             time.Time `json:"updated_at,omitzero"`
}

// DiffStatEntry summarizes changes to one file.
type DiffStatEntry struct {
	Path      string `json:"path"`
	OldPath   string `json:"old_path,omitempty"`
	Status    string `json:"status"` // added, removed, modified, renamed
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Comment is a pull request comment, inline or top-level.
type Comment struct {
	ID        string    `json:"id"`
	Author    User      `json:"author"`
	Body      string    `json:"body"`
	Path      string    `json:"path,omitempty"`
	Line      int       `json:"line,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	Resolved  bool      `json:"resolved,omitempty"`
}

// Reviewer is a requested or participating reviewer and their verdict.
type Reviewer struct {
	User     User   `json:"user"`
	State    string `json:"state"` // approved, changes_requested, pending
	Approved bool   `json:"approved"`
}

// BuildStatus is one CI status attached to the head commit.
type BuildStatus struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	State       string `json:"state"` // successful, failed, inprogress, stopped
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// CriticalBundle is the minimal data needed to render a review:
// metadata, full diff, diffstat, and the commit list.
type CriticalBundle struct {
	PR       PullRequest     `json:"pr"`
	Diff     string          `json:"diff"`
	DiffStat []DiffStatEntry `json:"diffstat"`
	Commits  []Commit        `json:"commits"`
}

// DeferredBundle is the supplementary data fetched after the critical
// bundle without blocking the UI.
type DeferredBundle struct {
	Comments      []Comment     `json:"comments"`
	Reviewers     []Reviewer    `json:"reviewers"`
	BuildStatuses []BuildStatus `json:"build_statuses"`
	// PRPatch, when present, carries fields only available from the full
	// pull request endpoint and is merged over the critical PR metadata.
	PRPatch *PullRequest `json:"pr_patch,omitempty"`
}

// RangeDiffRequest asks for the diff between two commits of a pull
// request, restricted to the selected contiguous commit range.
type RangeDiffRequest struct {
	Ref                  Ref      `json:"ref"`
	BaseCommitHash       string   `json:"base_commit_hash"`
	HeadCommitHash       string   `json:"head_commit_hash"`
	SelectedCommitHashes []string `json:"selected_commit_hashes"`
}

// RangeDiff is the diff and diffstat for a commit range.
type RangeDiff struct {
	Diff     string          `json:"diff"`
	DiffStat []DiffStatEntry `json:"diffstat"`
}

// FileHistoryRequest asks for the per-commit history of one file within
// a pull request's commit list.
type FileHistoryRequest struct {
	Ref     Ref      `json:"ref"`
	Path    string   `json:"path"`
	Commits []Commit `json:"commits"`
	Limit   int      `json:"limit,omitempty"`
}

// FileHistoryEntry is one commit's change to a file.
type FileHistoryEntry struct {
	Commit Commit `json:"commit"`
	Patch  string `json:"patch,omitempty"`
}

// FileHistory is the per-commit history of one file.
type FileHistory struct {
	Path    string             `json:"path"`
	Entries []FileHistoryEntry `json:"entries"`
}

// FileContextRequest asks for a file's full content at a commit, used to
// expand diff context beyond the hunks the host returned.
type FileContextRequest struct {
	Ref        Ref    `json:"ref"`
	Path       string `json:"path"`
	CommitHash string `json:"commit_hash"`
}

// FileContext is a file's full content at a commit.
type FileContext struct {
	Path       string `json:"path"`
	CommitHash string `json:"commit_hash"`
	Content    string `json:"content"`
}
