package scopecache

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/prdeck/prdeck/internal/core/host"
)

// RepoSelectionKey derives the scope key for a repository selection.
// Selections are normalized and sorted before hashing, so equivalent but
// differently-ordered inputs hit the same cache entry.
func RepoSelectionKey(repos []host.Repository) string {
	norm := host.NormalizeRepositories(repos)

	h := xxh3.New()
	for _, r := range norm {
		fmt.Fprintf(h, "%s:%s/%s\n", r.Host, r.Workspace, r.Repo)
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:])
}

// RangeDiffKey derives the scope key for a commit-range diff request.
func RangeDiffKey(req host.RangeDiffRequest) string {
	return fmt.Sprintf("%s@%s..%s", req.Ref, req.BaseCommitHash, req.HeadCommitHash)
}

// FileHistoryKey derives the scope key for a file-history request.
func FileHistoryKey(req host.FileHistoryRequest) string {
	return req.Ref.String() + "#" + req.Path
}

// FileContextKey derives the scope key for a file-context request.
func FileContextKey(req host.FileContextRequest) string {
	return fmt.Sprintf("%s#%s@%s", req.Ref, req.Path, req.CommitHash)
}
