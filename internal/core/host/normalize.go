package host

import (
	"slices"
	"strings"
)

// NormalizeRepositories canonicalizes a repository selection: slugs are
// trimmed, FullName and DisplayName get defaults derived from the slugs,
// and the result is sorted by host, workspace, then repo. Two selections
// that differ only in whitespace or ordering normalize identically, so
// they hash to the same cache scope key.
func NormalizeRepositories(repos []Repository) []Repository {
	out := make([]Repository, 0, len(repos))
	for _, r := range repos {
		r.Workspace = strings.TrimSpace(r.Workspace)
		r.Repo = strings.TrimSpace(r.Repo)
		if r.Workspace == "" || r.Repo == "" {
			continue
		}
		if r.FullName == "" {
			r.FullName = r.Workspace + "/" + r.Repo
		}
		if r.DisplayName == "" {
			r.DisplayName = r.Repo
		}
		out = append(out, r)
	}

	slices.SortFunc(out, func(a, b Repository) int {
		if c := strings.Compare(string(a.Host), string(b.Host)); c != 0 {
			return c
		}
		if c := strings.Compare(a.Workspace, b.Workspace); c != 0 {
			return c
		}
		return strings.Compare(a.Repo, b.Repo)
	})
	return out
}
