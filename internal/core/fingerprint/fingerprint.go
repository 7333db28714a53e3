// Package fingerprint derives stable content fingerprints for per-file
// diffs. A fingerprint identifies what actually changed in a file, not
// which commit changed it: commits touching unrelated files leave a
// file's fingerprint untouched, and reverting a file to a previously-seen
// diff restores its previous fingerprint.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
	"github.com/zeebo/xxh3"
)

// Fingerprints parses a raw unified diff and returns a map from file path
// to content fingerprint. The fingerprint is an xxh3-128 hash over the
// file's ordered hunk headers and bodies, hex-encoded.
func Fingerprints(patch string) (map[string]string, error) {
	if strings.TrimSpace(patch) == "" {
		return map[string]string{}, nil
	}

	files, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	out := make(map[string]string, len(files))
	for _, fd := range files {
		out[FilePath(fd)] = hashFileDiff(fd)
	}
	return out, nil
}

// FilePath returns the display path for a file diff: the new name, or the
// original name for deletions, with any a/ b/ prefix stripped.
func FilePath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	if after, ok := strings.CutPrefix(name, "a/"); ok {
		return after
	}
	if after, ok := strings.CutPrefix(name, "b/"); ok {
		return after
	}
	return name
}

func hashFileDiff(fd *diff.FileDiff) string {
	h := xxh3.New()
	for _, hunk := range fd.Hunks {
		fmt.Fprintf(h, "@@ -%d,%d +%d,%d @@\n",
			hunk.OrigStartLine, hunk.OrigLines, hunk.NewStartLine, hunk.NewLines)
		_, _ = h.Write(hunk.Body)
	}

	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:])
}
