// Package diff parses the unified diff blobs GitHub serves for pull requests
// into per-file change records.
package diff

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// ErrMalformed is returned when a blob does not parse as a unified diff.
var ErrMalformed = errors.New("malformed unified diff")

// FileChange is a single file touched by a pull request.
type FileChange struct {
	// Path is the post-image path of the file. Empty for deletions, which
	// have no post-image.
	Path string

	// OldPath is the pre-image path. Empty for newly added files.
	OldPath string
}

// Parse reads a unified diff and returns one FileChange per touched file,
// in diff order.
func Parse(r io.Reader) ([]FileChange, error) {
	files, _, err := gitdiff.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	changes := make([]FileChange, 0, len(files))
	for _, f := range files {
		changes = append(changes, FileChange{
			Path:    f.NewName,
			OldPath: f.OldName,
		})
	}
	return changes, nil
}

// MarkdownFiles returns the post-image paths of markdown files, in input
// order. Deleted files have no post-image and are excluded.
func MarkdownFiles(changes []FileChange) []string {
	var out []string
	for _, c := range changes {
		if strings.HasSuffix(c.Path, ".md") {
			out = append(out, c.Path)
		}
	}
	return out
}
