package conflict

import (
	"fmt"
	"slices"

	"github.com/translate-dev/observatory/internal/article"
	"github.com/translate-dev/observatory/internal/diff"
)

// Compare classifies conflicts between a newly changed pull request and one
// other open pull request, at most one Conflict per kind, sorted.
//
// Both pull requests must have their diffs attached; calling Compare without
// them is a programming error and panics.
func Compare(newPull, otherPull *PullRequest) []Conflict {
	if newPull.Diff == nil || otherPull.Diff == nil {
		panic(fmt.Sprintf("conflict.Compare: diff not attached (new #%d: %t, other #%d: %t)",
			newPull.Number, newPull.Diff != nil, otherPull.Number, otherPull.Diff != nil))
	}

	overlaps := map[string]struct{}{}
	originals := map[string]struct{}{}
	translations := map[string]struct{}{}

	for _, incoming := range diff.MarkdownFiles(newPull.Diff) {
		newArticle, err := article.FromPath(incoming)
		if err != nil {
			continue
		}
		for _, other := range diff.MarkdownFiles(otherPull.Diff) {
			otherArticle, err := article.FromPath(other)
			if err != nil {
				continue
			}

			// Different articles entirely.
			if newArticle.Path != otherArticle.Path {
				continue
			}

			switch {
			case newArticle == otherArticle:
				overlaps[newArticle.FilePath()] = struct{}{}
			case newArticle.IsOriginal() && otherArticle.IsTranslation():
				originals[newArticle.FilePath()] = struct{}{}
			case newArticle.IsTranslation() && otherArticle.IsOriginal():
				translations[newArticle.FilePath()] = struct{}{}
			}
		}
	}

	var out []Conflict
	if fs := sortedSet(overlaps); len(fs) > 0 {
		out = append(out, Conflict{
			Kind:         ExistingChange,
			Trigger:      newPull.Number,
			Original:     otherPull.Number,
			ReferenceURL: otherPull.HTMLURL,
			FileSet:      fs,
		})
	}
	if fs := sortedSet(originals); len(fs) > 0 {
		// The translation-holding pull is notified; the new original
		// change has priority.
		out = append(out, Conflict{
			Kind:         NewOriginalChange,
			Trigger:      otherPull.Number,
			Original:     newPull.Number,
			ReferenceURL: newPull.HTMLURL,
			FileSet:      fs,
		})
	}
	if fs := sortedSet(translations); len(fs) > 0 {
		out = append(out, Conflict{
			Kind:         ExistingOriginalChange,
			Trigger:      newPull.Number,
			Original:     otherPull.Number,
			ReferenceURL: otherPull.HTMLURL,
			FileSet:      fs,
		})
	}

	slices.SortFunc(out, compare)
	return out
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}
