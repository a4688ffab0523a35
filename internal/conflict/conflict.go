// Package conflict detects overlapping article changes between open pull
// requests on a documentation repository.
//
// A conflict is directional: the pull request introducing the later,
// lower-priority change is notified (Trigger), the earlier or authoritative
// change is only referenced (Original), never edited by the bot.
package conflict

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/translate-dev/observatory/internal/diff"
)

// Type classifies a conflict between two pull requests.
type Type int

const (
	// ExistingChange: both pulls modify the exact same localized file.
	ExistingChange Type = iota

	// NewOriginalChange: the new pull changes an original whose translation
	// is being changed by an already-open pull.
	NewOriginalChange

	// ExistingOriginalChange: the new pull changes a translation whose
	// original is being changed by an already-open pull.
	ExistingOriginalChange
)

func (t Type) String() string {
	switch t {
	case ExistingChange:
		return "existing-change"
	case NewOriginalChange:
		return "new-original-change"
	case ExistingOriginalChange:
		return "existing-original-change"
	default:
		return fmt.Sprintf("conflict.Type(%d)", int(t))
	}
}

// Template returns the explanation posted for this conflict type.
func (t Type) Template() string {
	switch t {
	case ExistingChange:
		return "An open pull request changes the same files as yours. " +
			"Please check it for conflicting edits and coordinate with its author before merging:"
	case NewOriginalChange:
		return "An open pull request updates the original version of an article you are translating. " +
			"You may need to update your translation once it is merged:"
	case ExistingOriginalChange:
		return "An open pull request already changes the original version of an article you are translating. " +
			"Please make sure your translation matches the upcoming original:"
	default:
		return ""
	}
}

// PullRequest is the view of a pull request the detector operates on.
// Diff is fetched out-of-band and attached before comparison.
type PullRequest struct {
	Number    int
	State     string
	Title     string
	Author    string
	HTMLURL   string
	CreatedAt time.Time
	UpdatedAt time.Time

	Diff []diff.FileChange
}

// Conflict is a detected overlap between two pull requests' article changes.
type Conflict struct {
	Kind Type

	// Trigger is the pull request to notify.
	Trigger int

	// Original is the pull request considered authoritative.
	Original int

	// ReferenceURL points at the original pull request.
	ReferenceURL string

	// FileSet lists the conflicting article files, sorted and unique.
	FileSet []string
}

// Marker is a stable identity for this conflict, used to deduplicate
// notifications across webhook redeliveries.
func (c Conflict) Marker() string {
	return fmt.Sprintf("%s/#%d", c.Kind, c.Original)
}

// ToMarkdown renders the notification body posted on the trigger pull.
func (c Conflict) ToMarkdown() string {
	lines := []string{
		fmt.Sprintf("#### Conflict with #%d", c.Original),
		c.Kind.Template(),
	}

	if len(c.FileSet) > 10 {
		lines = append(lines, fmt.Sprintf("- %s (>10 files)", c.ReferenceURL))
	} else {
		lines = append(lines, fmt.Sprintf("- %s, files:", c.ReferenceURL))
		lines = append(lines, "  ```")
		for _, f := range c.FileSet {
			lines = append(lines, "  "+f)
		}
		lines = append(lines, "  ```")
	}

	return strings.Join(lines, "\n")
}

// compare defines the total order over conflicts: lexicographic over
// (Kind, Trigger, Original, ReferenceURL, FileSet).
func compare(a, b Conflict) int {
	if c := int(a.Kind) - int(b.Kind); c != 0 {
		return c
	}
	if c := a.Trigger - b.Trigger; c != 0 {
		return c
	}
	if c := a.Original - b.Original; c != 0 {
		return c
	}
	if c := strings.Compare(a.ReferenceURL, b.ReferenceURL); c != 0 {
		return c
	}
	return slices.Compare(a.FileSet, b.FileSet)
}
