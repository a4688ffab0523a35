package conflict

import (
	"fmt"
	"slices"
	"strings"
	"testing"
)

func TestTemplateTotal(t *testing.T) {
	kinds := []Type{ExistingChange, NewOriginalChange, ExistingOriginalChange}

	seen := map[string]Type{}
	for _, k := range kinds {
		tmpl := k.Template()
		if tmpl == "" {
			t.Errorf("Template(%s): got empty string", k)
		}
		if prev, ok := seen[tmpl]; ok {
			t.Errorf("Template(%s) collides with Template(%s)", k, prev)
		}
		seen[tmpl] = k
	}
}

func TestToMarkdownFileList(t *testing.T) {
	c := Conflict{
		Kind:         ExistingChange,
		Trigger:      2,
		Original:     1,
		ReferenceURL: "https://github.com/wiki/wiki/pull/1",
		FileSet:      []string{"guide/en.md", "guide/es.md"},
	}

	got := c.ToMarkdown()
	for _, want := range []string{
		"#### Conflict with #1",
		"https://github.com/wiki/wiki/pull/1, files:",
		"guide/en.md",
		"guide/es.md",
		"```",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("ToMarkdown missing %q:\n%s", want, got)
		}
	}
}

func TestToMarkdownTruncation(t *testing.T) {
	files := make([]string, 11)
	for i := range files {
		files[i] = fmt.Sprintf("guide%02d/en.md", i)
	}
	c := Conflict{
		Kind:         NewOriginalChange,
		Trigger:      2,
		Original:     1,
		ReferenceURL: "https://github.com/wiki/wiki/pull/1",
		FileSet:      files,
	}

	got := c.ToMarkdown()
	if !strings.Contains(got, "(>10 files)") {
		t.Errorf("ToMarkdown missing truncation notice:\n%s", got)
	}
	if strings.Contains(got, "guide00/en.md") {
		t.Errorf("ToMarkdown should not list files when truncated:\n%s", got)
	}
}

func TestMarkerDistinct(t *testing.T) {
	a := Conflict{Kind: ExistingChange, Original: 1}
	b := Conflict{Kind: ExistingOriginalChange, Original: 1}
	c := Conflict{Kind: ExistingChange, Original: 2}

	if a.Marker() == b.Marker() || a.Marker() == c.Marker() {
		t.Errorf("markers not distinct: %q, %q, %q", a.Marker(), b.Marker(), c.Marker())
	}
}

func TestTotalOrder(t *testing.T) {
	conflicts := []Conflict{
		{Kind: ExistingOriginalChange, Trigger: 1, Original: 2},
		{Kind: ExistingChange, Trigger: 2, Original: 1},
		{Kind: ExistingChange, Trigger: 1, Original: 3},
		{Kind: ExistingChange, Trigger: 1, Original: 2, ReferenceURL: "b"},
		{Kind: ExistingChange, Trigger: 1, Original: 2, ReferenceURL: "a"},
		{Kind: NewOriginalChange, Trigger: 1, Original: 2},
	}

	slices.SortFunc(conflicts, compare)
	if !slices.IsSortedFunc(conflicts, compare) {
		t.Fatal("not sorted after SortFunc")
	}

	// Kind dominates, then trigger, then original, then reference URL.
	if conflicts[0].Kind != ExistingChange || conflicts[0].ReferenceURL != "a" {
		t.Errorf("first: got = %+v", conflicts[0])
	}
	if conflicts[len(conflicts)-1].Kind != ExistingOriginalChange {
		t.Errorf("last: got = %+v", conflicts[len(conflicts)-1])
	}
}
