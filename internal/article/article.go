// Package article models wiki articles as directory/language pairs.
//
// In the documentation repository every article lives in its own directory,
// with one markdown file per language: guide/en.md is the original,
// guide/es.md a translation. Two files belong to the same article iff they
// share a directory.
package article

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// OriginalLanguage is the language code of source articles. Everything else
// is a translation.
const OriginalLanguage = "en"

// ErrMalformedPath is returned when a file path cannot be split into a
// directory and a language stem.
var ErrMalformedPath = errors.New("malformed article path")

// Article identifies a single localized article file.
type Article struct {
	// Path is the article's directory and its identity: all language
	// versions of one article share it.
	Path string

	// Language is the file stem, e.g. "en" or "zh-tw".
	Language string
}

// FromPath derives an Article from a repository-relative file path.
func FromPath(p string) (Article, error) {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return Article{}, fmt.Errorf("%w: %q has no parent directory", ErrMalformedPath, p)
	}
	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" {
		return Article{}, fmt.Errorf("%w: %q has no file stem", ErrMalformedPath, p)
	}
	return Article{Path: dir, Language: stem}, nil
}

// FilePath reconstructs the repository-relative markdown file path.
func (a Article) FilePath() string {
	return a.Path + "/" + a.Language + ".md"
}

// IsOriginal reports whether the article is in the source language.
func (a Article) IsOriginal() bool {
	return a.Language == OriginalLanguage
}

// IsTranslation reports whether the article is a translation.
func (a Article) IsTranslation() bool {
	return !a.IsOriginal()
}
