package dispatch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/epub2tts/epub2tts/internal/conversion"
)

var scratchFile = regexp.MustCompile(`^temp\d*\.wav$`)

// chapterFile matches the chapter files the converter writes for book:
// <book>-<n>.wav, <book>-ch<n>.wav or <book>-part<n>.wav, optionally with a
// .timing companion.
func chapterFile(book string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(book) + `-(?:ch|part)?\d+\.wav(?:\.timing)?$`)
}

// CleanStale removes leftovers of an earlier run for the same book from dir:
// temp<n>.wav scratch files, the book's chapter files with their .timing
// companions, and the previous artifact. It returns the removed paths.
// Files that cannot be removed are skipped.
//
// dir must belong to the dispatcher; see Dispatcher.Owns.
func CleanStale(dir string, req *conversion.Request) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	book := req.BookName()
	var chapters *regexp.Regexp
	if book != "" {
		chapters = chapterFile(book)
	}

	var removed []string
	remove := func(name string) {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err == nil {
			removed = append(removed, path)
		}
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		switch {
		case scratchFile.MatchString(name):
			remove(name)
		case chapters != nil && chapters.MatchString(name):
			remove(name)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, req.ArtifactName())); err == nil {
		remove(req.ArtifactName())
	} else if !errors.Is(err, fs.ErrNotExist) {
		return removed, err
	}

	return removed, nil
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
