// Package epub loads packed and unpacked e-books into a uniform Book: the
// metadata, the content documents in reading order, the image catalog and
// the navigation forest.
package epub

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/dgallion1/epubnorm/internal/markup"
)

type strategy struct {
	name string
	load func(*loader) (*Book, error)
}

// strategies are tried in order; the first one producing at least one
// document wins.
var strategies = []strategy{
	{"package", (*loader).fromPackage},
	{"scan", (*loader).fromScan},
}

type loader struct {
	fsys     fs.FS
	log      *slog.Logger
	ncxHints []string
	navHints []string
	guessed  bool // title guessed from content
}

// Open loads the book at src, which must be an EPUB archive or a directory
// holding an unpacked book.
func Open(src string, log *slog.Logger) (*Book, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	if info.IsDir() {
		return OpenFS(os.DirFS(src), log)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrUnsupported
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	b, err := OpenReader(f, info.Size(), log)
	if err != nil {
		f.Close()
		return nil, err
	}
	b.closer = f
	return b, nil
}

// OpenReader loads an EPUB archive from r.
func OpenReader(r io.ReaderAt, size int64, log *slog.Logger) (*Book, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return OpenFS(zr, log)
}

// OpenFS loads a book from an arbitrary filesystem rooted at the book root.
func OpenFS(fsys fs.FS, log *slog.Logger) (*Book, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("stage", "load")
	if err := checkDRM(fsys); err != nil {
		return nil, err
	}

	var errs []error
	for _, s := range strategies {
		l := &loader{fsys: fsys, log: log}
		b, err := s.load(l)
		if err != nil {
			log.Debug("loading strategy failed", "strategy", s.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		if len(b.Documents) == 0 {
			log.Debug("loading strategy found no documents", "strategy", s.name)
			continue
		}
		b.Strategy = s.name
		l.loadNav(b)
		applyNavTitle(b, l.guessed)
		log.Info("book loaded",
			"strategy", s.name,
			"title", b.Metadata.Title,
			"documents", len(b.Documents),
			"images", len(b.Images),
			"nav_entries", len(b.Nav),
		)
		return b, nil
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w (%w)", ErrNoDocuments, errors.Join(errs...))
	}
	return nil, ErrNoDocuments
}

// readDocument reads a content document, transcoding it to UTF-8.
func (l *loader) readDocument(p string) (string, error) {
	data, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		return "", err
	}
	return markup.Decode(data)
}

// applyNavTitle lets the navigation title stand in for a missing or guessed
// book title.
func applyNavTitle(b *Book, guessed bool) {
	t := strings.TrimSpace(b.NavTitle)
	if t == "" || isGenericTitle(t) {
		return
	}
	if guessed || b.Metadata.Title == "" || b.Metadata.Title == DefaultTitle {
		b.Metadata.Title = t
	}
}

var genericTitles = map[string]bool{
	"untitled":          true,
	"contents":          true,
	"table of contents": true,
	"toc":               true,
	"cover":             true,
	"title page":        true,
	"navigation":        true,
}

func isGenericTitle(t string) bool {
	return genericTitles[strings.ToLower(strings.TrimSpace(t))]
}
