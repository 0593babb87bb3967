package epub

import (
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"
)

// Load errors.
var (
	ErrNoDocuments    = errors.New("epub: no content documents found")
	ErrNoPackage      = errors.New("epub: no package document found")
	ErrInvalidPackage = errors.New("epub: invalid package document")
	ErrUnsupported    = errors.New("epub: source must be an .epub archive or a directory")
)

// Default metadata values.
const (
	DefaultTitle    = "Untitled"
	DefaultLanguage = "en"
)

// Metadata is the book-level metadata.
type Metadata struct {
	Title      string  `json:"title"`
	Author     *string `json:"author"`
	Language   string  `json:"language"`
	Identifier *string `json:"identifier"`
}

// Document is one content unit of the book.
type Document struct {
	ID        string
	Href      string // relative to the content root
	Path      string // path inside Book.FS
	Order     int    // reading order, -1 until resolved
	Content   string
	MediaType string
}

// Image is an entry of the image catalog.
type Image struct {
	ID        string
	Href      string
	MediaType string
}

// NavNode is one entry of the navigation forest.
type NavNode struct {
	Label    string     `json:"label"`
	Src      string     `json:"src"`
	Children []*NavNode `json:"children,omitempty"`
}

// Book is a loaded e-book, packed or unpacked.
type Book struct {
	Metadata  Metadata
	Documents []*Document
	Images    []Image
	Nav       []*NavNode
	NavTitle  string

	// Root is the content root inside FS: the package document's directory,
	// or "." when the book was loaded by directory scan.
	Root string
	FS   fs.FS

	// Strategy names the loading strategy that produced the book.
	Strategy string
	Warnings []string

	closer  io.Closer
	byHref  map[string]*Document
	byPath  map[string]*Document
	byName  map[string]*Document
	byStem  map[string]*Document
	indexed bool
}

// Close releases the underlying archive, if any.
func (b *Book) Close() error {
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}

// Lookup resolves a document reference by full href, then by path inside
// the book, then by bare file name, then by file name without extension.
func (b *Book) Lookup(ref string) *Document {
	if ref == "" {
		return nil
	}
	b.index()
	ref = path.Clean(strings.TrimPrefix(ref, "/"))
	if d, ok := b.byHref[ref]; ok {
		return d
	}
	if d, ok := b.byPath[ref]; ok {
		return d
	}
	name := path.Base(ref)
	if d, ok := b.byName[name]; ok {
		return d
	}
	if d, ok := b.byStem[Stem(name)]; ok {
		return d
	}
	return nil
}

// LookupName resolves a document by bare file name only.
func (b *Book) LookupName(name string) *Document {
	b.index()
	return b.byName[name]
}

func (b *Book) index() {
	if b.indexed {
		return
	}
	b.byHref = make(map[string]*Document, len(b.Documents))
	b.byPath = make(map[string]*Document, len(b.Documents))
	b.byName = make(map[string]*Document, len(b.Documents))
	b.byStem = make(map[string]*Document, len(b.Documents))
	for _, d := range b.Documents {
		putFirst(b.byHref, d.Href, d)
		putFirst(b.byPath, d.Path, d)
		name := path.Base(d.Href)
		putFirst(b.byName, name, d)
		putFirst(b.byStem, Stem(name), d)
	}
	b.indexed = true
}

func putFirst(m map[string]*Document, key string, d *Document) {
	if _, ok := m[key]; !ok {
		m[key] = d
	}
}

// Stem returns the file name of p without its extension.
func Stem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

func (b *Book) warn(msg string) {
	b.Warnings = append(b.Warnings, msg)
}
