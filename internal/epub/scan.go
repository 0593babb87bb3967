package epub

import (
	"fmt"
	"path"
	"strings"

	"github.com/dgallion1/epubnorm/internal/markup"
)

var (
	documentExts = map[string]bool{".xhtml": true, ".html": true, ".htm": true}
	imageTypes   = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".gif":  "image/gif",
		".svg":  "image/svg+xml",
		".webp": "image/webp",
		".bmp":  "image/bmp",
		".tif":  "image/tiff",
		".tiff": "image/tiff",
	}
)

// titleScanLimit bounds how many documents are inspected when guessing the
// book title from content.
const titleScanLimit = 10

// fromScan treats every HTML file outside the table of contents as a
// content document, in path order.
func (l *loader) fromScan() (*Book, error) {
	b := &Book{
		Metadata: Metadata{Title: DefaultTitle, Language: DefaultLanguage},
		Root:     ".",
		FS:       l.fsys,
		Strategy: "scan",
	}

	files := walkMatch(l.fsys, func(p string) bool {
		if !documentExts[strings.ToLower(path.Ext(p))] {
			return false
		}
		return !strings.Contains(strings.ToLower(Stem(p)), "toc")
	})
	for _, p := range files {
		content, err := l.readDocument(p)
		if err != nil {
			l.log.Warn("skipping document", "path", p, "error", err)
			b.warn(fmt.Sprintf("skipped %s: %v", p, err))
			continue
		}
		b.Documents = append(b.Documents, &Document{
			ID:        fmt.Sprintf("doc%03d", len(b.Documents)),
			Href:      p,
			Path:      p,
			Order:     len(b.Documents),
			Content:   content,
			MediaType: "application/xhtml+xml",
		})
	}

	for _, p := range walkMatch(l.fsys, func(p string) bool {
		_, ok := imageTypes[strings.ToLower(path.Ext(p))]
		return ok
	}) {
		b.Images = append(b.Images, Image{
			ID:        fmt.Sprintf("img%03d", len(b.Images)),
			Href:      p,
			MediaType: imageTypes[strings.ToLower(path.Ext(p))],
		})
	}

	if t := guessTitle(b.Documents); t != "" {
		b.Metadata.Title = t
		l.guessed = true
	}
	return b, nil
}

// guessTitle picks a book title out of the leading documents: the first
// non-generic <title> that contains a colon or more than two words, else
// the first document's <title> or <h1>.
func guessTitle(docs []*Document) string {
	var fallback string
	for i, d := range docs {
		if i >= titleScanLimit {
			break
		}
		doc, err := markup.Parse(d.Content)
		if err != nil {
			continue
		}
		t := markup.Title(doc)
		if i == 0 {
			fallback = t
			if fallback == "" {
				fallback = markup.Text(markup.First(doc, "h1"))
			}
		}
		if t == "" || isGenericTitle(t) {
			continue
		}
		if strings.Contains(t, ":") || len(strings.Fields(t)) > 2 {
			return t
		}
	}
	if isGenericTitle(fallback) {
		return ""
	}
	return fallback
}
