// Package detect reconstructs the part and chapter hierarchy of a loaded
// book, from its navigation when present and from document content
// otherwise.
package detect

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgallion1/epubnorm/internal/epub"
	"github.com/dgallion1/epubnorm/internal/label"
	"github.com/dgallion1/epubnorm/internal/markup"
	"github.com/dgallion1/epubnorm/internal/slug"
)

// Implicit part holding chapters that precede any declared part.
const (
	GeneralOrder = 0
	GeneralTitle = "General"
)

// Part is an ordered group of chapters.
type Part struct {
	Order    int
	Title    string
	Chapters []*Chapter
}

// Chapter is one logical chapter, possibly assembled from several source
// documents.
type Chapter struct {
	Declared    int // number found in the source, provenance only
	HasDeclared bool
	Num         int // dense 1..N in final order
	Title       string
	SourceFiles []string
	PartOrder   int
	Slug        string

	fragments []fragment
}

type fragment struct {
	src     string
	content string
}

// Content returns the chapter markup, fragments joined in order.
func (c *Chapter) Content() string {
	out := make([]string, len(c.fragments))
	for i, f := range c.fragments {
		out[i] = f.content
	}
	return strings.Join(out, "\n")
}

func (c *Chapter) add(src, content string) {
	c.fragments = append(c.fragments, fragment{src: src, content: content})
	c.syncSources()
}

func (c *Chapter) syncSources() {
	c.SourceFiles = c.SourceFiles[:0]
	for _, f := range c.fragments {
		if f.src != "" {
			c.SourceFiles = append(c.SourceFiles, f.src)
		}
	}
}

// primary returns the source of the first fragment, or "".
func (c *Chapter) primary() string {
	if len(c.fragments) == 0 {
		return ""
	}
	return c.fragments[0].src
}

// Result is the detected structure. Chapters is the concatenation of the
// parts' chapters.
type Result struct {
	Parts    []*Part
	Chapters []*Chapter
	Warnings []string
}

type detector struct {
	book     *epub.Book
	log      *slog.Logger
	parts    []*Part
	chapters []*Chapter
	current  *Part
	warnings []string
}

// Detect runs chapter detection over b. A book with no recognizable
// chapters yields an empty result and a warning.
func Detect(b *epub.Book, log *slog.Logger) *Result {
	if log == nil {
		log = slog.Default()
	}
	d := &detector{book: b, log: log.With("stage", "detect")}

	if len(b.Nav) > 0 {
		d.log.Info("detecting chapters from navigation", "entries", len(b.Nav))
		for _, n := range b.Nav {
			d.walk(n)
		}
	} else {
		d.log.Info("no navigation, detecting chapters from content", "documents", len(b.Documents))
		d.fromContent()
	}
	d.flush()

	d.mergeSections()
	d.mergeSplits()
	d.filterFrontMatter()

	res := d.finish()
	if len(res.Chapters) == 0 {
		d.warn("no chapters detected")
	}
	res.Warnings = d.warnings
	d.log.Info("detection complete", "parts", len(res.Parts), "chapters", len(res.Chapters))
	return res
}

// warn logs msg and records it, with its key/value pairs, for the result.
func (d *detector) warn(msg string, args ...any) {
	d.log.Warn(msg, args...)
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	d.warnings = append(d.warnings, b.String())
}

func (d *detector) flush() {
	if d.current != nil && len(d.current.Chapters) > 0 {
		d.parts = append(d.parts, d.current)
	}
	d.current = nil
}

func (d *detector) openPart(order int, title string) {
	d.flush()
	d.current = &Part{Order: order, Title: title}
}

func (d *detector) addChapter(ch *Chapter) {
	if d.current == nil {
		d.current = &Part{Order: GeneralOrder, Title: GeneralTitle}
	}
	ch.PartOrder = d.current.Order
	d.current.Chapters = append(d.current.Chapters, ch)
	d.chapters = append(d.chapters, ch)
}

func (d *detector) walk(n *epub.NavNode) {
	if strings.TrimSpace(n.Label) == "" {
		for _, c := range n.Children {
			d.walk(c)
		}
		return
	}
	r := label.Classify(n.Label)
	switch r.Kind {
	case label.Part:
		d.openPart(r.Num, r.Title)
		for _, c := range n.Children {
			d.walk(c)
		}
	case label.Chapter:
		ch := &Chapter{Declared: r.Num, HasDeclared: r.HasNum, Title: r.Title}
		if doc := d.book.Lookup(n.Src); doc != nil {
			ch.add(doc.Href, doc.Content)
		} else {
			d.warn("navigation entry does not resolve to a document", "label", n.Label, "src", n.Src)
			ch.add(n.Src, "")
		}
		d.addChapter(ch)
		// Subsections stay inside the chapter.
	default:
		for _, c := range n.Children {
			d.walk(c)
		}
	}
}

var (
	partHeading    = regexp.MustCompile(`(?i)^Part\s+([IVX]+|\d+)`)
	partInfo       = regexp.MustCompile(`(?i)^Part\s+([IVX]+|\d+)[\s:\-]*(.*)$`)
	chapterStem    = regexp.MustCompile(`^ch(ap(ter)?)?[_-]?\d+`)
	chapterHeading = regexp.MustCompile(`(?i)^(Chapter\s+)?\d+[\.\s]`)
	chapterInfo    = regexp.MustCompile(`(?i)^(Chapter\s+)?(\d+)[\.\s:\-]+(.*)$`)
)

func (d *detector) fromContent() {
	docs := make([]*epub.Document, len(d.book.Documents))
	copy(docs, d.book.Documents)
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Order < docs[j].Order })

	for _, doc := range docs {
		root, err := markup.Parse(doc.Content)
		if err != nil {
			d.warn("unparsable document", "href", doc.Href, "error", err)
			continue
		}
		stem := strings.ToLower(epub.Stem(doc.Href))
		heading := markup.Text(markup.First(root, "h1"))

		if isPartDocument(root, stem, heading) {
			order, title := partDetails(heading, len(d.parts)+1)
			d.openPart(order, title)
			continue
		}
		if isChapterDocument(root, stem, heading) {
			ch := chapterDetails(heading, markup.Title(root))
			if !ch.HasDeclared {
				ch.Declared = len(d.chapters) + 1
			}
			ch.add(doc.Href, doc.Content)
			d.addChapter(ch)
		}
	}
}

func hasSection(root *html.Node, kind string) bool {
	return markup.FindFunc(root, func(n *html.Node) bool {
		return n.Data == "section" && markup.HasToken(n, "epub:type", kind)
	}) != nil
}

func isPartDocument(root *html.Node, stem, heading string) bool {
	return hasSection(root, "part") ||
		strings.Contains(stem, "part") ||
		partHeading.MatchString(heading)
}

func isChapterDocument(root *html.Node, stem, heading string) bool {
	return hasSection(root, "chapter") ||
		chapterStem.MatchString(stem) ||
		chapterHeading.MatchString(heading)
}

func partDetails(heading string, next int) (int, string) {
	if heading == "" {
		return next, "Unknown Part"
	}
	m := partInfo.FindStringSubmatch(heading)
	if m == nil {
		return next, heading
	}
	title := strings.TrimSpace(m[2])
	if title == "" {
		title = "Part " + m[1]
	}
	if n, err := strconv.Atoi(m[1]); err == nil {
		return n, title
	}
	if n := label.RomanToInt(strings.ToUpper(m[1])); n > 0 {
		return n, title
	}
	return next, title
}

func chapterDetails(heading, docTitle string) *Chapter {
	text := heading
	if text == "" {
		text = docTitle
	}
	if text == "" {
		return &Chapter{Title: "Untitled Chapter"}
	}
	m := chapterInfo.FindStringSubmatch(text)
	if m == nil {
		return &Chapter{Title: text}
	}
	n, _ := strconv.Atoi(m[2])
	title := strings.TrimSpace(m[3])
	if title == "" {
		title = fmt.Sprintf("Chapter %d", n)
	}
	return &Chapter{Declared: n, HasDeclared: true, Title: title}
}

// finish orders parts, numbers chapters densely in final order and assigns
// unique slugs.
func (d *detector) finish() *Result {
	sort.SliceStable(d.parts, func(i, j int) bool { return d.parts[i].Order < d.parts[j].Order })

	res := &Result{Parts: d.parts}
	reg := slug.NewRegistry()
	for _, p := range d.parts {
		for _, ch := range p.Chapters {
			ch.Num = len(res.Chapters) + 1
			ch.PartOrder = p.Order
			ch.Slug = reg.Unique(slug.Chapter(ch.Num, ch.Title))
			res.Chapters = append(res.Chapters, ch)
		}
	}
	return res
}
