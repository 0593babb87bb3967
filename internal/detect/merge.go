package detect

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dgallion1/epubnorm/internal/epub"
	"github.com/dgallion1/epubnorm/internal/markup"
)

// mergeSections appends the documents a chapter links to, for books that
// keep a short chapter opener and spread the body over section files.
func (d *detector) mergeSections() {
	for _, ch := range d.chapters {
		targets := linkTargets(ch)
		if len(targets) == 0 {
			continue
		}
		merged := 0
		for _, target := range targets {
			doc := d.resolveLink(ch, target)
			if doc == nil {
				d.warn("section file not found", "chapter", ch.Title, "href", target)
				continue
			}
			if contains(ch.SourceFiles, doc.Href) {
				continue
			}
			ch.add(doc.Href, doc.Content)
			merged++
		}
		if merged > 0 {
			d.log.Debug("merged section files", "chapter", ch.Title, "count", merged)
		}
	}
}

// linkTargets returns the sorted, de-duplicated document links in the
// chapter's content with fragments stripped, excluding its own sources.
func linkTargets(ch *Chapter) []string {
	root, err := markup.Parse(ch.Content())
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, a := range markup.All(root, "a") {
		href, ok := markup.Attr(a, "href")
		if !ok {
			continue
		}
		lower := strings.ToLower(href)
		if !strings.Contains(lower, ".xhtml") && !strings.Contains(lower, ".html") {
			continue
		}
		if strings.Contains(href, "://") || strings.HasPrefix(lower, "mailto:") {
			continue
		}
		if i := strings.IndexByte(href, '#'); i >= 0 {
			href = href[:i]
		}
		if href == "" || seen[href] || contains(ch.SourceFiles, href) {
			continue
		}
		seen[href] = true
		out = append(out, href)
	}
	sort.Strings(out)
	return out
}

// resolveLink resolves target relative to the chapter's primary source
// first, then through the book's general lookup.
func (d *detector) resolveLink(ch *Chapter, target string) *epub.Document {
	if p := ch.primary(); p != "" && !strings.HasPrefix(target, "/") {
		if doc := d.book.Lookup(path.Join(path.Dir(p), target)); doc != nil {
			return doc
		}
	}
	return d.book.Lookup(target)
}

var splitName = regexp.MustCompile(`^(.+)_split_(\d+)$`)

// splitInfo reports the base stem and index of a split file source.
func splitInfo(src string) (base string, n int, ok bool) {
	m := splitName.FindStringSubmatch(epub.Stem(src))
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// mergeSplits joins {base}_split_NNN files into the chapter anchored at
// split 000. Only the 000 part is kept as a chapter; later parts are
// dropped whether or not their anchor is present.
func (d *detector) mergeSplits() {
	d.remove(func(ch *Chapter) bool {
		base, n, ok := splitInfo(ch.primary())
		if !ok {
			return false
		}
		if n != 0 {
			d.log.Debug("dropping split part", "chapter", ch.Title, "source", ch.primary())
			return true
		}
		d.joinSplits(ch, base)
		return false
	})
}

func (d *detector) joinSplits(ch *Chapter, base string) {
	ext := path.Ext(ch.primary())
	parts := []fragment{ch.fragments[0]}
	isPart := map[string]bool{ch.fragments[0].src: true}
	for i := 1; ; i++ {
		doc := d.book.LookupName(fmt.Sprintf("%s_split_%03d%s", base, i, ext))
		if doc == nil {
			break
		}
		parts = append(parts, fragment{src: doc.Href, content: doc.Content})
		isPart[doc.Href] = true
	}
	if len(parts) == 1 {
		return
	}
	for _, f := range ch.fragments[1:] {
		if !isPart[f.src] {
			parts = append(parts, f)
		}
	}
	ch.fragments = parts
	ch.syncSources()
	d.log.Debug("merged split files", "chapter", ch.Title, "count", len(isPart))
}

// filterFrontMatter drops front-matter chapters and any part left empty.
func (d *detector) filterFrontMatter() {
	d.remove(func(ch *Chapter) bool {
		if IsFrontMatter(ch.Title) {
			d.log.Info("filtering front matter", "title", ch.Title)
			return true
		}
		return false
	})
}

// remove deletes the chapters drop selects from both the flat list and
// their parts, then drops empty parts. drop is called once per chapter in
// reading order.
func (d *detector) remove(drop func(*Chapter) bool) {
	gone := make(map[*Chapter]bool)
	kept := d.chapters[:0]
	for _, ch := range d.chapters {
		if drop(ch) {
			gone[ch] = true
			continue
		}
		kept = append(kept, ch)
	}
	d.chapters = kept
	if len(gone) == 0 {
		return
	}

	parts := d.parts[:0]
	for _, p := range d.parts {
		chs := p.Chapters[:0]
		for _, ch := range p.Chapters {
			if !gone[ch] {
				chs = append(chs, ch)
			}
		}
		p.Chapters = chs
		if len(p.Chapters) > 0 {
			parts = append(parts, p)
		}
	}
	d.parts = parts
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
