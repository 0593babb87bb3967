package epub

import (
	"io/fs"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgallion1/epubnorm/internal/markup"
)

type ncxDoc struct {
	DocTitle struct {
		Text string `xml:"text"`
	} `xml:"docTitle"`
	NavMap struct {
		Points []ncxPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type ncxPoint struct {
	Label struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Points []ncxPoint `xml:"navPoint"`
}

// loadNav fills b.Nav and b.NavTitle from the first navigation source that
// yields any entries: the NCX, then the navigation document, then loose
// toc*.xhtml files.
func (l *loader) loadNav(b *Book) {
	sources := []struct {
		name string
		load func(*Book) ([]*NavNode, string)
	}{
		{"ncx", l.navFromNCX},
		{"nav", l.navFromNavDoc},
		{"toc-files", l.navFromTOCFiles},
	}
	for _, s := range sources {
		nodes, title := s.load(b)
		if len(nodes) == 0 {
			continue
		}
		b.Nav = nodes
		b.NavTitle = title
		l.log.Debug("navigation loaded", "source", s.name, "entries", len(nodes))
		return
	}
	l.log.Debug("no navigation found")
}

// candidates returns the existing files among hints, then {root}/name, then
// the first sorted walk hit for name, without duplicates.
func (l *loader) candidates(root, name string, hints []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" || seen[p] || !exists(l.fsys, p) {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, h := range hints {
		add(h)
	}
	add(joinRoot(root, name))
	if hits := walkMatch(l.fsys, func(p string) bool { return path.Base(p) == name }); len(hits) > 0 {
		add(hits[0])
	}
	return out
}

func (l *loader) navFromNCX(b *Book) ([]*NavNode, string) {
	for _, p := range l.candidates(b.Root, "toc.ncx", l.ncxHints) {
		data, err := fs.ReadFile(l.fsys, p)
		if err != nil {
			continue
		}
		var doc ncxDoc
		if err := decodeXML(data, &doc); err != nil {
			l.log.Warn("unparsable NCX", "path", p, "error", err)
			continue
		}
		nodes := convertPoints(doc.NavMap.Points, b.Root, path.Dir(p))
		if len(nodes) > 0 {
			return nodes, collapse(doc.DocTitle.Text)
		}
	}
	return nil, ""
}

func convertPoints(points []ncxPoint, root, dir string) []*NavNode {
	var out []*NavNode
	for _, pt := range points {
		out = append(out, &NavNode{
			Label:    collapse(pt.Label.Text),
			Src:      resolveSrc(root, dir, pt.Content.Src),
			Children: convertPoints(pt.Points, root, dir),
		})
	}
	return out
}

func (l *loader) navFromNavDoc(b *Book) ([]*NavNode, string) {
	for _, p := range l.candidates(b.Root, "nav.xhtml", l.navHints) {
		doc, ok := l.parseFile(p)
		if !ok {
			continue
		}
		nav := tocNav(doc)
		if nav == nil {
			continue
		}
		if nodes := listNodes(firstList(nav), b.Root, path.Dir(p)); len(nodes) > 0 {
			return nodes, markup.Title(doc)
		}
	}
	return nil, ""
}

func (l *loader) navFromTOCFiles(b *Book) ([]*NavNode, string) {
	files := walkMatch(l.fsys, func(p string) bool {
		base := strings.ToLower(path.Base(p))
		ext := path.Ext(base)
		return strings.HasPrefix(base, "toc") && (ext == ".xhtml" || ext == ".html")
	})
	var (
		nodes []*NavNode
		title string
	)
	for i, p := range files {
		doc, ok := l.parseFile(p)
		if !ok {
			continue
		}
		if i == 0 {
			title = markup.Title(doc)
		}
		var list *html.Node
		if nav := tocNav(doc); nav != nil {
			list = firstList(nav)
		} else {
			list = markup.First(markup.Body(doc), "ol")
		}
		nodes = append(nodes, listNodes(list, b.Root, path.Dir(p))...)
	}
	return nodes, title
}

func (l *loader) parseFile(p string) (*html.Node, bool) {
	content, err := l.readDocument(p)
	if err != nil {
		return nil, false
	}
	doc, err := markup.Parse(content)
	if err != nil {
		l.log.Warn("unparsable navigation file", "path", p, "error", err)
		return nil, false
	}
	return doc, true
}

// tocNav returns the <nav> typed as the table of contents, falling back to
// the one with id "toc".
func tocNav(doc *html.Node) *html.Node {
	navs := markup.All(doc, "nav")
	for _, n := range navs {
		if markup.HasToken(n, "epub:type", "toc") {
			return n
		}
	}
	for _, n := range navs {
		if id, _ := markup.Attr(n, "id"); id == "toc" {
			return n
		}
	}
	return nil
}

func firstList(n *html.Node) *html.Node {
	return markup.FindFunc(n, func(c *html.Node) bool {
		return c.Data == "ol" || c.Data == "ul"
	})
}

// listNodes converts the <li> children of an ol/ul. An entry's label is its
// direct <a> or <span>; a nested list supplies its children.
func listNodes(list *html.Node, root, dir string) []*NavNode {
	if list == nil {
		return nil
	}
	var out []*NavNode
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}
		node := &NavNode{}
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "a":
				if node.Label == "" {
					node.Label = markup.Text(c)
					href, _ := markup.Attr(c, "href")
					node.Src = resolveSrc(root, dir, href)
				}
			case "span":
				if node.Label == "" {
					node.Label = markup.Text(c)
				}
			case "ol", "ul":
				node.Children = append(node.Children, listNodes(c, root, dir)...)
			}
		}
		out = append(out, node)
	}
	return out
}

// resolveSrc turns a navigation href into a path relative to the content
// root: fragment stripped, unescaped, resolved against the navigation
// file's directory.
func resolveSrc(root, dir, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.Contains(href, "://") {
		return ""
	}
	href = cleanHref(href)
	if href == "" || href == "." {
		return ""
	}
	var p string
	if strings.HasPrefix(href, "/") {
		p = strings.TrimPrefix(href, "/")
	} else {
		p = joinRoot(dir, href)
	}
	return relToRoot(root, p)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
