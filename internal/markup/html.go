// Package markup holds the HTML/XHTML helpers shared by the loader, the
// chapter detector, the image normalizer and the extraction hand-off.
package markup

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Parse parses markup leniently. Concatenated documents and XHTML served as
// HTML both parse into a single tree.
func Parse(s string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(ExpandSelfClosing(s)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Decode returns data as a UTF-8 string, transcoding from the charset
// declared or sniffed in the document when it is not already UTF-8.
// Self-closing raw-text elements are expanded as well.
func Decode(data []byte) (string, error) {
	if utf8.Valid(data) {
		return ExpandSelfClosing(string(data)), nil
	}
	enc, name, _ := charset.DetermineEncoding(data, "text/html")
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return ExpandSelfClosing(string(out)), nil
}

var selfClosingRaw = regexp.MustCompile(`(?i)<(title|script|style|textarea|noscript|iframe|xmp)(\s[^<>]*?)?\s*/>`)

// ExpandSelfClosing rewrites XHTML self-closing raw-text elements such as
// <title/> or <script src="x.js"/> into explicit start and end tags. An HTML
// parser ignores the slash and would swallow the rest of the document as
// element text.
func ExpandSelfClosing(s string) string {
	if !strings.Contains(s, "/>") {
		return s
	}
	return selfClosingRaw.ReplaceAllString(s, "<${1}${2}></${1}>")
}

// Text returns the text content of n with runs of whitespace collapsed.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

// First returns the first element named tag in document order.
func First(n *html.Node, tag string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := First(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// All returns every element named tag in document order.
func All(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

// FindFunc returns the first element for which match reports true.
func FindFunc(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := FindFunc(c, match); found != nil {
			return found
		}
	}
	return nil
}

// Closest returns the nearest ancestor of n named tag.
func Closest(n *html.Node, tag string) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return p
		}
	}
	return nil
}

// Attr returns the value of the attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// HasToken reports whether the space-separated attribute key on n contains
// token, compared case-insensitively.
func HasToken(n *html.Node, key, token string) bool {
	v, ok := Attr(n, key)
	if !ok {
		return false
	}
	for _, f := range strings.Fields(v) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}

// Title returns the text of the first <title> element.
func Title(doc *html.Node) string {
	return Text(First(doc, "title"))
}

// Body returns the first <body> element, or nil.
func Body(doc *html.Node) *html.Node {
	return First(doc, "body")
}

// Render serializes n and its subtree.
func Render(n *html.Node) (string, error) {
	var buf strings.Builder
	if err := html.Render(&buf, n); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
