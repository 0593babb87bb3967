// Package extract turns a normalized chapter file into the hand-off consumed
// by the content-transform step, and prepares transformed content for
// write-back to the course service.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/dgallion1/epubnorm/internal/images"
	"github.com/dgallion1/epubnorm/internal/markup"
	"github.com/dgallion1/epubnorm/internal/plan"
	"github.com/dgallion1/epubnorm/internal/storage"
)

// UnknownTitle is used when a chapter has no <h1>.
const UnknownTitle = "Unknown Chapter"

// ErrNoChapter is returned when the plan has no chapter with the requested
// number.
var ErrNoChapter = errors.New("extract: chapter not in plan")

// Content is the extracted body of one chapter file.
type Content struct {
	Title     string   `json:"title"`
	HTML      string   `json:"html"`
	Text      string   `json:"text"`
	Markdown  string   `json:"markdown"`
	Images    []string `json:"images"`
	WordCount int      `json:"word_count"`
	Tokens    int      `json:"estimated_tokens"`
}

// Handoff is the document written for the content-transform step.
type Handoff struct {
	CourseSlug     string            `json:"course_slug"`
	ChapterNumber  int               `json:"chapter_number"`
	ChapterSlug    string            `json:"chapter_slug"`
	Content        *Content          `json:"content"`
	ImageMap       map[string]string `json:"image_map"`
	HTMLGuidelines []string          `json:"html_guidelines"`
}

// HTMLGuidelines constrain the markup the transform step may produce.
var HTMLGuidelines = []string{
	"Use semantic HTML5 tags only (h2, h3, p, ul, ol, pre, code, blockquote)",
	"No inline styles, presentational tags or CSS classes",
	"Keep lists as <ul> and <ol>, never flatten them into paragraphs",
	"Diagrams as <pre><code class=\"language-mermaid\">...</code></pre>",
	"Code examples complete and commented",
}

var (
	policy = bluemonday.UGCPolicy()
	md     = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
)

// Parse extracts a chapter file. A normalized chapter may hold several
// concatenated XHTML documents; the body of each is kept in order.
func Parse(content string) (*Content, error) {
	var htmlParts, textParts []string
	var imgs []string
	seen := make(map[string]bool)

	for i, doc := range strings.Split(content, "<?xml version") {
		if i > 0 {
			doc = "<?xml version" + doc
		}
		if strings.TrimSpace(doc) == "" {
			continue
		}
		root, err := markup.Parse(doc)
		if err != nil {
			continue
		}
		body := markup.Body(root)
		if body == nil {
			continue
		}
		inner, err := innerHTML(body)
		if err != nil {
			return nil, err
		}
		htmlParts = append(htmlParts, strings.TrimSpace(inner))
		textParts = append(textParts, blockText(body))
		for _, img := range markup.All(body, "img") {
			src, _ := markup.Attr(img, "src")
			if src == "" {
				continue
			}
			name := path.Base(src)
			if !seen[name] {
				seen[name] = true
				imgs = append(imgs, name)
			}
		}
	}

	title := UnknownTitle
	if root, err := markup.Parse(content); err == nil {
		if h := markup.Text(markup.First(root, "h1")); h != "" {
			title = h
		}
	}

	c := &Content{
		Title:  title,
		HTML:   policy.Sanitize(strings.Join(htmlParts, "\n")),
		Text:   strings.TrimSpace(strings.Join(textParts, "\n")),
		Images: imgs,
	}
	if c.Images == nil {
		c.Images = []string{}
	}
	c.WordCount = len(strings.Fields(c.Text))
	c.Tokens = estimateTokens(c.WordCount)
	if c.HTML != "" {
		out, err := md.ConvertString(c.HTML)
		if err != nil {
			return nil, fmt.Errorf("convert to markdown: %w", err)
		}
		c.Markdown = strings.TrimSpace(out)
	}
	return c, nil
}

// FromFile extracts chapter num of the plan from the output in store and
// builds its hand-off.
func FromFile(ctx context.Context, store storage.Adapter, p *plan.Plan, num int) (*Handoff, error) {
	var ch *plan.Chapter
	for _, c := range p.Chapters() {
		if c.ChapterNum == num {
			ch = &c
			break
		}
	}
	if ch == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoChapter, num)
	}

	data, err := storage.ReadAll(ctx, store, path.Join(plan.OutputDir, ch.SourceFile))
	if err != nil {
		return nil, err
	}
	content, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("chapter %d: %w", num, err)
	}

	imageMap := make(map[string]string, len(content.Images))
	for _, name := range content.Images {
		ok, err := store.Exists(ctx, path.Join(images.Dir, name))
		if err != nil {
			return nil, err
		}
		if ok {
			imageMap[name] = images.RefPrefix + name
		}
	}

	return &Handoff{
		CourseSlug:     p.Course.Slug,
		ChapterNumber:  num,
		ChapterSlug:    ch.Slug,
		Content:        content,
		ImageMap:       imageMap,
		HTMLGuidelines: HTMLGuidelines,
	}, nil
}

func innerHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return buf.String(), nil
}

// estimateTokens approximates the transform step's token count at about
// 1.33 tokens per English word.
func estimateTokens(words int) int {
	if words == 0 {
		return 0
	}
	return max(1, words*4/3)
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "pre": true, "blockquote": true, "figure": true,
	"figcaption": true, "table": true, "ul": true, "ol": true, "dt": true, "dd": true,
}

// blockText returns the text of n with a line break after every block
// element and inline whitespace collapsed.
func blockText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			buf.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
			if n.Data == "br" {
				buf.WriteByte('\n')
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			buf.WriteByte('\n')
		}
	}
	walk(n)

	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
