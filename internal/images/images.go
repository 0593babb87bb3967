// Package images gives every image a chapter book references a canonical
// name, rewrites the references and copies the files into the output.
package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"net/url"
	"path"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/net/html"

	"github.com/dgallion1/epubnorm/internal/markup"
	"github.com/dgallion1/epubnorm/internal/storage"
)

// Output locations.
const (
	Dir       = "OEBPS/Images" // storage key prefix
	RefPrefix = "Images/"      // reference prefix inside chapter files
)

// searchDirs are conventional image directories searched by file name.
var searchDirs = []string{"Images", "images", "IMAGES", "OPS/images", "OEBPS/Images", "text/OPS/images"}

// Ref is one normalized image.
type Ref struct {
	Original string `json:"original_path"`
	Name     string `json:"normalized_name"`
	Caption  string `json:"caption,omitempty"`
	Chapter  int    `json:"chapter_num"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Found    bool   `json:"found"`
}

// Chapter is the input for one chapter: its final number and markup.
type Chapter struct {
	Num     int
	Content string
}

// ChapterResult is a chapter's rewritten markup and the images it
// references, in document order without duplicates.
type ChapterResult struct {
	Num     int
	Content string
	Images  []*Ref
}

// Result is the outcome of normalizing a whole book.
type Result struct {
	Chapters []ChapterResult
	Images   []*Ref // unique, in assignment order
	Warnings []string
}

// Normalizer resolves images against the book filesystem and writes them to
// Sink. A nil Sink resolves and measures without writing.
type Normalizer struct {
	FS   fs.FS
	Root string // content root inside FS
	Sink storage.Adapter
	Log  *slog.Logger
}

// Normalize assigns names chapter by chapter in the given order. The first
// chapter to reference an image names it; the per-chapter index counts
// only images new to the book. Missing source files are warnings; a
// failed write is returned as an error.
func (n *Normalizer) Normalize(ctx context.Context, chapters []Chapter) (*Result, error) {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("stage", "images")

	res := &Result{}
	byPath := make(map[string]*Ref)
	for _, ch := range chapters {
		content := markup.ExpandSelfClosing(ch.Content)
		found := extract(content)
		cr := ChapterResult{Num: ch.Num}
		seen := make(map[string]bool)
		idx := 0
		for _, f := range found {
			ref, ok := byPath[f.path]
			if !ok {
				idx++
				ref = &Ref{
					Original: f.path,
					Name:     fmt.Sprintf("chapter-%02d-image-%02d%s", ch.Num, idx, path.Ext(f.path)),
					Caption:  f.caption,
					Chapter:  ch.Num,
				}
				byPath[f.path] = ref
				res.Images = append(res.Images, ref)
			}
			if !seen[f.path] {
				seen[f.path] = true
				cr.Images = append(cr.Images, ref)
			}
		}
		cr.Content = rewrite(content, byPath)
		res.Chapters = append(res.Chapters, cr)
	}

	for _, ref := range res.Images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, data, ok := n.find(ref.Original)
		if !ok {
			log.Warn("image not found", "path", ref.Original, "name", ref.Name)
			res.Warnings = append(res.Warnings, fmt.Sprintf("image not found: %s", ref.Original))
			continue
		}
		ref.Found = true
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			ref.Width, ref.Height = cfg.Width, cfg.Height
		}
		if n.Sink == nil {
			continue
		}
		if err := storage.PutBytes(ctx, n.Sink, path.Join(Dir, ref.Name), data); err != nil {
			return nil, fmt.Errorf("write image %s: %w", ref.Name, err)
		}
		log.Debug("copied image", "source", src, "name", ref.Name)
	}

	log.Info("images normalized", "images", len(res.Images), "missing", len(res.Warnings))
	return res, nil
}

// Resolve normalizes an image reference: unescaped, fragment removed,
// forward slashes, no leading slash, with . and .. segments collapsed.
// Leading .. segments that climb above the root are dropped.
func Resolve(src string) string {
	if u, err := url.PathUnescape(src); err == nil {
		src = u
	}
	if i := strings.IndexByte(src, '#'); i >= 0 {
		src = src[:i]
	}
	src = strings.ReplaceAll(src, "\\", "/")
	src = strings.TrimLeft(src, "/")

	var stack []string
	for _, seg := range strings.Split(src, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	return strings.Join(stack, "/")
}

func skipSrc(src string) bool {
	s := strings.ToLower(strings.TrimSpace(src))
	return s == "" || strings.HasPrefix(s, "data:") || strings.Contains(s, "://")
}

type found struct {
	path    string
	caption string
}

// extract lists image references in document order with their captions.
func extract(content string) []found {
	doc, err := markup.Parse(content)
	if err != nil {
		return nil
	}
	var out []found
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if src, ok := imageSrc(node); ok && !skipSrc(src) {
				if p := Resolve(src); p != "" {
					out = append(out, found{path: p, caption: caption(node)})
				}
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// imageSrc returns the reference of an <img> or an SVG <image>. The HTML
// parser stores xlink:href as namespace "xlink", key "href".
func imageSrc(node *html.Node) (string, bool) {
	switch {
	case node.Data == "img" && node.Namespace == "":
		return markup.Attr(node, "src")
	case node.Data == "image" && node.Namespace == "svg":
		for _, a := range node.Attr {
			if a.Key == "href" || a.Key == "xlink:href" {
				return a.Val, true
			}
		}
	}
	return "", false
}

func caption(node *html.Node) string {
	fig := markup.Closest(node, "figure")
	if fig == nil {
		return ""
	}
	return markup.Text(markup.First(fig, "figcaption"))
}

// rewrite points every known image reference at its canonical name. Tags
// it does not touch are copied through byte for byte.
func rewrite(content string, byPath map[string]*Ref) string {
	z := html.NewTokenizer(strings.NewReader(content))
	var b strings.Builder
	b.Grow(len(content))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return b.String()
		}
		raw := string(z.Raw())
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			b.WriteString(raw)
			continue
		}
		tok := z.Token()
		if !rewriteAttrs(&tok, byPath) {
			b.WriteString(raw)
			continue
		}
		b.WriteString(tok.String())
	}
}

func rewriteAttrs(tok *html.Token, byPath map[string]*Ref) bool {
	var keys []string
	switch tok.Data {
	case "img":
		keys = []string{"src"}
	case "image":
		keys = []string{"href", "xlink:href"}
	default:
		return false
	}
	changed := false
	for i, a := range tok.Attr {
		key := a.Key
		if a.Namespace != "" {
			key = a.Namespace + ":" + a.Key
		}
		if !containsKey(keys, key) || skipSrc(a.Val) {
			continue
		}
		if ref, ok := byPath[Resolve(a.Val)]; ok {
			tok.Attr[i].Val = RefPrefix + ref.Name
			changed = true
		}
	}
	return changed
}

func containsKey(keys []string, k string) bool {
	for _, v := range keys {
		if v == k {
			return true
		}
	}
	return false
}

// find locates the bytes for a resolved image path in the book filesystem.
func (n *Normalizer) find(p string) (string, []byte, bool) {
	base := path.Base(p)
	candidates := []string{p}
	if n.Root != "" && n.Root != "." {
		candidates = append(candidates, path.Join(n.Root, p))
	}
	for _, dir := range searchDirs {
		candidates = append(candidates, path.Join(dir, base))
		if n.Root != "" && n.Root != "." {
			candidates = append(candidates, path.Join(n.Root, dir, base))
		}
	}
	for _, c := range candidates {
		if data, err := fs.ReadFile(n.FS, c); err == nil {
			return c, data, true
		}
	}

	var hit string
	_ = fs.WalkDir(n.FS, ".", func(q string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if path.Base(q) == base {
			hit = q
			return fs.SkipAll
		}
		return nil
	})
	if hit != "" {
		if data, err := fs.ReadFile(n.FS, hit); err == nil {
			return hit, data, true
		}
	}
	return "", nil, false
}
