package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/html/charset"
)

type containerXML struct {
	XMLName   xml.Name `xml:"container"`
	Rootfiles struct {
		Rootfile []struct {
			FullPath  string `xml:"full-path,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"rootfile"`
	} `xml:"rootfiles"`
}

type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type opfMetadata struct {
	Title      []string `xml:"title"`
	Creator    []string `xml:"creator"`
	Language   []string `xml:"language"`
	Identifier []string `xml:"identifier"`
	Meta       []struct {
		Name    string `xml:"name,attr"`
		Content string `xml:"content,attr"`
	} `xml:"meta"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

const ncxMediaType = "application/x-dtbncx+xml"

// decodeXML unmarshals package-level XML leniently: unknown charsets are
// transcoded and HTML entities are accepted. AutoClose stays off because OPF 3
// uses <meta> and <link> as container elements.
func decodeXML(data []byte, v any) error {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = charset.NewReaderLabel
	d.Strict = false
	d.Entity = xml.HTMLEntity
	return d.Decode(v)
}

// findPackage locates the OPF package document: the container rootfile
// first, then the conventional locations, then any content.opf or *.opf
// found by a sorted walk.
func findPackage(fsys fs.FS) (string, error) {
	if data, err := fs.ReadFile(fsys, "META-INF/container.xml"); err == nil {
		var c containerXML
		if err := decodeXML(data, &c); err == nil {
			for _, rf := range c.Rootfiles.Rootfile {
				if rf.FullPath == "" {
					continue
				}
				if rf.MediaType != "" && rf.MediaType != "application/oebps-package+xml" {
					continue
				}
				p := path.Clean(strings.TrimPrefix(rf.FullPath, "/"))
				if exists(fsys, p) {
					return p, nil
				}
			}
		}
	}

	for _, p := range []string{"content.opf", "OEBPS/content.opf", "OPS/content.opf"} {
		if exists(fsys, p) {
			return p, nil
		}
	}

	if hits := walkMatch(fsys, func(p string) bool { return path.Base(p) == "content.opf" }); len(hits) > 0 {
		return hits[0], nil
	}
	if hits := walkMatch(fsys, func(p string) bool { return strings.EqualFold(path.Ext(p), ".opf") }); len(hits) > 0 {
		return hits[0], nil
	}
	return "", ErrNoPackage
}

func exists(fsys fs.FS, p string) bool {
	info, err := fs.Stat(fsys, p)
	return err == nil && !info.IsDir()
}

// walkMatch returns every regular file accepted by match, sorted by path.
func walkMatch(fsys fs.FS, match func(string) bool) []string {
	var hits []string
	_ = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && match(p) {
			hits = append(hits, p)
		}
		return nil
	})
	sort.Strings(hits)
	return hits
}

// fromPackage loads documents in spine order from the OPF manifest.
func (l *loader) fromPackage() (*Book, error) {
	opfPath, err := findPackage(l.fsys)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(l.fsys, opfPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", opfPath, err)
	}
	var pkg opfPackage
	if err := decodeXML(data, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPackage, opfPath, err)
	}

	root := path.Dir(opfPath)
	b := &Book{
		Metadata: convertMetadata(&pkg.Metadata),
		Root:     root,
		FS:       l.fsys,
		Strategy: "package",
	}
	l.log.Debug("found package document", "path", opfPath, "version", pkg.Version)

	manifest := make(map[string]opfItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		if item.ID == "" || item.Href == "" {
			continue
		}
		manifest[item.ID] = item
		if strings.HasPrefix(item.MediaType, "image/") {
			b.Images = append(b.Images, Image{ID: item.ID, Href: cleanHref(item.Href), MediaType: item.MediaType})
		}
		if item.MediaType == ncxMediaType || item.ID == pkg.Spine.Toc {
			l.ncxHints = append(l.ncxHints, joinRoot(root, cleanHref(item.Href)))
		}
		if hasProperty(item.Properties, "nav") {
			l.navHints = append(l.navHints, joinRoot(root, cleanHref(item.Href)))
		}
	}

	for idx, ref := range pkg.Spine.ItemRefs {
		item, ok := manifest[ref.IDRef]
		if !ok {
			l.log.Warn("spine item not in manifest", "idref", ref.IDRef)
			b.warn(fmt.Sprintf("spine item %q not in manifest", ref.IDRef))
			continue
		}
		href := cleanHref(item.Href)
		p := joinRoot(root, href)
		content, err := l.readDocument(p)
		if err != nil {
			l.log.Warn("skipping document", "path", p, "error", err)
			b.warn(fmt.Sprintf("skipped %s: %v", p, err))
			continue
		}
		b.Documents = append(b.Documents, &Document{
			ID:        item.ID,
			Href:      href,
			Path:      p,
			Order:     idx,
			Content:   content,
			MediaType: item.MediaType,
		})
	}
	return b, nil
}

func convertMetadata(m *opfMetadata) Metadata {
	meta := Metadata{Title: DefaultTitle, Language: DefaultLanguage}
	if s := first(m.Title); s != "" {
		meta.Title = s
	}
	author := first(m.Creator)
	if author == "" {
		author = metaContent(m, "author")
	}
	if author != "" {
		meta.Author = &author
	}
	if s := first(m.Language); s != "" {
		meta.Language = s
	}
	if s := first(m.Identifier); s != "" {
		meta.Identifier = &s
	}
	return meta
}

func first(values []string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func metaContent(m *opfMetadata, name string) string {
	for _, mt := range m.Meta {
		if strings.EqualFold(mt.Name, name) {
			if s := strings.TrimSpace(mt.Content); s != "" {
				return s
			}
		}
	}
	return ""
}

func hasProperty(props, want string) bool {
	for _, p := range strings.Fields(props) {
		if p == want {
			return true
		}
	}
	return false
}

// cleanHref strips any fragment, unescapes and cleans a manifest or link
// reference.
func cleanHref(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	if u, err := url.PathUnescape(href); err == nil {
		href = u
	}
	href = strings.ReplaceAll(href, "\\", "/")
	if href == "" {
		return ""
	}
	return path.Clean(href)
}

func joinRoot(root, href string) string {
	if root == "" || root == "." {
		return path.Clean(href)
	}
	return path.Join(root, href)
}

// relToRoot expresses an FS path relative to the content root. Paths outside
// the root are returned unchanged.
func relToRoot(root, p string) string {
	if root == "" || root == "." {
		return p
	}
	if rest, ok := strings.CutPrefix(p, root+"/"); ok {
		return rest
	}
	return p
}
