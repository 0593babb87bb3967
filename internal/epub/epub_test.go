package epub

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const containerFixture = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const opfFixture = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Systems Design: A Primer</dc:title>
    <dc:creator>Ada Writer</dc:creator>
    <dc:language>fr</dc:language>
    <dc:identifier id="id">urn:isbn:123</dc:identifier>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="c1" href="Text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="Text/ch%202.xhtml" media-type="application/xhtml+xml"/>
    <item id="img" href="Images/fig.png" media-type="image/png"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="c1"/>
    <itemref idref="missing"/>
    <itemref idref="c2"/>
  </spine>
</package>`

const ncxFixture = `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <docTitle><text>Systems Design</text></docTitle>
  <navMap>
    <navPoint id="p1">
      <navLabel><text>I.   Foundations</text></navLabel>
      <content src="Text/ch1.xhtml"/>
      <navPoint id="n1">
        <navLabel><text>1. Basics</text></navLabel>
        <content src="Text/ch1.xhtml#start"/>
      </navPoint>
      <navPoint id="n2">
        <navLabel><text>2. More</text></navLabel>
        <content src="Text/ch%202.xhtml"/>
      </navPoint>
    </navPoint>
  </navMap>
</ncx>`

func page(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>` + title + `</title></head><body>` + body + `</body></html>`
}

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Write([]byte("application/epub+zip"))
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.Close()
	return p
}

func writeDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return dir
}

func packageFixture() map[string]string {
	return map[string]string{
		"META-INF/container.xml": containerFixture,
		"OEBPS/content.opf":      opfFixture,
		"OEBPS/toc.ncx":          ncxFixture,
		"OEBPS/Text/ch1.xhtml":   page("One", "<h1>1. Basics</h1>"),
		"OEBPS/Text/ch 2.xhtml":  page("Two", "<h1>2. More</h1>"),
		"OEBPS/Images/fig.png":   "png",
	}
}

func TestOpen_PackageStrategy(t *testing.T) {
	b, err := Open(writeZip(t, packageFixture()), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	if b.Strategy != "package" {
		t.Errorf("expected package strategy, got %q", b.Strategy)
	}
	if b.Metadata.Title != "Systems Design: A Primer" {
		t.Errorf("expected metadata title, got %q", b.Metadata.Title)
	}
	if b.Metadata.Author == nil || *b.Metadata.Author != "Ada Writer" {
		t.Errorf("expected author Ada Writer, got %v", b.Metadata.Author)
	}
	if b.Metadata.Language != "fr" {
		t.Errorf("expected language fr, got %q", b.Metadata.Language)
	}
	if b.Root != "OEBPS" {
		t.Errorf("expected root OEBPS, got %q", b.Root)
	}
	if len(b.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(b.Documents))
	}
	if b.Documents[0].Href != "Text/ch1.xhtml" || b.Documents[1].Href != "Text/ch 2.xhtml" {
		t.Errorf("unexpected hrefs %q, %q", b.Documents[0].Href, b.Documents[1].Href)
	}
	if b.Documents[1].Order != 2 {
		t.Errorf("expected spine index 2, got %d", b.Documents[1].Order)
	}
	if len(b.Warnings) != 1 {
		t.Errorf("expected 1 warning for the dangling itemref, got %v", b.Warnings)
	}
	if len(b.Images) != 1 || b.Images[0].Href != "Images/fig.png" {
		t.Errorf("unexpected images %+v", b.Images)
	}
}

func TestOpen_NCXNavigation(t *testing.T) {
	b, err := Open(writeZip(t, packageFixture()), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	if len(b.Nav) != 1 {
		t.Fatalf("expected 1 top-level entry, got %d", len(b.Nav))
	}
	part := b.Nav[0]
	if part.Label != "I. Foundations" {
		t.Errorf("expected collapsed label, got %q", part.Label)
	}
	if len(part.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(part.Children))
	}
	if part.Children[0].Src != "Text/ch1.xhtml" {
		t.Errorf("expected fragment stripped, got %q", part.Children[0].Src)
	}
	if part.Children[1].Src != "Text/ch 2.xhtml" {
		t.Errorf("expected unescaped src, got %q", part.Children[1].Src)
	}
	if b.Lookup(part.Children[1].Src) != b.Documents[1] {
		t.Error("expected nav src to resolve to the second document")
	}
	if b.NavTitle != "Systems Design" {
		t.Errorf("expected nav title, got %q", b.NavTitle)
	}
	// Metadata title wins over the navigation title.
	if b.Metadata.Title != "Systems Design: A Primer" {
		t.Errorf("expected metadata title kept, got %q", b.Metadata.Title)
	}
}

func TestOpen_NavDocument(t *testing.T) {
	dir := writeDir(t, map[string]string{
		"content.opf": `<package version="3.0"><metadata/><manifest>
  <item id="nav" href="nav/nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
  <item id="a" href="a.xhtml" media-type="application/xhtml+xml"/>
</manifest><spine><itemref idref="a"/></spine></package>`,
		"a.xhtml": page("A", "<h1>Chapter 1: Start</h1>"),
		"nav/nav.xhtml": page("Nav Title", `<nav epub:type="landmarks"><ol><li><a href="../a.xhtml">Cover</a></li></ol></nav>
<nav epub:type="toc"><ol>
  <li><span>Part I Alpha</span><ol><li><a href="../a.xhtml#x">Chapter 1: Start</a></li></ol></li>
</ol></nav>`),
	})
	b, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Metadata.Title != "Nav Title" {
		t.Errorf("expected nav title to replace Untitled, got %q", b.Metadata.Title)
	}
	if len(b.Nav) != 1 || b.Nav[0].Label != "Part I Alpha" || b.Nav[0].Src != "" {
		t.Fatalf("unexpected nav %+v", b.Nav)
	}
	if len(b.Nav[0].Children) != 1 || b.Nav[0].Children[0].Src != "a.xhtml" {
		t.Errorf("unexpected children %+v", b.Nav[0].Children)
	}
}

func TestOpen_ScanStrategy(t *testing.T) {
	dir := writeDir(t, map[string]string{
		"b.html":        page("Chapter", "<h1>Two</h1>"),
		"a.xhtml":       page("Learning Go: The Hard Parts", "<h1>One</h1>"),
		"toc.xhtml":     page("Contents", `<ol><li><a href="a.xhtml">One</a></li></ol>`),
		"img/cover.jpg": "jpg",
		"styles/x.css":  "body{}",
	})
	b, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Strategy != "scan" {
		t.Errorf("expected scan strategy, got %q", b.Strategy)
	}
	if len(b.Documents) != 2 {
		t.Fatalf("expected toc file excluded, got %d documents", len(b.Documents))
	}
	if b.Documents[0].Path != "a.xhtml" || b.Documents[0].Order != 0 || b.Documents[1].Order != 1 {
		t.Errorf("unexpected order: %+v, %+v", b.Documents[0], b.Documents[1])
	}
	if b.Metadata.Title != "Learning Go: The Hard Parts" {
		t.Errorf("expected guessed title, got %q", b.Metadata.Title)
	}
	if len(b.Images) != 1 || b.Images[0].MediaType != "image/jpeg" {
		t.Errorf("unexpected images %+v", b.Images)
	}
	if len(b.Nav) != 1 || b.Nav[0].Src != "a.xhtml" {
		t.Errorf("expected nav from toc file, got %+v", b.Nav)
	}
}

func TestOpen_NoDocuments(t *testing.T) {
	dir := writeDir(t, map[string]string{"readme.txt": "nothing here"})
	_, err := Open(dir, nil)
	if !errors.Is(err, ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}
}

func TestOpen_DRM(t *testing.T) {
	files := packageFixture()
	files["META-INF/encryption.xml"] = `<encryption xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
<EncryptedData xmlns="http://www.w3.org/2001/04/xmlenc#">
  <EncryptionMethod Algorithm="http://www.w3.org/2001/04/xmlenc#aes128-cbc"/>
  <CipherData><CipherReference URI="OEBPS/Text/ch1.xhtml"/></CipherData>
</EncryptedData></encryption>`
	_, err := Open(writeZip(t, files), nil)
	if !errors.Is(err, ErrDRMProtected) {
		t.Errorf("expected ErrDRMProtected, got %v", err)
	}
}

func TestOpen_FontObfuscationAllowed(t *testing.T) {
	files := packageFixture()
	files["META-INF/encryption.xml"] = `<encryption>
<EncryptedData>
  <EncryptionMethod Algorithm="http://www.idpf.org/2008/embedding"/>
  <CipherData><CipherReference URI="OEBPS/fonts/a.otf"/></CipherData>
</EncryptedData></encryption>`
	b, err := Open(writeZip(t, files), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Close()
}

func TestOpen_Unsupported(t *testing.T) {
	p := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(p, []byte("plain text"), 0o644)
	if _, err := Open(p, nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	b := &Book{Documents: []*Document{
		{Href: "Text/ch01.xhtml", Path: "OEBPS/Text/ch01.xhtml"},
		{Href: "Text/ch02.html", Path: "OEBPS/Text/ch02.html"},
	}}
	tests := []struct {
		ref  string
		want int
	}{
		{"Text/ch01.xhtml", 0},
		{"/OEBPS/Text/ch02.html", 1},
		{"../other/ch01.xhtml", 0},
		{"ch02.xhtml", 1},
		{"missing.xhtml", -1},
	}
	for _, tt := range tests {
		got := b.Lookup(tt.ref)
		if tt.want < 0 {
			if got != nil {
				t.Errorf("Lookup(%q) = %+v, expected nil", tt.ref, got)
			}
			continue
		}
		if got != b.Documents[tt.want] {
			t.Errorf("Lookup(%q) resolved to the wrong document", tt.ref)
		}
	}
}
