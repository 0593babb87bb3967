package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dgallion1/epubnorm/internal/extract"
)

var bookFiles = map[string]string{
	"mimetype": "application/epub+zip",
	"META-INF/container.xml": `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`,
	"OEBPS/content.opf": `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Cli Book</dc:title></metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="c1" href="ch01.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="ch02.xhtml" media-type="application/xhtml+xml"/>
    <item id="fig" href="fig.png" media-type="image/png"/>
  </manifest>
  <spine toc="ncx"><itemref idref="c1"/><itemref idref="c2"/></spine>
</package>`,
	"OEBPS/toc.ncx": `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="n1"><navLabel><text>1. First Steps</text></navLabel><content src="ch01.xhtml"/></navPoint>
    <navPoint id="n2"><navLabel><text>2. Next Steps</text></navLabel><content src="ch02.xhtml"/></navPoint>
  </navMap>
</ncx>`,
	"OEBPS/ch01.xhtml": `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>1</title></head><body><h1>First Steps</h1><p>One two three.</p><img src="fig.png"/></body></html>`,
	"OEBPS/ch02.xhtml": `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>2</title></head><body><h1>Next Steps</h1><p>Four.</p></body></html>`,
	"OEBPS/fig.png": "png-bytes",
}

func writeBook(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "book")
	for name, content := range bookFiles {
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

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	err := run(context.Background(), args, &stdout, io.Discard)
	return stdout.String(), err
}

func TestNormalizeValidateExtract(t *testing.T) {
	book := writeBook(t)
	out := filepath.Join(t.TempDir(), "out")

	stdout, err := runCLI(t, "normalize", "-o", out, book)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "2 chapters, 1 images") {
		t.Errorf("unexpected normalize output %q", stdout)
	}

	stdout, err = runCLI(t, "validate", out)
	if err != nil {
		t.Fatalf("unexpected error: %v (output %q)", err, stdout)
	}
	if !strings.HasSuffix(stdout, "OK\n") {
		t.Errorf("expected OK, got %q", stdout)
	}

	handoff := filepath.Join(t.TempDir(), "handoff.json")
	if _, err := runCLI(t, "extract", "-o", handoff, out, "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(handoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var h extract.Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.CourseSlug != "cli-book" || h.ChapterSlug != "chapter-01-first-steps" {
		t.Errorf("unexpected hand-off %+v", h)
	}
	if h.ImageMap["chapter-01-image-01.png"] != "Images/chapter-01-image-01.png" {
		t.Errorf("unexpected image map %v", h.ImageMap)
	}
}

func TestNormalizeDryRun(t *testing.T) {
	book := writeBook(t)
	out := filepath.Join(t.TempDir(), "out")
	stdout, err := runCLI(t, "normalize", "-dry-run", "-o", out, book)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, `"slug": "chapter-02-next-steps"`) {
		t.Errorf("expected plan on stdout, got %q", stdout)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("expected no output directory, got %v", err)
	}
}

func TestValidateFailure(t *testing.T) {
	stdout, err := runCLI(t, "validate", t.TempDir())
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(stdout, "ERROR: course-plan.json not found") {
		t.Errorf("unexpected output %q", stdout)
	}
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{nil, {"bogus"}, {"validate"}, {"extract", "dir"}} {
		if _, err := runCLI(t, args...); !errors.Is(err, errUsage) {
			t.Errorf("args %v: expected usage error, got %v", args, err)
		}
	}
}

func TestUpdate(t *testing.T) {
	var mu sync.Mutex
	var put map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/courses/cli-book/chapters":
			w.Write([]byte(`[{"id":1,"order":1,"slug":"chapter-01-first-steps"}]`))
		case r.Method == http.MethodPut && r.URL.Path == "/api/courses/cli-book/chapters/chapter-01-first-steps":
			mu.Lock()
			json.NewDecoder(r.Body).Decode(&put)
			mu.Unlock()
			w.Write([]byte("{}"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	t.Setenv("EPUBNORM_CONFIG", "")
	t.Setenv("COURSE_API_URL", srv.URL)
	t.Setenv("COURSE_API_TOKEN", "tok")

	md := filepath.Join(t.TempDir(), "chapter.md")
	if err := os.WriteFile(md, []byte("## Overview\n\nBody text.\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stdout, err := runCLI(t, "update", "-synopsis", "Short.", "cli-book", "1", md)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(stdout, "updated cli-book/chapter-01-first-steps") {
		t.Errorf("unexpected output %q", stdout)
	}
	mu.Lock()
	defer mu.Unlock()
	if content, _ := put["content"].(string); !strings.Contains(content, "<h2") || !strings.Contains(content, "Body text.") {
		t.Errorf("expected rendered content, got %v", put["content"])
	}
	if put["synopsis"] != "Short." {
		t.Errorf("expected synopsis, got %v", put["synopsis"])
	}
}

func TestUpdate_RejectsUnknownContent(t *testing.T) {
	t.Setenv("COURSE_API_TOKEN", "tok")
	txt := filepath.Join(t.TempDir(), "chapter.txt")
	os.WriteFile(txt, []byte("x"), 0o644)
	if _, err := runCLI(t, "update", "course", "1", txt); err == nil || !strings.Contains(err.Error(), "unsupported content file") {
		t.Errorf("expected unsupported content error, got %v", err)
	}
}

func TestImportReplace(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":3}`))
	}))
	defer srv.Close()
	t.Setenv("EPUBNORM_CONFIG", "")
	t.Setenv("COURSE_API_URL", srv.URL)
	t.Setenv("COURSE_API_TOKEN", "tok")

	out := filepath.Join(t.TempDir(), "out")
	if _, err := runCLI(t, "normalize", "-o", out, writeBook(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stdout, err := runCLI(t, "import", "-replace", out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, `"chapters": 2`) {
		t.Errorf("unexpected summary %q", stdout)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) == 0 || calls[0] != "DELETE /api/courses/cli-book" {
		t.Errorf("expected the course to be deleted first, got %v", calls)
	}
}
