package detect

import (
	"strings"
	"testing"

	"github.com/dgallion1/epubnorm/internal/epub"
	"github.com/dgallion1/epubnorm/internal/slug"
)

func doc(href, body string) *epub.Document {
	return &epub.Document{
		Href:    href,
		Path:    "OEBPS/" + href,
		Content: "<html><head><title>" + href + "</title></head><body>" + body + "</body></html>",
	}
}

func nav(label, src string, children ...*epub.NavNode) *epub.NavNode {
	return &epub.NavNode{Label: label, Src: src, Children: children}
}

func titles(chs []*Chapter) []string {
	var out []string
	for _, ch := range chs {
		out = append(out, ch.Title)
	}
	return out
}

func TestDetect_TOCPartsAndNumbering(t *testing.T) {
	b := &epub.Book{
		Documents: []*epub.Document{
			doc("pre.xhtml", "<h1>Preface</h1>"),
			doc("c1.xhtml", "<h1>One</h1>"),
			doc("c2.xhtml", "<h1>Two</h1>"),
			doc("c3.xhtml", "<h1>Three</h1>"),
		},
		Nav: []*epub.NavNode{
			nav("Chapter 1: Preface", "pre.xhtml"),
			nav("II. Later", "",
				nav("3. Three", "c3.xhtml"),
			),
			nav("I. Earlier", "",
				nav("1. One", "c1.xhtml", nav("1.1 Sub", "c1.xhtml")),
				nav("", "", nav("2. Two", "c2.xhtml")),
			),
		},
	}
	res := Detect(b, nil)

	if len(res.Parts) != 2 {
		t.Fatalf("expected 2 parts after dropping the front-matter part, got %d", len(res.Parts))
	}
	if res.Parts[0].Title != "Earlier" || res.Parts[0].Order != 1 {
		t.Errorf("expected part I first, got %+v", res.Parts[0])
	}
	got := strings.Join(titles(res.Chapters), ",")
	if got != "One,Two,Three" {
		t.Fatalf("expected chapters in part order, got %s", got)
	}
	for i, ch := range res.Chapters {
		if ch.Num != i+1 {
			t.Errorf("expected chapter %d to be numbered %d, got %d", i, i+1, ch.Num)
		}
	}
	if res.Chapters[2].Declared != 3 || res.Chapters[2].PartOrder != 2 {
		t.Errorf("unexpected provenance %+v", res.Chapters[2])
	}
	if res.Chapters[0].Slug != "chapter-01-one" {
		t.Errorf("expected slug chapter-01-one, got %q", res.Chapters[0].Slug)
	}
	if !strings.Contains(res.Chapters[0].Content(), "<h1>One</h1>") {
		t.Errorf("expected chapter content, got %q", res.Chapters[0].Content())
	}
}

func TestDetect_ImplicitGeneralPart(t *testing.T) {
	b := &epub.Book{
		Documents: []*epub.Document{doc("a.xhtml", "<h1>A</h1>")},
		Nav:       []*epub.NavNode{nav("Chapter 1: Getting Started", "a.xhtml")},
	}
	res := Detect(b, nil)
	if len(res.Parts) != 1 || res.Parts[0].Order != GeneralOrder || res.Parts[0].Title != GeneralTitle {
		t.Fatalf("expected implicit General part, got %+v", res.Parts)
	}
	if res.Chapters[0].Title != "Getting Started" {
		t.Errorf("expected title Getting Started, got %q", res.Chapters[0].Title)
	}
}

func TestDetect_FrontMatterPolicy(t *testing.T) {
	b := &epub.Book{
		Documents: []*epub.Document{
			doc("a.xhtml", ""), doc("b.xhtml", ""), doc("c.xhtml", ""),
		},
		Nav: []*epub.NavNode{
			nav("Chapter 1: Preface", "a.xhtml"),
			nav("Chapter 2: Introduction", "b.xhtml"),
			nav("Chapter 3: Introduction to Databases", "c.xhtml"),
		},
	}
	res := Detect(b, nil)
	if len(res.Chapters) != 1 || res.Chapters[0].Title != "Introduction to Databases" {
		t.Fatalf("expected only the databases chapter, got %v", titles(res.Chapters))
	}
	if res.Chapters[0].Num != 1 {
		t.Errorf("expected renumbering to 1, got %d", res.Chapters[0].Num)
	}
}

func TestIsFrontMatter(t *testing.T) {
	tests := []struct {
		title string
		want  bool
	}{
		{"Preface", true},
		{"Preface to the Second Edition", true},
		{"Foreword", true},
		{"Acknowledgements", true},
		{"Copyright Page", true},
		{"About the Author", true},
		{"Contents", true},
		{"Introduction", true},
		{"  INTRODUCTION ", true},
		{"Introduction to Databases", false},
		{"Contents of Memory", true},
		{"Brief Contents", true},
		{"Concurrency", false},
	}
	for _, tt := range tests {
		if got := IsFrontMatter(tt.title); got != tt.want {
			t.Errorf("IsFrontMatter(%q) = %v, expected %v", tt.title, got, tt.want)
		}
	}
}

func TestDetect_SplitFiles(t *testing.T) {
	b := &epub.Book{
		Documents: []*epub.Document{
			doc("Text/book_split_000.xhtml", "<h1>First</h1>"),
			doc("Text/book_split_001.xhtml", "<p>continued</p>"),
			doc("Text/other.xhtml", "<h1>Other</h1>"),
		},
		Nav: []*epub.NavNode{
			nav("1. First", "Text/book_split_000.xhtml"),
			nav("2. First continued", "Text/book_split_001.xhtml"),
			nav("3. Other", "Text/other.xhtml"),
		},
	}
	res := Detect(b, nil)
	if len(res.Chapters) != 2 {
		t.Fatalf("expected split part folded into its anchor, got %v", titles(res.Chapters))
	}
	ch := res.Chapters[0]
	want := []string{"Text/book_split_000.xhtml", "Text/book_split_001.xhtml"}
	if len(ch.SourceFiles) != 2 || ch.SourceFiles[0] != want[0] || ch.SourceFiles[1] != want[1] {
		t.Errorf("expected sources %v, got %v", want, ch.SourceFiles)
	}
	content := ch.Content()
	if i, j := strings.Index(content, "First"), strings.Index(content, "continued"); i < 0 || j < i {
		t.Errorf("expected split content in order, got %q", content)
	}
	if res.Chapters[1].Num != 2 {
		t.Errorf("expected dense numbering after the drop, got %d", res.Chapters[1].Num)
	}
}

func TestDetect_SplitPartWithoutAnchorDropped(t *testing.T) {
	b := &epub.Book{
		Documents: []*epub.Document{
			doc("x_split_003.xhtml", "<h1>Late</h1>"),
			doc("y.xhtml", "<h1>Kept</h1>"),
		},
		Nav: []*epub.NavNode{
			nav("4. Late", "x_split_003.xhtml"),
			nav("5. Kept", "y.xhtml"),
		},
	}
	res := Detect(b, nil)
	if got := strings.Join(titles(res.Chapters), ","); got != "Kept" {
		t.Errorf("expected split part without anchor to be dropped, got %q", got)
	}
	if res.Chapters[0].Num != 1 {
		t.Errorf("expected dense numbering, got %d", res.Chapters[0].Num)
	}
}

func TestDetect_SectionMerge(t *testing.T) {
	b := &epub.Book{
		Documents: []*epub.Document{
			doc("Text/ch01.xhtml", `<h1>Intro</h1><a href="s02.xhtml#x">b</a><a href="s01.xhtml">a</a><a href="gone.xhtml">c</a><a href="ch02.xhtml">next</a>`),
			doc("Text/s01.xhtml", "<p>section one</p>"),
			doc("Text/s02.xhtml", "<p>section two</p>"),
			doc("Text/ch02.xhtml", "<h1>Next</h1>"),
		},
		Nav: []*epub.NavNode{
			nav("1. Basics", "Text/ch01.xhtml"),
			nav("2. Next", "Text/ch02.xhtml"),
		},
	}
	res := Detect(b, nil)
	ch := res.Chapters[0]
	want := "Text/ch01.xhtml,Text/ch02.xhtml,Text/s01.xhtml,Text/s02.xhtml"
	if got := strings.Join(ch.SourceFiles, ","); got != want {
		t.Errorf("expected sources %s, got %s", want, got)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "gone.xhtml") {
		t.Errorf("expected one warning for the missing section, got %v", res.Warnings)
	}
	if !strings.Contains(ch.Content(), "section two") {
		t.Error("expected linked section content to be merged")
	}
	if len(res.Chapters) != 2 || res.Chapters[1].SourceFiles[0] != "Text/ch02.xhtml" {
		t.Errorf("expected the linked chapter to keep its own entry, got %v", titles(res.Chapters))
	}
}

func TestDetect_ContentDriven(t *testing.T) {
	b := &epub.Book{
		Documents: []*epub.Document{
			doc("cover.xhtml", "<p>cover</p>"),
			doc("ch01.xhtml", "<h1>1. Setup</h1>"),
			doc("p2.xhtml", "<h1>Part II: Advanced</h1>"),
			doc("x.xhtml", `<section epub:type="chapter"><h1>Chapter 7: Threads</h1></section>`),
			doc("y.xhtml", `<section epub:type="bodymatter chapter"><p>no heading</p></section>`),
		},
	}
	for i, d := range b.Documents {
		d.Order = i
	}
	res := Detect(b, nil)
	if len(res.Parts) != 2 {
		t.Fatalf("expected General and Part II, got %+v", res.Parts)
	}
	if res.Parts[1].Order != 2 || res.Parts[1].Title != "Advanced" {
		t.Errorf("unexpected part %+v", res.Parts[1])
	}
	got := strings.Join(titles(res.Chapters), ",")
	if got != "Setup,Threads,y.xhtml" {
		t.Errorf("unexpected chapters %s", got)
	}
	if res.Chapters[1].Declared != 7 {
		t.Errorf("expected declared number 7, got %d", res.Chapters[1].Declared)
	}
}

func TestDetect_SelfClosingHeadElements(t *testing.T) {
	b := &epub.Book{
		Documents: []*epub.Document{
			{Href: "ch01.xhtml", Path: "OEBPS/ch01.xhtml", Content: `<html><head><title/></head><body><h1>1. Setup</h1></body></html>`},
			{Href: "ch02.xhtml", Path: "OEBPS/ch02.xhtml", Order: 1, Content: `<html><head><title>x</title><script src="app.js"/></head><body><h1>2. Usage</h1></body></html>`},
		},
	}
	res := Detect(b, nil)
	if got := strings.Join(titles(res.Chapters), ","); got != "Setup,Usage" {
		t.Errorf("expected headings after self-closing head elements, got %q", got)
	}
}

func TestDetect_EmptyBook(t *testing.T) {
	b := &epub.Book{Documents: []*epub.Document{doc("notes.xhtml", "<p>Just prose.</p>")}}
	res := Detect(b, nil)
	if len(res.Chapters) != 0 || len(res.Parts) != 0 {
		t.Fatalf("expected empty result, got %d chapters", len(res.Chapters))
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected a warning, got %v", res.Warnings)
	}
}

func TestDetect_SlugsUniqueAndCapped(t *testing.T) {
	long := strings.Repeat("distributed consensus ", 8)
	b := &epub.Book{
		Documents: []*epub.Document{doc("a.xhtml", ""), doc("b.xhtml", "")},
		Nav: []*epub.NavNode{
			nav("1. "+long, "a.xhtml"),
			nav("2. "+long, "b.xhtml"),
		},
	}
	res := Detect(b, nil)
	seen := map[string]bool{}
	for _, ch := range res.Chapters {
		if len(ch.Slug) > slug.MaxLen {
			t.Errorf("slug %q exceeds %d characters", ch.Slug, slug.MaxLen)
		}
		if seen[ch.Slug] {
			t.Errorf("duplicate slug %q", ch.Slug)
		}
		seen[ch.Slug] = true
	}
}
