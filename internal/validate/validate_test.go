package validate

import (
	"context"
	"strings"
	"testing"

	"github.com/dgallion1/epubnorm/internal/plan"
	"github.com/dgallion1/epubnorm/internal/storage"
)

func newStore(t *testing.T, files map[string]string) storage.Adapter {
	t.Helper()
	store, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for k, v := range files {
		if err := storage.PutBytes(context.Background(), store, k, []byte(v)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return store
}

func planJSON(t *testing.T, chapters ...plan.Chapter) string {
	t.Helper()
	p := &plan.Plan{
		Course: plan.Course{Title: "Book", Slug: "book", OutputDir: plan.OutputDir},
		Parts:  []plan.Part{{Order: 0, Title: "General", Chapters: chapters}},
	}
	data, err := plan.Marshal(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return string(data)
}

func chapter(num int, slug string) plan.Chapter {
	return plan.Chapter{ChapterNum: num, Order: num, Title: slug, Slug: slug, SourceFile: plan.ChapterFile(num)}
}

func hasMessage(list []string, sub string) bool {
	for _, m := range list {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

func TestRun_CleanOutput(t *testing.T) {
	store := newStore(t, map[string]string{
		plan.FileName:                          planJSON(t, chapter(1, "chapter-01-a"), chapter(2, "chapter-02-b")),
		"OEBPS/ch01.xhtml":                     `<html><body><img src="Images/chapter-01-image-01.png"/></body></html>`,
		"OEBPS/ch02.xhtml":                     `<html><body><p>text</p></body></html>`,
		"OEBPS/Images/chapter-01-image-01.png": "png",
	})
	rep, err := Run(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rep.OK() || len(rep.Warnings) != 0 {
		t.Errorf("expected a clean report, got errors %v warnings %v", rep.Errors, rep.Warnings)
	}
	if rep.Chapters != 2 || rep.Images != 1 {
		t.Errorf("unexpected counts %+v", rep)
	}
}

func TestRun_MissingPlan(t *testing.T) {
	rep, err := Run(context.Background(), newStore(t, nil), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.OK() || !hasMessage(rep.Errors, "not found") {
		t.Errorf("expected missing plan error, got %v", rep.Errors)
	}
}

func TestRun_InvalidPlan(t *testing.T) {
	for name, body := range map[string]string{
		"unparsable": "{not json",
		"no parts":   `{"course": {}}`,
	} {
		t.Run(name, func(t *testing.T) {
			rep, err := Run(context.Background(), newStore(t, map[string]string{plan.FileName: body}), nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rep.OK() {
				t.Error("expected an error")
			}
		})
	}
}

func TestRun_Errors(t *testing.T) {
	store := newStore(t, map[string]string{
		plan.FileName:      planJSON(t, chapter(1, "dup"), chapter(1, "dup"), chapter(3, "gone")),
		"OEBPS/ch01.xhtml": `<html><body></body></html>`,
	})
	rep, err := Run(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasMessage(rep.Errors, "duplicate slug: dup") {
		t.Errorf("expected duplicate slug error, got %v", rep.Errors)
	}
	if !hasMessage(rep.Errors, "duplicate chapter_num: 1") {
		t.Errorf("expected duplicate number error, got %v", rep.Errors)
	}
	if !hasMessage(rep.Errors, "chapter file missing: ch03.xhtml") {
		t.Errorf("expected missing file error, got %v", rep.Errors)
	}
}

func TestRun_Warnings(t *testing.T) {
	long := strings.Repeat("a", 90)
	store := newStore(t, map[string]string{
		plan.FileName:      planJSON(t, chapter(2, long)),
		"OEBPS/ch02.xhtml": `<html><body><img src="Images/nope.png"/><img src="data:image/png;base64,AA=="/></body></html>`,
	})
	rep, err := Run(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rep.OK() {
		t.Errorf("expected warnings only, got errors %v", rep.Errors)
	}
	for _, want := range []string{"image not found: Images/nope.png", "missing or empty", "numbered 2, expected 1", "slug longer than 80"} {
		if !hasMessage(rep.Warnings, want) {
			t.Errorf("expected warning %q, got %v", want, rep.Warnings)
		}
	}
	if len(rep.Warnings) != 4 {
		t.Errorf("expected 4 warnings, got %v", rep.Warnings)
	}
}
