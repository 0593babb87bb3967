// Package validate checks a normalized output directory against its course
// plan.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/dgallion1/epubnorm/internal/images"
	"github.com/dgallion1/epubnorm/internal/markup"
	"github.com/dgallion1/epubnorm/internal/plan"
	"github.com/dgallion1/epubnorm/internal/slug"
	"github.com/dgallion1/epubnorm/internal/storage"
)

// Report is the outcome of validating one output directory.
type Report struct {
	Course   string   `json:"course"`
	Parts    int      `json:"parts"`
	Chapters int      `json:"chapters"`
	Images   int      `json:"images"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// OK reports whether validation found no errors. Warnings do not fail it.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Run validates the output in store. Problems with the output are recorded
// in the report; the error is reserved for storage failures.
func Run(ctx context.Context, store storage.Adapter, log *slog.Logger) (*Report, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("stage", "validate")
	rep := &Report{Errors: []string{}, Warnings: []string{}}

	data, err := storage.ReadAll(ctx, store, plan.FileName)
	if errors.Is(err, storage.ErrNotFound) {
		rep.errorf("%s not found", plan.FileName)
		return rep, nil
	}
	if err != nil {
		return nil, err
	}
	p, err := plan.Parse(data)
	if err != nil {
		rep.errorf("%s: %v", plan.FileName, err)
		return rep, nil
	}
	rep.Course = p.Course.Title
	rep.Parts = len(p.Parts)

	stored, err := store.List(ctx, plan.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("list output: %w", err)
	}
	files := make(map[string]bool, len(stored))
	for _, k := range stored {
		files[k] = true
		if strings.HasPrefix(k, images.Dir+"/") {
			rep.Images++
		}
	}
	if rep.Images == 0 {
		rep.warnf("%s is missing or empty", images.Dir)
	}

	chapters := p.Chapters()
	rep.Chapters = len(chapters)
	slugs := make(map[string]bool, len(chapters))
	nums := make(map[int]bool, len(chapters))
	for i, ch := range chapters {
		if slugs[ch.Slug] {
			rep.errorf("duplicate slug: %s", ch.Slug)
		}
		slugs[ch.Slug] = true
		if nums[ch.ChapterNum] {
			rep.errorf("duplicate chapter_num: %d", ch.ChapterNum)
		}
		nums[ch.ChapterNum] = true
		if ch.ChapterNum != i+1 {
			rep.warnf("chapter %q is numbered %d, expected %d", ch.Title, ch.ChapterNum, i+1)
		}
		if len(ch.Slug) > slug.MaxLen {
			rep.warnf("slug longer than %d characters: %s", slug.MaxLen, ch.Slug)
		}

		key := path.Join(plan.OutputDir, ch.SourceFile)
		if ch.SourceFile == "" || !files[key] {
			rep.errorf("chapter file missing: %s (chapter: %s)", ch.SourceFile, ch.Title)
			continue
		}
		if err := checkImages(ctx, store, key, files, rep); err != nil {
			return nil, err
		}
	}

	log.Info("validation complete",
		"chapters", rep.Chapters,
		"images", rep.Images,
		"errors", len(rep.Errors),
		"warnings", len(rep.Warnings),
	)
	return rep, nil
}

// checkImages warns about image references in the chapter at key that do
// not resolve to a stored file.
func checkImages(ctx context.Context, store storage.Adapter, key string, files map[string]bool, rep *Report) error {
	data, err := storage.ReadAll(ctx, store, key)
	if err != nil {
		return err
	}
	root, err := markup.Parse(string(data))
	if err != nil {
		rep.errorf("unparsable chapter file %s: %v", key, err)
		return nil
	}
	for _, img := range markup.All(root, "img") {
		src, _ := markup.Attr(img, "src")
		if src == "" || strings.HasPrefix(src, "data:") || strings.Contains(src, "://") {
			continue
		}
		target := path.Join(path.Dir(key), src)
		if strings.HasPrefix(target, "../") || !files[target] {
			rep.warnf("image not found: %s (in %s)", src, path.Base(key))
		}
	}
	return nil
}
