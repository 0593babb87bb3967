// Package pipeline runs books through load, detect, images and emit, either
// directly from the CLI or as queued jobs behind the HTTP API.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/dgallion1/epubnorm/internal/detect"
	"github.com/dgallion1/epubnorm/internal/epub"
	"github.com/dgallion1/epubnorm/internal/images"
	"github.com/dgallion1/epubnorm/internal/plan"
	"github.com/dgallion1/epubnorm/internal/slug"
	"github.com/dgallion1/epubnorm/internal/storage"
)

// SourceMapFile lists, per chapter slug, the original files a chapter was
// assembled from.
const SourceMapFile = "source-map.json"

// Options controls a single run.
type Options struct {
	OutputDir string // defaults to {dir(source)}/{slug(title)}-normalized
	DryRun    bool
}

// Result is the outcome of a run.
type Result struct {
	Plan      *plan.Plan
	Warnings  []string
	OutputDir string
	Images    []*images.Ref
}

// SourceMap records where each chapter's content came from.
type SourceMap struct {
	CourseSlug string                  `json:"course_slug"`
	Chapters   map[string]SourceRecord `json:"chapters"`
}

type SourceRecord struct {
	SourceFiles []string `json:"source_files"`
	Images      []string `json:"images"`
}

// Runner executes the normalization pipeline.
type Runner struct {
	// NewSink opens the storage an output directory is written to. Nil
	// means a local directory.
	NewSink func(outputDir string) (storage.Adapter, error)
	Log     *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Log == nil {
		return slog.Default()
	}
	return r.Log
}

// Run normalizes the book at source, a .epub file or an unpacked directory.
func (r *Runner) Run(ctx context.Context, source string, opts Options) (*Result, error) {
	log := r.logger()
	b, err := epub.Open(source, log)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}
	defer b.Close()

	out := opts.OutputDir
	if out == "" {
		out = DefaultOutputDir(source, b.Metadata.Title)
	}

	var sink storage.Adapter
	if !opts.DryRun {
		newSink := r.NewSink
		if newSink == nil {
			newSink = func(dir string) (storage.Adapter, error) { return storage.NewLocalAdapter(dir) }
		}
		sink, err = newSink(out)
		if err != nil {
			return nil, fmt.Errorf("open output %s: %w", out, err)
		}
		defer sink.Close()
	}

	res, err := r.Normalize(ctx, b, sink)
	if err != nil {
		return nil, err
	}
	res.OutputDir = out
	return res, nil
}

// DefaultOutputDir is the sibling directory a book's output goes to when no
// directory is given.
func DefaultOutputDir(source, title string) string {
	name := slug.Make(title)
	if name == "" {
		name = "book"
	}
	return filepath.Join(filepath.Dir(filepath.Clean(source)), name+"-normalized")
}

// Normalize runs detection, image normalization and output on a loaded
// book. With a nil sink nothing is written. The course plan is written
// last; an error before that leaves no plan behind.
func (r *Runner) Normalize(ctx context.Context, b *epub.Book, sink storage.Adapter) (*Result, error) {
	log := r.logger()

	if sink != nil {
		if err := sink.Delete(ctx, plan.FileName); err != nil {
			return nil, fmt.Errorf("remove stale plan: %w", err)
		}
	}

	det := detect.Detect(b, log)

	input := make([]images.Chapter, len(det.Chapters))
	for i, ch := range det.Chapters {
		input[i] = images.Chapter{Num: ch.Num, Content: ch.Content()}
	}
	norm := &images.Normalizer{FS: b.FS, Root: b.Root, Sink: sink, Log: log}
	imgs, err := norm.Normalize(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("images: %w", err)
	}

	p := plan.Build(b.Metadata, det.Parts)
	res := &Result{Plan: p, Images: imgs.Images}
	res.Warnings = append(res.Warnings, b.Warnings...)
	res.Warnings = append(res.Warnings, det.Warnings...)
	res.Warnings = append(res.Warnings, imgs.Warnings...)

	if sink == nil {
		log.Info("dry run, nothing written", "chapters", len(det.Chapters))
		return res, nil
	}

	log = log.With("stage", "emit")
	sm := SourceMap{CourseSlug: p.Course.Slug, Chapters: make(map[string]SourceRecord, len(det.Chapters))}
	for i, ch := range det.Chapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content := wrapXHTML(imgs.Chapters[i].Content, ch.Title)
		key := path.Join(plan.OutputDir, plan.ChapterFile(ch.Num))
		if err := storage.PutBytes(ctx, sink, key, []byte(content)); err != nil {
			return nil, fmt.Errorf("write %s: %w", key, err)
		}
		rec := SourceRecord{SourceFiles: append([]string{}, ch.SourceFiles...), Images: []string{}}
		for _, ref := range imgs.Chapters[i].Images {
			rec.Images = append(rec.Images, ref.Name)
		}
		sm.Chapters[ch.Slug] = rec
	}
	log.Info("chapter files written", "chapters", len(det.Chapters))

	if err := writeJSON(ctx, sink, SourceMapFile, sm); err != nil {
		return nil, err
	}

	data, err := plan.Marshal(p)
	if err != nil {
		return nil, err
	}
	if err := storage.PutBytes(ctx, sink, plan.FileName, data); err != nil {
		return nil, fmt.Errorf("write %s: %w", plan.FileName, err)
	}
	log.Info("course plan written",
		"parts", p.Summary.Parts,
		"chapters", p.Summary.Chapters,
		"images", len(res.Images),
		"warnings", len(res.Warnings),
	)
	return res, nil
}

func writeJSON(ctx context.Context, sink storage.Adapter, key string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := storage.PutBytes(ctx, sink, key, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

const xhtmlShell = `<?xml version='1.0' encoding='utf-8'?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
    <meta charset="utf-8"/>
    <title>%s</title>
</head>
<body>
%s
</body>
</html>
`

// wrapXHTML wraps a chapter body in a minimal XHTML document unless it is
// already a complete one.
func wrapXHTML(content, title string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "<?xml") || strings.HasPrefix(trimmed, "<html") {
		return content
	}
	return fmt.Sprintf(xhtmlShell, html.EscapeString(title), content)
}
