// Command epubnorm normalizes EPUB books into course output directories and
// moves that output into the course service.
//
// Usage:
//
//	epubnorm [-v] normalize [-o dir] [-dry-run] <book.epub|dir>
//	epubnorm [-v] validate <output-dir>
//	epubnorm [-v] import [-replace] <course-plan.json|output-dir>
//	epubnorm [-v] extract [-o file] <output-dir> <chapter-num>
//	epubnorm [-v] update [-synopsis text] <course-slug> <chapter-num> <file.md|file.html>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dgallion1/epubnorm/internal/config"
	"github.com/dgallion1/epubnorm/internal/extract"
	"github.com/dgallion1/epubnorm/internal/importer"
	"github.com/dgallion1/epubnorm/internal/pipeline"
	"github.com/dgallion1/epubnorm/internal/plan"
	"github.com/dgallion1/epubnorm/internal/storage"
	"github.com/dgallion1/epubnorm/internal/validate"
)

const usage = `usage: epubnorm [-v] <command> [flags] [args]

commands:
  normalize [-o dir] [-dry-run] <book.epub|dir>
  validate  <output-dir>
  import    [-replace] <course-plan.json|output-dir>
  extract   [-o file] <output-dir> <chapter-num>
  update    [-synopsis text] <course-slug> <chapter-num> <file.md|file.html>
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "epubnorm:", err)
		}
		os.Exit(1)
	}
}

type cli struct {
	log    *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("epubnorm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	c := &cli{
		log:    slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
		stdout: stdout,
		stderr: stderr,
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "normalize":
		return c.normalize(ctx, rest)
	case "validate":
		return c.validate(ctx, rest)
	case "import":
		return c.importPlan(ctx, rest)
	case "extract":
		return c.extract(ctx, rest)
	case "update":
		return c.update(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return errUsage
	}
}

// flags returns a flag set for a subcommand that reports usage errors
// instead of exiting.
func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() { fmt.Fprint(c.stderr, usage) }
	return fs
}

func (c *cli) parse(fs *flag.FlagSet, args []string, nargs int) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != nargs {
		fs.Usage()
		return errUsage
	}
	return nil
}

func (c *cli) normalize(ctx context.Context, args []string) error {
	fs := c.flags("normalize")
	out := fs.String("o", "", "output directory (default: <source dir>/<slug>-normalized)")
	dryRun := fs.Bool("dry-run", false, "detect and plan without writing output")
	if err := c.parse(fs, args, 1); err != nil {
		return err
	}

	r := &pipeline.Runner{Log: c.log}
	res, err := r.Run(ctx, fs.Arg(0), pipeline.Options{OutputDir: *out, DryRun: *dryRun})
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		c.log.Warn(w)
	}

	if *dryRun {
		data, err := plan.Marshal(res.Plan)
		if err != nil {
			return err
		}
		_, err = c.stdout.Write(data)
		return err
	}
	fmt.Fprintf(c.stdout, "wrote %s: %d parts, %d chapters, %d images, %d warnings\n",
		res.OutputDir, res.Plan.Summary.Parts, res.Plan.Summary.Chapters, len(res.Images), len(res.Warnings))
	return nil
}

func (c *cli) validate(ctx context.Context, args []string) error {
	fs := c.flags("validate")
	if err := c.parse(fs, args, 1); err != nil {
		return err
	}
	store, err := openOutput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := validate.Run(ctx, store, c.log)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "course %q: %d parts, %d chapters, %d images\n",
		report.Course, report.Parts, report.Chapters, report.Images)
	for _, e := range report.Errors {
		fmt.Fprintln(c.stdout, "ERROR:", e)
	}
	for _, w := range report.Warnings {
		fmt.Fprintln(c.stdout, "WARNING:", w)
	}
	if !report.OK() {
		return fmt.Errorf("validation failed with %d errors", len(report.Errors))
	}
	fmt.Fprintln(c.stdout, "OK")
	return nil
}

func (c *cli) importPlan(ctx context.Context, args []string) error {
	fs := c.flags("import")
	replace := fs.Bool("replace", false, "delete the course before importing it")
	if err := c.parse(fs, args, 1); err != nil {
		return err
	}
	p, err := readPlan(fs.Arg(0))
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}

	if *replace {
		if err := client.DeleteCourse(ctx, p.Course.Slug); err != nil {
			return fmt.Errorf("replace %s: %w", p.Course.Slug, err)
		}
		c.log.Info("existing course deleted", "course", p.Course.Slug)
	}

	sum, err := client.Import(ctx, p)
	if err != nil {
		return fmt.Errorf("import %s: %w", p.Course.Slug, err)
	}
	return writeJSON(c.stdout, sum)
}

func (c *cli) extract(ctx context.Context, args []string) error {
	fs := c.flags("extract")
	out := fs.String("o", "", "write the hand-off to this file instead of stdout")
	if err := c.parse(fs, args, 2); err != nil {
		return err
	}
	num, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("chapter number %q: %w", fs.Arg(1), err)
	}
	store, err := openOutput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := storage.ReadAll(ctx, store, plan.FileName)
	if err != nil {
		return err
	}
	p, err := plan.Parse(data)
	if err != nil {
		return err
	}
	h, err := extract.FromFile(ctx, store, p, num)
	if err != nil {
		return err
	}
	c.log.Info("chapter extracted", "chapter", num, "words", h.Content.WordCount, "images", len(h.Content.Images))

	if *out == "" {
		return writeJSON(c.stdout, h)
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := writeJSON(f, h); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (c *cli) update(ctx context.Context, args []string) error {
	fs := c.flags("update")
	synopsis := fs.String("synopsis", "", "chapter synopsis to set")
	if err := c.parse(fs, args, 3); err != nil {
		return err
	}
	courseSlug := fs.Arg(0)
	num, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("chapter number %q: %w", fs.Arg(1), err)
	}
	content, err := chapterHTML(fs.Arg(2))
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return err
	}

	ch, err := client.FindChapter(ctx, courseSlug, num)
	if err != nil {
		return fmt.Errorf("chapter %d of %s: %w", num, courseSlug, err)
	}
	upd := importer.ChapterUpdate{Content: &content}
	if *synopsis != "" {
		upd.Synopsis = synopsis
	}
	if err := client.UpdateChapter(ctx, courseSlug, ch.Slug, upd); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "updated %s/%s (%d bytes)\n", courseSlug, ch.Slug, len(content))
	return nil
}

func (c *cli) client() (*importer.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.CourseAPIToken == "" {
		return nil, errors.New("COURSE_API_TOKEN is required")
	}
	return importer.NewClient(cfg.CourseAPIURL, cfg.CourseAPIToken, cfg.ImportRateLimit, c.log), nil
}

func openOutput(dir string) (storage.Adapter, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return storage.NewLocalAdapter(dir)
}

// readPlan reads a plan file, or the plan inside an output directory.
func readPlan(p string) (*plan.Plan, error) {
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		p = filepath.Join(p, plan.FileName)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return plan.Parse(data)
}

// chapterHTML reads transformed chapter content, rendering markdown and
// sanitizing HTML.
func chapterHTML(name string) (string, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return extract.Render(data)
	case ".html", ".htm", ".xhtml":
		return extract.Sanitize(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported content file %s: want .md or .html", name)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
