// Package plan defines the course plan: the JSON hand-off that describes the
// recovered part and chapter structure of a normalized book.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgallion1/epubnorm/internal/detect"
	"github.com/dgallion1/epubnorm/internal/epub"
	"github.com/dgallion1/epubnorm/internal/slug"
)

// Output layout.
const (
	FileName  = "course-plan.json"
	OutputDir = "OEBPS/"
)

var ErrInvalid = errors.New("plan: invalid course plan")

type Plan struct {
	Course  Course  `json:"course"`
	Parts   []Part  `json:"parts"`
	Summary Summary `json:"summary"`
}

type Course struct {
	Title     string  `json:"title"`
	Author    *string `json:"author"`
	Slug      string  `json:"slug"`
	OutputDir string  `json:"output_dir"`
}

type Part struct {
	Order    int       `json:"order"`
	Title    string    `json:"title"`
	Chapters []Chapter `json:"chapters"`
}

type Chapter struct {
	ChapterNum int    `json:"chapter_num"`
	Order      int    `json:"order"` // position across the whole course, from 1
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	SourceFile string `json:"source_file"`
	MDXFile    string `json:"mdx_file"`
}

type Summary struct {
	Parts         int `json:"parts"`
	Chapters      int `json:"chapters"`
	TotalMDXFiles int `json:"total_mdx_files"`
}

// ChapterFile is the name of the normalized markup file for chapter num.
func ChapterFile(num int) string {
	return fmt.Sprintf("ch%02d.xhtml", num)
}

// Build assembles the plan for detected parts, which must already be in
// final order.
func Build(meta epub.Metadata, parts []*detect.Part) *Plan {
	p := &Plan{
		Course: Course{
			Title:     meta.Title,
			Author:    meta.Author,
			Slug:      slug.Make(meta.Title),
			OutputDir: OutputDir,
		},
		Parts: make([]Part, 0, len(parts)),
	}
	order := 1
	for _, dp := range parts {
		part := Part{Order: dp.Order, Title: dp.Title, Chapters: make([]Chapter, 0, len(dp.Chapters))}
		for _, ch := range dp.Chapters {
			part.Chapters = append(part.Chapters, Chapter{
				ChapterNum: ch.Num,
				Order:      order,
				Title:      ch.Title,
				Slug:       ch.Slug,
				SourceFile: ChapterFile(ch.Num),
				MDXFile:    fmt.Sprintf("%02d-%s.mdx", order, ch.Slug),
			})
			order++
		}
		p.Parts = append(p.Parts, part)
	}
	chapters := order - 1
	p.Summary = Summary{Parts: len(p.Parts), Chapters: chapters, TotalMDXFiles: chapters}
	return p
}

// Chapters returns every chapter in plan order.
func (p *Plan) Chapters() []Chapter {
	var out []Chapter
	for _, part := range p.Parts {
		out = append(out, part.Chapters...)
	}
	return out
}

// Marshal encodes the plan as indented JSON with a trailing newline.
func Marshal(p *Plan) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes a plan, requiring the course and parts keys.
func Parse(data []byte) (*Plan, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, k := range []string{"course", "parts"} {
		if _, ok := keys[k]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalid, k)
		}
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if p.Parts == nil {
		p.Parts = []Part{}
	}
	return &p, nil
}
