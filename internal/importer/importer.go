package importer

import (
	"context"
	"fmt"

	"github.com/dgallion1/epubnorm/internal/plan"
)

// PlaceholderContent is the body of every imported chapter until its
// content is written back.
const PlaceholderContent = "<p>Content will be added in a future step.</p>"

// Summary reports what an import created.
type Summary struct {
	CourseSlug    string `json:"course_slug"`
	CourseCreated bool   `json:"course_created"`
	Parts         int    `json:"parts"`
	Chapters      int    `json:"chapters"`
}

// Import creates the course, its parts and its chapters as described by p.
// An existing course is reused; any other failure stops the import.
func (c *Client) Import(ctx context.Context, p *plan.Plan) (*Summary, error) {
	slug := p.Course.Slug
	log := c.log.With("course", slug)

	created, err := c.CreateCourse(ctx, CourseRequest{Title: p.Course.Title, Slug: slug})
	if err != nil {
		return nil, err
	}
	if created {
		log.Info("course created")
	} else {
		log.Warn("course already exists")
	}
	sum := &Summary{CourseSlug: slug, CourseCreated: created}

	partIDs := make(map[int]int, len(p.Parts))
	for _, part := range p.Parts {
		id, err := c.CreatePart(ctx, slug, PartRequest{Order: part.Order, Title: part.Title})
		if err != nil {
			return sum, fmt.Errorf("part %d: %w", part.Order, err)
		}
		partIDs[part.Order] = id
		sum.Parts++
		log.Debug("part created", "order", part.Order, "id", id)
	}

	for _, part := range p.Parts {
		for _, ch := range part.Chapters {
			err := c.CreateChapter(ctx, slug, ChapterRequest{
				PartID:  partIDs[part.Order],
				Order:   ch.Order,
				Title:   ch.Title,
				Slug:    ch.Slug,
				Content: PlaceholderContent,
			})
			if err != nil {
				return sum, fmt.Errorf("chapter %d: %w", ch.Order, err)
			}
			sum.Chapters++
		}
	}

	log.Info("import complete", "parts", sum.Parts, "chapters", sum.Chapters)
	return sum, nil
}
