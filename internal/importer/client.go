// Package importer talks to the course service: it creates the course
// skeleton described by a course plan and reads and updates chapters.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the course service has no such resource.
var ErrNotFound = errors.New("importer: not found")

// Client communicates with the course service HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	stats      *Stats
	log        *slog.Logger
	backoff    func(attempt int) time.Duration
}

// NewClient creates a client that issues at most ratePerSec requests per
// second.
func NewClient(baseURL, token string, ratePerSec float64, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	burst := int(ratePerSec * 2)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		stats:   NewStats(time.Hour),
		log:     log,
		backoff: Backoff,
	}
}

// Stats returns the client's call statistics.
func (c *Client) Stats() *Stats {
	return c.stats
}

// CourseRequest is the body for POST /api/courses.
type CourseRequest struct {
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	Description *string `json:"description"`
}

// PartRequest is the body for POST /api/courses/{slug}/parts.
type PartRequest struct {
	Order       int    `json:"order"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ChapterRequest is the body for POST /api/courses/{slug}/chapters.
type ChapterRequest struct {
	PartID  int    `json:"part_id"`
	Order   int    `json:"order"`
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Content string `json:"content"`
}

// ChapterUpdate is the body for PUT /api/courses/{slug}/chapters/{chapter}.
// Nil fields are left unchanged.
type ChapterUpdate struct {
	Content  *string `json:"content,omitempty"`
	Synopsis *string `json:"synopsis,omitempty"`
}

// Chapter is a chapter as returned by the course service.
type Chapter struct {
	ID       int    `json:"id"`
	PartID   int    `json:"part_id"`
	Order    int    `json:"order"`
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	Content  string `json:"content,omitempty"`
	Synopsis string `json:"synopsis,omitempty"`
}

type partResponse struct {
	ID int `json:"id"`
}

// CreateCourse creates a course. A course that already exists is not an
// error; created reports which case occurred.
func (c *Client) CreateCourse(ctx context.Context, req CourseRequest) (created bool, err error) {
	status, body, err := c.do(ctx, OpCreateCourse, http.MethodPost, "/api/courses", req)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		return true, nil
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), "already exists"):
		return false, nil
	default:
		return false, statusError("create course", status, body)
	}
}

// CreatePart creates a part and returns its ID.
func (c *Client) CreatePart(ctx context.Context, courseSlug string, req PartRequest) (int, error) {
	status, body, err := c.do(ctx, OpCreatePart, http.MethodPost, coursePath(courseSlug, "parts"), req)
	if err != nil {
		return 0, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return 0, statusError("create part", status, body)
	}
	var resp partResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode part: %w", err)
	}
	return resp.ID, nil
}

// CreateChapter creates a chapter.
func (c *Client) CreateChapter(ctx context.Context, courseSlug string, req ChapterRequest) error {
	status, body, err := c.do(ctx, OpCreateChapter, http.MethodPost, coursePath(courseSlug, "chapters"), req)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return statusError("create chapter "+req.Slug, status, body)
	}
	return nil
}

// ListChapters returns the chapters of a course.
func (c *Client) ListChapters(ctx context.Context, courseSlug string) ([]Chapter, error) {
	status, body, err := c.do(ctx, OpListChapters, http.MethodGet, coursePath(courseSlug, "chapters"), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("course %s: %w", courseSlug, ErrNotFound)
	}
	if status != http.StatusOK {
		return nil, statusError("list chapters", status, body)
	}
	var chapters []Chapter
	if err := json.Unmarshal(body, &chapters); err != nil {
		return nil, fmt.Errorf("decode chapters: %w", err)
	}
	return chapters, nil
}

// GetChapter returns one chapter with its content.
func (c *Client) GetChapter(ctx context.Context, courseSlug, chapterSlug string) (*Chapter, error) {
	status, body, err := c.do(ctx, OpGetChapter, http.MethodGet, coursePath(courseSlug, "chapters", chapterSlug), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("chapter %s/%s: %w", courseSlug, chapterSlug, ErrNotFound)
	}
	if status != http.StatusOK {
		return nil, statusError("get chapter", status, body)
	}
	var ch Chapter
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("decode chapter: %w", err)
	}
	return &ch, nil
}

// FindChapter returns the chapter whose order is num.
func (c *Client) FindChapter(ctx context.Context, courseSlug string, num int) (*Chapter, error) {
	chapters, err := c.ListChapters(ctx, courseSlug)
	if err != nil {
		return nil, err
	}
	for _, ch := range chapters {
		if ch.Order == num {
			return c.GetChapter(ctx, courseSlug, ch.Slug)
		}
	}
	return nil, fmt.Errorf("chapter %d of %s: %w", num, courseSlug, ErrNotFound)
}

// UpdateChapter replaces a chapter's content and/or synopsis.
func (c *Client) UpdateChapter(ctx context.Context, courseSlug, chapterSlug string, req ChapterUpdate) error {
	status, body, err := c.do(ctx, OpUpdateChapter, http.MethodPut, coursePath(courseSlug, "chapters", chapterSlug), req)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("chapter %s/%s: %w", courseSlug, chapterSlug, ErrNotFound)
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return statusError("update chapter", status, body)
	}
	return nil
}

// DeleteCourse removes a course and everything in it.
func (c *Client) DeleteCourse(ctx context.Context, courseSlug string) error {
	status, body, err := c.do(ctx, OpDeleteCourse, http.MethodDelete, coursePath(courseSlug), nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return statusError("delete course", status, body)
	}
	return nil
}

func coursePath(slug string, rest ...string) string {
	p := "/api/courses/" + url.PathEscape(slug)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

// do sends a JSON request for op, retrying rate-limit and server errors
// with backoff. It returns the final status and body.
func (c *Client) do(ctx context.Context, op, method, p string, payload any) (int, []byte, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := range MaxAttempts {
		status, body, err := c.once(ctx, op, attempt, method, p, data)
		if err == nil {
			return status, body, nil
		}
		lastErr = err
		var re *RetryableError
		if !errors.As(err, &re) || attempt == MaxAttempts-1 {
			break
		}
		wait := max(c.backoff(attempt), re.RetryAfter)
		c.log.Warn("retrying course service call", "op", op, "path", p, "attempt", attempt+1, "wait", wait, "status", re.StatusCode)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
	return 0, nil, lastErr
}

func (c *Client) once(ctx context.Context, op string, attempt int, method, p string, data []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if data != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.stats.Record(op, attempt, time.Since(start), 0)
		return 0, nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		c.stats.Record(op, attempt, time.Since(start), 0)
		return 0, nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	c.stats.Record(op, attempt, time.Since(start), resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return 0, nil, &RetryableError{
			Op:         op,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Body:       string(respBody),
		}
	}
	return resp.StatusCode, respBody, nil
}

func statusError(op string, status int, body []byte) error {
	return fmt.Errorf("%s: status %d: %s", op, status, truncate(string(body), 1024))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
