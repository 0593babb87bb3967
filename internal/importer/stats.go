package importer

import (
	"slices"
	"sync"
	"time"
)

// Course service operations, as named in Stats.
const (
	OpCreateCourse  = "create_course"
	OpCreatePart    = "create_part"
	OpCreateChapter = "create_chapter"
	OpListChapters  = "list_chapters"
	OpGetChapter    = "get_chapter"
	OpUpdateChapter = "update_chapter"
	OpDeleteCourse  = "delete_course"
)

// call is one HTTP round trip to the course service. Status 0 means no
// response was received.
type call struct {
	at      time.Time
	op      string
	attempt int
	latency time.Duration
	status  int
}

func (c call) failed() bool {
	return c.status == 0 || c.status == 429 || c.status >= 500
}

func (c call) created() bool {
	return c.status == 200 || c.status == 201
}

// Created counts the resources the course service confirmed creating.
type Created struct {
	Courses  int `json:"courses"`
	Parts    int `json:"parts"`
	Chapters int `json:"chapters"`
}

// Latency summarizes call durations in milliseconds.
type Latency struct {
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// OpStats is the per-operation breakdown of a snapshot.
type OpStats struct {
	Calls  int     `json:"calls"`
	Failed int     `json:"failed"`
	AvgMs  float64 `json:"avg_ms"`
}

// StatsSnapshot aggregates the course service calls in the window.
type StatsSnapshot struct {
	Calls      int                `json:"calls"`
	Failed     int                `json:"failed"`
	Retries    int                `json:"retries"`
	Created    Created            `json:"created"`
	Latency    Latency            `json:"latency"`
	Operations map[string]OpStats `json:"operations"`
}

// Stats keeps the course service calls of a rolling window.
type Stats struct {
	mu     sync.Mutex
	calls  []call
	window time.Duration
}

func NewStats(window time.Duration) *Stats {
	if window <= 0 {
		window = time.Hour
	}
	return &Stats{window: window}
}

// Record adds one round trip of op. attempt counts from 0; later attempts
// are retries.
func (s *Stats) Record(op string, attempt int, d time.Duration, status int) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)
	s.calls = append(s.calls, call{at: now, op: op, attempt: attempt, latency: max(d, 0), status: status})
}

func (s *Stats) Snapshot() StatsSnapshot {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(now)

	snap := StatsSnapshot{Operations: make(map[string]OpStats)}
	if len(s.calls) == 0 {
		return snap
	}

	ms := make([]int64, 0, len(s.calls))
	var total int64
	opTotal := make(map[string]int64)
	for _, c := range s.calls {
		d := c.latency.Milliseconds()
		ms = append(ms, d)
		total += d
		opTotal[c.op] += d

		op := snap.Operations[c.op]
		op.Calls++
		snap.Calls++
		if c.attempt > 0 {
			snap.Retries++
		}
		if c.failed() {
			op.Failed++
			snap.Failed++
		} else if c.created() {
			switch c.op {
			case OpCreateCourse:
				snap.Created.Courses++
			case OpCreatePart:
				snap.Created.Parts++
			case OpCreateChapter:
				snap.Created.Chapters++
			}
		}
		snap.Operations[c.op] = op
	}
	for name, op := range snap.Operations {
		op.AvgMs = float64(opTotal[name]) / float64(op.Calls)
		snap.Operations[name] = op
	}

	slices.Sort(ms)
	snap.Latency = Latency{
		MinMs: ms[0],
		MaxMs: ms[len(ms)-1],
		AvgMs: float64(total) / float64(len(ms)),
		P50Ms: percentile(ms, 50),
		P95Ms: percentile(ms, 95),
		P99Ms: percentile(ms, 99),
	}
	return snap
}

// expireLocked drops calls older than the window. Calls are appended in
// time order, so the expired ones form a prefix.
func (s *Stats) expireLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.calls) && s.calls[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.calls = slices.Delete(s.calls, 0, i)
	}
}

// percentile interpolates between the closest ranks of sorted.
func percentile(sorted []int64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(len(sorted)-1) * min(max(pct, 0), 100) / 100
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := rank - float64(lo)
	return float64(sorted[lo]) + float64(sorted[lo+1]-sorted[lo])*frac
}
