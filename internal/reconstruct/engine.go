// Package reconstruct turns one ordered interaction stream into
// per-paragraph engagement and session-level metrics. Reconstruction is
// a pure single pass: the same stream always produces the same result.
package reconstruct

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/KenjiPcx/magneto/internal/event"
)

// Config holds the reconstruction heuristics. Paragraph positions are
// estimated from a fixed height, not measured from the rendered DOM;
// variable-height content degrades accuracy.
type Config struct {
	HoverMinimumMs             int64
	InactivityThresholdMs      int64
	EstimatedParagraphHeightPx int
	FallbackViewportHeightPx   int
}

// DefaultConfig mirrors the documented knobs: 200ms hover minimum, 5s
// inactivity threshold, 100px estimated paragraph height.
func DefaultConfig() Config {
	return Config{
		HoverMinimumMs:             200,
		InactivityThresholdMs:      5000,
		EstimatedParagraphHeightPx: 100,
		FallbackViewportHeightPx:   800,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HoverMinimumMs == 0 {
		c.HoverMinimumMs = d.HoverMinimumMs
	}
	if c.InactivityThresholdMs == 0 {
		c.InactivityThresholdMs = d.InactivityThresholdMs
	}
	if c.EstimatedParagraphHeightPx == 0 {
		c.EstimatedParagraphHeightPx = d.EstimatedParagraphHeightPx
	}
	if c.FallbackViewportHeightPx == 0 {
		c.FallbackViewportHeightPx = d.FallbackViewportHeightPx
	}
	return c
}

// ParagraphEngagement is the derived attention record for one paragraph
// within one session. Durations are milliseconds.
type ParagraphEngagement struct {
	ParagraphID    string `json:"paragraphId"`
	TotalDwellTime int64  `json:"totalDwellTime"`
	ViewCount      int    `json:"viewCount"`
	HoverTime      int64  `json:"hoverTime"`
	ClickCount     int    `json:"clickCount"`
	ScrollPasses   int    `json:"scrollPasses"`
}

// SessionMetrics is the derived session-level record. Durations are
// milliseconds; ScrollDepth is 0-100.
type SessionMetrics struct {
	TotalDuration int64 `json:"totalDuration"`
	ScrollDepth   int   `json:"scrollDepth"`
	ClickCount    int   `json:"clickCount"`
	IdleTime      int64 `json:"idleTime"`
	ActiveTime    int64 `json:"activeTime"`
}

// Result is one session's reconstruction output.
type Result struct {
	ParagraphEngagement []ParagraphEngagement `json:"paragraphEngagement"`
	SessionMetrics      SessionMetrics        `json:"sessionMetrics"`
}

type paragraphState struct {
	dwell        int64
	views        int
	hover        int64
	clicks       int
	scrollPasses int
}

type pass struct {
	cfg Config

	paragraphs  map[string]*paragraphState
	lastVisible map[string]int64 // paragraphId -> timestamp while visible
	hoverStart  map[string]int64

	maxScrollDepth float64
	totalClicks    int
	documentHeight float64
	viewportHeight float64
}

// Run reconstructs the stream. Events are sorted by timestamp first, so
// callers may hand over streams in arrival order. An empty stream yields
// a zeroed result.
func Run(events []event.Event, cfg Config) Result {
	cfg = cfg.withDefaults()
	if len(events) == 0 {
		return Result{ParagraphEngagement: []ParagraphEngagement{}}
	}

	sorted := make([]event.Event, len(events))
	copy(sorted, events)
	event.SortByTimestamp(sorted)

	p := &pass{
		cfg:         cfg,
		paragraphs:  make(map[string]*paragraphState),
		lastVisible: make(map[string]int64),
		hoverStart:  make(map[string]int64),
	}

	for _, ev := range sorted {
		p.apply(ev)
	}

	final := sorted[len(sorted)-1].Timestamp
	p.flush(final)

	total := final - sorted[0].Timestamp
	active := activeTime(sorted, cfg.InactivityThresholdMs)
	idle := total - active
	if idle < 0 {
		idle = 0
	}

	return Result{
		ParagraphEngagement: p.collect(),
		SessionMetrics: SessionMetrics{
			TotalDuration: total,
			ScrollDepth:   int(math.Round(p.maxScrollDepth)),
			ClickCount:    p.totalClicks,
			IdleTime:      idle,
			ActiveTime:    active,
		},
	}
}

func (p *pass) paragraph(id string) *paragraphState {
	st, ok := p.paragraphs[id]
	if !ok {
		st = &paragraphState{}
		p.paragraphs[id] = st
	}
	return st
}

func (p *pass) apply(ev event.Event) {
	switch ev.Kind {
	case event.DomSnapshot, event.Meta:
		if ev.Height > 0 {
			p.documentHeight = ev.Height
		}

	case event.Scroll:
		p.applyScroll(ev)

	case event.MouseMove:
		p.applyMouseMove(ev)

	case event.MouseClick:
		p.totalClicks++
		if ev.ParagraphID != "" {
			p.paragraph(ev.ParagraphID).clicks++
		}
	}
}

func (p *pass) applyScroll(ev event.Event) {
	if ev.DocumentHeight > 0 {
		p.documentHeight = ev.DocumentHeight
	}
	if ev.ViewportHeight > 0 {
		p.viewportHeight = ev.ViewportHeight
	}

	switch {
	case ev.HasPercentage:
		if ev.ScrollPercentage > p.maxScrollDepth {
			p.maxScrollDepth = ev.ScrollPercentage
		}
	case p.documentHeight > 0:
		pct := math.Min(100, ev.ScrollY/p.documentHeight*100)
		if pct > p.maxScrollDepth {
			p.maxScrollDepth = pct
		}
	}

	p.updateVisibility(ev.ScrollY, ev.Timestamp)
}

// updateVisibility re-estimates which paragraphs the viewport covers and
// settles dwell time for the ones that scrolled out.
func (p *pass) updateVisibility(scrollY float64, ts int64) {
	viewport := p.viewportHeight
	if viewport <= 0 {
		viewport = float64(p.cfg.FallbackViewportHeightPx)
	}
	estHeight := float64(p.cfg.EstimatedParagraphHeightPx)

	first := int(math.Floor(scrollY / estHeight))
	last := int(math.Ceil((scrollY + viewport) / estHeight))
	if first < 0 {
		first = 0
	}

	for i := first; i <= last; i++ {
		id := paragraphID(i)
		if _, visible := p.lastVisible[id]; !visible {
			p.lastVisible[id] = ts
			st := p.paragraph(id)
			st.views++
			st.scrollPasses++
		}
	}

	for id, since := range p.lastVisible {
		idx, ok := paragraphIndex(id)
		if !ok || (idx >= first && idx <= last) {
			continue
		}
		p.paragraph(id).dwell += ts - since
		delete(p.lastVisible, id)
	}
}

func (p *pass) applyMouseMove(ev event.Event) {
	if ev.ParagraphID != "" {
		if _, open := p.hoverStart[ev.ParagraphID]; !open {
			p.hoverStart[ev.ParagraphID] = ev.Timestamp
		}
		return
	}
	// Pointer left all paragraphs: settle every open hover, keeping only
	// intervals above the noise floor.
	p.closeHovers(ev.Timestamp)
}

func (p *pass) closeHovers(ts int64) {
	for id, start := range p.hoverStart {
		if d := ts - start; d > p.cfg.HoverMinimumMs {
			p.paragraph(id).hover += d
		}
	}
	p.hoverStart = make(map[string]int64)
}

// flush settles state still open at stream end. Visibility that never
// closed is dwell time, not noise, and must not be dropped.
func (p *pass) flush(final int64) {
	for id, since := range p.lastVisible {
		p.paragraph(id).dwell += final - since
	}
	p.lastVisible = make(map[string]int64)
	p.closeHovers(final)
}

func (p *pass) collect() []ParagraphEngagement {
	out := make([]ParagraphEngagement, 0, len(p.paragraphs))
	for id, st := range p.paragraphs {
		out = append(out, ParagraphEngagement{
			ParagraphID:    id,
			TotalDwellTime: st.dwell,
			ViewCount:      st.views,
			HoverTime:      st.hover,
			ClickCount:     st.clicks,
			ScrollPasses:   st.scrollPasses,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, aok := paragraphIndex(out[i].ParagraphID)
		b, bok := paragraphIndex(out[j].ParagraphID)
		if aok && bok && a != b {
			return a < b
		}
		return out[i].ParagraphID < out[j].ParagraphID
	})
	return out
}

// activeTime sums gaps between consecutive interactive events that fall
// under the inactivity threshold.
func activeTime(sorted []event.Event, thresholdMs int64) int64 {
	var total int64
	var last int64 = -1
	for _, ev := range sorted {
		if !ev.Kind.Interactive() {
			continue
		}
		if last >= 0 {
			if gap := ev.Timestamp - last; gap < thresholdMs {
				total += gap
			}
		}
		last = ev.Timestamp
	}
	return total
}

func paragraphID(i int) string {
	return fmt.Sprintf("paragraph-%d", i)
}

func paragraphIndex(id string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "paragraph-"))
	if err != nil {
		return 0, false
	}
	return n, true
}
