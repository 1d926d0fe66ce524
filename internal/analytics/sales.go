package analytics

import (
	"math"
	"sort"

	"github.com/KenjiPcx/magneto/internal/store"
)

// Reading patterns classify a single session.
const (
	PatternBounce   = "bounce"
	PatternSkimming = "skimming"
	PatternCareful  = "careful"
	PatternNormal   = "normal"
)

// Interest levels and engagement trends classify a visitor's history.
const (
	InterestHigh   = "High"
	InterestMedium = "Medium"
	InterestLow    = "Low"

	TrendImproving = "Improving"
	TrendDeclining = "Declining"
	TrendStable    = "Stable"
)

// Activity patterns name the hour band a visitor reads in most.
const (
	ActivityBusinessHours = "Business Hours"
	ActivityEvening       = "Evening"
	ActivityEarlyMorning  = "Early Morning"
	ActivityLateNight     = "Late Night"
)

// EngagementScore blends scroll depth and time spent into a 0-100
// score. Duration contributes up to 40 points, saturating at ten
// minutes; scroll depth carries the remaining 60. Monotonic in both
// inputs.
func EngagementScore(avgScrollDepth, avgDurationSec float64) int {
	score := avgScrollDepth*0.6 + math.Min(avgDurationSec/60, 10)*4
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return int(math.Round(score))
}

// ReadingPattern classifies one session by its scroll speed, in
// percent per second. Bounces are checked first so a 5-second visit
// never reads as skimming.
func ReadingPattern(maxScrollPct int, durationSec int64) string {
	if maxScrollPct < 25 && durationSec < 10 {
		return PatternBounce
	}
	d := durationSec
	if d < 1 {
		d = 1
	}
	speed := float64(maxScrollPct) / float64(d)
	switch {
	case speed > 20:
		return PatternSkimming
	case speed < 2:
		return PatternCareful
	default:
		return PatternNormal
	}
}

// InterestLevel grades a visitor's sessions with one document. A single
// deep read outweighs everything else; returning visits or a solid
// average scroll depth signal medium interest.
func InterestLevel(sessions []store.Session) string {
	if len(sessions) == 0 {
		return InterestLow
	}
	var totalScroll int64
	for _, s := range sessions {
		if s.MaxScrollPct > 70 && s.DurationSec > 120 {
			return InterestHigh
		}
		totalScroll += int64(s.MaxScrollPct)
	}
	avgScroll := float64(totalScroll) / float64(len(sessions))
	if len(sessions) >= 2 || avgScroll > 50 {
		return InterestMedium
	}
	return InterestLow
}

// EngagementTrend compares the visitor's two most recent sessions
// against their two earliest. A swing of more than 15 scroll points
// either way breaks Stable.
func EngagementTrend(sessions []store.Session) string {
	if len(sessions) < 2 {
		return TrendStable
	}
	ordered := make([]store.Session, len(sessions))
	copy(ordered, sessions)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StartTime.Before(ordered[j].StartTime)
	})

	head := ordered[:min(2, len(ordered))]
	tail := ordered[max(0, len(ordered)-2):]
	diff := avgScroll(tail) - avgScroll(head)
	switch {
	case diff > 15:
		return TrendImproving
	case diff < -15:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// ActivityPattern names the hour band the visitor reads in most often,
// using local hours of the session start times.
func ActivityPattern(sessions []store.Session) string {
	if len(sessions) == 0 {
		return ActivityBusinessHours
	}
	var hours [24]int
	for _, s := range sessions {
		hours[s.StartTime.Hour()]++
	}
	peak := 0
	for h, n := range hours {
		if n > hours[peak] {
			peak = h
		}
	}
	switch {
	case peak >= 9 && peak < 17:
		return ActivityBusinessHours
	case peak >= 17 && peak < 22:
		return ActivityEvening
	case peak >= 5 && peak < 9:
		return ActivityEarlyMorning
	default:
		return ActivityLateNight
	}
}

// DocumentEngagement is one visitor's rollup for one document.
type DocumentEngagement struct {
	DocumentID      string `json:"documentId"`
	TotalSessions   int    `json:"totalSessions"`
	TotalDuration   int64  `json:"totalDuration"` // seconds
	AvgDuration     int64  `json:"avgDuration"`   // seconds
	AvgScrollDepth  int    `json:"avgScrollDepth"`
	EngagementScore int    `json:"engagementScore"`
	InterestLevel   string `json:"interestLevel"`
	EngagementTrend string `json:"engagementTrend"`
	DeepReads       int    `json:"deepReads"`     // scroll > 70
	QuickScans      int    `json:"quickScans"`    // duration < 30s
	ThoroughReads   int    `json:"thoroughReads"` // deep and > 2 minutes
	ReturningReader bool   `json:"isReturningReader"`
	FirstVisit      int64  `json:"firstVisit"` // unix ms
	LastVisit       int64  `json:"lastVisit"`  // unix ms
}

// VisitorProfile summarizes one browser id across every document.
type VisitorProfile struct {
	BrowserID       string               `json:"browserId"`
	UserID          string               `json:"userId,omitempty"`
	TotalSessions   int                  `json:"totalSessions"`
	DocumentsViewed int                  `json:"documentsViewed"`
	TotalDuration   int64                `json:"totalDuration"` // seconds
	AvgScrollDepth  int                  `json:"avgScrollDepth"`
	EngagementScore int                  `json:"engagementScore"`
	InterestLevel   string               `json:"interestLevel"`
	EngagementTrend string               `json:"engagementTrend"`
	ActivityPattern string               `json:"activityPattern"`
	FirstSeen       int64                `json:"firstSeen"` // unix ms
	LastSeen        int64                `json:"lastSeen"`  // unix ms
	Documents       []DocumentEngagement `json:"documents"`
}

// VisitorProfiles rolls all sessions up per browser id and returns the
// profiles ordered by engagement score, strongest first. Visitors with
// fewer than minSessions sessions are dropped as noise.
func VisitorProfiles(sessions []store.Session, minSessions int) []VisitorProfile {
	byVisitor := make(map[string][]store.Session)
	for _, s := range sessions {
		byVisitor[s.BrowserID] = append(byVisitor[s.BrowserID], s)
	}

	out := make([]VisitorProfile, 0, len(byVisitor))
	for browserID, ss := range byVisitor {
		if len(ss) < minSessions {
			continue
		}
		out = append(out, buildProfile(browserID, ss))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EngagementScore != out[j].EngagementScore {
			return out[i].EngagementScore > out[j].EngagementScore
		}
		return out[i].BrowserID < out[j].BrowserID
	})
	return out
}

// VisitorHistory builds the full profile for one visitor's sessions.
// Returns a zero-session profile when the visitor is unknown.
func VisitorHistory(browserID string, sessions []store.Session) VisitorProfile {
	if len(sessions) == 0 {
		return VisitorProfile{
			BrowserID:       browserID,
			InterestLevel:   InterestLow,
			EngagementTrend: TrendStable,
			ActivityPattern: ActivityBusinessHours,
			Documents:       []DocumentEngagement{},
		}
	}
	return buildProfile(browserID, sessions)
}

func buildProfile(browserID string, sessions []store.Session) VisitorProfile {
	p := VisitorProfile{
		BrowserID:       browserID,
		TotalSessions:   len(sessions),
		InterestLevel:   InterestLevel(sessions),
		EngagementTrend: EngagementTrend(sessions),
		ActivityPattern: ActivityPattern(sessions),
	}

	byDoc := make(map[string][]store.Session)
	var totalScroll int64
	first, last := sessions[0].StartTime, sessions[0].StartTime
	for _, s := range sessions {
		byDoc[s.DocumentID] = append(byDoc[s.DocumentID], s)
		p.TotalDuration += s.DurationSec
		totalScroll += int64(s.MaxScrollPct)
		if s.UserID != "" {
			p.UserID = s.UserID
		}
		if s.StartTime.Before(first) {
			first = s.StartTime
		}
		if s.StartTime.After(last) {
			last = s.StartTime
		}
	}
	p.DocumentsViewed = len(byDoc)
	p.AvgScrollDepth = roundDiv(totalScroll, int64(len(sessions)))
	p.EngagementScore = EngagementScore(
		float64(p.AvgScrollDepth),
		float64(p.TotalDuration)/float64(len(sessions)),
	)
	p.FirstSeen = first.UnixMilli()
	p.LastSeen = last.UnixMilli()

	p.Documents = make([]DocumentEngagement, 0, len(byDoc))
	for docID, ss := range byDoc {
		p.Documents = append(p.Documents, buildDocumentEngagement(docID, ss))
	}
	sort.Slice(p.Documents, func(i, j int) bool {
		if p.Documents[i].LastVisit != p.Documents[j].LastVisit {
			return p.Documents[i].LastVisit > p.Documents[j].LastVisit
		}
		return p.Documents[i].DocumentID < p.Documents[j].DocumentID
	})
	return p
}

func buildDocumentEngagement(docID string, sessions []store.Session) DocumentEngagement {
	de := DocumentEngagement{
		DocumentID:      docID,
		TotalSessions:   len(sessions),
		InterestLevel:   InterestLevel(sessions),
		EngagementTrend: EngagementTrend(sessions),
		ReturningReader: len(sessions) >= 2,
	}

	var totalScroll int64
	first, last := sessions[0].StartTime, sessions[0].StartTime
	for _, s := range sessions {
		de.TotalDuration += s.DurationSec
		totalScroll += int64(s.MaxScrollPct)
		if s.MaxScrollPct > 70 {
			de.DeepReads++
			if s.DurationSec > 120 {
				de.ThoroughReads++
			}
		}
		if s.DurationSec < 30 {
			de.QuickScans++
		}
		if s.StartTime.Before(first) {
			first = s.StartTime
		}
		if s.StartTime.After(last) {
			last = s.StartTime
		}
	}
	de.AvgDuration = int64(math.Round(float64(de.TotalDuration) / float64(len(sessions))))
	de.AvgScrollDepth = roundDiv(totalScroll, int64(len(sessions)))
	de.EngagementScore = EngagementScore(float64(de.AvgScrollDepth), float64(de.AvgDuration))
	de.FirstVisit = first.UnixMilli()
	de.LastVisit = last.UnixMilli()
	return de
}

// RecordingStatusCounts tallies recordings per pipeline state.
type RecordingStatusCounts struct {
	Total      int `json:"total"`
	Recording  int `json:"recording"`
	Completed  int `json:"completed"`
	Processing int `json:"processing"`
	Analyzed   int `json:"analyzed"`
	Failed     int `json:"failed"`
}

// CountRecordingStatuses summarizes pipeline health for one document.
func CountRecordingStatuses(recordings []store.Recording) RecordingStatusCounts {
	c := RecordingStatusCounts{Total: len(recordings)}
	for _, r := range recordings {
		switch r.Status {
		case store.StatusRecording:
			c.Recording++
		case store.StatusCompleted:
			c.Completed++
		case store.StatusProcessing:
			c.Processing++
		case store.StatusAnalyzed:
			c.Analyzed++
		case store.StatusFailed:
			c.Failed++
		}
	}
	return c
}

func avgScroll(sessions []store.Session) float64 {
	if len(sessions) == 0 {
		return 0
	}
	var total int64
	for _, s := range sessions {
		total += int64(s.MaxScrollPct)
	}
	return float64(total) / float64(len(sessions))
}
