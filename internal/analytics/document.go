// Package analytics computes reader-facing aggregates from stored
// sessions and reconstructed engagement. Every computation here is a
// pure function over already-fetched rows; fetching and caching live in
// Service.
package analytics

import (
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"github.com/KenjiPcx/magneto/internal/store"
)

// DocumentAnalytics is the full per-document dashboard payload.
type DocumentAnalytics struct {
	TotalSessions      int                 `json:"totalSessions"`
	UniqueVisitors     int                 `json:"uniqueVisitors"`
	AverageTimeSpent   int64               `json:"averageTimeSpent"` // seconds
	TotalTimeSpent     int64               `json:"totalTimeSpent"`   // seconds
	AverageScrollDepth int                 `json:"averageScrollDepth"`
	CompletionRate     int                 `json:"completionRate"`
	BounceRate         int                 `json:"bounceRate"`
	RecordingSessions  int                 `json:"recordingSessions"`
	ScrollDistribution []ScrollDepthBucket `json:"scrollDepthDistribution"`
	DailyTrends        []DailyTrend        `json:"dailyTrends"`
	TopReferrers       []ReferrerStat      `json:"topReferrers"`
	DeviceBreakdown    []DeviceStat        `json:"deviceBreakdown"`
}

// ScrollDepthBucket is one quartile of the scroll-depth histogram.
type ScrollDepthBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// DailyTrend is one calendar day of the trailing week.
type DailyTrend struct {
	Date           string `json:"date"` // YYYY-MM-DD
	Sessions       int    `json:"sessions"`
	UniqueVisitors int    `json:"uniqueVisitors"`
	AvgDuration    int64  `json:"avgDuration"` // seconds
	AvgScrollDepth int    `json:"avgScrollDepth"`
}

// ReferrerStat is one traffic source and its share.
type ReferrerStat struct {
	Source     string `json:"source"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// DeviceStat is one device class and its share.
type DeviceStat struct {
	Device     string `json:"device"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

const (
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop"
)

// ComputeDocumentAnalytics aggregates the given sessions into the
// dashboard payload. Sessions are assumed pre-filtered to one document
// and time range. Empty input yields a fully zeroed payload, never nil
// slices.
func ComputeDocumentAnalytics(sessions []store.Session, now time.Time) DocumentAnalytics {
	out := DocumentAnalytics{
		ScrollDistribution: ScrollDepthDistribution(sessions),
		DailyTrends:        DailyTrends(sessions, now),
		TopReferrers:       ReferrerBreakdown(sessions),
		DeviceBreakdown:    DeviceBreakdown(sessions),
	}
	if len(sessions) == 0 {
		return out
	}

	visitors := make(map[string]struct{})
	var totalDuration, totalScroll int64
	var completed, bounced int
	for _, s := range sessions {
		visitors[s.BrowserID] = struct{}{}
		totalDuration += s.DurationSec
		totalScroll += int64(s.MaxScrollPct)
		if s.MaxScrollPct >= 90 {
			completed++
		}
		if s.DurationSec < 10 {
			bounced++
		}
		if s.HasRecording {
			out.RecordingSessions++
		}
	}

	n := len(sessions)
	out.TotalSessions = n
	out.UniqueVisitors = len(visitors)
	out.TotalTimeSpent = totalDuration
	out.AverageTimeSpent = int64(math.Round(float64(totalDuration) / float64(n)))
	out.AverageScrollDepth = roundDiv(totalScroll, int64(n))
	out.CompletionRate = pct(completed, n)
	out.BounceRate = pct(bounced, n)
	return out
}

// ScrollDepthDistribution buckets sessions by max scroll depth into the
// four fixed quartile ranges. 100% lands in the top bucket.
func ScrollDepthDistribution(sessions []store.Session) []ScrollDepthBucket {
	buckets := []ScrollDepthBucket{
		{Range: "0-25%"},
		{Range: "25-50%"},
		{Range: "50-75%"},
		{Range: "75-100%"},
	}
	for _, s := range sessions {
		switch {
		case s.MaxScrollPct < 25:
			buckets[0].Count++
		case s.MaxScrollPct < 50:
			buckets[1].Count++
		case s.MaxScrollPct < 75:
			buckets[2].Count++
		default:
			buckets[3].Count++
		}
	}
	return buckets
}

// DailyTrends returns the trailing seven calendar days, oldest first,
// with zero-filled entries for days without traffic.
func DailyTrends(sessions []store.Session, now time.Time) []DailyTrend {
	type agg struct {
		sessions int
		visitors map[string]struct{}
		duration int64
		scroll   int64
	}
	byDay := make(map[string]*agg)
	for _, s := range sessions {
		day := s.StartTime.In(now.Location()).Format("2006-01-02")
		a, ok := byDay[day]
		if !ok {
			a = &agg{visitors: make(map[string]struct{})}
			byDay[day] = a
		}
		a.sessions++
		a.visitors[s.BrowserID] = struct{}{}
		a.duration += s.DurationSec
		a.scroll += int64(s.MaxScrollPct)
	}

	out := make([]DailyTrend, 0, 7)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for i := 6; i >= 0; i-- {
		day := today.AddDate(0, 0, -i).Format("2006-01-02")
		t := DailyTrend{Date: day}
		if a, ok := byDay[day]; ok {
			t.Sessions = a.sessions
			t.UniqueVisitors = len(a.visitors)
			t.AvgDuration = int64(math.Round(float64(a.duration) / float64(a.sessions)))
			t.AvgScrollDepth = roundDiv(a.scroll, int64(a.sessions))
		}
		out = append(out, t)
	}
	return out
}

// ReferrerBreakdown groups sessions by referrer host and returns the
// top five sources, most frequent first. Sessions without a parseable
// referrer count as Direct.
func ReferrerBreakdown(sessions []store.Session) []ReferrerStat {
	counts := make(map[string]int)
	for _, s := range sessions {
		counts[ReferrerSource(s.Referrer)]++
	}
	out := make([]ReferrerStat, 0, len(counts))
	for source, count := range counts {
		out = append(out, ReferrerStat{
			Source:     source,
			Count:      count,
			Percentage: pct(count, len(sessions)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Source < out[j].Source
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// ReferrerSource reduces a raw referrer URL to its host, dropping a
// leading www. An empty or unparseable referrer is Direct traffic.
func ReferrerSource(referrer string) string {
	if referrer == "" {
		return "Direct"
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return "Direct"
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// DeviceBreakdown groups sessions into Mobile, Tablet and Desktop,
// most frequent first.
func DeviceBreakdown(sessions []store.Session) []DeviceStat {
	counts := make(map[string]int)
	for _, s := range sessions {
		device := s.DeviceType
		if device == "" {
			device = ClassifyDevice(s.UserAgent, s.ViewportWidth)
		}
		counts[device]++
	}
	out := make([]DeviceStat, 0, len(counts))
	for device, count := range counts {
		out = append(out, DeviceStat{
			Device:     device,
			Count:      count,
			Percentage: pct(count, len(sessions)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Device < out[j].Device
	})
	return out
}

// ClassifyDevice decides the device class from the user agent, falling
// back to viewport width when the agent string is inconclusive.
func ClassifyDevice(ua string, viewportWidth int) string {
	if ua != "" {
		parsed := useragent.New(ua)
		if parsed.Mobile() {
			if strings.Contains(strings.ToLower(ua), "ipad") || strings.Contains(strings.ToLower(ua), "tablet") {
				return DeviceTablet
			}
			return DeviceMobile
		}
	}
	if viewportWidth > 0 {
		switch {
		case viewportWidth < 768:
			return DeviceMobile
		case viewportWidth < 1024:
			return DeviceTablet
		}
	}
	return DeviceDesktop
}

func pct(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

func roundDiv(sum, n int64) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}
