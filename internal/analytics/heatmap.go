package analytics

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/KenjiPcx/magneto/internal/store"
)

// HeatLevel grades a paragraph's attention relative to the hottest
// paragraph in the same window, so heat stays meaningful for both
// low- and high-traffic documents.
type HeatLevel string

const (
	HeatVeryHot HeatLevel = "very_hot"
	HeatHot     HeatLevel = "hot"
	HeatWarm    HeatLevel = "warm"
	HeatCold    HeatLevel = "cold"
)

// ParagraphHeat is one paragraph's cross-session aggregate.
type ParagraphHeat struct {
	ParagraphID    string    `json:"paragraphId"`
	TotalDwellTime int64     `json:"totalDwellTime"` // ms
	AvgDwellTime   int64     `json:"avgDwellTime"`   // ms per session that saw it
	ViewCount      int       `json:"viewCount"`
	HoverTime      int64     `json:"hoverTime"`
	ClickCount     int       `json:"clickCount"`
	SessionCount   int       `json:"sessionCount"`
	HeatLevel      HeatLevel `json:"heatLevel"`
}

// Heatmap contains every observed paragraph plus document totals.
type Heatmap struct {
	Paragraphs    []ParagraphHeat `json:"paragraphs"`
	SessionCount  int             `json:"sessionCount"`
	HottestID     string          `json:"hottestParagraphId,omitempty"`
	TotalDwellAll int64           `json:"totalDwellTime"`
}

// ComputeHeatmap folds per-session engagement rows into a document
// heatmap. Heat is graded against the hottest paragraph: >=80% of max
// dwell is very_hot, >=60% hot, >=30% warm, below that cold. Scaling
// every dwell time by a constant leaves the levels unchanged.
func ComputeHeatmap(rows []store.EngagementRow) Heatmap {
	hm := Heatmap{Paragraphs: []ParagraphHeat{}}
	if len(rows) == 0 {
		return hm
	}

	byParagraph := make(map[string]*ParagraphHeat)
	sessions := make(map[string]struct{})
	for _, r := range rows {
		sessions[r.SessionID] = struct{}{}
		ph, ok := byParagraph[r.ParagraphID]
		if !ok {
			ph = &ParagraphHeat{ParagraphID: r.ParagraphID}
			byParagraph[r.ParagraphID] = ph
		}
		ph.TotalDwellTime += r.TotalDwellMs
		ph.ViewCount += int(r.ViewCount)
		ph.HoverTime += r.HoverMs
		ph.ClickCount += int(r.ClickCount)
		ph.SessionCount++
	}

	var maxDwell int64
	for _, ph := range byParagraph {
		if ph.TotalDwellTime > maxDwell {
			maxDwell = ph.TotalDwellTime
		}
	}

	for _, ph := range byParagraph {
		if ph.SessionCount > 0 {
			ph.AvgDwellTime = int64(math.Round(float64(ph.TotalDwellTime) / float64(ph.SessionCount)))
		}
		ph.HeatLevel = heatLevel(ph.TotalDwellTime, maxDwell)
		hm.TotalDwellAll += ph.TotalDwellTime
		hm.Paragraphs = append(hm.Paragraphs, *ph)
	}

	sort.Slice(hm.Paragraphs, func(i, j int) bool {
		a, aok := paragraphIndex(hm.Paragraphs[i].ParagraphID)
		b, bok := paragraphIndex(hm.Paragraphs[j].ParagraphID)
		if aok && bok && a != b {
			return a < b
		}
		return hm.Paragraphs[i].ParagraphID < hm.Paragraphs[j].ParagraphID
	})

	hm.SessionCount = len(sessions)
	for _, ph := range hm.Paragraphs {
		if ph.TotalDwellTime == maxDwell && maxDwell > 0 {
			hm.HottestID = ph.ParagraphID
			break
		}
	}
	return hm
}

func heatLevel(dwell, max int64) HeatLevel {
	if max <= 0 || dwell <= 0 {
		return HeatCold
	}
	ratio := float64(dwell) / float64(max) * 100
	switch {
	case ratio >= 80:
		return HeatVeryHot
	case ratio >= 60:
		return HeatHot
	case ratio >= 30:
		return HeatWarm
	default:
		return HeatCold
	}
}

func paragraphIndex(id string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "paragraph-"))
	if err != nil {
		return 0, false
	}
	return n, true
}
