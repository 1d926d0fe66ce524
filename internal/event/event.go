// Package event defines the canonical interaction-event grammar. Raw
// client streams carry rrweb-style numeric type/source codes; they are
// decoded here, once, into a closed set of variants. Nothing downstream
// sees a raw integer code.
package event

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies an interaction event variant.
type Kind uint8

const (
	DomSnapshot Kind = iota
	FullSnapshot
	Mutation
	MouseMove
	MouseClick
	Scroll
	Input
	Meta
	Custom
)

func (k Kind) String() string {
	switch k {
	case DomSnapshot:
		return "dom_snapshot"
	case FullSnapshot:
		return "full_snapshot"
	case Mutation:
		return "mutation"
	case MouseMove:
		return "mouse_move"
	case MouseClick:
		return "mouse_click"
	case Scroll:
		return "scroll"
	case Input:
		return "input"
	case Meta:
		return "meta"
	case Custom:
		return "custom"
	}
	return "unknown"
}

// Interactive reports whether the event counts as user activity for
// active-time accounting.
func (k Kind) Interactive() bool {
	switch k {
	case MouseMove, MouseClick, Scroll, Input:
		return true
	}
	return false
}

// Event is one decoded interaction event. Fields beyond Kind and
// Timestamp are populated per variant.
type Event struct {
	Kind      Kind
	Timestamp int64 // unix milliseconds

	// Scroll
	ScrollY          float64
	ScrollPercentage float64
	HasPercentage    bool
	ViewportHeight   float64
	DocumentHeight   float64

	// Mouse
	X           float64
	Y           float64
	ParagraphID string // resolved hit target, empty when off-paragraph

	// Meta / snapshots
	Width  float64
	Height float64

	// Custom
	Name string
}

// ScrollSample is the lightweight collector's wire record.
type ScrollSample struct {
	Timestamp        int64   `json:"timestamp"`
	ScrollY          float64 `json:"scrollY"`
	ScrollPercentage float64 `json:"scrollPercentage"`
	ViewportHeight   float64 `json:"viewportHeight"`
	DocumentHeight   float64 `json:"documentHeight"`
}

// Event converts the sample to its canonical form.
func (s ScrollSample) Event() Event {
	return Event{
		Kind:             Scroll,
		Timestamp:        s.Timestamp,
		ScrollY:          s.ScrollY,
		ScrollPercentage: s.ScrollPercentage,
		HasPercentage:    true,
		ViewportHeight:   s.ViewportHeight,
		DocumentHeight:   s.DocumentHeight,
	}
}

// FromScrollSamples converts a scroll-only session to a canonical stream.
func FromScrollSamples(samples []ScrollSample) []Event {
	events := make([]Event, 0, len(samples))
	for _, s := range samples {
		events = append(events, s.Event())
	}
	return events
}

// SortByTimestamp orders events chronologically, preserving the incoming
// order of equal timestamps.
func SortByTimestamp(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}

// rrweb wire codes. These exist only inside the decoder.
const (
	rawTypeDomContentLoaded    = 0
	rawTypeLoad                = 1
	rawTypeIncrementalSnapshot = 2
	rawTypeFullSnapshot        = 3
	rawTypeMeta                = 4
	rawTypeCustom              = 5

	rawSourceMutation = 0
	rawSourceMouse    = 3
	rawSourceInput    = 6
	rawSourceScroll   = 7

	rawMouseMove = 2
	rawMouseDown = 3
	rawMouseUp   = 4
)

type rawEvent struct {
	Type      *int            `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`

	// Scroll-sample fields, present when the record is a collector
	// sample rather than a recording event.
	ScrollY          *float64 `json:"scrollY"`
	ScrollPercentage *float64 `json:"scrollPercentage"`
	ViewportHeight   *float64 `json:"viewportHeight"`
	DocumentHeight   *float64 `json:"documentHeight"`
}

type rawData struct {
	Source *int            `json:"source"`
	Data   json.RawMessage `json:"data"`
	Width  float64         `json:"width"`
	Height float64         `json:"height"`
	Tag    string          `json:"tag"`
}

type rawInteraction struct {
	Type   *int       `json:"type"`
	X      float64    `json:"x"`
	Y      float64    `json:"y"`
	Target *rawTarget `json:"target"`
}

type rawTarget struct {
	TagName    string            `json:"tagName"`
	Attributes map[string]string `json:"attributes"`
}

var paragraphTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true,
}

func (t *rawTarget) paragraphID() string {
	if t == nil || !paragraphTags[t.TagName] {
		return ""
	}
	return t.Attributes["data-paragraph-id"]
}

// DecodeStream parses a raw JSON event array into canonical events.
// Records it cannot classify are skipped; invalid JSON fails the whole
// stream.
func DecodeStream(data []byte) ([]Event, error) {
	var raws []rawEvent
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decoding event stream: %w", err)
	}

	events := make([]Event, 0, len(raws))
	for _, r := range raws {
		if ev, ok := decodeRecord(r); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

func decodeRecord(r rawEvent) (Event, bool) {
	if r.Type == nil {
		// Collector scroll sample.
		if r.ScrollY == nil {
			return Event{}, false
		}
		ev := Event{
			Kind:      Scroll,
			Timestamp: r.Timestamp,
			ScrollY:   *r.ScrollY,
		}
		if r.ScrollPercentage != nil {
			ev.ScrollPercentage = *r.ScrollPercentage
			ev.HasPercentage = true
		}
		if r.ViewportHeight != nil {
			ev.ViewportHeight = *r.ViewportHeight
		}
		if r.DocumentHeight != nil {
			ev.DocumentHeight = *r.DocumentHeight
		}
		return ev, true
	}

	var d rawData
	if len(r.Data) > 0 {
		// A bad payload on one record should not sink the stream.
		if err := json.Unmarshal(r.Data, &d); err != nil {
			return Event{}, false
		}
	}

	switch *r.Type {
	case rawTypeDomContentLoaded, rawTypeLoad:
		return Event{
			Kind:      DomSnapshot,
			Timestamp: r.Timestamp,
			Width:     d.Width,
			Height:    d.Height,
		}, true

	case rawTypeFullSnapshot:
		return Event{Kind: FullSnapshot, Timestamp: r.Timestamp}, true

	case rawTypeMeta:
		return Event{
			Kind:      Meta,
			Timestamp: r.Timestamp,
			Width:     d.Width,
			Height:    d.Height,
		}, true

	case rawTypeCustom:
		return Event{Kind: Custom, Timestamp: r.Timestamp, Name: d.Tag}, true

	case rawTypeIncrementalSnapshot:
		if d.Source == nil {
			return Event{}, false
		}
		return decodeIncremental(r.Timestamp, d)
	}

	return Event{}, false
}

func decodeIncremental(ts int64, d rawData) (Event, bool) {
	switch *d.Source {
	case rawSourceMutation:
		return Event{Kind: Mutation, Timestamp: ts}, true

	case rawSourceInput:
		return Event{Kind: Input, Timestamp: ts}, true

	case rawSourceScroll:
		var s struct {
			Y float64 `json:"y"`
		}
		if err := json.Unmarshal(d.Data, &s); err != nil {
			return Event{}, false
		}
		return Event{Kind: Scroll, Timestamp: ts, ScrollY: s.Y}, true

	case rawSourceMouse:
		var m rawInteraction
		if err := json.Unmarshal(d.Data, &m); err != nil || m.Type == nil {
			return Event{}, false
		}
		switch *m.Type {
		case rawMouseMove:
			return Event{
				Kind:        MouseMove,
				Timestamp:   ts,
				X:           m.X,
				Y:           m.Y,
				ParagraphID: m.Target.paragraphID(),
			}, true
		case rawMouseDown, rawMouseUp:
			return Event{
				Kind:        MouseClick,
				Timestamp:   ts,
				X:           m.X,
				Y:           m.Y,
				ParagraphID: m.Target.paragraphID(),
			}, true
		}
	}

	return Event{}, false
}
