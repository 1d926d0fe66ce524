package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStream_RecordingEvents(t *testing.T) {
	raw := []byte(`[
		{"type": 4, "timestamp": 1000, "data": {"width": 1280, "height": 3200}},
		{"type": 3, "timestamp": 1001},
		{"type": 2, "timestamp": 1100, "data": {"source": 7, "data": {"y": 250}}},
		{"type": 2, "timestamp": 1200, "data": {"source": 3, "data": {"type": 2, "x": 40, "y": 300,
			"target": {"tagName": "p", "attributes": {"data-paragraph-id": "paragraph-3"}}}}},
		{"type": 2, "timestamp": 1300, "data": {"source": 3, "data": {"type": 3, "x": 40, "y": 300,
			"target": {"tagName": "p", "attributes": {"data-paragraph-id": "paragraph-3"}}}}},
		{"type": 2, "timestamp": 1310, "data": {"source": 3, "data": {"type": 4, "x": 40, "y": 300,
			"target": {"tagName": "p", "attributes": {"data-paragraph-id": "paragraph-3"}}}}},
		{"type": 2, "timestamp": 1400, "data": {"source": 6}},
		{"type": 2, "timestamp": 1500, "data": {"source": 0}},
		{"type": 5, "timestamp": 1600, "data": {"tag": "checkpoint"}}
	]`)

	events, err := DecodeStream(raw)
	require.NoError(t, err)
	require.Len(t, events, 9)

	assert.Equal(t, Meta, events[0].Kind)
	assert.Equal(t, 3200.0, events[0].Height)
	assert.Equal(t, FullSnapshot, events[1].Kind)

	assert.Equal(t, Scroll, events[2].Kind)
	assert.Equal(t, 250.0, events[2].ScrollY)
	assert.False(t, events[2].HasPercentage)

	assert.Equal(t, MouseMove, events[3].Kind)
	assert.Equal(t, "paragraph-3", events[3].ParagraphID)

	// Both mouse down and mouse up decode as clicks.
	assert.Equal(t, MouseClick, events[4].Kind)
	assert.Equal(t, MouseClick, events[5].Kind)

	assert.Equal(t, Input, events[6].Kind)
	assert.Equal(t, Mutation, events[7].Kind)
	assert.Equal(t, Custom, events[8].Kind)
	assert.Equal(t, "checkpoint", events[8].Name)
}

func TestDecodeStream_ScrollSamples(t *testing.T) {
	raw := []byte(`[
		{"timestamp": 1000, "scrollY": 0, "scrollPercentage": 0, "viewportHeight": 800, "documentHeight": 4000},
		{"timestamp": 1200, "scrollY": 1600, "scrollPercentage": 50, "viewportHeight": 800, "documentHeight": 4000}
	]`)

	events, err := DecodeStream(raw)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, Scroll, events[0].Kind)
	assert.True(t, events[0].HasPercentage)
	assert.Equal(t, 50.0, events[1].ScrollPercentage)
	assert.Equal(t, 4000.0, events[1].DocumentHeight)
}

func TestDecodeStream_InvalidJSONFailsStream(t *testing.T) {
	_, err := DecodeStream([]byte(`{"not": "an array"`))
	require.Error(t, err)
}

func TestDecodeStream_SkipsUnclassifiableRecords(t *testing.T) {
	raw := []byte(`[
		{"type": 99, "timestamp": 1000},
		{"timestamp": 1100},
		{"type": 2, "timestamp": 1200, "data": {"source": 7, "data": {"y": 10}}}
	]`)

	events, err := DecodeStream(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Scroll, events[0].Kind)
}

func TestDecodeStream_NonParagraphTargetHasNoID(t *testing.T) {
	raw := []byte(`[
		{"type": 2, "timestamp": 1000, "data": {"source": 3, "data": {"type": 2, "x": 1, "y": 2,
			"target": {"tagName": "div", "attributes": {"data-paragraph-id": "paragraph-1"}}}}}
	]`)

	events, err := DecodeStream(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].ParagraphID)
}

func TestFromScrollSamples(t *testing.T) {
	samples := []ScrollSample{
		{Timestamp: 2000, ScrollY: 100, ScrollPercentage: 25},
		{Timestamp: 1000, ScrollY: 0, ScrollPercentage: 0},
	}

	events := FromScrollSamples(samples)
	require.Len(t, events, 2)
	assert.True(t, events[0].HasPercentage)

	SortByTimestamp(events)
	assert.Equal(t, int64(1000), events[0].Timestamp)
	assert.Equal(t, int64(2000), events[1].Timestamp)
}

func TestKindInteractive(t *testing.T) {
	assert.True(t, Scroll.Interactive())
	assert.True(t, MouseMove.Interactive())
	assert.True(t, MouseClick.Interactive())
	assert.True(t, Input.Interactive())
	assert.False(t, Meta.Interactive())
	assert.False(t, FullSnapshot.Interactive())
	assert.False(t, Mutation.Interactive())
}
