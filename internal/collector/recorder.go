package collector

import (
	"errors"
	"time"

	"github.com/KenjiPcx/magneto/internal/event"
)

// DefaultRecordLimit bounds a full recording's length so payloads stay
// uploadable.
const DefaultRecordLimit = 10 * time.Minute

// ErrRecorderUnavailable signals that the capture source failed to
// initialize. The page keeps rendering; the session is simply not
// tracked.
var ErrRecorderUnavailable = errors.New("collector: recording source unavailable")

// EventSource starts the underlying DOM capture (rrweb or equivalent)
// and returns a stop function. Implementations emit decoded events into
// the provided sink.
type EventSource interface {
	Start(emit func(event.Event)) (stop func(), err error)
}

// Recording is the finished capture handed to the two-phase upload path.
type Recording struct {
	SessionID  string
	StartTime  int64
	EndTime    int64
	DurationMs int64
	EventCount int
	Events     []event.Event
}

// Recorder buffers a full interaction stream for one session. Like the
// Tracker it is a per-session object on a single event-driven timeline.
type Recorder struct {
	clock     func() time.Time
	limit     time.Duration
	sessionID string

	stopFn    func()
	startTime time.Time
	events    []event.Event
	recording bool
	stopped   bool
}

// NewRecorder wires a recorder to its capture source without starting it.
func NewRecorder(sessionID string, clock func() time.Time, limit time.Duration) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	if limit == 0 {
		limit = DefaultRecordLimit
	}
	return &Recorder{clock: clock, limit: limit, sessionID: sessionID}
}

// Start begins capture. A source failure degrades to not-tracking and is
// surfaced to the caller; it never blocks page rendering.
func (r *Recorder) Start(source EventSource) error {
	if r.recording || r.stopped {
		return nil
	}
	stop, err := source.Start(r.push)
	if err != nil {
		r.stopped = true
		return ErrRecorderUnavailable
	}
	r.stopFn = stop
	r.startTime = r.clock()
	r.recording = true
	return nil
}

func (r *Recorder) push(ev event.Event) {
	if !r.recording {
		return
	}
	r.events = append(r.events, ev)
}

// Expired reports whether the recording ceiling has passed; callers
// should Stop. Cooperative self-cancellation, same as the tracker.
func (r *Recorder) Expired() bool {
	return r.recording && r.clock().Sub(r.startTime) >= r.limit
}

// Stop ends capture and returns the finished recording. Idempotent:
// later calls return ErrTrackerStopped, so a recording uploads once.
func (r *Recorder) Stop() (Recording, error) {
	if !r.recording {
		return Recording{}, ErrTrackerStopped
	}
	r.recording = false
	r.stopped = true
	if r.stopFn != nil {
		r.stopFn()
		r.stopFn = nil
	}

	end := r.clock()
	return Recording{
		SessionID:  r.sessionID,
		StartTime:  r.startTime.UnixMilli(),
		EndTime:    end.UnixMilli(),
		DurationMs: end.Sub(r.startTime).Milliseconds(),
		EventCount: len(r.events),
		Events:     r.events,
	}, nil
}

// Recording reports whether capture is live.
func (r *Recorder) Recording() bool { return r.recording }
