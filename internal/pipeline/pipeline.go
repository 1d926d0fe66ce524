// Package pipeline runs the asynchronous processing path: a completed
// recording is claimed, its raw stream fetched and reconstructed, and
// the derived rows written out. Claiming is a guarded status update, so
// at most one worker processes a given recording at a time.
package pipeline

import "context"

// Job identifies one session's raw payload to process. RecordingID is
// empty for scroll-only sessions, which have no status row to lease.
type Job struct {
	SessionID   string `json:"sessionId"`
	DocumentID  string `json:"documentId"`
	RecordingID string `json:"recordingId,omitempty"`
	BlobRef     string `json:"blobRef"`
}

// Scheduler hands jobs to the processing side. The Kafka implementation
// crosses process boundaries; Inline runs the job before Enqueue
// returns, for tests and single-binary deployments.
type Scheduler interface {
	Enqueue(ctx context.Context, job Job) error
}
