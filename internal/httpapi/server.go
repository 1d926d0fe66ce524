// Package httpapi exposes the collection and analytics endpoints over
// chi. Write endpoints front the ingest gateway; read endpoints front
// the analytics service. Empty documents and unknown visitors answer
// with zeroed payloads, never errors.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/KenjiPcx/magneto/internal/analytics"
	"github.com/KenjiPcx/magneto/internal/blob"
	"github.com/KenjiPcx/magneto/internal/collector"
	"github.com/KenjiPcx/magneto/internal/ingest"
	"github.com/KenjiPcx/magneto/internal/pipeline"
	"github.com/KenjiPcx/magneto/internal/store"
)

// maxBodyBytes bounds recording uploads.
const maxBodyBytes = 25 << 20

// Server bundles the handlers and their dependencies.
type Server struct {
	gateway   *ingest.Gateway
	analytics *analytics.Service
	processor *pipeline.Processor
	scheduler pipeline.Scheduler
	blobs     blob.Store
	limiter   *ingest.RateLimiter
}

func NewServer(gateway *ingest.Gateway, svc *analytics.Service, processor *pipeline.Processor, scheduler pipeline.Scheduler, blobs blob.Store, limiter *ingest.RateLimiter) *Server {
	return &Server{
		gateway:   gateway,
		analytics: svc,
		processor: processor,
		scheduler: scheduler,
		blobs:     blobs,
		limiter:   limiter,
	}
}

// Router wires all routes with the standard middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)

	r.Get("/health", HealthCheck)

	r.Post("/v1/sessions", s.handleSubmitSession)
	r.Post("/v1/sessions/begin", s.handleBeginSession)
	r.Post("/v1/recordings/upload-url", s.handleUploadURL)
	r.Put("/v1/recordings/blob/{ref}", s.handleUploadBlob)
	r.Post("/v1/recordings/complete", s.handleCompleteRecording)
	r.Post("/v1/recordings/{id}/retry", s.handleRetryRecording)

	r.Get("/v1/documents/{id}/analytics", s.handleDocumentAnalytics)
	r.Get("/v1/documents/{id}/heatmap", s.handleDocumentHeatmap)
	r.Get("/v1/documents/{id}/recordings", s.handleDocumentRecordings)
	r.Get("/v1/visitors/profiles", s.handleVisitorProfiles)
	r.Get("/v1/visitors/{browserID}/history", s.handleVisitorHistory)

	return r
}

func (s *Server) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	var sub collector.SessionSummary
	if !decodeBody(w, r, &sub) {
		return
	}
	if !s.limiter.Allow(r.Context(), sub.DocumentID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	sessionID, err := s.gateway.SubmitScrollSession(r.Context(), sub, r.RemoteAddr)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": sessionID,
	})
}

func (s *Server) handleBeginSession(w http.ResponseWriter, r *http.Request) {
	var req ingest.BeginSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.limiter.Allow(r.Context(), req.DocumentID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if err := s.gateway.BeginSession(r.Context(), req); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	target, err := s.gateway.CreateUploadTarget(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// handleUploadBlob accepts the raw recording payload at the minted
// target. The ref comes from upload-url; arbitrary refs fail in the
// blob store.
func (s *Server) handleUploadBlob(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	defer r.Body.Close()

	if err := s.blobs.Put(r.Context(), ref, data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleCompleteRecording(w http.ResponseWriter, r *http.Request) {
	var req ingest.CompleteRecordingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	recordingID, err := s.gateway.CompleteRecording(r.Context(), req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"recordingId": recordingID,
	})
}

func (s *Server) handleRetryRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.processor.Retry(r.Context(), id, s.scheduler); err != nil {
		if errors.Is(err, store.ErrNotClaimable) {
			writeError(w, http.StatusConflict, "recording is not in a failed state")
			return
		}
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "recording not found")
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDocumentAnalytics(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.DocumentAnalytics(r.Context(), chi.URLParam(r, "id"), rangeDays(r))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDocumentHeatmap(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.DocumentHeatmap(r.Context(), chi.URLParam(r, "id"), rangeDays(r))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDocumentRecordings(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.DocumentRecordings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVisitorProfiles(w http.ResponseWriter, r *http.Request) {
	minSessions := 1
	if v := r.URL.Query().Get("minSessions"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			minSessions = n
		}
	}
	out, err := s.analytics.Profiles(r.Context(), rangeDays(r), minSessions)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if out == nil {
		out = []analytics.VisitorProfile{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVisitorHistory(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.History(r.Context(), chi.URLParam(r, "browserID"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func rangeDays(r *http.Request) int {
	if v := r.URL.Query().Get("range"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 30
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrNotClaimable):
		writeError(w, http.StatusConflict, "recording already completed")
	default:
		writeInternalError(w, err)
	}
}

func writeInternalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HealthCheck answers liveness probes.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// CORSMiddleware allows the collector to submit from any origin.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
