package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atlasmeta/reindexer/internal/db"
	"github.com/atlasmeta/reindexer/internal/metrics"
	"github.com/atlasmeta/reindexer/internal/store"
	"github.com/atlasmeta/reindexer/internal/vector"
)

// apiError is the JSON error envelope for every non-2xx response.
type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// handleStats reports in-process runtime statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// handleTrigger creates a job from the posted configuration and runs it
// in the background. Responds 202 with the job record.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var cfg store.JobConfig
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid job configuration: "+err.Error())
			return
		}
	}

	job, err := s.app.Init(r.Context(), cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.Status == store.JobStatusCompleted {
		writeJSON(w, http.StatusOK, job)
		return
	}

	// Snapshot before the background run starts mutating the record.
	accepted := *job

	runCtx, cancel := context.WithCancel(context.Background())
	s.trackJob(job.ID, cancel)
	go func() {
		defer cancel()
		defer s.untrackJob(job.ID)
		if err := s.app.Execute(runCtx, job); err != nil {
			s.log.Error("reindex job failed", "jobId", job.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := s.app.Jobs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.app.Status(r.Context(), jobID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleStopJob cancels a job running in this process. The job settles
// at the next batch boundary and is recorded as stopped.
func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	if !s.stopJob(jobID) {
		writeError(w, http.StatusNotFound, "job is not running on this node")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// vectorQueryRequest is the body of POST /search/vector/query.
type vectorQueryRequest struct {
	Query     string            `json:"query"`
	Size      int               `json:"size"`
	K         int               `json:"k"`
	Threshold float64           `json:"threshold"`
	Filters   map[string]string `json:"filters"`
}

func (s *Server) handleVectorQuery(w http.ResponseWriter, r *http.Request) {
	if s.vectorSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "vector search is not enabled")
		return
	}

	var req vectorQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query text is required")
		return
	}

	start := time.Now()
	results, err := s.vectorSvc.Search(r.Context(), req.Query, vector.SearchRequest{
		Size:      req.Size,
		K:         req.K,
		Threshold: req.Threshold,
		Filters:   req.Filters,
	})
	s.stats.RecordTiming(metrics.OpVectorQuery, time.Since(start))
	if errors.Is(err, vector.ErrEmbeddingUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	if s.vectorSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "vector search is not enabled")
		return
	}

	parentID := r.URL.Query().Get("entityId")
	if parentID == "" {
		writeError(w, http.StatusBadRequest, "entityId is required")
		return
	}

	fp, err := s.vectorSvc.Fingerprint(r.Context(), s.vectorSvc.Index(), parentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"entityId": parentID, "fingerprint": fp})
}

type batchFingerprintRequest struct {
	EntityIDs []string `json:"entityIds"`
}

func (s *Server) handleBatchFingerprints(w http.ResponseWriter, r *http.Request) {
	if s.vectorSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "vector search is not enabled")
		return
	}

	var req batchFingerprintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	fps, err := s.vectorSvc.BatchFingerprints(r.Context(), s.vectorSvc.Index(), req.EntityIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fps)
}
