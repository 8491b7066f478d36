// Package ipc provides the HTTP API for submitting and inspecting runs.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/store"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Runner    *Runner
	Journal   *store.Journal
	Snapshots domain.SnapshotStore
	// PollInterval paces the event stream; zero means two seconds.
	PollInterval time.Duration
}

// SubmitRunRequest is the body for POST /api/v1/runs.
type SubmitRunRequest struct {
	RunID string        `json:"run_id"`
	Tasks []domain.Task `json:"tasks"`
}

// SubmitRunResponse is the response for POST /api/v1/runs.
type SubmitRunResponse struct {
	RunID string `json:"run_id"`
}

// RunView is the response for GET /api/v1/runs/{runID}.
type RunView struct {
	Run      *domain.RunRecord    `json:"run"`
	Outcomes []domain.TaskOutcome `json:"outcomes"`
	Active   bool                 `json:"active"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"active_run": h.Runner.Active(),
	})
}

// SubmitRun handles POST /api/v1/runs.
func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if len(req.Tasks) == 0 {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "tasks are required"})
		return
	}
	if req.RunID != "" {
		if _, err := h.Journal.RunRepo.GetByID(r.Context(), h.Journal.DB, req.RunID); err == nil {
			writeJSON(w, http.StatusConflict, APIError{Code: 409, Message: "run_id already used"})
			return
		}
	}

	runID, err := h.Runner.Submit(req.RunID, req.Tasks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitRunResponse{RunID: runID})
}

// ListRuns handles GET /api/v1/runs?limit=N.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Journal.RunRepo.List(r.Context(), h.Journal.DB, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/v1/runs/{runID}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	run, outcomes, err := h.Journal.Run(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if outcomes == nil {
		outcomes = []domain.TaskOutcome{}
	}
	writeJSON(w, http.StatusOK, RunView{Run: run, Outcomes: outcomes, Active: h.Runner.Active() == runID})
}

// CancelRun handles POST /api/v1/runs/{runID}/cancel.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if h.Runner.Cancel(runID) {
		if err := h.Journal.Audit(r.Context(), runID, "run", "ipc", "cancel", "warn", nil); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if _, err := h.Journal.RunRepo.GetByID(r.Context(), h.Journal.DB, runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusConflict, APIError{Code: 409, Message: "run is not active"})
}

// ListEvents handles GET /api/v1/runs/{runID}/events?since_seq=N.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if _, err := h.Journal.RunRepo.GetByID(r.Context(), h.Journal.DB, runID); err != nil {
		writeError(w, err)
		return
	}

	events, err := h.Journal.Events(r.Context(), runID, int64(queryInt(r, "since_seq", 0)))
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// StreamEvents handles GET /api/v1/runs/{runID}/events/stream (SSE). The
// stream ends after the run_finished event.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	interval := h.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx := r.Context()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSeq := int64(0)
	for {
		events, err := h.Journal.Events(ctx, runID, lastSeq)
		if err != nil {
			writeSSEError(w, flusher, err)
			return
		}
		for _, ev := range events {
			writeSSEEvent(w, flusher, ev)
			lastSeq = ev.SeqNo
			if ev.EventType == domain.EventRunFinished {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ListSnapshots handles GET /api/v1/snapshots?limit=N.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Snapshots.History(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrRunNotFound.Code, domain.ErrUnknownSnapshot.Code:
			status = http.StatusNotFound
		case domain.ErrRunInProgress.Code:
			status = http.StatusConflict
		case domain.ErrInvalidTask.Code, domain.ErrDuplicateTask.Code, domain.ErrUnknownDependency.Code:
			status = http.StatusBadRequest
		case domain.ErrCyclicDependency.Code, domain.ErrConsensusConfigInvalid.Code:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, ev domain.RunEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.SeqNo, ev.EventType, data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}
