package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/recording"
	"github.com/lexiqai/call-transcriber/internal/transcript"
)

// JobLister exposes recording job state
type JobLister interface {
	Get(id string) (*recording.Job, bool)
	List() []recording.JobInfo
}

type jobHandler struct {
	jobs JobLister
}

// GET /jobs
func (h *jobHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.List())
}

// GET /jobs/{id}
func (h *jobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Info())
}

type transcriptHandler struct {
	store transcript.Store
}

// GET /transcripts/{callID}
func (h *transcriptHandler) Get(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	rec, err := h.store.Get(r.Context(), callID)
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		http.Error(w, "transcript not found", http.StatusNotFound)
		return
	case err != nil:
		logger := observability.GetLogger()
		logger.Error().Err(err).Str("call_id", callID).Msg("Failed to read transcript")
		observability.RecordError("store", "http")
		http.Error(w, "failed to read transcript", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
