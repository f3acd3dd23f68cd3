package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/storage"
)

// SessionInserter creates the session row a new job points to.
type SessionInserter interface {
	InsertSession(ctx context.Context, id, title, audioPath string) error
}

// JobsHandler exposes the background job queue over HTTP: upload/enqueue,
// list, status, retry, cancel, clear-completed.
type JobsHandler struct {
	queue       *pipeline.Queue
	recordings  *storage.RecordingStore
	sessions    SessionInserter
	maxUploadMB int64
	language    string
	log         zerolog.Logger
}

// NewJobsHandler creates the jobs handler.
func NewJobsHandler(queue *pipeline.Queue, recordings *storage.RecordingStore, sessions SessionInserter, maxUploadMB int64, language string, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		queue:       queue,
		recordings:  recordings,
		sessions:    sessions,
		maxUploadMB: maxUploadMB,
		language:    language,
		log:         log.With().Str("handler", "jobs").Logger(),
	}
}

// Routes registers the job endpoints.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.Create)
	r.Get("/jobs", h.List)
	r.Get("/jobs/stats", h.Stats)
	r.Get("/jobs/{id}", h.Get)
	r.Post("/jobs/{id}/retry", h.Retry)
	r.Delete("/jobs/{id}", h.Cancel)
	r.Delete("/jobs", h.ClearCompleted)
}

// Create handles POST /api/v1/jobs: a multipart audio upload admitted as a
// new session plus a Pending job.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadMB<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing audio file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	sessionID := uuid.NewString()
	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".bin"
	}
	path, err := h.recordings.Save(sessionID+ext, data)
	if err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to store audio", err.Error())
		return
	}

	title := strings.TrimSuffix(filepath.Base(header.Filename), ext)
	if title == "" {
		title = "Recording " + time.Now().Format("2006-01-02 15:04")
	}
	if h.sessions != nil {
		if err := h.sessions.InsertSession(r.Context(), sessionID, title, path); err != nil {
			WriteErrorDetail(w, http.StatusInternalServerError, "failed to create session", err.Error())
			return
		}
	}

	req := pipeline.Request{
		SessionID:    sessionID,
		AudioPath:    path,
		Language:     formValue(r, "language", h.language),
		AltLanguages: splitList(r.FormValue("alt_languages")),
		Diarization:  formBool(r, "diarization"),
		Punctuation:  formBoolDefault(r, "punctuation", true),
		WordTimes:    formBoolDefault(r, "word_times", true),
		Summarize:    formBool(r, "summarize"),
		ExtractTasks: formBool(r, "extract_tasks"),
	}
	job := h.queue.Enqueue(req)

	h.log.Info().
		Str("job_id", job.ID).
		Str("session_id", sessionID).
		Str("filename", header.Filename).
		Int("bytes", len(data)).
		Msg("job enqueued")

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"session_id": sessionID,
		"status":     job.Status,
	})
}

// List handles GET /api/v1/jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": h.queue.Jobs()})
}

// Stats handles GET /api/v1/jobs/stats.
func (h *JobsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.queue.Stats())
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.queue.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
		return
	}
	WriteJSON(w, http.StatusOK, &job)
}

// Retry handles POST /api/v1/jobs/{id}/retry.
func (h *JobsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.queue.Retry(id); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

// Cancel handles DELETE /api/v1/jobs/{id}.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.queue.Cancel(id); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ClearCompleted handles DELETE /api/v1/jobs.
func (h *JobsHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed := h.queue.ClearCompleted()
	WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func formValue(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func formBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.FormValue(key))
	return err == nil && v
}

func formBoolDefault(r *http.Request, key string, def bool) bool {
	raw := r.FormValue(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
