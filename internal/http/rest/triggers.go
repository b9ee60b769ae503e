package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fielddb/fieldsync/internal/logctx"
	"github.com/fielddb/fieldsync/internal/storage"
	"github.com/fielddb/fieldsync/internal/sync"
	"github.com/fielddb/fieldsync/internal/telemetry"
	"github.com/fielddb/fieldsync/internal/upload"
	"github.com/go-chi/chi/v5"
)

const defaultActivityLimit = 50

// ErrBusy is returned by a dispatcher whose queue is full.
var ErrBusy = errors.New("dispatcher queue is full")

// Dispatcher hands accepted triggers to the run loop. Dispatch must not
// block: a full queue is an error the caller turns into a 503.
type Dispatcher interface {
	DispatchSync(req sync.Request) error
	DispatchUpload(req upload.Request) error
}

// ActivityLog is the read side of the activity table used by the ops surface.
type ActivityLog interface {
	Recent(ctx context.Context, limit int) ([]storage.ActivityRecord, error)
}

type TriggerHandler struct {
	username   string
	password   string
	dispatcher Dispatcher
	activities ActivityLog
	telemetry  *telemetry.Telemetry
}

// NewTriggerHandler creates the handler for the sync/upload trigger API.
func NewTriggerHandler(username, password string, dispatcher Dispatcher, activities ActivityLog, t *telemetry.Telemetry) *TriggerHandler {
	return &TriggerHandler{
		username:   username,
		password:   password,
		dispatcher: dispatcher,
		activities: activities,
		telemetry:  t,
	}
}

func (h *TriggerHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		r.Use(h.basicAuthMiddleware)

		r.Post("/v1/sync", h.HandleSync)
		r.Post("/v1/uploads", h.HandleUpload)
		r.Get("/v1/activities", h.HandleActivities)
	})

	return r
}

// SyncRequest triggers one sample data download run. Both fields are
// optional overrides.
type SyncRequest struct {
	URL          string `json:"url"`
	Connectivity string `json:"connectivity"`
}

// UploadRequest triggers one audio/video upload run.
type UploadRequest struct {
	FilePath      string `json:"filePath"`
	Username      string `json:"username"`
	DeviceDetails string `json:"deviceDetails"`
}

// HandleSync accepts a download trigger and dispatches it to the run loop.
func (h *TriggerHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode sync request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if err := h.dispatcher.DispatchSync(sync.Request{
		URL:          req.URL,
		Connectivity: req.Connectivity,
	}); err != nil {
		logger.Warn("failed to dispatch sync trigger", "err", err)
		http.Error(w, "too many pending runs", http.StatusServiceUnavailable)

		return
	}

	writeAccepted(w, logger)
}

// HandleUpload accepts an upload trigger and dispatches it to the run loop.
func (h *TriggerHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode upload request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.FilePath == "" {
		http.Error(w, "filePath is required", http.StatusBadRequest)

		return
	}

	if err := h.dispatcher.DispatchUpload(upload.Request{
		FilePath:      req.FilePath,
		Username:      req.Username,
		DeviceDetails: req.DeviceDetails,
	}); err != nil {
		logger.Warn("failed to dispatch upload trigger", "err", err)
		http.Error(w, "too many pending runs", http.StatusServiceUnavailable)

		return
	}

	writeAccepted(w, logger)
}

// HandleActivities returns the most recent activity records.
func (h *TriggerHandler) HandleActivities(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		limit = parsed
	}

	records, err := h.activities.Recent(r.Context(), limit)
	if err != nil {
		logger.Error("failed to read activities", "err", err)
		http.Error(w, "failed to read activities", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(map[string]any{"activities": records}); err != nil {
		logger.Error("failed to encode activities", "err", err)
	}
}

// HandleHealth reports liveness. Unauthenticated on purpose.
func (h *TriggerHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeAccepted(w http.ResponseWriter, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	if _, err := w.Write([]byte(`{"status":"accepted"}`)); err != nil {
		logger.Error("failed to write response", "err", err)
	}
}

func (h *TriggerHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}
