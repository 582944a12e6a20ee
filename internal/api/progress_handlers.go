package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/v-bible/scraping/internal/progress/sinks"
)

const (
	defaultRunLimit = 10
	maxRunLimit     = 100
)

// RunTracker exposes live run views.
type RunTracker interface {
	Runs() []sinks.RunProgress
	Run(id uuid.UUID) (sinks.RunProgress, bool)
}

// ProgressHandler exposes read-only run progress endpoints.
type ProgressHandler struct {
	tracker RunTracker
	logger  *zap.Logger
}

// NewProgressHandler wires the tracker and logger.
func NewProgressHandler(tracker RunTracker, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{tracker: tracker, logger: logger}
}

// ListRuns handles GET /api/runs?status=&limit=. It returns {"runs": [...]}
// most recent first, 400 for invalid filters and 503 without a tracker.
func (h *ProgressHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracker unavailable")
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs := make([]sinks.RunProgress, 0, limit)
	for _, run := range h.tracker.Runs() {
		if status != "" && run.Status != status {
			continue
		}
		if len(runs) == limit {
			break
		}
		runs = append(runs, run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /api/runs/{run_id}. It returns {"run": {...}}, 400
// for malformed ids and 404 for runs the tracker does not hold.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracker unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, ok := h.tracker.Run(runID)
	if !ok {
		h.logger.Debug("run not tracked", zap.Stringer("run_id", runID))
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func parseStatus(input string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return "", nil
	case "running":
		return sinks.RunRunning, nil
	case "success":
		return sinks.RunSuccess, nil
	case "error", "failed", "failure":
		return sinks.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}
