package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/orchestrator"
	"github.com/arguslabs/argus/internal/session"
)

// maxSubmitBody caps task submission bodies; payloads carry diffs and
// documents, so the cap is generous.
const maxSubmitBody = 10 << 20

// TaskService runs submissions; *orchestrator.Orchestrator satisfies
// it.
type TaskService interface {
	SubmitTask(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// SessionReader loads session state; *session.Manager satisfies it.
type SessionReader interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// TaskHandler serves task submission and session inspection.
type TaskHandler struct {
	tasks    TaskService
	sessions SessionReader
	limiter  *SubmitLimiter
	logger   *zap.Logger
}

func NewTaskHandler(tasks TaskService, sessions SessionReader, limiter *SubmitLimiter, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, sessions: sessions, limiter: limiter, logger: logger}
}

func (h *TaskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", instrument("/api/v1/tasks", h.handleSubmit))
	mux.HandleFunc("GET /api/v1/sessions/{id}", instrument("/api/v1/sessions/{id}", h.handleGetSession))
}

// taskRequest is one submission. Strictness is shorthand for the
// config key of the same name.
type taskRequest struct {
	Task       string         `json:"task"`
	SessionID  string         `json:"session_id,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Strictness string         `json:"strictness,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

func (h *TaskHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), "INVALID_BODY")
		return
	}
	if req.Task == "" {
		writeProblem(w, http.StatusBadRequest, "Task is required", "", "TASK_REQUIRED")
		return
	}

	config := req.Config
	if req.Strictness != "" {
		if config == nil {
			config = map[string]any{}
		}
		if _, ok := config["strictness"]; !ok {
			config["strictness"] = req.Strictness
		}
	}
	if _, err := eyes.SettingsFromConfig(config); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid config", err.Error(), "INVALID_CONFIG")
		return
	}

	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	if retryAfter, ok := h.limiter.Admit(req.SessionID); !ok {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", h.limiter.Limit()))
		h.logger.Warn("Submission rate limited",
			zap.String("session_id", req.SessionID),
			zap.Duration("retry_after", retryAfter))
		writeProblem(w, http.StatusTooManyRequests, "Rate limit exceeded",
			"too many submissions for this session", "RATE_LIMITED")
		return
	}

	result, err := h.tasks.SubmitTask(r.Context(), orchestrator.Request{
		Task:      req.Task,
		SessionID: req.SessionID,
		Context:   req.Context,
		Config:    config,
	})
	if err != nil {
		h.submitError(w, req.SessionID, err)
		return
	}

	h.logger.Info("Task submitted",
		zap.String("session_id", result.SessionID),
		zap.String("status", string(result.Status)),
		zap.Int("hops", result.Hops))

	w.Header().Set("X-Session-ID", result.SessionID)
	writeJSON(w, http.StatusOK, result)
}

func (h *TaskHandler) submitError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrOrderViolation):
		writeProblem(w, http.StatusConflict, "Stage order violation", err.Error(),
			orchestrator.CodeOrderViolation)
	case errors.Is(err, session.ErrExpired):
		writeProblem(w, http.StatusGone, "Session expired", err.Error(), "SESSION_EXPIRED")
	case errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusGatewayTimeout, "Submission timed out", err.Error(), "TIMEOUT")
	default:
		h.logger.Error("Task submission failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Task submission failed",
			err.Error(), "TASK_FAILED")
	}
}

func (h *TaskHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeProblem(w, http.StatusBadRequest, "Session ID is required", "", "SESSION_ID_REQUIRED")
		return
	}

	sess, err := h.sessions.Get(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Session not found", "", "SESSION_NOT_FOUND")
		return
	case errors.Is(err, session.ErrExpired):
		writeProblem(w, http.StatusGone, "Session expired", "", "SESSION_EXPIRED")
		return
	case err != nil:
		h.logger.Error("Session lookup failed", zap.String("session_id", id), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Session lookup failed",
			err.Error(), "SESSION_LOOKUP_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
