package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/pipeline"
	"github.com/arguslabs/argus/internal/store"
)

// PipelineStore is the slice of the persistence layer the pipeline
// endpoints need; *store.Store satisfies it.
type PipelineStore interface {
	UpsertPipeline(ctx context.Context, rec *store.PipelineRecord) error
	GetPipeline(ctx context.Context, id string) (*store.PipelineRecord, error)
	ListPipelines(ctx context.Context) ([]store.PipelineRecord, error)
	DeletePipeline(ctx context.Context, id string) error
	InsertPipelineRun(ctx context.Context, rec *store.PipelineRunRecord) error
}

// PipelineHandler serves pipeline CRUD and execution.
type PipelineHandler struct {
	store    PipelineStore
	executor *pipeline.Executor
	logger   *zap.Logger
}

func NewPipelineHandler(st PipelineStore, executor *pipeline.Executor, logger *zap.Logger) *PipelineHandler {
	return &PipelineHandler{store: st, executor: executor, logger: logger}
}

func (h *PipelineHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/pipelines", instrument("/api/v1/pipelines", h.handleCreate))
	mux.HandleFunc("GET /api/v1/pipelines", instrument("/api/v1/pipelines", h.handleList))
	mux.HandleFunc("GET /api/v1/pipelines/{id}", instrument("/api/v1/pipelines/{id}", h.handleGet))
	mux.HandleFunc("PUT /api/v1/pipelines/{id}", instrument("/api/v1/pipelines/{id}", h.handleUpdate))
	mux.HandleFunc("DELETE /api/v1/pipelines/{id}", instrument("/api/v1/pipelines/{id}", h.handleDelete))
	mux.HandleFunc("POST /api/v1/pipelines/{id}/execute", instrument("/api/v1/pipelines/{id}/execute", h.handleExecute))
}

// pipelineView renders a stored record with the definition inlined.
type pipelineView struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func viewOf(rec *store.PipelineRecord) pipelineView {
	return pipelineView{
		ID:         rec.ID,
		Name:       rec.Name,
		Definition: json.RawMessage(rec.Definition),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func (h *PipelineHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	def, raw, ok := h.decodeDefinition(w, r, "")
	if !ok {
		return
	}
	if rec := h.save(r.Context(), w, def, raw); rec != nil {
		writeJSON(w, http.StatusCreated, viewOf(rec))
	}
}

func (h *PipelineHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	def, raw, ok := h.decodeDefinition(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	if rec := h.save(r.Context(), w, def, raw); rec != nil {
		writeJSON(w, http.StatusOK, viewOf(rec))
	}
}

// decodeDefinition parses and validates a definition body. A non-empty
// pathID must match the body's id; an absent body id inherits it.
func (h *PipelineHandler) decodeDefinition(w http.ResponseWriter, r *http.Request, pathID string) (pipeline.Definition, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)

	var def pipeline.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), "INVALID_BODY")
		return pipeline.Definition{}, nil, false
	}
	if pathID != "" {
		if def.ID == "" {
			def.ID = pathID
		} else if def.ID != pathID {
			writeProblem(w, http.StatusBadRequest, "Pipeline ID mismatch",
				"body id does not match the path", "PIPELINE_ID_MISMATCH")
			return pipeline.Definition{}, nil, false
		}
	}
	if err := pipeline.Validate(def); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid pipeline definition", err.Error(),
			"PIPELINE_INVALID")
		return pipeline.Definition{}, nil, false
	}

	raw, err := json.Marshal(def)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Failed to encode definition",
			err.Error(), "PIPELINE_ENCODE_FAILED")
		return pipeline.Definition{}, nil, false
	}
	return def, raw, true
}

func (h *PipelineHandler) save(ctx context.Context, w http.ResponseWriter, def pipeline.Definition, raw []byte) *store.PipelineRecord {
	now := time.Now().UTC()
	rec := &store.PipelineRecord{
		ID:         def.ID,
		Name:       def.Name,
		Definition: raw,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.store.UpsertPipeline(ctx, rec); err != nil {
		h.logger.Error("Pipeline save failed", zap.String("pipeline_id", def.ID), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Failed to save pipeline",
			err.Error(), "PIPELINE_SAVE_FAILED")
		return nil
	}
	h.logger.Info("Pipeline saved",
		zap.String("pipeline_id", def.ID),
		zap.Int("steps", len(def.Steps)))
	return rec
}

func (h *PipelineHandler) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListPipelines(r.Context())
	if err != nil {
		h.logger.Error("Pipeline list failed", zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Failed to list pipelines",
			err.Error(), "PIPELINE_LIST_FAILED")
		return
	}
	views := make([]pipelineView, 0, len(recs))
	for i := range recs {
		views = append(views, viewOf(&recs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": views})
}

func (h *PipelineHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetPipeline(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Pipeline not found", "", "PIPELINE_NOT_FOUND")
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Failed to load pipeline",
			err.Error(), "PIPELINE_LOAD_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (h *PipelineHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.DeletePipeline(r.Context(), id); err != nil {
		h.logger.Error("Pipeline delete failed", zap.String("pipeline_id", id), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Failed to delete pipeline",
			err.Error(), "PIPELINE_DELETE_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// executeRequest triggers one pipeline run.
type executeRequest struct {
	SessionID string       `json:"session_id,omitempty"`
	Input     executeInput `json:"input"`
}

type executeInput struct {
	Task    string         `json:"task"`
	Payload map[string]any `json:"payload,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
}

func (h *PipelineHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), "INVALID_BODY")
		return
	}
	if req.Input.Task == "" {
		writeProblem(w, http.StatusBadRequest, "Task is required", "", "TASK_REQUIRED")
		return
	}
	settings, err := eyes.SettingsFromConfig(req.Input.Config)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid config", err.Error(), "INVALID_CONFIG")
		return
	}

	rec, err := h.store.GetPipeline(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Pipeline not found", "", "PIPELINE_NOT_FOUND")
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Failed to load pipeline",
			err.Error(), "PIPELINE_LOAD_FAILED")
		return
	}

	def, err := pipeline.ParseDefinition(rec.Definition)
	if err != nil {
		h.logger.Error("Stored pipeline definition is invalid",
			zap.String("pipeline_id", id), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Stored definition is invalid",
			err.Error(), "PIPELINE_CORRUPT")
		return
	}

	result, err := h.executor.Execute(r.Context(), def, pipeline.Input{
		SessionID: req.SessionID,
		Task:      req.Input.Task,
		Payload:   req.Input.Payload,
		Settings:  settings,
	})
	if err != nil {
		h.logger.Error("Pipeline execution failed",
			zap.String("pipeline_id", id), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Pipeline execution failed",
			err.Error(), "PIPELINE_EXEC_FAILED")
		return
	}

	h.persistRun(id, req.SessionID, result)
	writeJSON(w, http.StatusOK, result)
}

// persistRun records the execution off the request path; a failed
// write only logs.
func (h *PipelineHandler) persistRun(pipelineID, sessionID string, result pipeline.Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		h.logger.Warn("Pipeline result encode failed", zap.String("pipeline_id", pipelineID), zap.Error(err))
		return
	}
	rec := &store.PipelineRunRecord{
		ID:         uuid.New().String(),
		PipelineID: pipelineID,
		SessionID:  sessionID,
		Success:    result.Success,
		Result:     raw,
		LatencyMs:  result.TotalLatencyMs,
		CreatedAt:  time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.store.InsertPipelineRun(ctx, rec); err != nil {
			h.logger.Warn("Pipeline run persist failed",
				zap.String("pipeline_id", pipelineID), zap.Error(err))
		}
	}()
}
