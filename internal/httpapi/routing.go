package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arguslabs/argus/internal/eyes"
	"github.com/arguslabs/argus/internal/routing"
)

// RoutingHandler serves CRUD over per-stage model assignments.
type RoutingHandler struct {
	table  *routing.Table
	logger *zap.Logger
}

func NewRoutingHandler(table *routing.Table, logger *zap.Logger) *RoutingHandler {
	return &RoutingHandler{table: table, logger: logger}
}

func (h *RoutingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/routing", instrument("/api/v1/routing", h.handleList))
	mux.HandleFunc("GET /api/v1/routing/{eye}", instrument("/api/v1/routing/{eye}", h.handleGet))
	mux.HandleFunc("PUT /api/v1/routing/{eye}", instrument("/api/v1/routing/{eye}", h.handleSet))
	mux.HandleFunc("DELETE /api/v1/routing/{eye}", instrument("/api/v1/routing/{eye}", h.handleDelete))
}

func (h *RoutingHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assignments": h.table.List()})
}

// assignmentView reports the effective assignment and where it came
// from.
type assignmentView struct {
	routing.Assignment
	Source string `json:"source"`
}

func (h *RoutingHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	eye, ok := h.eyeParam(w, r)
	if !ok {
		return
	}
	a, err := h.table.Resolve(eye)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "No assignment for stage", err.Error(),
			"ROUTING_NOT_FOUND")
		return
	}
	source := "default"
	if _, overridden := h.table.Get(eye); overridden {
		source = "override"
	}
	writeJSON(w, http.StatusOK, assignmentView{Assignment: a, Source: source})
}

// assignmentRequest is the writable slice of an assignment; the stage
// comes from the path.
type assignmentRequest struct {
	PrimaryProvider  string `json:"primary_provider"`
	PrimaryModel     string `json:"primary_model"`
	FallbackProvider string `json:"fallback_provider,omitempty"`
	FallbackModel    string `json:"fallback_model,omitempty"`
}

func (h *RoutingHandler) handleSet(w http.ResponseWriter, r *http.Request) {
	eye, ok := h.eyeParam(w, r)
	if !ok {
		return
	}

	var req assignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), "INVALID_BODY")
		return
	}
	if req.PrimaryProvider == "" || req.PrimaryModel == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid assignment",
			"a primary provider and model are required", "ROUTING_INVALID")
		return
	}
	if (req.FallbackProvider == "") != (req.FallbackModel == "") {
		writeProblem(w, http.StatusBadRequest, "Invalid assignment",
			"fallback provider and model must be set together", "ROUTING_INVALID")
		return
	}

	a := routing.Assignment{
		Eye:              eye,
		PrimaryProvider:  req.PrimaryProvider,
		PrimaryModel:     req.PrimaryModel,
		FallbackProvider: req.FallbackProvider,
		FallbackModel:    req.FallbackModel,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := h.table.Set(r.Context(), a); err != nil {
		h.logger.Error("Routing update failed", zap.String("eye", string(eye)), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Failed to store assignment",
			err.Error(), "ROUTING_SAVE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, assignmentView{Assignment: a, Source: "override"})
}

func (h *RoutingHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	eye, ok := h.eyeParam(w, r)
	if !ok {
		return
	}
	if err := h.table.Delete(r.Context(), eye); err != nil {
		h.logger.Error("Routing delete failed", zap.String("eye", string(eye)), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "Failed to remove assignment",
			err.Error(), "ROUTING_DELETE_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoutingHandler) eyeParam(w http.ResponseWriter, r *http.Request) (eyes.ID, bool) {
	eye := eyes.ID(r.PathValue("eye"))
	if !eye.Valid() {
		writeProblem(w, http.StatusNotFound, "Unknown stage", string(eye), "UNKNOWN_EYE")
		return "", false
	}
	return eye, true
}
