// Package httpapi exposes the research orchestrator over HTTP: a small
// JSON control API plus SSE and WebSocket progress streams.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inquest-ai/inquest/internal/chains"
	"github.com/inquest-ai/inquest/internal/models"
	"github.com/inquest-ai/inquest/internal/service"
	"github.com/inquest-ai/inquest/internal/store"
)

// Handler serves the tree control API.
type Handler struct {
	orch     *service.Orchestrator
	defaults models.TreeConfig
	logger   *zap.Logger
	started  time.Time
}

// NewHandler creates the control API handler. defaults is applied when a
// create request omits its config.
func NewHandler(orch *service.Orchestrator, defaults models.TreeConfig, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, defaults: defaults, logger: logger, started: time.Now()}
}

// RegisterRoutes registers the control API on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/trees", h.handleTrees)
	mux.HandleFunc("/api/v1/trees/status", h.handleStatus)
	mux.HandleFunc("/api/v1/trees/result", h.handleResult)
	mux.HandleFunc("/api/v1/trees/chain", h.handleChain)
	mux.HandleFunc("/api/v1/trees/cancel", h.handleCancel)
	mux.HandleFunc("/healthz", h.handleHealth)
}

// CreateTreeRequest starts a new investigation. Config is optional; when
// omitted the service defaults apply.
type CreateTreeRequest struct {
	RootQuery string             `json:"root_query"`
	Config    *models.TreeConfig `json:"config,omitempty"`
}

// POST /api/v1/trees
func (h *Handler) handleTrees(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req CreateTreeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RootQuery == "" {
		writeError(w, http.StatusBadRequest, "root_query required")
		return
	}
	cfg := h.defaults
	if req.Config != nil {
		cfg = *req.Config
	}

	t, err := h.orch.Start(r.Context(), req.RootQuery, cfg)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GET /api/v1/trees/status?tree_id=<id>
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := h.treeID(w, r)
	if !ok {
		return
	}
	snap, err := h.orch.GetStatus(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /api/v1/trees/result?tree_id=<id>
func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := h.treeID(w, r)
	if !ok {
		return
	}
	result, err := h.orch.GetResult(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /api/v1/trees/chain?node_id=<id>
func (h *Handler) handleChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := r.URL.Query().Get("node_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "node_id required")
		return
	}
	nodeID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "node_id is not a valid UUID")
		return
	}
	chain, err := h.orch.GetChain(r.Context(), nodeID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node_id": nodeID,
		"chain":   chain,
	})
}

// POST /api/v1/trees/cancel?tree_id=<id>
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := h.treeID(w, r)
	if !ok {
		return
	}
	if err := h.orch.Cancel(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

func (h *Handler) treeID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("tree_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "tree_id required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "tree_id is not a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrTreeNotFound), errors.Is(err, store.ErrNodeNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chains.ErrBrokenChain):
		h.logger.Error("Chain integrity violation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "chain integrity violation")
	default:
		h.logger.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
