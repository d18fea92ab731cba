package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stagehand/internal/config"
	"stagehand/internal/dispatch"
	stagehanderrors "stagehand/internal/errors"
	"stagehand/internal/logging"
)

// DispatchHandler maps GET/POST/DELETE /dispatch onto the reconciler's
// status, ensure-active and release operations.
type DispatchHandler struct {
	cfg        config.Config
	reconciler *dispatch.Reconciler
	logger     logging.Logger
}

// NewDispatchHandler creates the dispatch endpoint handler.
func NewDispatchHandler(cfg config.Config, reconciler *dispatch.Reconciler, logger logging.Logger) *DispatchHandler {
	return &DispatchHandler{
		cfg:        cfg,
		reconciler: reconciler,
		logger:     logging.OrNop(logger),
	}
}

type statusResponse struct {
	Status string `json:"status"`
	dispatch.StatusResult
}

type ensureResponse struct {
	Status string `json:"status"`
	dispatch.EnsureResult
}

type releaseResponse struct {
	Status  string `json:"status"`
	Removed int    `json:"removed"`
}

// HandleStatus implements GET /dispatch?room=<name>.
func (h *DispatchHandler) HandleStatus(c *gin.Context) {
	room, err := h.validateRoomQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.reconciler.Status(c.Request.Context(), room)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "ok", StatusResult: *result})
}

type ensureRequest struct {
	Room string `json:"room"`
	// Metadata may be a JSON string (possibly encoding structured fields) or
	// any other JSON value treated as opaque text.
	Metadata json.RawMessage `json:"metadata"`
}

// HandleEnsure implements POST /dispatch with body {room, metadata?}.
func (h *DispatchHandler) HandleEnsure(c *gin.Context) {
	if err := h.cfg.Validate(); err != nil {
		writeError(c, err)
		return
	}

	var req ensureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, stagehanderrors.NewBadRequestError("invalid request body: %v", err))
		return
	}
	room := strings.TrimSpace(req.Room)
	if room == "" {
		writeError(c, stagehanderrors.NewBadRequestError("room is required"))
		return
	}

	result, err := h.reconciler.EnsureActive(c.Request.Context(), room, metadataString(req.Metadata))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ensureResponse{Status: "ok", EnsureResult: *result})
}

// HandleRelease implements DELETE /dispatch?room=<name>.
func (h *DispatchHandler) HandleRelease(c *gin.Context) {
	room, err := h.validateRoomQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.reconciler.Release(c.Request.Context(), room)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, releaseResponse{Status: "ok", Removed: result.Removed})
}

// validateRoomQuery checks configuration before any work, then the room
// parameter. Order matters: misconfiguration is a 500 even when the caller
// also forgot the room.
func (h *DispatchHandler) validateRoomQuery(c *gin.Context) (string, error) {
	if err := h.cfg.Validate(); err != nil {
		return "", err
	}
	room := strings.TrimSpace(c.Query("room"))
	if room == "" {
		return "", stagehanderrors.NewBadRequestError("room is required")
	}
	return room, nil
}

// metadataString flattens the metadata value to the opaque string handed
// upstream: JSON strings are unquoted, everything else passes through as raw
// JSON text.
func metadataString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return ""
	}
	var text string
	if err := json.Unmarshal([]byte(trimmed), &text); err == nil {
		return text
	}
	return trimmed
}

func writeError(c *gin.Context, err error) {
	c.JSON(stagehanderrors.HTTPStatus(err), gin.H{
		"status": "error",
		"error":  err.Error(),
	})
}
