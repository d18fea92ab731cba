package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"stagehand/internal/config"
	stagehanderrors "stagehand/internal/errors"
	"stagehand/internal/livekit"
	"stagehand/internal/logging"
)

// TokenHandler hands out participant join tokens for the browser client.
type TokenHandler struct {
	cfg    config.Config
	logger logging.Logger
}

// NewTokenHandler creates the token endpoint handler.
func NewTokenHandler(cfg config.Config, logger logging.Logger) *TokenHandler {
	return &TokenHandler{cfg: cfg, logger: logging.OrNop(logger)}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ServerURL string `json:"serverUrl"`
	Identity  string `json:"identity"`
}

// HandleToken implements GET /token?room=<name>&name=<displayName>.
// The identity gets a random suffix so two tabs with the same display name
// do not evict each other.
func (h *TokenHandler) HandleToken(c *gin.Context) {
	if err := h.cfg.ValidateForToken(); err != nil {
		writeError(c, err)
		return
	}

	room := strings.TrimSpace(c.Query("room"))
	if room == "" {
		writeError(c, stagehanderrors.NewBadRequestError("room is required"))
		return
	}
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		name = "guest"
	}

	identity := name + "-" + identitySuffix()
	token, err := livekit.ParticipantToken(
		h.cfg.APIKey, h.cfg.APISecret, room, identity,
		livekit.DefaultParticipantTokenTTL, livekit.DefaultParticipantGrants(),
	)
	if err != nil {
		writeError(c, stagehanderrors.NewConfigError("signing token failed: %v", err))
		return
	}

	h.logger.Debug("issued join token for %s in room %s", identity, room)
	c.JSON(http.StatusOK, tokenResponse{
		Token:     token,
		ServerURL: h.cfg.ServerURL,
		Identity:  identity,
	})
}

func identitySuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
}
