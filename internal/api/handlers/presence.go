package handlers

import (
	"context"
	"net/http"

	"chat-relay/internal/services"
	"chat-relay/pkg/response"

	"github.com/gin-gonic/gin"
)

type OnlineChecker interface {
	IsOnline(identity string) bool
	OnlineIdentities() []string
}

type StatusReader interface {
	GetUserStatus(ctx context.Context, userID string) (*services.UserStatus, error)
	GetOnlineUsers(ctx context.Context) ([]string, error)
}

// PresenceHandler answers from the relay's own sessions and, when a status
// store is configured, adds the last-seen time recorded there.
type PresenceHandler struct {
	relay    OnlineChecker
	statuses StatusReader
}

func NewPresenceHandler(relay OnlineChecker, statuses StatusReader) *PresenceHandler {
	return &PresenceHandler{relay: relay, statuses: statuses}
}

type PresenceResponse struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	Status   string `json:"status"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// GetPresence godoc
// @Summary Get user presence
// @Tags presence
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} PresenceResponse
// @Failure 401 {object} response.ErrorBody "Unauthorized"
// @Router /presence/{userId} [get]
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID := c.Param("userId")
	online := h.relay.IsOnline(userID)

	resp := PresenceResponse{UserID: userID, Online: online, Status: "offline"}
	if online {
		resp.Status = "online"
	}

	if h.statuses != nil {
		status, err := h.statuses.GetUserStatus(c.Request.Context(), userID)
		if err != nil {
			response.Error(c, err)
			return
		}
		resp.LastSeen = status.LastSeen
	}

	response.Success(c, http.StatusOK, "Presence retrieved", resp)
}

// ListOnline godoc
// @Summary List online users
// @Description Identities currently online. Read from the shared status store when configured, otherwise from this relay's sessions.
// @Tags presence
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string][]string
// @Failure 401 {object} response.ErrorBody "Unauthorized"
// @Router /presence [get]
func (h *PresenceHandler) ListOnline(c *gin.Context) {
	if h.statuses == nil {
		response.Success(c, http.StatusOK, "Online users retrieved", gin.H{"online": h.relay.OnlineIdentities()})
		return
	}

	users, err := h.statuses.GetOnlineUsers(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Online users retrieved", gin.H{"online": users})
}
