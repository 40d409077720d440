package handlers

import (
	"chat-relay/internal/auth"
	"chat-relay/internal/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

type WSHandler struct {
	relay    *websocket.Relay
	upgrader *gorilla.Upgrader
}

func NewWSHandler(relay *websocket.Relay, upgrader *gorilla.Upgrader) *WSHandler {
	return &WSHandler{relay: relay, upgrader: upgrader}
}

// HandleWebSocket godoc
// @Summary WebSocket connection
// @Description Establish a realtime connection. The token is read from the "token" query parameter or the Authorization header; an invalid token closes the socket with code 1008.
// @Tags websocket
// @Param token query string false "Bearer token"
// @Success 101 "Switching Protocols - WebSocket connection established"
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = auth.StripBearer(c.GetHeader("Authorization"))
	}
	websocket.ServeWS(h.relay, h.upgrader, c.Writer, c.Request, token)
}
