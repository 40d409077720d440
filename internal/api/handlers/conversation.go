package handlers

import (
	"net/http"
	"strconv"

	"chat-relay/internal/api/middleware"
	"chat-relay/internal/apperror"
	"chat-relay/internal/models"
	"chat-relay/internal/services"
	"chat-relay/pkg/response"

	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	conversationService *services.ConversationService
}

func NewConversationHandler(conversationService *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

func toResponses(convs []models.Conversation) []models.ConversationResponse {
	out := make([]models.ConversationResponse, 0, len(convs))
	for i := range convs {
		out = append(out, models.NewConversationResponse(&convs[i]))
	}
	return out
}

// CreateConversation godoc
// @Summary Create a conversation
// @Description Create a conversation with the caller and the given participants. A direct conversation between the same two users is returned instead of duplicated.
// @Tags conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CreateConversationRequest true "Conversation data"
// @Success 201 {object} models.ConversationResponse "Conversation created"
// @Success 200 {object} models.ConversationResponse "Existing direct conversation"
// @Failure 400 {object} response.ErrorBody "Invalid input"
// @Failure 401 {object} response.ErrorBody "Unauthorized"
// @Router /conversations [post]
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Wrap(apperror.KindInvalidRequest, "invalid request body", err))
		return
	}

	conv, created, err := h.conversationService.CreateConversation(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	if created {
		response.Success(c, http.StatusCreated, "Conversation created", models.NewConversationResponse(conv))
		return
	}
	response.Success(c, http.StatusOK, "Conversation already exists", models.NewConversationResponse(conv))
}

// ListConversations godoc
// @Summary List conversations
// @Description List the caller's conversations, most recently active first
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.ConversationResponse
// @Failure 401 {object} response.ErrorBody "Unauthorized"
// @Router /conversations [get]
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	convs, err := h.conversationService.ListConversations(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Conversations retrieved", toResponses(convs))
}

// GetConversation godoc
// @Summary Get a conversation
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Success 200 {object} models.ConversationResponse
// @Failure 403 {object} response.ErrorBody "Not a participant"
// @Failure 404 {object} response.ErrorBody "Conversation not found"
// @Router /conversations/{id} [get]
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, err := h.conversationService.GetConversation(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Conversation retrieved", models.NewConversationResponse(conv))
}

// SendMessage godoc
// @Summary Send a message
// @Description Store a message and deliver it to every live subscriber of the conversation
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param request body models.SendMessageRequest true "Message"
// @Success 201 {object} models.Message
// @Failure 400 {object} response.ErrorBody "Invalid input"
// @Failure 403 {object} response.ErrorBody "Not a participant"
// @Failure 404 {object} response.ErrorBody "Conversation not found"
// @Router /conversations/{id}/messages [post]
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Wrap(apperror.KindInvalidRequest, "content is required", err))
		return
	}

	msg, err := h.conversationService.SendMessage(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, "Message sent", msg)
}

// ListMessages godoc
// @Summary List messages
// @Description Page through a conversation's history. Page 1 is the newest; messages within a page are chronological.
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Success 200 {array} models.Message
// @Failure 403 {object} response.ErrorBody "Not a participant"
// @Failure 404 {object} response.ErrorBody "Conversation not found"
// @Router /conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		response.Error(c, err)
		return
	}
	limit, err := queryInt(c, "limit", models.DefaultPageLimit)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.conversationService.ListMessages(c.Request.Context(), middleware.UserID(c), c.Param("id"), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, "Messages retrieved", result.Messages, models.PageMeta{
		Total: result.Total,
		Page:  result.Page,
		Pages: result.Pages,
	})
}

// MarkRead godoc
// @Summary Mark a conversation read
// @Description Mark messages from other participants as read and notify live subscribers
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Success 200 {object} map[string]int64 "Number of messages marked read"
// @Failure 403 {object} response.ErrorBody "Not a participant"
// @Failure 404 {object} response.ErrorBody "Conversation not found"
// @Router /conversations/{id}/read [post]
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	n, err := h.conversationService.MarkRead(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Messages marked as read", gin.H{"updated": n})
}

// UnreadCount godoc
// @Summary Count unread messages
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Success 200 {object} map[string]int64 "Unread message count"
// @Router /conversations/{id}/unread [get]
func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	n, err := h.conversationService.UnreadCount(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Unread count retrieved", gin.H{"unread": n})
}

// AddParticipant godoc
// @Summary Add a participant
// @Tags conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param request body models.ParticipantRequest true "Participant"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} response.ErrorBody "Invalid input or not a group"
// @Failure 403 {object} response.ErrorBody "Not a participant"
// @Router /conversations/{id}/participants [post]
func (h *ConversationHandler) AddParticipant(c *gin.Context) {
	var req models.ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Wrap(apperror.KindInvalidRequest, "userId is required", err))
		return
	}

	if err := h.conversationService.AddParticipant(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Participant added", gin.H{"conversationId": c.Param("id"), "userId": req.UserID})
}

// RemoveParticipant godoc
// @Summary Remove a participant
// @Tags conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param request body models.ParticipantRequest true "Participant"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} response.ErrorBody "Not a participant"
// @Router /conversations/{id}/participants/remove [post]
func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	var req models.ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Wrap(apperror.KindInvalidRequest, "userId is required", err))
		return
	}

	if err := h.conversationService.RemoveParticipant(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, "Participant removed", gin.H{"conversationId": c.Param("id"), "userId": req.UserID})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.InvalidRequest("invalid " + key + " parameter")
	}
	return v, nil
}
