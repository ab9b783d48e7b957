package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
)

// RestConversationHandler handles messaging between owners and takers.
type RestConversationHandler struct {
	conversationService services.IConversationService
}

func NewRestConversationHandler(conversationService services.IConversationService) *RestConversationHandler {
	return &RestConversationHandler{conversationService: conversationService}
}

// ListConversations handles GET /v1/conversations
func (h *RestConversationHandler) ListConversations(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	conversations, err := h.conversationService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": conversations})
}

// GetConversation handles GET /v1/conversations/:id
func (h *RestConversationHandler) GetConversation(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	conversationID, ok := idParam(c, "id")
	if !ok {
		return
	}
	conversation, err := h.conversationService.Get(c.Request.Context(), userID, conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// GetMessages handles GET /v1/conversations/:id/messages
func (h *RestConversationHandler) GetMessages(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	conversationID, ok := idParam(c, "id")
	if !ok {
		return
	}
	messages, err := h.conversationService.GetMessages(c.Request.Context(), userID, conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": messages})
}

// MarkRead handles POST /v1/conversations/:id/read
func (h *RestConversationHandler) MarkRead(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	conversationID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.conversationService.MarkRead(c.Request.Context(), userID, conversationID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendMessage handles POST /v1/messages
func (h *RestConversationHandler) SendMessage(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	var in models.MessageInput
	if !bindJSON(c, &in) {
		return
	}
	message, err := h.conversationService.SendMessage(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}
