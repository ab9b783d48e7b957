package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/samjaninf/stelace-sub000/internal/api/handlers"
	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

func TestRestConversationHandler_SendMessage(t *testing.T) {
	conversations := new(MockConversationService)
	handler := handlers.NewRestConversationHandler(conversations)
	r := newTestEngine()
	r.POST("/v1/messages", middleware.AuthMiddleware(testJwtSecret), handler.SendMessage)

	senderID := utils.NewSixID()
	listingID := utils.NewSixID()
	conversations.On("SendMessage", mock.Anything, senderID, mock.MatchedBy(func(in models.MessageInput) bool {
		return in.ListingID == listingID && in.Content == "Is it available?"
	})).Return(&models.Message{SenderID: senderID, Content: "Is it available?"}, nil).Once()
	conversations.On("SendMessage", mock.Anything, senderID, mock.MatchedBy(func(in models.MessageInput) bool {
		return in.Content == ""
	})).Return(nil, services.ErrEmptyMessage).Once()

	w := doJSON(r, http.MethodPost, "/v1/messages", bearer(t, senderID, false), map[string]string{
		"listing_id": listingID.String(),
		"content":    "Is it available?",
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/messages", bearer(t, senderID, false), map[string]string{
		"listing_id": listingID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	conversations.AssertExpectations(t)
}
