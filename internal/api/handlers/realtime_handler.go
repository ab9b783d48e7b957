package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/push"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

const maxWebhookBodyBytes = 1 << 20

// WebSocketServer upgrades a request into a realtime connection of userID.
type WebSocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID utils.SixID)
}

// RealtimeHandler serves the websocket endpoint, web push subscriptions and
// the payment provider webhook.
type RealtimeHandler struct {
	hub            WebSocketServer
	pushSender     push.ISender
	paymentService services.IPaymentService
}

func NewRealtimeHandler(hub WebSocketServer, pushSender push.ISender, paymentService services.IPaymentService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, pushSender: pushSender, paymentService: paymentService}
}

// ServeWS handles GET /v1/ws. Browsers pass the JWT as ?token=.
func (h *RealtimeHandler) ServeWS(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	h.hub.ServeWS(c.Writer, c.Request, userID)
}

// GetPushKey handles GET /v1/push/key
func (h *RealtimeHandler) GetPushKey(c *gin.Context) {
	key := h.pushSender.PublicKey()
	if key == "" {
		respondError(c, push.ErrNotConfigured)
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": key})
}

// PushSubscriptionRequest mirrors the browser PushSubscription JSON.
type PushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe handles POST /v1/push/subscriptions
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	var req PushSubscriptionRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		badRequest(c, "endpoint and keys are required")
		return
	}
	if err := h.pushSender.Subscribe(c.Request.Context(), userID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// Unsubscribe handles DELETE /v1/push/subscriptions with {"endpoint": "..."}
func (h *RealtimeHandler) Unsubscribe(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.pushSender.Unsubscribe(c.Request.Context(), userID, req.Endpoint); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PaymentWebhook handles POST /v1/webhooks/payment. The raw body is signed by
// the provider in the X-Payment-Signature header.
func (h *RealtimeHandler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		badRequest(c, "Failed to read request body")
		return
	}
	err = h.paymentService.HandleWebhook(c.Request.Context(), body, c.GetHeader("X-Payment-Signature"))
	if err != nil {
		logrus.WithError(err).Warn("Payment webhook rejected")
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
