package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/availability"
	"github.com/samjaninf/stelace-sub000/internal/payment"
	"github.com/samjaninf/stelace-sub000/internal/pricing"
	"github.com/samjaninf/stelace-sub000/internal/push"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// errorStatuses maps domain errors to HTTP statuses. Anything else is a 500.
var errorStatuses = []struct {
	err    error
	status int
}{
	{services.ErrValidation, http.StatusBadRequest},
	{availability.ErrInvalidPeriod, http.StatusBadRequest},
	{availability.ErrInvalidQuantity, http.StatusBadRequest},
	{pricing.ErrInvalidPeriod, http.StatusBadRequest},
	{pricing.ErrInvalidQuantity, http.StatusBadRequest},
	{pricing.ErrInvalidPrice, http.StatusBadRequest},
	{services.ErrEmptyMessage, http.StatusBadRequest},
	{services.ErrReceiverRequired, http.StatusBadRequest},
	{services.ErrInvalidPhotoKey, http.StatusBadRequest},
	{services.ErrInvalidImageKey, http.StatusBadRequest},
	{services.ErrUnsupportedContentType, http.StatusBadRequest},
	{services.ErrLocationCoordPair, http.StatusBadRequest},
	{services.ErrInvalidKYC, http.StatusBadRequest},
	{services.ErrTokenInvalid, http.StatusBadRequest},
	{services.ErrUnknownSetting, http.StatusBadRequest},
	{services.ErrInvalidCredentials, http.StatusUnauthorized},
	{services.ErrPaymentDeclined, http.StatusPaymentRequired},
	{services.ErrForbidden, http.StatusForbidden},
	{services.ErrOwnBooking, http.StatusForbidden},
	{services.ErrListingNotFound, http.StatusNotFound},
	{services.ErrBookingNotFound, http.StatusNotFound},
	{services.ErrUserNotFound, http.StatusNotFound},
	{services.ErrLocationNotFound, http.StatusNotFound},
	{services.ErrConversationNotFound, http.StatusNotFound},
	{services.ErrAssessmentNotFound, http.StatusNotFound},
	{services.ErrRatingNotFound, http.StatusNotFound},
	{services.ErrBlockNotFound, http.StatusNotFound},
	{services.ErrCancellationNotFound, http.StatusNotFound},
	{services.ErrSnapshotNotFound, http.StatusNotFound},
	{services.ErrTemplateNotFound, http.StatusNotFound},
	{services.ErrInvalidTransition, http.StatusConflict},
	{services.ErrListingUnavailable, http.StatusConflict},
	{availability.ErrNotEnoughQuantity, http.StatusConflict},
	{services.ErrListingHasFutureBookings, http.StatusConflict},
	{services.ErrEmailTaken, http.StatusConflict},
	{services.ErrAlreadyRated, http.StatusConflict},
	{services.ErrAssessmentExists, http.StatusConflict},
	{services.ErrAssessmentSigned, http.StatusConflict},
	{services.ErrRatingPublished, http.StatusConflict},
	{services.ErrTooManyLocations, http.StatusConflict},
	{services.ErrBookingExpired, http.StatusConflict},
	{services.ErrNotCompletable, http.StatusConflict},
	{services.ErrTokenUsed, http.StatusConflict},
	{services.ErrTokenExpired, http.StatusGone},
	{services.ErrPaymentAccountRequired, http.StatusUnprocessableEntity},
	{services.ErrNoPreauthorization, http.StatusUnprocessableEntity},
	{services.ErrPaymentFailed, http.StatusBadGateway},
	{services.ErrStorageUnavailable, http.StatusServiceUnavailable},
	{push.ErrNotConfigured, http.StatusServiceUnavailable},
	{services.ErrWebhookNotConfigured, http.StatusServiceUnavailable},
	{payment.ErrBadSignature, http.StatusUnauthorized},
	{payment.ErrBadEvent, http.StatusBadRequest},
}

// statusFor returns the HTTP status of err and whether it is a known domain error.
func statusFor(err error) (int, bool) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, true
		}
	}
	return http.StatusInternalServerError, false
}

// respondError writes err as {"error": message}. Unknown errors are logged and
// hidden behind a generic message.
func respondError(c *gin.Context, err error) {
	status, known := statusFor(err)
	if !known {
		_ = c.Error(err)
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message})
}

// idParam parses the SixID path parameter name, answering 400 when it is invalid.
func idParam(c *gin.Context, name string) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param(name))
	if err != nil || id.IsZero() {
		badRequest(c, "Invalid "+name+" format")
		return utils.SixID{}, false
	}
	return id, true
}

// bindJSON decodes the request body into v, answering 400 on malformed JSON.
// Field validation is left to the services.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
