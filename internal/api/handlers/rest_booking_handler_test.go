package handlers_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/samjaninf/stelace-sub000/internal/api/handlers"
	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

func setupBookingRouter(bookings *MockBookingService) *gin.Engine {
	handler := handlers.NewRestBookingHandler(bookings, nil, nil, nil)
	r := newTestEngine()
	authed := r.Group("/v1", middleware.AuthMiddleware(testJwtSecret))
	authed.POST("/bookings", handler.CreateBooking)
	authed.GET("/bookings", handler.ListBookings)
	authed.POST("/bookings/:id/pay", handler.PayBooking)
	authed.POST("/bookings/:id/cancel", handler.CancelBooking)
	return r
}

func TestRestBookingHandler_CreateBooking(t *testing.T) {
	bookings := new(MockBookingService)
	r := setupBookingRouter(bookings)

	takerID := utils.NewSixID()
	listingID := utils.NewSixID()
	created := &models.Booking{ListingID: listingID, TakerID: takerID, Quantity: 1}
	created.ID = utils.NewSixID()
	bookings.On("Create", mock.Anything, takerID, mock.MatchedBy(func(in services.BookingInput) bool {
		return in.ListingID == listingID && in.Quantity == 1
	})).Return(created, nil)

	w := doJSON(r, http.MethodPost, "/v1/bookings", bearer(t, takerID, false), map[string]interface{}{
		"listing_id": listingID.String(),
		"start_date": "2030-06-01T00:00:00Z",
		"end_date":   "2030-06-04T00:00:00Z",
		"quantity":   1,
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp models.Booking
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.ID)
	bookings.AssertExpectations(t)
}

func TestRestBookingHandler_CreateBooking_RequiresAuth(t *testing.T) {
	bookings := new(MockBookingService)
	r := setupBookingRouter(bookings)

	w := doJSON(r, http.MethodPost, "/v1/bookings", "", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	bookings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestRestBookingHandler_CreateBooking_ErrorStatuses(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrOwnBooking, http.StatusForbidden},
		{fmt.Errorf("%w: not enough quantity", services.ErrListingUnavailable), http.StatusConflict},
		{services.ErrPaymentAccountRequired, http.StatusUnprocessableEntity},
		{services.ErrListingNotFound, http.StatusNotFound},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			bookings := new(MockBookingService)
			r := setupBookingRouter(bookings)
			bookings.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			w := doJSON(r, http.MethodPost, "/v1/bookings", bearer(t, utils.NewSixID(), false),
				map[string]interface{}{"listing_id": utils.NewSixID().String()})
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRestBookingHandler_ListBookings(t *testing.T) {
	bookings := new(MockBookingService)
	r := setupBookingRouter(bookings)
	userID := utils.NewSixID()

	w := doJSON(r, http.MethodGet, "/v1/bookings?role=admin", bearer(t, userID, false), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bookings.On("List", mock.Anything, userID, models.RoleOwner, models.BookingPending).Return([]models.Booking{{}, {}}, nil)
	w = doJSON(r, http.MethodGet, "/v1/bookings?role=owner&status=pending", bearer(t, userID, false), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []models.Booking `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestRestBookingHandler_CancelBooking(t *testing.T) {
	bookings := new(MockBookingService)
	r := setupBookingRouter(bookings)
	userID := utils.NewSixID()
	bookingID := utils.NewSixID()

	bookings.On("Cancel", mock.Anything, userID, bookingID, "plans changed").
		Return(&models.Cancellation{BookingID: bookingID, Reason: models.ReasonTakerCancellation, RefundAmount: 5000}, nil).Once()
	w := doJSON(r, http.MethodPost, "/v1/bookings/"+bookingID.String()+"/cancel", bearer(t, userID, false),
		map[string]string{"note": "plans changed"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.Cancellation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 5000, resp.RefundAmount)

	bookings.On("Cancel", mock.Anything, userID, bookingID, "").Return(nil, services.ErrInvalidTransition).Once()
	w = doJSON(r, http.MethodPost, "/v1/bookings/"+bookingID.String()+"/cancel", bearer(t, userID, false), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRestBookingHandler_PayBooking(t *testing.T) {
	bookings := new(MockBookingService)
	r := setupBookingRouter(bookings)
	takerID := utils.NewSixID()
	paidID := utils.NewSixID()
	pendingID := utils.NewSixID()
	declinedID := utils.NewSixID()

	now := time.Now()
	bookings.On("Pay", mock.Anything, takerID, paidID).
		Return(&models.Booking{Base: models.Base{ID: paidID}, TakerID: takerID, PaidDate: &now}, nil).Once()
	bookings.On("Pay", mock.Anything, takerID, pendingID).Return(nil, services.ErrPaymentPending).Once()
	bookings.On("Pay", mock.Anything, takerID, declinedID).Return(nil, services.ErrPaymentDeclined).Once()

	w := doJSON(r, http.MethodPost, "/v1/bookings/"+paidID.String()+"/pay", bearer(t, takerID, false), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view models.BookingView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, models.BookingPaid, view.Status)

	w = doJSON(r, http.MethodPost, "/v1/bookings/"+pendingID.String()+"/pay", bearer(t, takerID, false), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/bookings/"+declinedID.String()+"/pay", bearer(t, takerID, false), nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	bookings.AssertExpectations(t)
}
