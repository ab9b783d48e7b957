package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
)

// RestBookingHandler handles the booking lifecycle and the assessments and
// ratings attached to a booking.
type RestBookingHandler struct {
	bookingService    services.IBookingService
	paymentService    services.IPaymentService
	assessmentService services.IAssessmentService
	ratingService     services.IRatingService
}

func NewRestBookingHandler(
	bookingService services.IBookingService,
	paymentService services.IPaymentService,
	assessmentService services.IAssessmentService,
	ratingService services.IRatingService,
) *RestBookingHandler {
	return &RestBookingHandler{
		bookingService:    bookingService,
		paymentService:    paymentService,
		assessmentService: assessmentService,
		ratingService:     ratingService,
	}
}

type NoteRequest struct {
	Note string `json:"note"`
}

// CreateBooking handles POST /v1/bookings
func (h *RestBookingHandler) CreateBooking(c *gin.Context) {
	takerID, _ := middleware.UserID(c)
	var in services.BookingInput
	if !bindJSON(c, &in) {
		return
	}
	booking, err := h.bookingService.Create(c.Request.Context(), takerID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking.View())
}

// ListBookings handles GET /v1/bookings?role=owner|taker&status=
func (h *RestBookingHandler) ListBookings(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	role := models.BookingRole(c.Query("role"))
	if role != "" && role != models.RoleOwner && role != models.RoleTaker {
		badRequest(c, "Invalid role")
		return
	}
	bookings, err := h.bookingService.List(c.Request.Context(), userID, role, models.BookingStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]models.BookingView, 0, len(bookings))
	for i := range bookings {
		views = append(views, bookings[i].View())
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

// GetBooking handles GET /v1/bookings/:id
func (h *RestBookingHandler) GetBooking(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	booking, err := h.bookingService.Get(c.Request.Context(), userID, bookingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking.View())
}

// AcceptBooking handles POST /v1/bookings/:id/accept
func (h *RestBookingHandler) AcceptBooking(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	booking, err := h.bookingService.Accept(c.Request.Context(), userID, bookingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking.View())
}

// PayBooking handles POST /v1/bookings/:id/pay
func (h *RestBookingHandler) PayBooking(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	booking, err := h.bookingService.Pay(c.Request.Context(), userID, bookingID)
	if errors.Is(err, services.ErrPaymentPending) {
		// The booking turns paid once the provider confirms the holds.
		c.JSON(http.StatusAccepted, gin.H{"message": err.Error()})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking.View())
}

// RejectBooking handles POST /v1/bookings/:id/reject
func (h *RestBookingHandler) RejectBooking(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req NoteRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	cancellation, err := h.bookingService.Reject(c.Request.Context(), userID, bookingID, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancellation)
}

// CancelBooking handles POST /v1/bookings/:id/cancel
func (h *RestBookingHandler) CancelBooking(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req NoteRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	cancellation, err := h.bookingService.Cancel(c.Request.Context(), userID, bookingID, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancellation)
}

// ListTransactions handles GET /v1/bookings/:id/transactions
func (h *RestBookingHandler) ListTransactions(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.bookingService.Get(ctx, userID, bookingID); err != nil {
		respondError(c, err)
		return
	}
	transactions, err := h.paymentService.ListForBooking(ctx, bookingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": transactions})
}

// CreateAssessment handles POST /v1/bookings/:id/assessments
func (h *RestBookingHandler) CreateAssessment(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Type models.AssessmentType `json:"type"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.Type != models.AssessmentInput && req.Type != models.AssessmentOutput {
		badRequest(c, "type must be input or output")
		return
	}
	assessment, err := h.assessmentService.Create(c.Request.Context(), userID, bookingID, req.Type)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, assessment)
}

// ListAssessments handles GET /v1/bookings/:id/assessments
func (h *RestBookingHandler) ListAssessments(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	assessments, err := h.assessmentService.GetForBooking(c.Request.Context(), userID, bookingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": assessments})
}

// GetAssessmentPhotoURL handles POST /v1/bookings/:id/assessments/photo-url
func (h *RestBookingHandler) GetAssessmentPhotoURL(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req UploadURLRequest
	if !bindJSON(c, &req) {
		return
	}
	url, key, err := h.assessmentService.PhotoUploadURL(c.Request.Context(), userID, bookingID, req.Filename, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, UploadURLResponse{URL: url, Key: key})
}

// CreateRating handles POST /v1/bookings/:id/ratings
func (h *RestBookingHandler) CreateRating(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in models.RatingInput
	if !bindJSON(c, &in) {
		return
	}
	rating, err := h.ratingService.Create(c.Request.Context(), userID, bookingID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rating)
}
