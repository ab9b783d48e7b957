package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
)

// RestUserHandler handles REST requests related to users.
type RestUserHandler struct {
	userService         services.IUserService
	listingService      services.IListingService
	gamificationService services.IGamificationService
	ratingService       services.IRatingService
}

// NewRestUserHandler creates a new RestUserHandler.
func NewRestUserHandler(
	userService services.IUserService,
	listingService services.IListingService,
	gamificationService services.IGamificationService,
	ratingService services.IRatingService,
) *RestUserHandler {
	return &RestUserHandler{
		userService:         userService,
		listingService:      listingService,
		gamificationService: gamificationService,
		ratingService:       ratingService,
	}
}

// PublicProfile is what other members see of a user.
type PublicProfile struct {
	models.PublicUser
	DateJoined   string `json:"date_joined"`
	ListingCount int64  `json:"listing_count"`
}

// GetUserByID handles GET /v1/users/:id
func (h *RestUserHandler) GetUserByID(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	user, err := h.userService.GetByID(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	_, count, err := h.listingService.Search(ctx, models.ListingFilter{
		OwnerID: &userID,
		Status:  models.ListingStatusPublished,
		PerPage: 1,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, PublicProfile{
		PublicUser:   user.Public(),
		DateJoined:   user.CreatedAt.Format(time.DateOnly),
		ListingCount: count,
	})
}

// GetMe handles GET /v1/users/me
func (h *RestUserHandler) GetMe(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	user, err := h.userService.GetByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateMe handles PUT /v1/users/me
func (h *RestUserHandler) UpdateMe(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	var update services.ProfileUpdate
	if !bindJSON(c, &update) {
		return
	}
	user, err := h.userService.UpdateProfile(c.Request.Context(), userID, update)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateKYC handles PUT /v1/users/me/kyc
func (h *RestUserHandler) UpdateKYC(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	var kyc models.KYC
	if !bindJSON(c, &kyc) {
		return
	}
	user, err := h.userService.UpdateKYC(c.Request.Context(), userID, kyc)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type PaymentAccountRequest struct {
	AccountID     string `json:"account_id"`
	WalletID      string `json:"wallet_id"`
	BankAccountID string `json:"bank_account_id"`
}

// SetPaymentAccount handles PUT /v1/users/me/payment-account. The bank account
// is optional and only needed to receive payouts.
func (h *RestUserHandler) SetPaymentAccount(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	var req PaymentAccountRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.AccountID == "" {
		badRequest(c, "account_id is required")
		return
	}
	ctx := c.Request.Context()
	if err := h.userService.SetPaymentAccount(ctx, userID, req.AccountID, req.WalletID); err != nil {
		respondError(c, err)
		return
	}
	if req.BankAccountID != "" {
		if err := h.userService.SetBankAccount(ctx, userID, req.BankAccountID); err != nil {
			respondError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

// GetProgress handles GET /v1/users/me/progress
func (h *RestUserHandler) GetProgress(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	progress, err := h.gamificationService.GetProgress(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// GetUserRatings handles GET /v1/users/:id/ratings. Only visible ratings are listed.
func (h *RestUserHandler) GetUserRatings(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ratings, err := h.ratingService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ratings})
}
