package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

const defaultAvailabilityWindow = 90 * 24 * time.Hour

// RestListingHandler handles REST requests for listings.
type RestListingHandler struct {
	listingService services.IListingService
	ratingService  services.IRatingService
}

// NewRestListingHandler creates a new RestListingHandler.
func NewRestListingHandler(listingService services.IListingService, ratingService services.IRatingService) *RestListingHandler {
	return &RestListingHandler{listingService: listingService, ratingService: ratingService}
}

// parseListingFilter reads the search query parameters. Guests and other
// members only see published listings, owners listing their own see all of them.
func parseListingFilter(c *gin.Context) (models.ListingFilter, bool) {
	f := models.ListingFilter{
		Query:  c.Query("q"),
		Type:   models.ListingType(c.Query("type")),
		Status: models.ListingStatusPublished,
	}
	if tagsStr := c.Query("tags"); tagsStr != "" {
		for _, tag := range strings.Split(tagsStr, ",") {
			if trimmed := strings.TrimSpace(tag); trimmed != "" {
				f.Tags = append(f.Tags, trimmed)
			}
		}
	}
	if f.Type != "" && f.Type != models.ListingTypeRental && f.Type != models.ListingTypeSale {
		badRequest(c, "Invalid listing type")
		return f, false
	}
	if ownerStr := c.Query("owner_id"); ownerStr != "" {
		ownerID, err := utils.ParseSixID(ownerStr)
		if err != nil {
			badRequest(c, "Invalid owner_id format")
			return f, false
		}
		f.OwnerID = &ownerID
		if userID, ok := middleware.UserID(c); ok && userID == ownerID {
			f.Status = models.ListingStatus(c.Query("status"))
		}
	}
	f.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	f.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	return f, true
}

// SearchListings handles GET /v1/listings
func (h *RestListingHandler) SearchListings(c *gin.Context) {
	filter, ok := parseListingFilter(c)
	if !ok {
		return
	}
	listings, total, err := h.listingService.Search(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  listings,
		"total": total,
		"page":  filter.Page,
	})
}

// visibleTo reports whether the caller may see listing. Unpublished listings
// are shown to their owner and to admins only.
func visibleTo(c *gin.Context, listing *models.Listing) bool {
	if listing.Status == models.ListingStatusPublished {
		return true
	}
	userID, ok := middleware.UserID(c)
	return ok && (userID == listing.OwnerID || middleware.IsAdmin(c))
}

// GetListingByID handles GET /v1/listings/:id
func (h *RestListingHandler) GetListingByID(c *gin.Context) {
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	listing, err := h.listingService.GetByID(c.Request.Context(), listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !visibleTo(c, listing) {
		respondError(c, services.ErrListingNotFound)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// CreateListing handles POST /v1/listings
func (h *RestListingHandler) CreateListing(c *gin.Context) {
	ownerID, _ := middleware.UserID(c)
	var in services.ListingInput
	if !bindJSON(c, &in) {
		return
	}
	listing, err := h.listingService.Create(c.Request.Context(), ownerID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// UpdateListing handles PUT /v1/listings/:id
func (h *RestListingHandler) UpdateListing(c *gin.Context) {
	ownerID, _ := middleware.UserID(c)
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var update services.ListingUpdate
	if !bindJSON(c, &update) {
		return
	}
	listing, err := h.listingService.Update(c.Request.Context(), ownerID, listingID, update)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// PublishListing handles POST /v1/listings/:id/publish
func (h *RestListingHandler) PublishListing(c *gin.Context) {
	h.changeStatus(c, h.listingService.Publish)
}

// PauseListing handles POST /v1/listings/:id/pause
func (h *RestListingHandler) PauseListing(c *gin.Context) {
	h.changeStatus(c, h.listingService.Pause)
}

func (h *RestListingHandler) changeStatus(c *gin.Context, op func(ctx context.Context, ownerID, listingID utils.SixID) (*models.Listing, error)) {
	ownerID, _ := middleware.UserID(c)
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	listing, err := op(c.Request.Context(), ownerID, listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// DeleteListing handles DELETE /v1/listings/:id
func (h *RestListingHandler) DeleteListing(c *gin.Context) {
	ownerID, _ := middleware.UserID(c)
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.listingService.Remove(c.Request.Context(), ownerID, listingID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// QuoteListing handles POST /v1/listings/:id/quote
func (h *RestListingHandler) QuoteListing(c *gin.Context) {
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in services.QuoteInput
	if !bindJSON(c, &in) {
		return
	}
	quote, err := h.listingService.Quote(c.Request.Context(), listingID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// GetAvailability handles GET /v1/listings/:id/availability?from=&to= with
// RFC 3339 bounds. The window defaults to the next 90 days.
func (h *RestListingHandler) GetAvailability(c *gin.Context) {
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	from := time.Now().UTC()
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "Invalid from date")
			return
		}
		from = t
	}
	to := from.Add(defaultAvailabilityWindow)
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "Invalid to date")
			return
		}
		to = t
	}
	view, err := h.listingService.Availability(c.Request.Context(), listingID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// AddBlock handles POST /v1/listings/:id/blocks
func (h *RestListingHandler) AddBlock(c *gin.Context) {
	ownerID, _ := middleware.UserID(c)
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in services.BlockInput
	if !bindJSON(c, &in) {
		return
	}
	block, err := h.listingService.AddAvailabilityBlock(c.Request.Context(), ownerID, listingID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, block)
}

// RemoveBlock handles DELETE /v1/listings/:id/blocks/:blockId
func (h *RestListingHandler) RemoveBlock(c *gin.Context) {
	ownerID, _ := middleware.UserID(c)
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	blockID, ok := idParam(c, "blockId")
	if !ok {
		return
	}
	if err := h.listingService.RemoveAvailabilityBlock(c.Request.Context(), ownerID, listingID, blockID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type UploadURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type UploadURLResponse struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// GetImageUploadURL handles POST /v1/listings/:id/images/upload-url
func (h *RestListingHandler) GetImageUploadURL(c *gin.Context) {
	ownerID, _ := middleware.UserID(c)
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req UploadURLRequest
	if !bindJSON(c, &req) {
		return
	}
	url, key, err := h.listingService.GeneratePresignedImageURL(c.Request.Context(), ownerID, listingID, req.Filename, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, UploadURLResponse{URL: url, Key: key})
}

// ConfirmImageUpload handles POST /v1/listings/:id/images/confirm. The image
// is attached once the thumbnail task has processed it.
func (h *RestListingHandler) ConfirmImageUpload(c *gin.Context) {
	ownerID, _ := middleware.UserID(c)
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Key string `json:"key"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.listingService.ConfirmImageUpload(c.Request.Context(), ownerID, listingID, req.Key); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// GetListingRatings handles GET /v1/listings/:id/ratings
func (h *RestListingHandler) GetListingRatings(c *gin.Context) {
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ratings, err := h.ratingService.ListForListing(c.Request.Context(), listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": ratings})
}
