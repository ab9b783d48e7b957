package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/services"
)

// RestLocationHandler handles the locations of the authenticated user.
type RestLocationHandler struct {
	locationService services.ILocationService
}

// NewRestLocationHandler creates a new RestLocationHandler.
func NewRestLocationHandler(locationService services.ILocationService) *RestLocationHandler {
	return &RestLocationHandler{locationService: locationService}
}

// ListLocations handles GET /v1/locations
func (h *RestLocationHandler) ListLocations(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	locations, err := h.locationService.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": locations})
}

// CreateLocation handles POST /v1/locations
func (h *RestLocationHandler) CreateLocation(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	var in services.LocationInput
	if !bindJSON(c, &in) {
		return
	}
	location, err := h.locationService.Create(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, location)
}

// UpdateLocation handles PUT /v1/locations/:id
func (h *RestLocationHandler) UpdateLocation(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	locationID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in services.LocationInput
	if !bindJSON(c, &in) {
		return
	}
	location, err := h.locationService.Update(c.Request.Context(), userID, locationID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, location)
}

// DeleteLocation handles DELETE /v1/locations/:id
func (h *RestLocationHandler) DeleteLocation(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	locationID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.locationService.Delete(c.Request.Context(), userID, locationID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetMainLocation handles POST /v1/locations/:id/main
func (h *RestLocationHandler) SetMainLocation(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	locationID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.locationService.SetMain(c.Request.Context(), userID, locationID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
