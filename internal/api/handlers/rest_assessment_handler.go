package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
)

// RestAssessmentHandler edits and signs assessments, and edits ratings before
// they become visible.
type RestAssessmentHandler struct {
	assessmentService services.IAssessmentService
	ratingService     services.IRatingService
}

func NewRestAssessmentHandler(assessmentService services.IAssessmentService, ratingService services.IRatingService) *RestAssessmentHandler {
	return &RestAssessmentHandler{assessmentService: assessmentService, ratingService: ratingService}
}

// UpdateAssessment handles PUT /v1/assessments/:id
func (h *RestAssessmentHandler) UpdateAssessment(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	assessmentID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var update models.AssessmentUpdate
	if !bindJSON(c, &update) {
		return
	}
	assessment, err := h.assessmentService.Update(c.Request.Context(), userID, assessmentID, update)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// SignAssessment handles POST /v1/assessments/:id/sign
func (h *RestAssessmentHandler) SignAssessment(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	assessmentID, ok := idParam(c, "id")
	if !ok {
		return
	}
	assessment, err := h.assessmentService.Sign(c.Request.Context(), userID, assessmentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// UpdateRating handles PUT /v1/ratings/:id
func (h *RestAssessmentHandler) UpdateRating(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	ratingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in models.RatingInput
	if !bindJSON(c, &in) {
		return
	}
	rating, err := h.ratingService.Update(c.Request.Context(), userID, ratingID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rating)
}
