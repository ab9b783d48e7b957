package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
)

// RestConfigHandler exposes the marketplace settings and lets admins change
// them along with the email templates.
type RestConfigHandler struct {
	cfg             *config.Config
	settingsService services.ISettingsService
	templateService services.IEmailTemplateService
}

// NewRestConfigHandler creates a new RestConfigHandler.
func NewRestConfigHandler(cfg *config.Config, settingsService services.ISettingsService, templateService services.IEmailTemplateService) *RestConfigHandler {
	return &RestConfigHandler{cfg: cfg, settingsService: settingsService, templateService: templateService}
}

// GetPublicConfig handles GET /v1/config
func (h *RestConfigHandler) GetPublicConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app_name": h.cfg.AppName,
		"currency": h.cfg.DefaultCurrency,
		"settings": h.settingsService.All(c.Request.Context()),
	})
}

// SetSetting handles PUT /v1/admin/settings/:key with {"value": ...}
func (h *RestConfigHandler) SetSetting(c *gin.Context) {
	var req struct {
		Value interface{} `json:"value"`
	}
	if !bindJSON(c, &req) {
		return
	}
	key := c.Param("key")
	if err := h.settingsService.Set(c.Request.Context(), key, req.Value); err != nil {
		respondError(c, err)
		return
	}
	adminID, _ := middleware.UserID(c)
	logrus.WithFields(logrus.Fields{"key": key, "adminID": adminID}).Info("Setting changed")
	c.Status(http.StatusNoContent)
}

// SaveEmailTemplate handles PUT /v1/admin/email-templates
func (h *RestConfigHandler) SaveEmailTemplate(c *gin.Context) {
	var tpl models.EmailTemplate
	if !bindJSON(c, &tpl) {
		return
	}
	if err := h.templateService.SaveTemplate(c.Request.Context(), &tpl); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// DeleteEmailTemplate handles DELETE /v1/admin/email-templates/:id?locale=
func (h *RestConfigHandler) DeleteEmailTemplate(c *gin.Context) {
	if err := h.templateService.DeleteTemplate(c.Request.Context(), c.Param("id"), c.Query("locale")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
