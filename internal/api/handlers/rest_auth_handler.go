package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/auth"
	"github.com/samjaninf/stelace-sub000/internal/config"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
)

// RestAuthHandler handles registration, login and account recovery.
type RestAuthHandler struct {
	cfg         *config.Config
	userService services.IUserService
}

func NewRestAuthHandler(cfg *config.Config, userService services.IUserService) *RestAuthHandler {
	return &RestAuthHandler{cfg: cfg, userService: userService}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expires_in"`
	User      *models.User `json:"user"`
}

func (h *RestAuthHandler) issueToken(c *gin.Context, status int, user *models.User) {
	token, err := auth.GenerateJWT(user.ID, user.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, TokenResponse{Token: token, ExpiresIn: int64(h.cfg.JwtTTL.Seconds()), User: user})
}

// Register handles POST /v1/auth/register
func (h *RestAuthHandler) Register(c *gin.Context) {
	var in services.RegisterInput
	if !bindJSON(c, &in) {
		return
	}
	user, err := h.userService.Register(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	logrus.WithField("userID", user.ID).Info("User registered")
	h.issueToken(c, http.StatusCreated, user)
}

// Login handles POST /v1/auth/login
func (h *RestAuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.userService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	h.issueToken(c, http.StatusOK, user)
}

// ValidateEmail handles POST /v1/auth/validate-email with {"token": "..."}
func (h *RestAuthHandler) ValidateEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.userService.ValidateEmail(c.Request.Context(), req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RequestPasswordReset handles POST /v1/auth/password-reset. It answers 202
// whether or not the address is known.
func (h *RestAuthHandler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.userService.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// ResetPassword handles POST /v1/auth/password-reset/confirm
func (h *RestAuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.userService.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
