package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samjaninf/stelace-sub000/internal/auth"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

const (
	// ContextKeyUserID holds the authenticated utils.SixID in the gin context.
	ContextKeyUserID = "userID"
	// ContextKeyIsAdmin holds the admin flag in the gin context.
	ContextKeyIsAdmin = "isAdmin"
)

// bearerToken extracts the token from the Authorization header, or from the
// token query parameter for websocket upgrades where browsers cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

func authenticate(c *gin.Context, jwtSecret string) error {
	token, ok := bearerToken(c)
	if !ok {
		return auth.ErrInvalidToken
	}
	claims, err := auth.ValidateJWT(token, jwtSecret)
	if err != nil {
		return err
	}
	userID, err := claims.SubjectID()
	if err != nil || userID.IsZero() {
		return auth.ErrInvalidToken
	}
	c.Set(ContextKeyUserID, userID)
	c.Set(ContextKeyIsAdmin, claims.IsAdmin)
	return nil
}

// AuthMiddleware rejects requests without a valid JWT.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := bearerToken(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		if err := authenticate(c, jwtSecret); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Next()
	}
}

// OptionalAuthMiddleware sets the user when a valid JWT is present and
// otherwise lets the request through as a guest.
func OptionalAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		_ = authenticate(c, jwtSecret)
		c.Next()
	}
}

// AdminMiddleware requires AuthMiddleware to have run first.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator privileges required"})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user, if any.
func UserID(c *gin.Context) (utils.SixID, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return utils.SixID{}, false
	}
	id, ok := v.(utils.SixID)
	return id, ok && !id.IsZero()
}

// IsAdmin reports whether the authenticated user is an administrator.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyIsAdmin)
}
