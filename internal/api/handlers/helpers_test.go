package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/auth"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

const testJwtSecret = "testsecret"

// newTestEngine returns an engine that authenticates optional bearer tokens
// the way the production router does.
func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.OptionalAuthMiddleware(testJwtSecret))
	return r
}

func bearer(t *testing.T, userID utils.SixID, isAdmin bool) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, isAdmin, testJwtSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(r http.Handler, method, path, authHeader string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
