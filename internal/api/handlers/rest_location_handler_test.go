package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

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

func setupLocationRouter(locations *MockLocationService) *gin.Engine {
	handler := handlers.NewRestLocationHandler(locations)
	r := newTestEngine()
	authed := r.Group("/v1", middleware.AuthMiddleware(testJwtSecret))
	authed.GET("/locations", handler.ListLocations)
	authed.POST("/locations", handler.CreateLocation)
	authed.POST("/locations/:id/main", handler.SetMainLocation)
	return r
}

func TestRestLocationHandler_ListLocations(t *testing.T) {
	locations := new(MockLocationService)
	r := setupLocationRouter(locations)
	userID := utils.NewSixID()

	locations.On("List", mock.Anything, userID).Return([]models.Location{
		{UserID: userID, Name: "Home", City: "Lyon", Country: "FR", Main: true},
	}, nil).Once()

	w := doJSON(r, http.MethodGet, "/v1/locations", bearer(t, userID, false), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []models.Location `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.True(t, body.Data[0].Main)

	w = doJSON(r, http.MethodGet, "/v1/locations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	locations.AssertExpectations(t)
}

func TestRestLocationHandler_CreateLocation(t *testing.T) {
	locations := new(MockLocationService)
	r := setupLocationRouter(locations)
	userID := utils.NewSixID()

	in := services.LocationInput{Name: "Office", City: "Paris", Country: "FR"}
	locations.On("Create", mock.Anything, userID, in).
		Return(&models.Location{UserID: userID, Name: "Office", City: "Paris", Country: "FR"}, nil).Once()

	w := doJSON(r, http.MethodPost, "/v1/locations", bearer(t, userID, false), in)
	assert.Equal(t, http.StatusCreated, w.Code)

	locations.On("Create", mock.Anything, userID, mock.Anything).Return(nil, services.ErrTooManyLocations).Once()
	w = doJSON(r, http.MethodPost, "/v1/locations", bearer(t, userID, false), services.LocationInput{Name: "Fifth", City: "Nice", Country: "FR"})
	assert.Equal(t, http.StatusConflict, w.Code)
	locations.AssertExpectations(t)
}

func TestRestLocationHandler_SetMainLocation(t *testing.T) {
	locations := new(MockLocationService)
	r := setupLocationRouter(locations)
	userID := utils.NewSixID()
	locationID := utils.NewSixID()

	locations.On("SetMain", mock.Anything, userID, locationID).Return(nil).Once()
	w := doJSON(r, http.MethodPost, "/v1/locations/"+locationID.String()+"/main", bearer(t, userID, false), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	other := utils.NewSixID()
	locations.On("SetMain", mock.Anything, userID, other).Return(services.ErrLocationNotFound).Once()
	w = doJSON(r, http.MethodPost, "/v1/locations/"+other.String()+"/main", bearer(t, userID, false), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	locations.AssertExpectations(t)
}
