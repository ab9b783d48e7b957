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
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

type jsonApiFixture struct {
	router    *gin.Engine
	listings  *MockListingService
	snapshots *MockSnapshotService
	settings  *MockSettingsService
}

func setupJsonApi() *jsonApiFixture {
	f := &jsonApiFixture{
		listings:  new(MockListingService),
		snapshots: new(MockSnapshotService),
		settings:  new(MockSettingsService),
	}
	handler := handlers.NewJsonApiHandler(f.listings, f.snapshots, f.settings)
	f.router = newTestEngine()
	f.router.POST("/v1/api", handler.HandleRequest)
	return f
}

func (f *jsonApiFixture) call(t *testing.T, authHeader, method string, args ...interface{}) handlers.JsonApiResponse {
	t.Helper()
	req := map[string]interface{}{"method": method}
	if args != nil {
		req["arguments"] = args
	}
	w := doJSON(f.router, http.MethodPost, "/v1/api", authHeader, req)
	require.Equal(t, http.StatusOK, w.Code, "the JSON API always answers 200")
	var resp handlers.JsonApiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestJsonApiHandler_Ping(t *testing.T) {
	f := setupJsonApi()
	resp := f.call(t, "", "ping")
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Data)
	assert.Empty(t, resp.Error)
}

func TestJsonApiHandler_UnknownMethod(t *testing.T) {
	f := setupJsonApi()
	resp := f.call(t, "", "dropDatabase")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Unknown method")
}

func TestJsonApiHandler_GetListing(t *testing.T) {
	f := setupJsonApi()
	listing := &models.Listing{Title: "Tent", Status: models.ListingStatusPublished}
	listing.ID = utils.NewSixID()
	f.listings.On("GetByID", mock.Anything, listing.ID).Return(listing, nil)

	resp := f.call(t, "", "getListing", listing.ID.String())

	require.True(t, resp.Success, resp.Error)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "Tent", data["title"])
	assert.Equal(t, listing.ID.String(), data["id"])
}

func TestJsonApiHandler_GetListing_DraftHiddenFromOthers(t *testing.T) {
	f := setupJsonApi()
	owner := utils.NewSixID()
	listing := &models.Listing{Title: "Kayak", Status: models.ListingStatusDraft, OwnerID: owner}
	listing.ID = utils.NewSixID()
	f.listings.On("GetByID", mock.Anything, listing.ID).Return(listing, nil)

	resp := f.call(t, "", "getListing", listing.ID.String())
	assert.False(t, resp.Success)
	assert.Equal(t, services.ErrListingNotFound.Error(), resp.Error)

	resp = f.call(t, bearer(t, utils.NewSixID(), false), "getListing", listing.ID.String())
	assert.False(t, resp.Success)

	resp = f.call(t, bearer(t, owner, false), "getListing", listing.ID.String())
	assert.True(t, resp.Success)
}

func TestJsonApiHandler_GetListing_BadArguments(t *testing.T) {
	f := setupJsonApi()
	resp := f.call(t, "", "getListing")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "expected at least 1")

	resp = f.call(t, "", "getListing", "not-an-id")
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid listing_id format", resp.Error)
}

func TestJsonApiHandler_SearchListings_OnlyPublished(t *testing.T) {
	f := setupJsonApi()
	f.listings.On("Search", mock.Anything, mock.MatchedBy(func(filter models.ListingFilter) bool {
		return filter.Status == models.ListingStatusPublished && filter.Query == "bike" && filter.PerPage == 5
	})).Return([]models.Listing{{Title: "City bike"}}, int64(1), nil)

	resp := f.call(t, "", "searchListings", map[string]interface{}{"q": "bike", "per_page": 5})

	require.True(t, resp.Success, resp.Error)
	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 1, data["total"])
	f.listings.AssertExpectations(t)
}

func TestJsonApiHandler_GetSnapshot_RequiresAuth(t *testing.T) {
	f := setupJsonApi()
	snapshotID := utils.NewSixID()

	resp := f.call(t, "", "getSnapshot", snapshotID.String())
	assert.False(t, resp.Success)
	assert.Equal(t, "Authorization header required", resp.Error)
	f.snapshots.AssertNotCalled(t, "GetForUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	userID := utils.NewSixID()
	f.snapshots.On("GetForUser", mock.Anything, userID, false, snapshotID).Return(nil, services.ErrSnapshotNotFound)
	resp = f.call(t, bearer(t, userID, false), "getSnapshot", snapshotID.String())
	assert.False(t, resp.Success)
	assert.Equal(t, services.ErrSnapshotNotFound.Error(), resp.Error)
}

func TestJsonApiHandler_GetSnapshot_ScopedToCaller(t *testing.T) {
	f := setupJsonApi()
	snapshotID := utils.NewSixID()
	stranger := utils.NewSixID()
	admin := utils.NewSixID()

	f.snapshots.On("GetForUser", mock.Anything, stranger, false, snapshotID).Return(nil, services.ErrForbidden).Once()
	resp := f.call(t, bearer(t, stranger, false), "getSnapshot", snapshotID.String())
	assert.False(t, resp.Success)
	assert.Equal(t, services.ErrForbidden.Error(), resp.Error)

	snap := &models.ModelSnapshot{Base: models.Base{ID: snapshotID}, TargetType: models.SnapshotUser, Hash: "abc"}
	f.snapshots.On("GetForUser", mock.Anything, admin, true, snapshotID).Return(snap, nil).Once()
	resp = f.call(t, bearer(t, admin, true), "getSnapshot", snapshotID.String())
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "abc", data["hash"])
	f.snapshots.AssertExpectations(t)
}

func TestJsonApiHandler_SetSetting(t *testing.T) {
	f := setupJsonApi()

	resp := f.call(t, bearer(t, utils.NewSixID(), false), "setSetting", "taker_fees_percent", 12.5)
	assert.False(t, resp.Success)
	assert.Equal(t, "Administrator privileges required", resp.Error)

	f.settings.On("Set", mock.Anything, "taker_fees_percent", 12.5).Return(nil)
	f.settings.On("All", mock.Anything).Return(map[string]interface{}{"taker_fees_percent": 12.5})

	resp = f.call(t, bearer(t, utils.NewSixID(), true), "setSetting", "taker_fees_percent", 12.5)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 12.5, resp.Data.(map[string]interface{})["taker_fees_percent"])
	f.settings.AssertExpectations(t)
}

func TestJsonApiHandler_InternalErrorsAreHidden(t *testing.T) {
	f := setupJsonApi()
	listingID := utils.NewSixID()
	f.listings.On("GetByID", mock.Anything, listingID).Return(nil, assert.AnError)

	resp := f.call(t, "", "getListing", listingID.String())
	assert.False(t, resp.Success)
	assert.Equal(t, "Internal error", resp.Error)
}
