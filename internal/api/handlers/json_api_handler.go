package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/samjaninf/stelace-sub000/internal/api/middleware"
	"github.com/samjaninf/stelace-sub000/internal/models"
	"github.com/samjaninf/stelace-sub000/internal/services"
	"github.com/samjaninf/stelace-sub000/internal/utils"
)

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type ApiError struct {
	Message string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message}
}

// apiErrorFrom hides unexpected errors behind a generic message.
func apiErrorFrom(err error) *ApiError {
	if _, known := statusFor(err); known {
		return NewApiError(err.Error())
	}
	logrus.WithError(err).Error("JSON API method failed")
	return NewApiError("Internal error")
}

// methodAccess is the caller a method requires.
type methodAccess int

const (
	accessPublic methodAccess = iota
	accessUser
	accessAdmin
)

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

type apiMethod struct {
	access methodAccess
	fn     apiMethodFunc
}

// JsonApiHandler serves the read-mostly JSON API on POST /v1/api. It relies on
// OptionalAuthMiddleware having run.
type JsonApiHandler struct {
	listingService  services.IListingService
	snapshotService services.ISnapshotService
	settingsService services.ISettingsService
	methods         map[string]apiMethod
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
func NewJsonApiHandler(
	listingService services.IListingService,
	snapshotService services.ISnapshotService,
	settingsService services.ISettingsService,
) *JsonApiHandler {
	h := &JsonApiHandler{
		listingService:  listingService,
		snapshotService: snapshotService,
		settingsService: settingsService,
	}
	h.methods = map[string]apiMethod{
		"ping":           {accessPublic, h.ping},
		"getListing":     {accessPublic, h.getListing},
		"searchListings": {accessPublic, h.searchListings},
		"quote":          {accessPublic, h.quote},
		"getSettings":    {accessPublic, h.getSettings},
		"getSnapshot":    {accessUser, h.getSnapshot},
		"setSetting":     {accessAdmin, h.setSetting},
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, "Failed to read request body")
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, "Invalid JSON request format")
		return
	}

	method, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, fmt.Sprintf("Unknown method: %s", req.Method))
		return
	}
	if apiErr := checkAccess(c, method.access); apiErr != nil {
		h.sendErrorResponse(c, apiErr.Message)
		return
	}

	result, apiErr := method.fn(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, apiErr.Message)
		return
	}
	h.sendSuccessResponse(c, result)
}

func checkAccess(c *gin.Context, access methodAccess) *ApiError {
	if access == accessPublic {
		return nil
	}
	if _, ok := middleware.UserID(c); !ok {
		return NewApiError("Authorization header required")
	}
	if access == accessAdmin && !middleware.IsAdmin(c) {
		return NewApiError("Administrator privileges required")
	}
	return nil
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: true, Data: data})
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, message string) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: false, Error: message})
}

// parseArgs decodes the positional arguments array into targets. Only the
// first required targets are mandatory.
func parseArgs(raw json.RawMessage, required int, targets ...interface{}) *ApiError {
	var argArray []json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &argArray); err != nil {
			return NewApiError("Invalid 'arguments': expected a JSON array.")
		}
	}
	if len(argArray) < required {
		return NewApiError(fmt.Sprintf("Invalid 'arguments': expected at least %d argument(s).", required))
	}
	if len(argArray) > len(targets) {
		return NewApiError(fmt.Sprintf("Invalid 'arguments': expected at most %d argument(s).", len(targets)))
	}
	for i, arg := range argArray {
		if err := json.Unmarshal(arg, targets[i]); err != nil {
			return NewApiError(fmt.Sprintf("Invalid format for argument %d.", i+1))
		}
	}
	return nil
}

func parseIDArg(raw json.RawMessage, name string) (utils.SixID, *ApiError) {
	var idStr string
	if apiErr := parseArgs(raw, 1, &idStr); apiErr != nil {
		return utils.SixID{}, apiErr
	}
	id, err := utils.ParseSixID(idStr)
	if err != nil || id.IsZero() {
		return utils.SixID{}, NewApiError("Invalid " + name + " format")
	}
	return id, nil
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	return "pong", nil
}

// getListing takes [listingID].
func (h *JsonApiHandler) getListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	listingID, apiErr := parseIDArg(args, "listing_id")
	if apiErr != nil {
		return nil, apiErr
	}
	listing, err := h.listingService.GetByID(c.Request.Context(), listingID)
	if err != nil {
		return nil, apiErrorFrom(err)
	}
	if !visibleTo(c, listing) {
		return nil, apiErrorFrom(services.ErrListingNotFound)
	}
	return listing, nil
}

// SearchListingsArgs is the single argument of searchListings.
type SearchListingsArgs struct {
	Query   string             `json:"q"`
	Tags    []string           `json:"tags"`
	Type    models.ListingType `json:"type"`
	Page    int                `json:"page"`
	PerPage int                `json:"per_page"`
}

// searchListings takes an optional [SearchListingsArgs] and only returns published listings.
func (h *JsonApiHandler) searchListings(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var a SearchListingsArgs
	if apiErr := parseArgs(args, 0, &a); apiErr != nil {
		return nil, apiErr
	}
	listings, total, err := h.listingService.Search(c.Request.Context(), models.ListingFilter{
		Query:   a.Query,
		Tags:    a.Tags,
		Type:    a.Type,
		Status:  models.ListingStatusPublished,
		Page:    a.Page,
		PerPage: a.PerPage,
	})
	if err != nil {
		return nil, apiErrorFrom(err)
	}
	return gin.H{"listings": listings, "total": total}, nil
}

// quote takes [listingID, QuoteInput].
func (h *JsonApiHandler) quote(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var idStr string
	var in services.QuoteInput
	if apiErr := parseArgs(args, 2, &idStr, &in); apiErr != nil {
		return nil, apiErr
	}
	listingID, err := utils.ParseSixID(idStr)
	if err != nil || listingID.IsZero() {
		return nil, NewApiError("Invalid listing_id format")
	}
	q, err := h.listingService.Quote(c.Request.Context(), listingID, in)
	if err != nil {
		return nil, apiErrorFrom(err)
	}
	return q, nil
}

// getSnapshot takes [snapshotID]. Callers only see snapshots they are related to.
func (h *JsonApiHandler) getSnapshot(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	snapshotID, apiErr := parseIDArg(args, "snapshot_id")
	if apiErr != nil {
		return nil, apiErr
	}
	userID, _ := middleware.UserID(c)
	snapshot, err := h.snapshotService.GetForUser(c.Request.Context(), userID, middleware.IsAdmin(c), snapshotID)
	if err != nil {
		return nil, apiErrorFrom(err)
	}
	return snapshot, nil
}

func (h *JsonApiHandler) getSettings(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	return h.settingsService.All(c.Request.Context()), nil
}

// setSetting takes [key, value].
func (h *JsonApiHandler) setSetting(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var key string
	var value interface{}
	if apiErr := parseArgs(args, 2, &key, &value); apiErr != nil {
		return nil, apiErr
	}
	if err := h.settingsService.Set(c.Request.Context(), key, value); err != nil {
		return nil, apiErrorFrom(err)
	}
	adminID, _ := middleware.UserID(c)
	logrus.WithFields(logrus.Fields{"key": key, "adminID": adminID}).Info("Setting changed")
	return h.settingsService.All(c.Request.Context()), nil
}
