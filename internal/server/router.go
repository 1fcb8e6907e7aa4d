package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/almanac-hq/almanac/internal/errdef"
	"github.com/almanac-hq/almanac/internal/scheduling"
)

const (
	userIDContextKey    = "almanac_user_id"
	requestIDContextKey = "almanac_request_id"
	requestIDHeader     = "X-Request-ID"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingEngine         = errors.New("scheduling engine dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token into the viewer's user id.
type TokenValidator interface {
	ValidateToken(token string) (uint, error)
}

// Dependencies wires the HTTP surface to the engine.
type Dependencies struct {
	Tokens TokenValidator
	Engine *scheduling.Service
	Logger *zap.Logger
}

// NewHTTPHandler builds the gin router for the event API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Engine == nil {
		return nil, errMissingEngine
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens: deps.Tokens,
		engine: deps.Engine,
		logger: logger,
	}

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	api.POST("/events", handler.handleCreateEvent)
	api.POST("/events/batch", handler.handleCreateBatch)
	api.GET("/events", handler.handleListEvents)
	api.GET("/events/:id", handler.handleGetEvent)
	api.PUT("/events/:id", handler.handleUpdateEvent)
	api.DELETE("/events/:id", handler.handleDeleteEvent)
	api.POST("/events/:id/rollback/:version", handler.handleRollbackEvent)
	api.GET("/events/:id/history/:version", handler.handleGetVersion)
	api.GET("/events/:id/diff/:from/:to", handler.handleGetDiff)
	api.GET("/events/:id/changelog", handler.handleGetChangelog)

	return router, nil
}

type httpHandler struct {
	tokens TokenValidator
	engine *scheduling.Service
	logger *zap.Logger
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set(requestIDContextKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed",
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) viewer(c *gin.Context) (uint, bool) {
	value, exists := c.Get(userIDContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	userID, ok := value.(uint)
	if !ok || userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return userID, true
}

type eventPayload struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	StartTime      *time.Time `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	Location       string     `json:"location"`
	IsRecurring    bool       `json:"is_recurring"`
	RecurrenceRule string     `json:"recurrence_rule"`
}

func (p eventPayload) toInput() (scheduling.EventInput, error) {
	if p.StartTime == nil || p.EndTime == nil {
		return scheduling.EventInput{}, errors.New("start_time and end_time are required")
	}
	return scheduling.EventInput{
		Title:          p.Title,
		Description:    p.Description,
		StartTime:      *p.StartTime,
		EndTime:        *p.EndTime,
		Location:       p.Location,
		IsRecurring:    p.IsRecurring,
		RecurrenceRule: p.RecurrenceRule,
	}, nil
}

func (h *httpHandler) handleCreateEvent(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	var payload eventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	input, err := payload.toInput()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.engine.CreateEvent(c.Request.Context(), viewer, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

type batchPayload struct {
	Events []eventPayload `json:"events"`
}

func (h *httpHandler) handleCreateBatch(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	var payload batchPayload
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	inputs := make([]scheduling.EventInput, 0, len(payload.Events))
	for _, entry := range payload.Events {
		input, err := entry.toInput()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		inputs = append(inputs, input)
	}

	views, err := h.engine.CreateEvents(c.Request.Context(), viewer, inputs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, views)
}

func (h *httpHandler) handleGetEvent(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}
	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.engine.GetEvent(c.Request.Context(), viewer, eventID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	filter, err := parseListFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	views, err := h.engine.ListEvents(c.Request.Context(), viewer, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

type updatePayload struct {
	Title          *string    `json:"title"`
	Description    *string    `json:"description"`
	StartTime      *time.Time `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	Location       *string    `json:"location"`
	IsRecurring    *bool      `json:"is_recurring"`
	RecurrenceRule *string    `json:"recurrence_rule"`
}

func (h *httpHandler) handleUpdateEvent(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}
	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var payload updatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	patch := scheduling.EventPatch{
		Title:          payload.Title,
		Description:    payload.Description,
		StartTime:      payload.StartTime,
		EndTime:        payload.EndTime,
		Location:       payload.Location,
		IsRecurring:    payload.IsRecurring,
		RecurrenceRule: payload.RecurrenceRule,
	}

	view, err := h.engine.UpdateEvent(c.Request.Context(), viewer, eventID, patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteEvent(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}
	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.engine.DeleteEvent(c.Request.Context(), viewer, eventID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "event deleted"})
}

func (h *httpHandler) handleRollbackEvent(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}
	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}
	versionNumber, ok := pathInt(c, "version")
	if !ok {
		return
	}

	view, err := h.engine.RollbackEvent(c.Request.Context(), viewer, eventID, versionNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleGetVersion(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}
	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}
	versionNumber, ok := pathInt(c, "version")
	if !ok {
		return
	}

	view, err := h.engine.GetVersion(c.Request.Context(), viewer, eventID, versionNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleGetDiff(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}
	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}
	fromVersion, ok := pathInt(c, "from")
	if !ok {
		return
	}
	toVersion, ok := pathInt(c, "to")
	if !ok {
		return
	}

	diff, err := h.engine.GetDiff(c.Request.Context(), viewer, eventID, fromVersion, toVersion)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": diff})
}

func (h *httpHandler) handleGetChangelog(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}
	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}

	entries, err := h.engine.GetChangelog(c.Request.Context(), viewer, eventID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errdef.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errdef.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errdef.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errdef.IsForbidden(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errdef.IsUnauthorized(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func pathID(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return uint(value), true
}

func pathInt(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil || value <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return value, true
}

func parseListFilter(c *gin.Context) (scheduling.ListFilter, error) {
	filter := scheduling.ListFilter{Search: c.Query("search")}

	if raw := c.Query("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return scheduling.ListFilter{}, errors.New("invalid skip parameter")
		}
		filter.Offset = skip
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			return scheduling.ListFilter{}, errors.New("invalid limit parameter")
		}
		filter.Limit = limit
	}
	if raw := c.Query("is_recurring"); raw != "" {
		recurring, err := strconv.ParseBool(raw)
		if err != nil {
			return scheduling.ListFilter{}, errors.New("invalid is_recurring parameter")
		}
		filter.Recurring = &recurring
	}
	if raw := c.Query("start_date"); raw != "" {
		startDate, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return scheduling.ListFilter{}, errors.New("invalid start_date parameter")
		}
		filter.StartDate = &startDate
	}
	if raw := c.Query("end_date"); raw != "" {
		endDate, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return scheduling.ListFilter{}, errors.New("invalid end_date parameter")
		}
		filter.EndDate = &endDate
	}

	return filter, nil
}
