package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tas-context-cache/models"
	"github.com/tas-context-cache/services"
)

// ContextHandlers exposes the context cache over HTTP
type ContextHandlers struct {
	contextService services.ContextService
}

func NewContextHandlers(contextService services.ContextService) *ContextHandlers {
	return &ContextHandlers{contextService: contextService}
}

type storeContextRequest struct {
	Content        string                 `json:"content" binding:"required"`
	Metadata       map[string]interface{} `json:"metadata"`
	ConversationID string                 `json:"conversation_id"`
	TierHint       string                 `json:"tier_hint"`
}

// StoreContext handles POST /api/v1/context/store
func (h *ContextHandlers) StoreContext(c *gin.Context) {
	var req storeContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.contextService.Store(c.Request.Context(), req.Content, req.Metadata, req.ConversationID, models.TierHint(req.TierHint))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Failed to store context", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// RetrieveContext handles POST /api/v1/context/retrieve
func (h *ContextHandlers) RetrieveContext(c *gin.Context) {
	var req models.RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	resp, err := h.contextService.Retrieve(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Failed to retrieve context", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteContext handles DELETE /api/v1/context/:id
func (h *ContextHandlers) DeleteContext(c *gin.Context) {
	id := c.Param("id")

	if err := h.contextService.Delete(c.Request.Context(), id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Failed to delete context", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

type clearContextRequest struct {
	Scope          string `json:"scope" binding:"required"`
	ConversationID string `json:"conversation_id"`
}

// ClearContext handles POST /api/v1/context/clear
func (h *ContextHandlers) ClearContext(c *gin.Context) {
	var req clearContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	count, err := h.contextService.Clear(c.Request.Context(), models.ClearScope{
		Tier:           req.Scope,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Failed to clear context", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cleared": count})
}

// GetStats handles GET /api/v1/context/stats
func (h *ContextHandlers) GetStats(c *gin.Context) {
	snapshot, err := h.contextService.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to collect stats", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// statusFor maps service error kinds to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrCapacityExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrCollaboratorFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
