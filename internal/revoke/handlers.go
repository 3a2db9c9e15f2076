package revoke

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meghal86/smart-stake-sub001/internal/chain"
	"github.com/meghal86/smart-stake-sub001/internal/validation"
)

// Handler provides HTTP endpoints for revoke operations.
type Handler struct {
	service *Service
}

// NewHandler creates a revoke handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up revoke endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/revokes", h.RequestRevoke)
	r.GET("/revokes/:id", h.GetRevoke)
	r.DELETE("/revokes/:id", h.CancelRevoke)
}

// RequestRevokeBody is the POST /v1/revokes body.
type RequestRevokeBody struct {
	UserAddress string     `json:"userAddress" binding:"required"`
	Approvals   []Approval `json:"approvals" binding:"required"`
}

// RequestRevoke creates revoke operations for a batch of approvals.
// Duplicate requests within the key window return the existing
// operations with HTTP 200 rather than an error.
func (h *Handler) RequestRevoke(c *gin.Context) {
	var req RequestRevokeBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'userAddress' and 'approvals'",
		})
		return
	}

	batch, err := h.service.RequestRevoke(c.Request.Context(), req.UserAddress, req.Approvals)
	if err != nil {
		switch {
		case errors.Is(err, validation.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
		case errors.Is(err, chain.ErrSimulationFailed):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "simulation_failed",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke_request_failed"})
		}
		return
	}
	c.JSON(http.StatusOK, batch)
}

// GetRevoke returns an operation's current status.
// GET /v1/revokes/:id
func (h *Handler) GetRevoke(c *gin.Context) {
	op, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke_lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, op)
}

// CancelRevoke discards a Pending operation before broadcast.
// DELETE /v1/revokes/:id
func (h *Handler) CancelRevoke(c *gin.Context) {
	err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_cancellable",
			"message": "Operation has already broadcast or reached a terminal status",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke_cancel_failed"})
	}
}
