package scan

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/meghal86/smart-stake-sub001/internal/logging"
	"github.com/meghal86/smart-stake-sub001/internal/ratelimit"
	"github.com/meghal86/smart-stake-sub001/internal/validation"
)

// Handler provides HTTP endpoints for scan sessions.
type Handler struct {
	orch         *Orchestrator
	limiter      *ratelimit.Limiter
	defaultChain string
}

// NewHandler creates a scan handler. limiter may be nil (no per-wallet
// scan ceiling).
func NewHandler(orch *Orchestrator, limiter *ratelimit.Limiter, defaultChain string) *Handler {
	return &Handler{orch: orch, limiter: limiter, defaultChain: defaultChain}
}

// RegisterRoutes sets up scan endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/scans", h.StartScan)
	r.GET("/scans/:id", h.GetScan)
	r.GET("/wallets/:address/scans", h.ListWalletScans)
}

// StartScanRequest is the POST /v1/scans body.
type StartScanRequest struct {
	Address string `json:"address" binding:"required"`
	Chain   string `json:"chain"`
}

// StartScan kicks off a scan and streams StepEvents over SSE until the
// terminal event. Client disconnect cancels the scan.
func (h *Handler) StartScan(c *gin.Context) {
	var req StartScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'address'",
		})
		return
	}
	if req.Chain == "" {
		req.Chain = h.defaultChain
	}

	// Canonicalize before the limiter so case variants share one budget
	// and malformed addresses never consume it.
	wallet, err := validation.CanonicalAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	if h.limiter != nil {
		if err := h.limiter.AllowScan(wallet); err != nil {
			var le *ratelimit.LimitError
			if errors.As(err, &le) {
				c.Header("Retry-After", strconv.Itoa(int(le.RetryAfter.Seconds())))
			}
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Scan frequency ceiling reached for this wallet, retry later",
			})
			return
		}
	}

	session, err := h.orch.StartScan(c.Request.Context(), wallet, req.Chain, logging.RequestID(c.Request.Context()))
	if err != nil {
		if errors.Is(err, validation.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan_start_failed"})
		return
	}

	snapshot, events, cancel, err := h.orch.Subscribe(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan_subscribe_failed"})
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Scan-Id", session.ID)

	c.SSEvent("step", snapshot)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("step", ev)
			return !ev.Terminal()
		}
	})
}

// GetScan returns a session by ID.
// GET /v1/scans/:id
func (h *Handler) GetScan(c *gin.Context) {
	session, err := h.orch.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": fmt.Sprintf("No scan session %s", c.Param("id")),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan_lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// ListWalletScans returns recent sessions for a wallet, newest first.
// GET /v1/wallets/:address/scans?limit=20
func (h *Handler) ListWalletScans(c *gin.Context) {
	address, err := validation.CanonicalAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	sessions, err := h.orch.store.ListByWallet(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan_list_failed"})
		return
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	c.JSON(http.StatusOK, gin.H{"scans": sessions, "count": len(sessions)})
}
