package scan

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghal86/smart-stake-sub001/internal/ratelimit"
)

func newScanRouter(t *testing.T, scansPerHour int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: 600,
		BurstSize:         600,
		ScansPerHour:      scansPerHour,
		CleanupInterval:   time.Minute,
	})
	t.Cleanup(limiter.Stop)

	orch := newTestOrchestrator(t, healthyProbes(), nil)
	h := NewHandler(orch, limiter, "ethereum")

	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

// sseRecorder adds CloseNotify so gin's SSE streaming (c.Stream) works
// against httptest in-process requests.
type sseRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *sseRecorder) CloseNotify() <-chan bool { return r.closed }

func postScan(t *testing.T, r *gin.Engine, address string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"address": address})
	w := &sseRecorder{httptest.NewRecorder(), make(chan bool, 1)}
	req := httptest.NewRequest("POST", "/v1/scans", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w.ResponseRecorder
}

// Case variants of one wallet share a single hourly scan budget.
func TestScanBudgetIsCaseInsensitive(t *testing.T) {
	r := newScanRouter(t, 1)

	w := postScan(t, r, "0xAbCdEf0123456789aBcDeF0123456789abcdef01")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postScan(t, r, "0xabcdef0123456789abcdef0123456789abcdef01")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

// A malformed address is rejected before it consumes any scan budget.
func TestMalformedAddressDoesNotConsumeBudget(t *testing.T) {
	r := newScanRouter(t, 1)

	w := postScan(t, r, "not-an-address")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = postScan(t, r, "0xabcdef0123456789abcdef0123456789abcdef01")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
