package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghal86/smart-stake-sub001/internal/chain"
	"github.com/meghal86/smart-stake-sub001/internal/config"
	"github.com/meghal86/smart-stake-sub001/internal/scan"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockChain implements chain.Service for testing. Allowances are zero,
// revokes succeed instantly.
type mockChain struct {
	broadcasts atomic.Int32
}

func (m *mockChain) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (m *mockChain) EstimateRevokeGas(context.Context, common.Address, common.Address, common.Address) (uint64, error) {
	return 46000, nil
}

func (m *mockChain) BroadcastRevoke(_ context.Context, token, spender common.Address) (*chain.RevokeReceipt, error) {
	n := m.broadcasts.Add(1)
	return &chain.RevokeReceipt{
		TxHash:  fmt.Sprintf("0xmock%d", n),
		Token:   token.Hex(),
		Spender: spender.Hex(),
		GasUsed: 45000,
	}, nil
}

func (m *mockChain) WaitForConfirmation(_ context.Context, txHash string, _ time.Duration) (*chain.RevokeReceipt, error) {
	return &chain.RevokeReceipt{TxHash: txHash, BlockNumber: 100}, nil
}

func (m *mockChain) TransactionCountTo(context.Context, common.Address) (uint64, error) {
	return 1, nil
}

func (m *mockChain) Close() error { return nil }

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		RPCURL:           "http://localhost:8545",
		ChainID:          1,
		DefaultChain:     "ethereum",
		ProbeTimeout:     2 * time.Second,
		ProbeRetryBase:   time.Millisecond,
		RateLimitRPM:     600,
		ScanLimitPerHour: 100,
	}
}

// newTestServer creates a server with mock dependencies
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithChain(&mockChain{}))
	require.NoError(t, err)
	t.Cleanup(func() { s.rateLimiter.Stop() })
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestReadinessBeforeRun(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ready", nil)
	s.router.ServeHTTP(w, req)

	// Ready flips only once Run has started the background workers.
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api", nil)
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Guardian", resp["name"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ---------------------------------------------------------------------------
// Scan routes
// ---------------------------------------------------------------------------

const testWallet = "0x1111111111111111111111111111111111111111"

// sseRecorder adds CloseNotify so gin's SSE streaming (c.Stream) works
// against httptest in-process requests.
type sseRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *sseRecorder) CloseNotify() <-chan bool { return r.closed }

func TestScanEndToEnd(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"address": testWallet})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/scans", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(&sseRecorder{w, make(chan bool, 1)}, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	scanID := w.Header().Get("X-Scan-Id")
	require.NotEmpty(t, scanID)

	// The SSE handler returns after the terminal event, so the session
	// is final by now.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/scans/"+scanID, nil)
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var session scan.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, scan.StateCompleted, session.State)
	assert.Equal(t, 100, session.Score)
	assert.Equal(t, "A", session.Grade)

	// Scan history for the wallet
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/wallets/"+testWallet+"/scans", nil)
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestScanRejectsMalformedAddress(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"address": "not-an-address"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/scans", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetUnknownScanReturns404(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/scans/scan_missing", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---------------------------------------------------------------------------
// Revoke routes
// ---------------------------------------------------------------------------

func TestRevokeRoundTrip(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"userAddress": testWallet,
		"approvals": []map[string]string{
			{
				"token":   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				"spender": "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
			},
		},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/revokes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var batch struct {
		Operations []struct {
			ID string `json:"id"`
		} `json:"operations"`
		ScoreDelta int `json:"scoreDelta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
	require.Len(t, batch.Operations, 1)
	assert.Equal(t, 3, batch.ScoreDelta)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/revokes/"+batch.Operations[0].ID, nil)
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRevokeRejectsEmptyBody(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/revokes", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
