package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghal86/smart-stake-sub001/internal/logging"
	"github.com/meghal86/smart-stake-sub001/internal/scoring"
)

func TestFromResult(t *testing.T) {
	// Healthy scans don't alert.
	_, ok := FromResult("0xabc", scoring.TrustScoreResult{Score: 92, Grade: "A"})
	assert.False(t, ok)

	// Grade D alerts even without critical findings.
	a, ok := FromResult("0xabc", scoring.TrustScoreResult{Score: 45, Grade: "D"})
	require.True(t, ok)
	assert.Equal(t, "D", a.Grade)
	assert.Empty(t, a.CriticalFindingSummaries)

	// A critical finding alerts regardless of grade.
	a, ok = FromResult("0xabc", scoring.TrustScoreResult{
		Score: 76,
		Grade: "B",
		Flags: []scoring.Finding{
			{Severity: scoring.SeverityHigh, Summary: "unlimited approval"},
			{Severity: scoring.SeverityCritical, Summary: "direct mixer interaction"},
		},
	})
	require.True(t, ok)
	assert.Equal(t, []string{"direct mixer interaction"}, a.CriticalFindingSummaries)
}

func TestWebhookDelivery(t *testing.T) {
	var received Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, logging.New("error", "text"))
	err := wh.Notify(context.Background(), Alert{WalletAddress: "0xabc", Grade: "F", Score: 22})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", received.WalletAddress)
	assert.Equal(t, "F", received.Grade)
}

func TestWebhookRejectedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, logging.New("error", "text"))
	assert.Error(t, wh.Notify(context.Background(), Alert{WalletAddress: "0xabc"}))
}

func TestNewWebhookDisabled(t *testing.T) {
	assert.Nil(t, NewWebhook("", logging.New("error", "text")))
}
