// Package alerts notifies an external collaborator when a completed scan
// looks dangerous: grade D or worse, or any critical finding.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/meghal86/smart-stake-sub001/internal/metrics"
	"github.com/meghal86/smart-stake-sub001/internal/scoring"
)

// Alert is the payload sent to the notification collaborator.
type Alert struct {
	WalletAddress            string   `json:"walletAddress"`
	Grade                    string   `json:"grade"`
	Score                    int      `json:"score"`
	CriticalFindingSummaries []string `json:"criticalFindingSummaries"`
}

// Notifier delivers alerts. Implementations must be safe for concurrent
// use.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// FromResult builds an Alert from a scan result, returning false when
// the result does not warrant one.
func FromResult(walletAddress string, res scoring.TrustScoreResult) (Alert, bool) {
	var criticals []string
	for _, f := range res.Flags {
		if f.Severity == scoring.SeverityCritical {
			criticals = append(criticals, f.Summary)
		}
	}

	if res.Grade != "D" && res.Grade != "F" && len(criticals) == 0 {
		return Alert{}, false
	}
	return Alert{
		WalletAddress:            walletAddress,
		Grade:                    res.Grade,
		Score:                    res.Score,
		CriticalFindingSummaries: criticals,
	}, true
}

// Webhook POSTs alerts as JSON to a configured endpoint. Fire-and-forget
// from the caller's perspective: failures are logged and counted, never
// block a scan.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook notifier. An empty URL yields nil, which
// callers treat as alerts disabled.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (w *Webhook) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		metrics.AlertsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("alerts: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		metrics.AlertsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("alerts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		metrics.AlertsTotal.WithLabelValues("error").Inc()
		w.logger.Warn("alert delivery failed", "wallet", alert.WalletAddress, "error", err)
		return fmt.Errorf("alerts: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.AlertsTotal.WithLabelValues("error").Inc()
		w.logger.Warn("alert endpoint rejected payload", "wallet", alert.WalletAddress, "status", resp.StatusCode)
		return fmt.Errorf("alerts: endpoint returned %d", resp.StatusCode)
	}

	metrics.AlertsTotal.WithLabelValues("delivered").Inc()
	return nil
}
