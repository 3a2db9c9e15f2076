package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	honeypotSourceID = "honeypot-registry"
	honeypotTTL      = 1800 * time.Second
)

// HoneypotProbe asks an external heuristic service whether tokens a
// wallet holds or has approved are flagged as honeypots. The upstream
// data is heuristic, which is reflected in this source's low base
// confidence in the scoring table.
type HoneypotProbe struct {
	baseURL string
	client  *http.Client
	// tokens lists the token contracts to check for the wallet. When
	// nil the service is asked to resolve holdings itself.
	tokens []string
}

func NewHoneypotProbe(baseURL string, tokens []string) *HoneypotProbe {
	return &HoneypotProbe{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
		tokens:  tokens,
	}
}

func (p *HoneypotProbe) Name() string       { return TypeHoneypot }
func (p *HoneypotProbe) SourceID() string   { return honeypotSourceID }
func (p *HoneypotProbe) TTL() time.Duration { return honeypotTTL }

type honeypotFlag struct {
	Token    string  `json:"token"`
	Flagged  bool    `json:"flagged"`
	Severity string  `json:"severity"`
	SellTax  float64 `json:"sellTax"`
}

type honeypotResponse struct {
	Flags []honeypotFlag `json:"flags"`
}

func (p *HoneypotProbe) Fetch(ctx context.Context, address, chain string) (*Evidence, error) {
	start := time.Now()

	url := fmt.Sprintf("%s/v1/honeypot/%s?chain=%s", p.baseURL, strings.ToLower(address), chain)
	if len(p.tokens) > 0 {
		url += "&tokens=" + strings.Join(p.tokens, ",")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewError(ErrUnavailable, honeypotSourceID, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, NewError(ErrTimeout, honeypotSourceID, err)
		}
		return nil, NewError(ErrUnavailable, honeypotSourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(ErrUnavailable, honeypotSourceID, fmt.Errorf("honeypot registry returned %d", resp.StatusCode))
	}

	var body honeypotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, NewError(ErrMalformed, honeypotSourceID, err)
	}

	flags := make([]map[string]any, 0, len(body.Flags))
	for _, f := range body.Flags {
		if !f.Flagged {
			continue
		}
		flags = append(flags, map[string]any{
			"token":    strings.ToLower(f.Token),
			"severity": f.Severity,
			"sellTax":  f.SellTax,
		})
	}

	return &Evidence{
		ProbeType: TypeHoneypot,
		SourceID:  honeypotSourceID,
		Payload: map[string]any{
			"flags": flags,
		},
		ObservedAt: time.Now(),
		TTLSeconds: int64(honeypotTTL / time.Second),
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}
