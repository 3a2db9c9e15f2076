package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	reputationSourceID = "contract-reputation"
	reputationTTL      = 3600 * time.Second // registry verdicts move slowly
)

// ReputationVerdict is the registry's judgment of an address.
type ReputationVerdict struct {
	Address    string   `json:"address"`
	Verdict    string   `json:"verdict"` // "clean", "suspicious", "malicious"
	Categories []string `json:"categories"`
	ReportedBy int      `json:"reportedBy"`
}

// ReputationProbe queries a contract-reputation registry over HTTP.
type ReputationProbe struct {
	baseURL string
	client  *http.Client
}

// NewReputationProbe creates the reputation registry probe.
func NewReputationProbe(baseURL string) *ReputationProbe {
	return &ReputationProbe{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (p *ReputationProbe) Name() string       { return TypeReputation }
func (p *ReputationProbe) SourceID() string   { return reputationSourceID }
func (p *ReputationProbe) TTL() time.Duration { return reputationTTL }

func (p *ReputationProbe) Fetch(ctx context.Context, address, chain string) (*Evidence, error) {
	start := time.Now()

	endpoint := fmt.Sprintf("%s/v1/reputation/%s?chain=%s",
		p.baseURL, url.PathEscape(address), url.QueryEscape(chain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewError(ErrUnavailable, reputationSourceID, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError(ErrTimeout, reputationSourceID, ctx.Err())
		}
		return nil, NewError(ErrUnavailable, reputationSourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(ErrUnavailable, reputationSourceID,
			fmt.Errorf("registry returned status %d", resp.StatusCode))
	}

	var verdict ReputationVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, NewError(ErrMalformed, reputationSourceID, err)
	}

	return &Evidence{
		ProbeType:  TypeReputation,
		SourceID:   reputationSourceID,
		Payload:    map[string]any{"verdict": verdict.Verdict, "categories": verdict.Categories, "reportedBy": verdict.ReportedBy},
		ObservedAt: time.Now(),
		TTLSeconds: int64(reputationTTL / time.Second),
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}
