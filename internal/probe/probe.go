// Package probe defines Guardian's evidence sources.
//
// A Probe is one read-only adapter against an external source: on-chain
// approval state, a contract reputation registry, a mixer/sanctions
// registry, or a honeypot token table. Probes never decide anything:
// they return raw Evidence tagged with source identity and a freshness
// budget, and the scoring layer turns that into Findings.
//
// Adapter failures are converted to degraded, zero-confidence Evidence
// by the orchestrator; a Probe implementation just returns its error.
package probe

import (
	"context"
	"fmt"
	"time"
)

// Probe type names, used as finding categories and cache key components.
const (
	TypeApprovals  = "approvals"
	TypeReputation = "reputation"
	TypeMixer      = "mixer"
	TypeHoneypot   = "honeypot"
)

// ErrorKind classifies probe failures.
type ErrorKind string

const (
	ErrTimeout     ErrorKind = "timeout"
	ErrUnavailable ErrorKind = "adapter_unavailable"
	ErrMalformed   ErrorKind = "malformed_response"
)

// Error is a probe failure with its classification. It is absorbed into
// degraded Evidence by the orchestrator, never surfaced as a scan failure
// unless every probe fails.
type Error struct {
	Kind   ErrorKind
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps an adapter failure with its kind and source.
func NewError(kind ErrorKind, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

// Evidence is one raw observation about a wallet from a single source.
// Immutable once returned; the orchestrator owns it per scan.
type Evidence struct {
	ProbeType  string         `json:"probeType"`
	SourceID   string         `json:"sourceId"`
	Payload    map[string]any `json:"payload"`
	ObservedAt time.Time      `json:"observedAt"`
	TTLSeconds int64          `json:"ttlSeconds"`
	Cached     bool           `json:"cached"`
	LatencyMS  int64          `json:"latencyMs"`
	Degraded   bool           `json:"degraded"`
	Reason     string         `json:"reason,omitempty"`
}

// TTL returns the freshness budget as a duration.
func (e *Evidence) TTL() time.Duration {
	return time.Duration(e.TTLSeconds) * time.Second
}

// Age returns how old the evidence is at the given instant.
func (e *Evidence) Age(now time.Time) time.Duration {
	return now.Sub(e.ObservedAt)
}

// Degraded builds zero-confidence placeholder Evidence for a failed probe.
// The scan still completes; the scoring layer weighs it at zero.
func DegradedEvidence(probeType, sourceID string, kind ErrorKind) *Evidence {
	return &Evidence{
		ProbeType:  probeType,
		SourceID:   sourceID,
		Payload:    map[string]any{},
		ObservedAt: time.Now(),
		TTLSeconds: 0,
		Degraded:   true,
		Reason:     string(kind),
	}
}

// Probe is one evidence source adapter. Fetch must respect ctx deadlines;
// the orchestrator wraps each call with an independent timeout.
type Probe interface {
	// Name is the probe type (see Type* constants).
	Name() string
	// SourceID identifies the concrete upstream source.
	SourceID() string
	// TTL is the freshness budget for this source's evidence.
	TTL() time.Duration
	// Fetch reads the source for one wallet on one chain.
	Fetch(ctx context.Context, address, chain string) (*Evidence, error)
}
