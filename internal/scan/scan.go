// Package scan owns the scan session lifecycle: the orchestrator fans
// probes out per scan, a single-writer runner funnels their completions
// into the session, and subscribers observe StepEvents in completion
// order with the terminal event always last.
package scan

import (
	"context"
	"errors"
	"time"

	"github.com/meghal86/smart-stake-sub001/internal/probe"
	"github.com/meghal86/smart-stake-sub001/internal/scoring"
)

// State is a scan session lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is final. Terminal sessions are
// immutable; rescans create new sessions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Session is one wallet scan. Append-only while non-terminal; mutation
// happens only inside its owning runner.
type Session struct {
	ID                string            `json:"id"`
	WalletAddress     string            `json:"walletAddress"`
	Chain             string            `json:"chain"`
	State             State             `json:"state"`
	StartedAt         time.Time         `json:"startedAt"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	Findings          []scoring.Finding `json:"findings"`
	Score             int               `json:"score"`
	Grade             string            `json:"grade,omitempty"`
	ConfidenceOverall float64           `json:"confidenceOverall"`
	FailureReason     string            `json:"failureReason,omitempty"`
	RequestID         string            `json:"requestId"`
}

// Clone returns a deep copy safe to hand outside the runner.
func (s *Session) Clone() *Session {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	c.Findings = make([]scoring.Finding, len(s.Findings))
	copy(c.Findings, s.Findings)
	return &c
}

// StepEvent is one observable step of a scan. Events are emitted in
// probe completion order; the final event has ProgressPercent=100 and a
// terminal State.
type StepEvent struct {
	ScanID          string                    `json:"scanId"`
	ProbeName       string                    `json:"probeName,omitempty"`
	ProgressPercent int                       `json:"progressPercent"`
	State           State                     `json:"state"`
	Evidence        *probe.Evidence           `json:"evidence,omitempty"`
	FindingDelta    []scoring.Finding         `json:"findingDelta,omitempty"`
	Error           string                    `json:"error,omitempty"`
	Result          *scoring.TrustScoreResult `json:"result,omitempty"`
	Snapshot        bool                      `json:"snapshot,omitempty"`
}

// Terminal reports whether no further events follow this one.
func (e StepEvent) Terminal() bool {
	return e.State.Terminal()
}

// ErrNotFound is returned when no session exists for an ID.
var ErrNotFound = errors.New("scan: session not found")

// Store persists scan sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListByWallet(ctx context.Context, walletAddress string, limit int) ([]*Session, error)
}
