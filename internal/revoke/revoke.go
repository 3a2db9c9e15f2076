// Package revoke implements at-most-once approval remediation.
//
// Every revoke request maps to a deterministic idempotency key derived
// from (user, token, spender) plus a coarse time window, so rapid
// duplicate clicks collapse onto one tracked operation while a genuinely
// new attempt after the window gets a fresh key. The backing store's
// insert-if-absent on that key is the single source of truth for
// at-most-once broadcast.
package revoke

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is a revoke operation lifecycle state. Transitions are
// monotonic: Pending moves to Completed, Failed, or Expired and never
// back.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// DefaultKeyWindow is the coarse time bucket folded into the key.
const DefaultKeyWindow = 5 * time.Minute

// DefaultTTL bounds how long a Pending operation may wait for
// confirmation before it expires and frees its key.
const DefaultTTL = 10 * time.Minute

// Operation is one tracked revoke of a single (token, spender) approval.
type Operation struct {
	ID             string     `json:"id"`
	IdempotencyKey string     `json:"idempotencyKey"`
	UserAddress    string     `json:"userAddress"`
	TokenAddress   string     `json:"tokenAddress"`
	SpenderAddress string     `json:"spenderAddress"`
	Status         Status     `json:"status"`
	TxHash         string     `json:"txHash,omitempty"`
	GasEstimate    uint64     `json:"gasEstimate,omitempty"`
	ScoreDelta     int        `json:"scoreDelta"`
	RevertReason   string     `json:"revertReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a copy safe to hand across goroutines.
func (op *Operation) Clone() *Operation {
	c := *op
	if op.CompletedAt != nil {
		t := *op.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Key derives the idempotency key for a revoke request at time t.
// Identical inputs within the same window always produce the same key.
func Key(userAddress, tokenAddress, spenderAddress string, t time.Time, window time.Duration) string {
	if window <= 0 {
		window = DefaultKeyWindow
	}
	bucket := t.Unix() / int64(window.Seconds())
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d",
		strings.ToLower(userAddress),
		strings.ToLower(tokenAddress),
		strings.ToLower(spenderAddress),
		bucket)))
	return hex.EncodeToString(h[:])
}

var (
	// ErrNotFound is returned when no operation exists for an ID or key.
	ErrNotFound = errors.New("revoke: operation not found")

	// ErrKeyExists is returned by Insert when the key is already held
	// by a live operation.
	ErrKeyExists = errors.New("revoke: idempotency key already exists")

	// ErrNotCancellable is returned when cancelling an operation that
	// has already broadcast or reached a terminal status.
	ErrNotCancellable = errors.New("revoke: operation is not cancellable")
)

// Store persists revoke operations. Insert must be atomic
// insert-if-absent on the idempotency key: concurrent duplicate requests
// are expected and must collapse onto one record.
type Store interface {
	// Insert stores op unless a live (Pending/Completed) operation
	// already holds its key, in which case it returns that operation
	// and ErrKeyExists. A Failed or Expired holder is replaced.
	Insert(ctx context.Context, op *Operation) (*Operation, error)
	Update(ctx context.Context, op *Operation) error
	Get(ctx context.Context, id string) (*Operation, error)
	GetByKey(ctx context.Context, key string) (*Operation, error)
	Delete(ctx context.Context, id string) error
	// ListExpired returns Pending operations whose ExpiresAt is before
	// now, up to limit.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Operation, error)
}
