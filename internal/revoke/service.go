package revoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meghal86/smart-stake-sub001/internal/chain"
	"github.com/meghal86/smart-stake-sub001/internal/idgen"
	"github.com/meghal86/smart-stake-sub001/internal/metrics"
	"github.com/meghal86/smart-stake-sub001/internal/scoring"
	"github.com/meghal86/smart-stake-sub001/internal/traces"
	"github.com/meghal86/smart-stake-sub001/internal/validation"
)

// DefaultConfirmationWait bounds receipt polling after broadcast.
const DefaultConfirmationWait = 30 * time.Second

// Approval identifies one (token, spender) pair to revoke.
type Approval struct {
	Token   string `json:"token" binding:"required"`
	Spender string `json:"spender" binding:"required"`
}

// Batch is the synchronous response to a revoke request: one operation
// per approval plus the aggregate score improvement preview.
type Batch struct {
	Operations []*Operation `json:"operations"`
	ScoreDelta int          `json:"scoreDelta"`
}

// Config tunes the remediation service.
type Config struct {
	KeyWindow        time.Duration
	TTL              time.Duration
	ConfirmationWait time.Duration
}

// Service owns the revoke lifecycle: keying, pre-simulation, atomic
// insert, broadcast, confirmation, and pre-broadcast cancellation.
type Service struct {
	store  Store
	chain  chain.Service
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	mu     sync.Mutex
	guards map[string]*opGuard // operation ID → broadcast guard
}

// opGuard serializes the broadcast/cancel race for one operation: a
// revoke cannot be cancelled once broadcast, and never broadcasts once
// cancelled.
type opGuard struct {
	mu          sync.Mutex
	broadcasted bool
	cancelled   bool
}

// NewService creates the remediation service.
func NewService(store Store, chainSvc chain.Service, cfg Config, logger *slog.Logger) *Service {
	if cfg.KeyWindow <= 0 {
		cfg.KeyWindow = DefaultKeyWindow
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ConfirmationWait <= 0 {
		cfg.ConfirmationWait = DefaultConfirmationWait
	}
	return &Service{
		store:  store,
		chain:  chainSvc,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		guards: make(map[string]*opGuard),
	}
}

// RequestRevoke creates (or returns) the operations for a batch of
// approvals. Duplicates within the key window come back unchanged with
// no new on-chain intent. Simulation failures abort the whole request
// before any Pending record exists.
func (s *Service) RequestRevoke(ctx context.Context, userAddress string, approvals []Approval) (*Batch, error) {
	if len(approvals) == 0 {
		return nil, &validation.Error{Field: "approvals", Message: "at least one approval is required"}
	}
	user, err := validation.CanonicalAddress(userAddress)
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "revoke.request", traces.WalletAddr(user))
	defer span.End()

	now := s.now()

	// Phase 1: validate, dedupe-check, and pre-simulate everything
	// before creating any record. A simulation failure must leave no
	// on-chain intent behind.
	type prepared struct {
		op       *Operation
		existing *Operation
	}
	plan := make([]prepared, 0, len(approvals))
	for _, a := range approvals {
		token, err := validation.CanonicalAddress(a.Token)
		if err != nil {
			return nil, err
		}
		spender, err := validation.CanonicalAddress(a.Spender)
		if err != nil {
			return nil, err
		}

		key := Key(user, token, spender, now, s.cfg.KeyWindow)
		if existing, err := s.store.GetByKey(ctx, key); err == nil &&
			(existing.Status == StatusPending || existing.Status == StatusCompleted) {
			metrics.DuplicateRevokesTotal.Inc()
			plan = append(plan, prepared{existing: existing})
			continue
		}

		gas, err := s.chain.EstimateRevokeGas(ctx,
			common.HexToAddress(user), common.HexToAddress(token), common.HexToAddress(spender))
		if err != nil {
			return nil, fmt.Errorf("revoke %s→%s: %w", token, spender, err)
		}

		plan = append(plan, prepared{op: &Operation{
			ID:             idgen.WithPrefix("rvk_"),
			IdempotencyKey: key,
			UserAddress:    user,
			TokenAddress:   token,
			SpenderAddress: spender,
			Status:         StatusPending,
			GasEstimate:    gas,
			ScoreDelta:     scoring.ScoreDelta(1),
			CreatedAt:      now.UTC(),
			ExpiresAt:      now.Add(s.cfg.TTL).UTC(),
		}})
	}

	// Phase 2: atomic insert per key, then hand off to the executor.
	// Insert losing the race to a concurrent duplicate still yields
	// exactly one broadcast: the winner's.
	batch := &Batch{ScoreDelta: scoring.ScoreDelta(len(approvals))}
	for _, p := range plan {
		if p.existing != nil {
			batch.Operations = append(batch.Operations, p.existing)
			continue
		}
		stored, err := s.store.Insert(ctx, p.op)
		if err != nil {
			if errors.Is(err, ErrKeyExists) {
				metrics.DuplicateRevokesTotal.Inc()
				batch.Operations = append(batch.Operations, stored)
				continue
			}
			return nil, err
		}
		batch.Operations = append(batch.Operations, stored)
		go s.execute(stored.Clone())
	}
	return batch, nil
}

// Get returns an operation by ID.
func (s *Service) Get(ctx context.Context, id string) (*Operation, error) {
	return s.store.Get(ctx, id)
}

// Cancel discards a Pending operation before broadcast. The key is
// reusable immediately, not only after TTL. Post-broadcast the operation
// is not cancellable.
func (s *Service) Cancel(ctx context.Context, id string) error {
	op, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if op.Status != StatusPending || op.TxHash != "" {
		return ErrNotCancellable
	}

	g := s.guard(id)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.broadcasted {
		return ErrNotCancellable
	}
	g.cancelled = true

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	metrics.RevokesTotal.WithLabelValues("cancelled").Inc()
	s.logger.Info("revoke cancelled pre-broadcast", "operation", id)
	return nil
}

func (s *Service) guard(id string) *opGuard {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[id]
	if !ok {
		g = &opGuard{}
		s.guards[id] = g
	}
	return g
}

func (s *Service) dropGuard(id string) {
	s.mu.Lock()
	delete(s.guards, id)
	s.mu.Unlock()
}

// execute broadcasts approve(spender, 0) and tracks it to a receipt.
// Broadcast-but-unconfirmed operations stay Pending; the expiry sweeper
// resolves them to Expired at TTL.
func (s *Service) execute(op *Operation) {
	defer s.dropGuard(op.ID)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConfirmationWait+time.Minute)
	defer cancel()
	ctx, span := traces.StartSpan(ctx, "revoke.execute", traces.RevokeKey(op.IdempotencyKey))
	defer span.End()

	g := s.guard(op.ID)
	g.mu.Lock()
	if g.cancelled {
		g.mu.Unlock()
		return
	}
	g.broadcasted = true
	g.mu.Unlock()

	receipt, err := s.chain.BroadcastRevoke(ctx,
		common.HexToAddress(op.TokenAddress), common.HexToAddress(op.SpenderAddress))
	if err != nil {
		// SendTransaction can fail after signing; keep the hash when the
		// error carries one.
		var txErr *chain.TxError
		txHash := ""
		if errors.As(err, &txErr) {
			txHash = txErr.TxHash
		}
		s.finish(ctx, op, StatusFailed, txHash, fmt.Sprintf("broadcast failed: %v", err))
		return
	}

	op.TxHash = receipt.TxHash
	if err := s.store.Update(ctx, op); err != nil {
		// Record gone or already resolved; the transaction is out
		// regardless, so just log.
		s.logger.Error("revoke txhash persist failed", "operation", op.ID, "tx", receipt.TxHash, "error", err)
	}

	confirmed, err := s.chain.WaitForConfirmation(ctx, receipt.TxHash, s.cfg.ConfirmationWait)
	if errors.Is(err, chain.ErrExecutionReverted) || (confirmed != nil && confirmed.Reverted) {
		// Mined but reverted: the receipt arrives together with the
		// sentinel error.
		s.finish(ctx, op, StatusFailed, receipt.TxHash, "execution reverted on-chain")
		return
	}
	if err != nil {
		// No receipt inside the window: stay Pending until TTL expiry.
		s.logger.Warn("revoke confirmation pending", "operation", op.ID, "tx", receipt.TxHash, "error", err)
		return
	}
	s.finish(ctx, op, StatusCompleted, receipt.TxHash, "")
}

func (s *Service) finish(ctx context.Context, op *Operation, status Status, txHash, reason string) {
	now := s.now().UTC()
	op.Status = status
	op.TxHash = txHash
	op.RevertReason = reason
	op.CompletedAt = &now

	if err := s.store.Update(ctx, op); err != nil {
		s.logger.Error("revoke status persist failed", "operation", op.ID, "status", status, "error", err)
		return
	}
	metrics.RevokesTotal.WithLabelValues(string(status)).Inc()

	if status == StatusFailed {
		s.logger.Warn("revoke failed", "operation", op.ID, "tx", txHash, "reason", reason)
		return
	}
	s.logger.Info("revoke completed", "operation", op.ID, "tx", txHash,
		"token", op.TokenAddress, "spender", op.SpenderAddress)
}
