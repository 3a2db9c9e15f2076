package revoke

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresStore persists revoke operations in PostgreSQL. At-most-once
// execution rests on the partial unique index over idempotency_key for
// live (pending/completed) rows: concurrent duplicate inserts collapse
// in the database, not in application code.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed revoke operation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, op *Operation) (*Operation, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO revoke_operations
			(id, idempotency_key, user_address, token_address, spender_address,
			 status, tx_hash, gas_estimate, score_delta, revert_reason,
			 created_at, expires_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) WHERE status IN ('pending', 'completed')
		DO NOTHING
	`,
		op.ID,
		op.IdempotencyKey,
		strings.ToLower(op.UserAddress),
		strings.ToLower(op.TokenAddress),
		strings.ToLower(op.SpenderAddress),
		string(op.Status),
		op.TxHash,
		int64(op.GasEstimate),
		op.ScoreDelta,
		op.RevertReason,
		op.CreatedAt,
		op.ExpiresAt,
		op.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert revoke operation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to insert revoke operation: %w", err)
	}
	if n == 0 {
		// A live operation already holds this key; return it.
		existing, err := s.GetByKey(ctx, op.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read existing revoke operation: %w", err)
		}
		return existing, ErrKeyExists
	}
	return op.Clone(), nil
}

func (s *PostgresStore) Update(ctx context.Context, op *Operation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE revoke_operations
		SET status = $2, tx_hash = $3, gas_estimate = $4, revert_reason = $5,
		    completed_at = $6
		WHERE id = $1 AND status = 'pending'
	`,
		op.ID,
		string(op.Status),
		op.TxHash,
		int64(op.GasEstimate),
		op.RevertReason,
		op.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update revoke operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update revoke operation: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM revoke_operations WHERE id = $1)`, op.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to update revoke operation: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrNotCancellable
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Operation, error) {
	row := s.db.QueryRowContext(ctx, selectOperation+` WHERE id = $1`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return op, err
}

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*Operation, error) {
	// Prefer the live holder; fall back to the most recent attempt.
	row := s.db.QueryRowContext(ctx, selectOperation+`
		WHERE idempotency_key = $1
		ORDER BY (status IN ('pending', 'completed')) DESC, created_at DESC
		LIMIT 1
	`, key)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return op, err
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM revoke_operations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete revoke operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete revoke operation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Operation, error) {
	rows, err := s.db.QueryContext(ctx, selectOperation+`
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired revoke operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			continue
		}
		result = append(result, op)
	}
	return result, rows.Err()
}

const selectOperation = `
	SELECT id, idempotency_key, user_address, token_address, spender_address,
	       status, tx_hash, gas_estimate, score_delta, revert_reason,
	       created_at, expires_at, completed_at
	FROM revoke_operations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*Operation, error) {
	var op Operation
	var status string
	var gasEstimate int64
	var completedAt sql.NullTime

	err := row.Scan(
		&op.ID,
		&op.IdempotencyKey,
		&op.UserAddress,
		&op.TokenAddress,
		&op.SpenderAddress,
		&status,
		&op.TxHash,
		&gasEstimate,
		&op.ScoreDelta,
		&op.RevertReason,
		&op.CreatedAt,
		&op.ExpiresAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	op.Status = Status(status)
	op.GasEstimate = uint64(gasEstimate)
	op.CreatedAt = op.CreatedAt.UTC()
	op.ExpiresAt = op.ExpiresAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		op.CompletedAt = &t
	}
	return &op, nil
}
