package scan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/meghal86/smart-stake-sub001/internal/scoring"
)

// PostgresStore persists scan sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed scan session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, session *Session) error {
	findingsJSON, err := json.Marshal(session.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_sessions
			(id, wallet_address, chain, state, started_at, completed_at,
			 findings, score, grade, confidence_overall, failure_reason, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		session.ID,
		strings.ToLower(session.WalletAddress),
		session.Chain,
		string(session.State),
		session.StartedAt,
		session.CompletedAt,
		findingsJSON,
		session.Score,
		session.Grade,
		session.ConfidenceOverall,
		session.FailureReason,
		session.RequestID,
	)
	if err != nil {
		return fmt.Errorf("failed to create scan session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, session *Session) error {
	findingsJSON, err := json.Marshal(session.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}

	// Terminal rows never change again.
	res, err := s.db.ExecContext(ctx, `
		UPDATE scan_sessions
		SET state = $2, completed_at = $3, findings = $4, score = $5,
		    grade = $6, confidence_overall = $7, failure_reason = $8
		WHERE id = $1 AND state NOT IN ('completed', 'failed')
	`,
		session.ID,
		string(session.State),
		session.CompletedAt,
		findingsJSON,
		session.Score,
		session.Grade,
		session.ConfidenceOverall,
		session.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("failed to update scan session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update scan session: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM scan_sessions WHERE id = $1)`, session.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to update scan session: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return fmt.Errorf("scan: session %s is terminal", session.ID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, wallet_address, chain, state, started_at, completed_at,
		       findings, score, grade, confidence_overall, failure_reason, request_id
		FROM scan_sessions
		WHERE id = $1
	`, id)

	session, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

func (s *PostgresStore) ListByWallet(ctx context.Context, walletAddress string, limit int) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet_address, chain, state, started_at, completed_at,
		       findings, score, grade, confidence_overall, failure_reason, request_id
		FROM scan_sessions
		WHERE wallet_address = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, strings.ToLower(walletAddress), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Session
	for rows.Next() {
		session, err := scanRow(rows)
		if err != nil {
			continue
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*Session, error) {
	var session Session
	var state string
	var completedAt sql.NullTime
	var findingsJSON []byte

	err := row.Scan(
		&session.ID,
		&session.WalletAddress,
		&session.Chain,
		&state,
		&session.StartedAt,
		&completedAt,
		&findingsJSON,
		&session.Score,
		&session.Grade,
		&session.ConfidenceOverall,
		&session.FailureReason,
		&session.RequestID,
	)
	if err != nil {
		return nil, err
	}

	session.State = State(state)
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		session.CompletedAt = &t
	}
	session.StartedAt = session.StartedAt.UTC()
	session.Findings = []scoring.Finding{}
	_ = json.Unmarshal(findingsJSON, &session.Findings)
	return &session, nil
}
