package attestation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/socialblocklabs/arp-agent/migrations"
)

// PostgresStore persists attestations in the attestations table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db. The schema is managed by goose.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies pending schema migrations.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if err := migrations.Up(ctx, p.db); err != nil {
		return fmt.Errorf("migrate attestations: %w", err)
	}
	return nil
}

// Upsert writes a, replacing every column of an existing row.
func (p *PostgresStore) Upsert(ctx context.Context, a *Attestation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attestations (address, timestamp, score, factors, explanation, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (address) DO UPDATE SET
			timestamp   = EXCLUDED.timestamp,
			score       = EXCLUDED.score,
			factors     = EXCLUDED.factors,
			explanation = EXCLUDED.explanation,
			updated_at  = NOW()
	`, a.Address, a.Timestamp, a.Score, a.Factors, nullString(a.Explanation))
	if err != nil {
		return fmt.Errorf("upsert attestation: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, address string) (*Attestation, error) {
	a := &Attestation{}
	var explanation sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT address, timestamp, score, factors, explanation
		FROM attestations
		WHERE address = $1
	`, address).Scan(&a.Address, &a.Timestamp, &a.Score, &a.Factors, &explanation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attestation: %w", err)
	}
	if explanation.Valid {
		a.Explanation = &explanation.String
	}
	return a, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
