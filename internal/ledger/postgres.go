package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/you/flasharb/internal/types"
)

// PostgresSink keeps the durable trade history. Schema is created on
// construction so a fresh database works without manual setup.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS arb_trades (
			attempt    TEXT PRIMARY KEY,
			strategy   TEXT NOT NULL,
			token_in   TEXT NOT NULL,
			token_out  TEXT NOT NULL,
			profit_usd DOUBLE PRECISION NOT NULL,
			total_usd  DOUBLE PRECISION NOT NULL,
			tx_hash    TEXT,
			super      BOOLEAN NOT NULL DEFAULT FALSE,
			settled_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Append(ctx context.Context, rec types.Receipt, totalUSD float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO arb_trades (attempt, strategy, token_in, token_out, profit_usd, total_usd, tx_hash, super, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.Attempt, string(rec.Strategy), rec.TokenIn, rec.TokenOut,
		rec.ProfitUSD, totalUSD, rec.TxHash, rec.Super, rec.Ts,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() { s.pool.Close() }
