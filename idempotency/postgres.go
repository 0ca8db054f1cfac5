package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Postgres keeps the ledger in the processed_events table.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Claim(ctx context.Context, key string) (bool, error) {
	const q = `
	INSERT INTO processed_events (event_key, created_at)
	VALUES ($1, $2)
	ON CONFLICT (event_key) DO NOTHING`

	res, err := p.db.ExecContext(ctx, q, key, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claiming event[%s]: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming event[%s]: %w", key, err)
	}
	return n == 1, nil
}

func (p *Postgres) Release(ctx context.Context, key string) error {
	const q = `DELETE FROM processed_events WHERE event_key = $1`

	if _, err := p.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("releasing event[%s]: %w", key, err)
	}
	return nil
}

// Prune deletes entries older than the given age.
func (p *Postgres) Prune(ctx context.Context, age time.Duration) (int64, error) {
	const q = `DELETE FROM processed_events WHERE created_at < $1`

	res, err := p.db.ExecContext(ctx, q, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("pruning processed events: %w", err)
	}
	return res.RowsAffected()
}
