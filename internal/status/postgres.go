package status

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transcoder/internal/services"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS transcoder_job_status (
    content_hash TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores statuses in a shared table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a pool for dsn and ensures the status table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create status table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (Status, error) {
	var raw string
	err := p.pool.QueryRow(ctx, `SELECT status FROM transcoder_job_status WHERE content_hash = $1`, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", services.Wrap(services.ErrNotFound, "status", "get", key, nil)
	}
	if err != nil {
		return "", services.Wrap(services.ErrStore, "status", "get", key, err)
	}
	status, err := ParseStatus(raw)
	if err != nil {
		return "", services.Wrap(services.ErrStore, "status", "get", key, err)
	}
	return status, nil
}

func (p *Postgres) Set(ctx context.Context, key string, status Status) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO transcoder_job_status (content_hash, status, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (content_hash) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
`, key, string(status))
	if err != nil {
		return services.Wrap(services.ErrStore, "status", "set", key, err)
	}
	return nil
}

func (p *Postgres) Claim(ctx context.Context, key string, status Status) (Status, bool, error) {
	tag, err := p.pool.Exec(ctx, `
INSERT INTO transcoder_job_status (content_hash, status, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (content_hash) DO NOTHING
`, key, string(status))
	if err != nil {
		return "", false, services.Wrap(services.ErrStore, "status", "claim", key, err)
	}
	if tag.RowsAffected() == 1 {
		return status, true, nil
	}
	existing, err := p.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

func (p *Postgres) Replace(ctx context.Context, key string, from, to Status) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
UPDATE transcoder_job_status SET status = $3, updated_at = now()
WHERE content_hash = $1 AND status = $2
`, key, string(from), string(to))
	if err != nil {
		return false, services.Wrap(services.ErrStore, "status", "replace", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Reclaim(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
UPDATE transcoder_job_status SET status = $1, updated_at = now()
WHERE status IN ($2, $3) AND updated_at <= $4
RETURNING content_hash
`, string(Failed), string(Queued), string(InProgress), cutoff)
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "status", "reclaim", "", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "status", "reclaim", "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
