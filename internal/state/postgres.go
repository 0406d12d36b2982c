package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cloudstep/orchestrate/internal/plan"
)

const pgPingTimeout = 5 * time.Second

const pgSchema = `
CREATE TABLE IF NOT EXISTS step_results (
	target     TEXT        NOT NULL,
	step       TEXT        NOT NULL,
	idem_key   TEXT        NOT NULL,
	result     JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (target, step, idem_key)
)`

// Postgres stores results in a PostgreSQL table, one row per
// (target, step, idempotency key), updated in place on retries.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects with the given DSN, verifies the connection, and
// ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, wrap("open postgres", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pgPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, wrap("connect postgres", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		db.Close()
		return nil, wrap("create schema", err)
	}
	return &Postgres{db: db}, nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, target, step, key string) (plan.StepResult, bool, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT result FROM step_results WHERE target = $1 AND step = $2 AND idem_key = $3`,
		target, step, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.StepResult{}, false, nil
	}
	if err != nil {
		return plan.StepResult{}, false, wrap("get", err)
	}
	var r plan.StepResult
	if err := json.Unmarshal(data, &r); err != nil {
		return plan.StepResult{}, false, wrap("decode", err)
	}
	return r, true, nil
}

// Put implements Store.
func (p *Postgres) Put(ctx context.Context, target, step, key string, result plan.StepResult) error {
	result.Step = step
	result.Key = key
	data, err := json.Marshal(result)
	if err != nil {
		return wrap("encode", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO step_results (target, step, idem_key, result, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (target, step, idem_key)
		DO UPDATE SET result = EXCLUDED.result, updated_at = now()`,
		target, step, key, data)
	if err != nil {
		return wrap("put", err)
	}
	return nil
}

// List implements Store.
func (p *Postgres) List(ctx context.Context, target string) ([]plan.StepResult, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (step) result
		FROM step_results
		WHERE target = $1
		ORDER BY step, updated_at DESC`,
		target)
	if err != nil {
		return nil, wrap("list", err)
	}
	defer rows.Close()

	var out []plan.StepResult
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, wrap("scan", err)
		}
		var r plan.StepResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, wrap("decode", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list", err)
	}
	return out, nil
}

// Purge implements Store.
func (p *Postgres) Purge(ctx context.Context, target string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM step_results WHERE target = $1`, target); err != nil {
		return wrap("purge", err)
	}
	return nil
}

// Close implements Store.
func (p *Postgres) Close() error {
	return p.db.Close()
}
