package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

// Postgres keeps one row per session: the JSONB turn log and its expiry.
// Appends lock the row with SELECT ... FOR UPDATE.
type Postgres struct {
	db   *sql.DB
	opts Options
}

func NewPostgres(db *sql.DB, opts Options) *Postgres {
	return &Postgres{db: db, opts: opts.withDefaults()}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversation_sessions (
			session_id TEXT PRIMARY KEY,
			turns      JSONB NOT NULL DEFAULT '[]'::jsonb,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS conversation_sessions_expires_at_idx
			ON conversation_sessions (expires_at);
	`)
	return err
}

func (p *Postgres) GetContext(ctx context.Context, sessionID string) ([]relay.Turn, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT turns
		FROM conversation_sessions
		WHERE session_id = $1 AND expires_at > $2
	`, sessionID, p.opts.Now()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []relay.Turn{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeTurns(raw)
}

func (p *Postgres) Append(ctx context.Context, sessionID string, turns ...relay.Turn) error {
	now := p.opts.Now()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_sessions (session_id, turns, expires_at)
		VALUES ($1, '[]'::jsonb, $2)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, now); err != nil {
		return err
	}

	var (
		raw       []byte
		expiresAt time.Time
	)
	if err := tx.QueryRowContext(ctx, `
		SELECT turns, expires_at
		FROM conversation_sessions
		WHERE session_id = $1
		FOR UPDATE
	`, sessionID).Scan(&raw, &expiresAt); err != nil {
		return err
	}

	var history []relay.Turn
	if expiresAt.After(now) {
		if history, err = decodeTurns(raw); err != nil {
			return err
		}
	}

	b, err := jsonTurns(merge(history, turns, p.opts.MaxTurns, now))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_sessions
		SET turns = $2::jsonb, expires_at = $3
		WHERE session_id = $1
	`, sessionID, b, now.Add(p.opts.TTL)); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *Postgres) Clear(ctx context.Context, sessionID string) (bool, error) {
	var expiresAt time.Time
	err := p.db.QueryRowContext(ctx, `
		DELETE FROM conversation_sessions
		WHERE session_id = $1
		RETURNING expires_at
	`, sessionID).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return expiresAt.After(p.opts.Now()), nil
}

func (p *Postgres) ListSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT session_id
		FROM conversation_sessions
		WHERE expires_at > $1
		ORDER BY session_id ASC
	`, p.opts.Now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) TTL(ctx context.Context, sessionID string) (time.Duration, error) {
	var expiresAt time.Time
	err := p.db.QueryRowContext(ctx, `
		SELECT expires_at FROM conversation_sessions WHERE session_id = $1
	`, sessionID).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if d := expiresAt.Sub(p.opts.Now()); d > 0 {
		return d, nil
	}
	return 0, nil
}

func (p *Postgres) Sweep(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM conversation_sessions WHERE expires_at <= $1
	`, p.opts.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
