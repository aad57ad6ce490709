package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/expert-router/internal/core/domain"
)

// SessionRepository is the durable exchange log on Postgres. The sliding
// window is enforced on every append, so the table never holds more than
// maxExchanges rows per session.
type SessionRepository struct {
	db           *sql.DB
	maxExchanges int
}

func NewSessionRepository(db *sql.DB, maxExchanges int) *SessionRepository {
	if maxExchanges <= 0 {
		maxExchanges = 5
	}
	return &SessionRepository{db: db, maxExchanges: maxExchanges}
}

func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api instances.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026032101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS session_exchanges (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	query TEXT NOT NULL,
	answer TEXT NOT NULL,
	expert TEXT,
	context TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_exchanges_session ON session_exchanges(session_id, created_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create session schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) Append(ctx context.Context, sessionID string, ex domain.Exchange) error {
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO session_exchanges (id, session_id, query, answer, expert, context, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, uuid.NewString(), sessionID, ex.Query, ex.Answer, ex.Expert, ex.Context, ex.Timestamp)
	if err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
DELETE FROM session_exchanges
WHERE session_id = $1
  AND id NOT IN (
	SELECT id FROM session_exchanges
	WHERE session_id = $1
	ORDER BY created_at DESC, id DESC
	LIMIT $2
)
`, sessionID, r.maxExchanges)
	if err != nil {
		return fmt.Errorf("trim exchange window: %w", err)
	}
	return nil
}

func (r *SessionRepository) Clear(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM session_exchanges WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// LoadAll restores every session's window, oldest exchange first.
func (r *SessionRepository) LoadAll(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT session_id, query, answer, COALESCE(expert, ''), COALESCE(context, ''), created_at
FROM session_exchanges
ORDER BY session_id, created_at, id
`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var (
		sessions []domain.Session
		current  *domain.Session
	)
	for rows.Next() {
		var (
			sessionID string
			ex        domain.Exchange
		)
		if err := rows.Scan(&sessionID, &ex.Query, &ex.Answer, &ex.Expert, &ex.Context, &ex.Timestamp); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		if current == nil || current.ID != sessionID {
			sessions = append(sessions, domain.Session{ID: sessionID})
			current = &sessions[len(sessions)-1]
		}
		current.Exchanges = append(current.Exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
