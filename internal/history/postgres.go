package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlExchanges = `
CREATE TABLE IF NOT EXISTS exchanges (
    id             BIGSERIAL    PRIMARY KEY,
    session_id     TEXT         NOT NULL,
    user_text      TEXT         NOT NULL,
    assistant_text TEXT         NOT NULL,
    timestamp      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exchanges_session_timestamp
    ON exchanges (session_id, timestamp);
`

// PostgresStore is a [Store] backed by a PostgreSQL exchanges table, scoped to
// one session ID. All methods are safe for concurrent use.
type PostgresStore struct {
	pool      *pgxpool.Pool
	sessionID string
}

// Compile-time interface assertion.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn, ensures the exchanges
// table exists, and returns a store scoped to sessionID. The caller must call
// Close when the store is no longer needed.
func NewPostgresStore(ctx context.Context, dsn, sessionID string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlExchanges); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool, sessionID: sessionID}, nil
}

// Append implements [Store].
func (s *PostgresStore) Append(ctx context.Context, e Exchange) error {
	const q = `
		INSERT INTO exchanges (session_id, user_text, assistant_text, timestamp)
		VALUES ($1, $2, $3, $4)`

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := s.pool.Exec(ctx, q, s.sessionID, e.UserText, e.AssistantText, ts); err != nil {
		return fmt.Errorf("history store: append: %w", err)
	}
	return nil
}

// Recent implements [Store]. The newest n rows are fetched and returned in
// chronological order.
func (s *PostgresStore) Recent(ctx context.Context, n int) ([]Exchange, error) {
	if n <= 0 {
		return nil, nil
	}

	const q = `
		SELECT user_text, assistant_text, timestamp
		FROM   exchanges
		WHERE  session_id = $1
		ORDER  BY timestamp DESC, id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, s.sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("history store: recent: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Exchange, error) {
		var e Exchange
		err := row.Scan(&e.UserText, &e.AssistantText, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history store: scan: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close releases all connections held by the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
