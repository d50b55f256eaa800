package interactions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS interactions (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    anonymous_id TEXT NOT NULL,
    platform TEXT NOT NULL DEFAULT '',
    conversation_id TEXT NOT NULL,
    is_new_conversation INTEGER NOT NULL DEFAULT 0,
    query TEXT NOT NULL,
    response TEXT NOT NULL DEFAULT '',
    rag_context TEXT NOT NULL DEFAULT '',
    model_used TEXT NOT NULL DEFAULT '',
    temperature REAL NOT NULL DEFAULT 0,
    response_time_ms INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    quality_score INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_interactions_anon ON interactions(anonymous_id, created_at);`

// SQLiteSink appends interactions to a SQLite table.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens (and creates if needed) the interaction log at path.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening interaction database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating interaction schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Name implements Sink.
func (s *SQLiteSink) Name() string { return "sqlite" }

// Write implements Sink.
func (s *SQLiteSink) Write(ctx context.Context, in Interaction) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO interactions (
    id, created_at, anonymous_id, platform, conversation_id, is_new_conversation,
    query, response, rag_context, model_used, temperature, response_time_ms,
    state, error, attempts, quality_score
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID.String(), in.At.UnixMilli(), in.AnonymousID, in.Platform, in.ConversationID, in.NewConversation,
		in.Query, in.Response, in.RAGContext, in.Model, in.Temperature, in.LatencyMS,
		in.State, in.Error, in.Attempts, in.QualityScore,
	)
	if err != nil {
		return fmt.Errorf("inserting interaction: %w", err)
	}
	return nil
}

// Count returns the number of interactions logged for anonymousID.
func (s *SQLiteSink) Count(ctx context.Context, anonymousID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interactions WHERE anonymous_id = ?`, anonymousID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting interactions: %w", err)
	}
	return n, nil
}

// Recent returns the latest interactions for anonymousID, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, anonymousID string, limit int) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, created_at, platform, conversation_id, is_new_conversation, query, response,
       rag_context, model_used, temperature, response_time_ms, state, error, attempts, quality_score
FROM interactions WHERE anonymous_id = ? ORDER BY created_at DESC LIMIT ?`, anonymousID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var (
			in      Interaction
			id      string
			created int64
		)
		if err := rows.Scan(&id, &created, &in.Platform, &in.ConversationID, &in.NewConversation,
			&in.Query, &in.Response, &in.RAGContext, &in.Model, &in.Temperature, &in.LatencyMS,
			&in.State, &in.Error, &in.Attempts, &in.QualityScore); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}
		in.AnonymousID = anonymousID
		in.At = time.UnixMilli(created).UTC()
		if err := in.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("parsing interaction id: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
