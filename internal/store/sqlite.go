// ABOUTME: SQLite implementation of the usage ledger using modernc.org/sqlite
// ABOUTME: One row per completed request with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite usage ledger initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS request_usage (
			id              TEXT PRIMARY KEY,
			provider        TEXT NOT NULL,
			model           TEXT NOT NULL,
			conversation_id TEXT,
			status          TEXT NOT NULL,
			latency_ms      INTEGER NOT NULL,
			text_chars      INTEGER NOT NULL,
			audio_bytes     INTEGER NOT NULL,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_request_usage_created
			ON request_usage(created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_request_usage_provider
			ON request_usage(provider);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// SaveUsage stores one ledger row.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *Usage) error {
	query := `
		INSERT INTO request_usage (
			id, provider, model, conversation_id, status,
			latency_ms, text_chars, audio_bytes, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.RequestID,
		usage.Provider,
		usage.Model,
		nullString(usage.ConversationID),
		usage.Status,
		usage.LatencyMS,
		usage.TextChars,
		usage.AudioBytes,
		usage.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved request usage",
		"request_id", usage.RequestID,
		"provider", usage.Provider,
		"status", usage.Status,
		"latency_ms", usage.LatencyMS,
	)
	return nil
}

// ListUsage returns the most recent rows, newest first. A non-positive
// limit falls back to 50.
func (s *SQLiteStore) ListUsage(ctx context.Context, limit int) ([]*Usage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, provider, model, conversation_id, status,
		       latency_ms, text_chars, audio_bytes, created_at
		FROM request_usage
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	usages := []*Usage{}
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return usages, nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*) as request_count,
			COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0) as completed_count,
			COALESCE(SUM(text_chars), 0) as total_text_chars,
			COALESCE(SUM(audio_bytes), 0) as total_audio_bytes,
			COALESCE(SUM(latency_ms), 0) as total_latency_ms
		FROM request_usage
		WHERE 1=1
	`
	args := []any{}

	if filter.Provider != nil {
		query += " AND provider = ?"
		args = append(args, *filter.Provider)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.RequestCount,
		&stats.CompletedCount,
		&stats.TotalTextChars,
		&stats.TotalAudioBytes,
		&stats.TotalLatencyMS,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	stats.FailedCount = stats.RequestCount - stats.CompletedCount

	return &stats, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanUsage scans a single ledger row into a Usage struct.
func scanUsage(rows *sql.Rows) (*Usage, error) {
	var usage Usage
	var conversationID sql.NullString
	var createdAtStr string

	err := rows.Scan(
		&usage.RequestID,
		&usage.Provider,
		&usage.Model,
		&conversationID,
		&usage.Status,
		&usage.LatencyMS,
		&usage.TextChars,
		&usage.AudioBytes,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	if conversationID.Valid {
		usage.ConversationID = conversationID.String
	}

	usage.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &usage, nil
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure SQLiteStore implements the Store interface.
var _ Store = (*SQLiteStore)(nil)
