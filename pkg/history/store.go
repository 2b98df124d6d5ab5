package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/batteryshark/agent-armory/pkg/engine"
)

// Entry is one archived execution.
type Entry struct {
	SessionID   string      `json:"session_id"`
	RequestID   string      `json:"request_id"`
	Tool        string      `json:"tool"`
	ToolVersion string      `json:"tool_version"`
	State       string      `json:"state"`
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
	EndedAt     time.Time   `json:"ended_at"`
}

// Config holds history store configuration.
type Config struct {
	DBPath string
	Logger zerolog.Logger
}

// Store archives terminal execution records in sqlite. It satisfies
// the engine's Archiver interface.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (or creates) the history database.
func New(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode: archiving writes race with history reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger.With().Str("component", "history").Logger()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.DBPath).Msg("history store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			tool_version TEXT NOT NULL,
			state TEXT NOT NULL,
			result_json TEXT,
			error TEXT,
			submitted_at INTEGER NOT NULL,
			started_at INTEGER,
			ended_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_exec_session ON executions(session_id, ended_at);
		CREATE INDEX IF NOT EXISTS idx_exec_ended ON executions(ended_at);
		CREATE INDEX IF NOT EXISTS idx_exec_tool ON executions(tool);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Archive persists one terminal snapshot. Non-terminal snapshots are
// rejected.
func (s *Store) Archive(snap engine.Snapshot) error {
	if !snap.State.Terminal() {
		return fmt.Errorf("refusing to archive non-terminal state %q", snap.State)
	}

	var resultJSON sql.NullString
	if snap.Result != nil {
		raw, err := json.Marshal(snap.Result)
		if err != nil {
			// Archive what we can; the result stays empty.
			s.logger.Warn().Err(err).Str("request_id", snap.RequestID).Msg("result not serializable")
		} else {
			resultJSON = sql.NullString{String: string(raw), Valid: true}
		}
	}

	var errText sql.NullString
	if snap.Err != nil {
		errText = sql.NullString{String: snap.Err.Error(), Valid: true}
	}

	var startedAt sql.NullInt64
	if !snap.StartedAt.IsZero() {
		startedAt = sql.NullInt64{Int64: snap.StartedAt.UnixMilli(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO executions
			(session_id, request_id, tool, tool_version, state, result_json, error, submitted_at, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.RequestID, snap.Tool, snap.ToolVersion, string(snap.State),
		resultJSON, errText, snap.SubmittedAt.UnixMilli(), startedAt, snap.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive execution: %w", err)
	}
	return nil
}

// BySession returns a session's archived executions, most recent
// first. limit <= 0 means no limit.
func (s *Store) BySession(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	query := `
		SELECT session_id, request_id, tool, tool_version, state, result_json, error, submitted_at, started_at, ended_at
		FROM executions
		WHERE session_id = ?
		ORDER BY ended_at DESC, id DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ByTool returns archived executions of one tool across all sessions,
// most recent first.
func (s *Store) ByTool(ctx context.Context, tool string, limit int) ([]Entry, error) {
	query := `
		SELECT session_id, request_id, tool, tool_version, state, result_json, error, submitted_at, started_at, ended_at
		FROM executions
		WHERE tool = ?
		ORDER BY ended_at DESC, id DESC`
	args := []interface{}{tool}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry      Entry
		resultJSON sql.NullString
		errText    sql.NullString
		submitted  int64
		started    sql.NullInt64
		ended      int64
	)
	if err := rows.Scan(
		&entry.SessionID, &entry.RequestID, &entry.Tool, &entry.ToolVersion, &entry.State,
		&resultJSON, &errText, &submitted, &started, &ended,
	); err != nil {
		return Entry{}, fmt.Errorf("failed to scan history row: %w", err)
	}

	if resultJSON.Valid {
		var result interface{}
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err == nil {
			entry.Result = result
		}
	}
	if errText.Valid {
		entry.Error = errText.String
	}
	entry.SubmittedAt = time.UnixMilli(submitted)
	if started.Valid {
		entry.StartedAt = time.UnixMilli(started.Int64)
	}
	entry.EndedAt = time.UnixMilli(ended)
	return entry, nil
}

// Purge deletes entries that ended before the retention window. It
// returns the number of rows removed.
func (s *Store) Purge(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := s.db.Exec("DELETE FROM executions WHERE ended_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		s.logger.Debug().Int64("removed", removed).Msg("purged archived executions")
	}
	return removed, nil
}

// Count returns the number of archived executions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&n)
	return n, err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
