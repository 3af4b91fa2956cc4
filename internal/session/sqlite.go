package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/meetly/internal/llm"
)

// timeLayout is fixed width so created_at sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists threads in a SQLite database so conversations
// survive restarts. Order within a thread is the seq column.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates the schema if needed. The caller opens db
// (with any registered SQLite driver) and owns it.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			tool_call_id TEXT,
			tool_name TEXT,
			is_error INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE (thread_id, seq)
		);
	`)
	return err
}

// Load returns the thread's messages in append order.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) ([]llm.Message, error) {
	if threadID == "" {
		return nil, &StoreError{Op: "load", Err: ErrEmptyThreadID}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id, tool_name, is_error
		FROM messages
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, &StoreError{Op: "load", ThreadID: threadID, Err: err}
	}
	defer rows.Close()

	msgs := []llm.Message{}
	for rows.Next() {
		var m llm.Message
		var toolCalls, toolCallID, toolName sql.NullString
		var isError int
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID, &toolName, &isError); err != nil {
			return nil, &StoreError{Op: "load", ThreadID: threadID, Err: err}
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, &StoreError{Op: "load", ThreadID: threadID, Err: fmt.Errorf("decode tool calls: %w", err)}
			}
		}
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		m.IsError = isError != 0
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "load", ThreadID: threadID, Err: err}
	}
	return msgs, nil
}

// Append writes msgs in one transaction; either all become visible or
// none do.
func (s *SQLiteStore) Append(ctx context.Context, threadID string, msgs ...llm.Message) error {
	if threadID == "" {
		return &StoreError{Op: "append", Err: ErrEmptyThreadID}
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := s.append(ctx, threadID, msgs); err != nil {
		return &StoreError{Op: "append", ThreadID: threadID, Err: err}
	}
	s.logger.Debug("messages appended", "thread", threadID, "count", len(msgs))
	return nil
}

func (s *SQLiteStore) append(ctx context.Context, threadID string, msgs []llm.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = ?`, threadID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, thread_id, seq, role, content, tool_calls, tool_call_id, tool_name, is_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.now().UTC().Format(timeLayout)
	for _, m := range msgs {
		seq++
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		var toolCalls sql.NullString
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(data), Valid: true}
		}
		isError := 0
		if m.IsError {
			isError = 1
		}
		if _, err := stmt.ExecContext(ctx,
			id.String(), threadID, seq, m.Role, m.Content,
			toolCalls, nullStr(m.ToolCallID), nullStr(m.ToolName), isError, now,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

// Threads lists threads, most recently updated first.
func (s *SQLiteStore) Threads(ctx context.Context) ([]ThreadInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, COUNT(*), MAX(created_at)
		FROM messages
		GROUP BY thread_id
		ORDER BY MAX(created_at) DESC
	`)
	if err != nil {
		return nil, &StoreError{Op: "threads", Err: err}
	}
	defer rows.Close()

	out := []ThreadInfo{}
	for rows.Next() {
		var info ThreadInfo
		var updated string
		if err := rows.Scan(&info.ID, &info.Messages, &updated); err != nil {
			return nil, &StoreError{Op: "threads", Err: err}
		}
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "threads", Err: err}
	}
	return out, nil
}

// Clear deletes a thread's messages.
func (s *SQLiteStore) Clear(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return &StoreError{Op: "clear", ThreadID: threadID, Err: err}
	}
	return nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
