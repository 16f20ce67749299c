package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tetherlab/tether/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// History is the local sqlite cache of finalized conversation history
// and checkpoints. It lets `tether history` work without a live
// connection. Backed by modernc.org/sqlite (pure Go, no CGO).
type History struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the history database at the given path.
func OpenHistory(dbPath string) (*History, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access through Go's pool, preventing "database is
	// locked" errors when the dispatch goroutine and the CLI overlap.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &History{db: db}, nil
}

// NewULID generates a new ULID string for client-minted identifiers.
func NewULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (h *History) Migrate(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		err := h.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := h.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := h.db.ExecContext(ctx,
			"INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

// RecordSession upserts a session row with the current time.
func (h *History) RecordSession(ctx context.Context, sessionID, workspace string) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET workspace = excluded.workspace, last_seen = excluded.last_seen`,
		sessionID, workspace, time.Now().UTC())
	return err
}

// SaveMessage writes one finalized message through to the cache.
// Upsert on id: reconciliation may finalize the same server id more
// than once under at-least-once delivery.
func (h *History) SaveMessage(ctx context.Context, sessionID, conversationID, agentID string, m *models.AgentMessage) error {
	var toolCalls []byte
	if len(m.ToolCalls) > 0 {
		var err error
		toolCalls, err = json.Marshal(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, conversation_id, agent_id, role, content, thinking, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, thinking = excluded.thinking, tool_calls = excluded.tool_calls`,
		m.ID, sessionID, conversationID, agentID, string(m.Role), m.Content, m.Thinking,
		nullableString(toolCalls), m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save message %s: %w", m.ID, err)
	}
	return nil
}

// ListMessages returns the most recent messages of a conversation in
// chronological order. limit <= 0 means no limit.
func (h *History) ListMessages(ctx context.Context, conversationID string, limit int) ([]*models.AgentMessage, error) {
	query := `
		SELECT id, role, content, thinking, tool_calls, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentMessage
	for rows.Next() {
		var m models.AgentMessage
		var toolCalls sql.NullString
		var role string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Thinking, &toolCalls, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.MessageRole(role)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls for %s: %w", m.ID, err)
			}
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SaveCheckpoint writes a checkpoint through to the cache. Only status
// can change after creation, so conflicts update status alone.
func (h *History) SaveCheckpoint(ctx context.Context, sessionID string, cp *models.Checkpoint) error {
	var files []byte
	if len(cp.Files) > 0 {
		var err error
		files, err = json.Marshal(cp.Files)
		if err != nil {
			return fmt.Errorf("marshal file deltas: %w", err)
		}
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, session_id, checkpoint_number, description, action_type, agent_id,
			status, files, file_count, total_lines_added, total_lines_removed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		cp.ID, sessionID, cp.Number, cp.Description, cp.ActionType, cp.AgentID,
		string(cp.Status), nullableString(files), cp.FileCount, cp.TotalLinesAdded,
		cp.TotalLinesRemoved, cp.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// ListCheckpoints returns a session's cached checkpoints, newest first.
func (h *History) ListCheckpoints(ctx context.Context, sessionID string) ([]*models.Checkpoint, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, checkpoint_number, description, action_type, agent_id, status,
			files, file_count, total_lines_added, total_lines_removed, created_at
		FROM checkpoints WHERE session_id = ?
		ORDER BY checkpoint_number DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		var cp models.Checkpoint
		var desc, files sql.NullString
		var status string
		if err := rows.Scan(&cp.ID, &cp.Number, &desc, &cp.ActionType, &cp.AgentID, &status,
			&files, &cp.FileCount, &cp.TotalLinesAdded, &cp.TotalLinesRemoved, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.Description = desc.String
		cp.Status = models.CheckpointStatus(status)
		if files.Valid && files.String != "" {
			if err := json.Unmarshal([]byte(files.String), &cp.Files); err != nil {
				return nil, fmt.Errorf("unmarshal file deltas for %s: %w", cp.ID, err)
			}
		}
		out = append(out, &cp)
	}
	return out, rows.Err()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
