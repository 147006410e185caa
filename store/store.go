package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/randalmurphal/threadrelay/fault"
)

// Workspace is a folder threads run in.
type Workspace struct {
	ID        string
	Name      string
	RootPath  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Thread is a persisted conversation.
type Thread struct {
	ID          string
	WorkspaceID string
	Title       string
	// SessionID is the CLI's opaque session id, reused to resume.
	SessionID  string
	Model      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}

// Message is one transcript entry.
type Message struct {
	ID        string `json:"id"`
	ThreadID  string `json:"threadId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	EventType string `json:"eventType"`
	// MessageKey is set for assistant messages; at most one row per key and thread.
	MessageKey  string    `json:"messageKey,omitempty"`
	PayloadJSON string    `json:"payload,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store is the SQLite-backed storage.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma journal_mode: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "store"))
	s.logger.Debug("database opened", zap.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) nowNS() int64 {
	return s.now().UnixNano()
}

func fromNS(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// UpsertWorkspace registers rootPath, keeping the existing id when the path
// is already known.
func (s *Store) UpsertWorkspace(ctx context.Context, name, rootPath string) (*Workspace, error) {
	rootPath = filepath.Clean(rootPath)
	if name == "" {
		name = filepath.Base(rootPath)
	}
	now := s.nowNS()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, root_path, created_at_ns, updated_at_ns)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(root_path) DO UPDATE SET
			name = excluded.name,
			updated_at_ns = excluded.updated_at_ns`,
		uuid.NewString(), name, rootPath, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert workspace: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE root_path = ?`, rootPath)
	return scanWorkspace(row)
}

// GetWorkspace returns the workspace with id.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id)
	w, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", fault.ErrWorkspaceNotFound, id)
	}
	return w, err
}

// ListWorkspaces returns all workspaces, most recently updated first.
func (s *Store) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces ORDER BY updated_at_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// CreateThread inserts a new thread in workspaceID.
func (s *Store) CreateThread(ctx context.Context, workspaceID, title, model string) (*Thread, error) {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	now := s.nowNS()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, workspace_id, title, session_id, model, created_at_ns, updated_at_ns, archived_at_ns)
		 VALUES (?, ?, ?, NULL, ?, ?, ?, NULL)`,
		id, workspaceID, title, nullString(model), now, now)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return s.GetThread(ctx, id)
}

// GetThread returns the thread with id.
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = ?`, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", fault.ErrThreadNotFound, id)
	}
	return t, err
}

// ListThreads returns the unarchived threads of a workspace, most recent first.
func (s *Store) ListThreads(ctx context.Context, workspaceID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM threads
		 WHERE workspace_id = ? AND archived_at_ns IS NULL
		 ORDER BY updated_at_ns DESC, rowid DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateThreadSession records the CLI session id and model of a thread.
func (s *Store) UpdateThreadSession(ctx context.Context, threadID, sessionID, model string) error {
	return s.updateThread(ctx, "update thread session",
		`UPDATE threads SET session_id = ?, model = ?, updated_at_ns = ? WHERE id = ?`,
		nullString(sessionID), nullString(model), s.nowNS(), threadID)
}

// UpdateThreadModel records the model a thread switched to.
func (s *Store) UpdateThreadModel(ctx context.Context, threadID, model string) error {
	return s.updateThread(ctx, "update thread model",
		`UPDATE threads SET model = ?, updated_at_ns = ? WHERE id = ?`,
		nullString(model), s.nowNS(), threadID)
}

// TouchThread bumps the updated timestamp.
func (s *Store) TouchThread(ctx context.Context, threadID string) error {
	return s.updateThread(ctx, "touch thread",
		`UPDATE threads SET updated_at_ns = ? WHERE id = ?`, s.nowNS(), threadID)
}

// ArchiveThread hides a thread from ListThreads.
func (s *Store) ArchiveThread(ctx context.Context, threadID string) error {
	now := s.nowNS()
	return s.updateThread(ctx, "archive thread",
		`UPDATE threads SET archived_at_ns = ?, updated_at_ns = ? WHERE id = ?`, now, now, threadID)
}

func (s *Store) updateThread(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, fault.ErrThreadNotFound)
	}
	return nil
}

// AppendMessage inserts m unless a row with the same id, or the same thread
// and message key, already exists. It reports whether a row was written.
func (s *Store) AppendMessage(ctx context.Context, m Message) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, thread_id, role, content, event_type, message_key, payload_json, created_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.Role, m.Content, m.EventType, nullString(m.MessageKey), nullString(m.PayloadJSON), created.UnixNano())
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	return n > 0, nil
}

// ListMessages returns a thread's transcript ordered by creation time.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content, event_type, message_key, payload_json, created_at_ns
		 FROM messages WHERE thread_id = ? ORDER BY created_at_ns ASC, rowid ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m          Message
			key, props sql.NullString
			created    int64
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.EventType, &key, &props, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.MessageKey = key.String
		m.PayloadJSON = props.String
		m.CreatedAt = fromNS(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetSetting decodes the JSON setting key into dest. It reports false when
// the key is absent.
func (s *Store) GetSetting(ctx context.Context, key string, dest any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value_json FROM settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get setting %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

// SetSetting stores value as JSON under key.
func (s *Store) SetSetting(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value_json) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json`, key, string(b))
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

const workspaceColumns = `id, name, root_path, created_at_ns, updated_at_ns`

const threadColumns = `id, workspace_id, title, session_id, model, created_at_ns, updated_at_ns, archived_at_ns`

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row scanner) (*Workspace, error) {
	var (
		w                Workspace
		created, updated int64
	)
	if err := row.Scan(&w.ID, &w.Name, &w.RootPath, &created, &updated); err != nil {
		return nil, err
	}
	w.CreatedAt = fromNS(created)
	w.UpdatedAt = fromNS(updated)
	return &w, nil
}

func scanThread(row scanner) (*Thread, error) {
	var (
		t                Thread
		session, model   sql.NullString
		created, updated int64
		archived         sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.WorkspaceID, &t.Title, &session, &model, &created, &updated, &archived); err != nil {
		return nil, err
	}
	t.SessionID = session.String
	t.Model = model.String
	t.CreatedAt = fromNS(created)
	t.UpdatedAt = fromNS(updated)
	if archived.Valid {
		at := fromNS(archived.Int64)
		t.ArchivedAt = &at
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
