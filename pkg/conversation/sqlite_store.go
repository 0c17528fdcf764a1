package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const sqliteConversationSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT,
    created_at INTEGER NOT NULL,
    last_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL REFERENCES conversations (id),
    parent_id INTEGER,
    role TEXT NOT NULL,
    content TEXT,
    token_count INTEGER NOT NULL DEFAULT 0,
    timestamp INTEGER NOT NULL,
    type TEXT NOT NULL,
    tool_name TEXT,
    tool_args TEXT,
    tool_result TEXT,
    is_summarized INTEGER NOT NULL DEFAULT 0,
    provider TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts ON messages (conversation_id, timestamp);
`

const messageColumns = `id, conversation_id, parent_id, role, content, token_count, timestamp, type, tool_name, tool_args, tool_result, provider`

// SQLiteStore persists the conversation tree in SQLite.
//
// AUTOINCREMENT keeps message ids strictly increasing and never reused, even
// after rows are deleted by external tooling.
type SQLiteStore struct {
	mu     sync.RWMutex
	dsn    string
	db     *sql.DB
	closed bool
	now    func() time.Time

	chains map[int64][]int64
}

// SQLiteDSNForPath maps a database path to a DSN. ":memory:" stays in memory.
func SQLiteDSNForPath(path string) string {
	if path == "" || path == ":memory:" {
		return ":memory:"
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
}

func NewSQLiteStore(dsn string, options ...StoreOption) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite conversation store: empty dsn")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "could not open sqlite database")
	}
	// one connection: an in-memory database only exists per connection, and we are single-writer anyway
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		dsn:    dsn,
		db:     db,
		now:    newStoreOptions(options).now,
		chains: map[int64][]int64{},
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("dsn", dsn).Msg("Opened sqlite conversation store")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return errors.Wrap(err, "enable foreign keys")
	}
	if _, err := s.db.Exec(sqliteConversationSchemaV1); err != nil {
		return errors.Wrap(err, "migrate conversation schema")
	}
	return nil
}

func (s *SQLiteStore) StartConversation(ctx context.Context, title string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	return insertConversation(ctx, s.db, title, s.now().UTC())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertConversation(ctx context.Context, db execer, title string, ts time.Time) (int64, error) {
	if title == "" {
		title = defaultTitle(ts)
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO conversations (title, created_at, last_updated) VALUES (?, ?, ?)`,
		title, ts.UnixNano(), ts.UnixNano(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "could not insert conversation")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "could not read conversation id")
	}
	log.Debug().Int64("conversation_id", id).Str("title", title).Msg("Started conversation")
	return id, nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg NewMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	if msg.Role == "" {
		return 0, errors.New("message role is required")
	}

	// the implicit conversation is inserted in the message transaction
	implicit := msg.ConversationID == 0
	var conversationTS time.Time
	if implicit {
		conversationTS = s.now().UTC()
	}

	m, err := msg.toMessage(msg.ConversationID, s.now().UTC())
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "could not begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if implicit {
		id, err := insertConversation(ctx, tx, "", conversationTS)
		if err != nil {
			return 0, err
		}
		m.ConversationID = id
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO messages
    (conversation_id, parent_id, role, content, token_count, timestamp, type, tool_name, tool_args, tool_result, provider)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID,
		nullableInt64(m.ParentID),
		string(m.Role),
		nullableString(m.Content),
		m.TokenCount,
		m.Timestamp.UnixNano(),
		string(m.Type),
		nullableString(m.ToolName),
		nullableString(string(m.ToolArgs)),
		nullableString(string(m.ToolResult)),
		nullableString(m.Provider),
	)
	if err != nil {
		return 0, errors.Wrap(err, "could not insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "could not read message id")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_updated = ? WHERE id = ?`,
		m.Timestamp.UnixNano(), m.ConversationID,
	); err != nil {
		return 0, errors.Wrap(err, "could not update conversation")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "could not commit message")
	}

	log.Trace().
		Int64("message_id", id).
		Int64("conversation_id", m.ConversationID).
		Str("type", string(m.Type)).
		Int("token_count", m.TokenCount).
		Msg("Added message")
	return id, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrMessageNotFound, "message %d", id)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) GetMessageChain(ctx context.Context, id int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if cached, ok := s.chains[id]; ok {
		return append([]int64(nil), cached...), nil
	}

	chain, err := resolveChain(id, func(current int64) (*int64, bool, error) {
		var parent sql.NullInt64
		err := s.db.QueryRowContext(ctx, `SELECT parent_id FROM messages WHERE id = ?`, current).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, errors.Wrap(err, "could not look up parent")
		}
		if !parent.Valid {
			return nil, true, nil
		}
		p := parent.Int64
		return &p, true, nil
	})
	if err != nil {
		return nil, err
	}
	// chains of stored messages never change, chains of unknown ids might later
	if len(chain) > 0 {
		s.chains[id] = append([]int64(nil), chain...)
	}
	return chain, nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, ids []int64) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(ids)
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id IN (`+placeholders+`) ORDER BY timestamp ASC, id ASC`,
		args...,
	)
}

func (s *SQLiteStore) LatestMessage(ctx context.Context, conversationID int64) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		conversationID,
	)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID int64, exclude []int64, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if len(exclude) > 0 {
		placeholders, excludeArgs := inClause(exclude)
		query += ` AND id NOT IN (` + placeholders + `)`
		args = append(args, excludeArgs...)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	return s.queryMessages(ctx, query, args...)
}

func (s *SQLiteStore) ConversationMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC, id ASC`,
		conversationID,
	)
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, title, created_at, last_updated FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrConversationNotFound, "conversation %d", id)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, created_at, last_updated FROM conversations ORDER BY last_updated DESC, id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "could not list conversations")
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.chains = nil
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "could not query messages")
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "could not iterate messages")
	}
	return ret, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m          Message
		parentID   sql.NullInt64
		role       string
		content    sql.NullString
		ts         int64
		typ        string
		toolName   sql.NullString
		toolArgs   sql.NullString
		toolResult sql.NullString
		provider   sql.NullString
	)
	if err := row.Scan(
		&m.ID, &m.ConversationID, &parentID, &role, &content, &m.TokenCount,
		&ts, &typ, &toolName, &toolArgs, &toolResult, &provider,
	); err != nil {
		return nil, err
	}
	if parentID.Valid {
		p := parentID.Int64
		m.ParentID = &p
	}
	m.Role = Role(role)
	m.Content = content.String
	m.Timestamp = time.Unix(0, ts).UTC()
	m.Type = MessageType(typ)
	m.ToolName = toolName.String
	if toolArgs.Valid && toolArgs.String != "" {
		m.ToolArgs = []byte(toolArgs.String)
	}
	if toolResult.Valid && toolResult.String != "" {
		m.ToolResult = []byte(toolResult.String)
	}
	m.Provider = provider.String
	return &m, nil
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c           Conversation
		title       sql.NullString
		createdAt   int64
		lastUpdated int64
	)
	if err := row.Scan(&c.ID, &title, &createdAt, &lastUpdated); err != nil {
		return nil, err
	}
	c.Title = title.String
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	c.LastUpdated = time.Unix(0, lastUpdated).UTC()
	return &c, nil
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

var _ Store = (*SQLiteStore)(nil)
