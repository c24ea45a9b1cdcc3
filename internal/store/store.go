package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn holds the statements shared by the store and its transactions.
// Queries are written with '?' placeholders and rebound for postgres.
type conn struct {
	q      querier
	driver string
}

type SQLStore struct {
	conn
	db *sql.DB
}

// Tx is a store bound to one database transaction.
type Tx struct {
	conn
}

func Open(driver, dataSourceName string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// A single connection serializes writers so sqlite never reports a busy database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLStore{conn: conn{q: db, driver: driver}, db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func NewSQLiteStore(dataSourceName string) (*SQLStore, error) {
	return Open(DriverSQLite, dataSourceName)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB exposes the pool for components that keep their own tables in the same
// database, such as the pgvector index.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Driver() string {
	return s.driver
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{conn: conn{q: sqlTx, driver: s.driver}}

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			log.WithError(rbErr).Warn("Failed to roll back transaction")
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) initSchema() error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_user_id TEXT UNIQUE NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY, -- UUID
    user_id INTEGER NOT NULL,
    title TEXT,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id)
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY, -- UUID
    chat_id TEXT NOT NULL,
    turn_index INTEGER NOT NULL,
    sender TEXT NOT NULL CHECK (sender IN ('user', 'model')),
    content TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    UNIQUE (chat_id, turn_index),
    FOREIGN KEY (chat_id) REFERENCES chats (id)
);

CREATE TABLE IF NOT EXISTS journal_entries (
    id TEXT PRIMARY KEY, -- UUID
    user_id INTEGER NOT NULL,
    content TEXT NOT NULL,
    ai_feedback TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users (id)
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_user ON journal_entries (user_id, created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    external_user_id TEXT UNIQUE NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users (id),
    title TEXT,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL REFERENCES chats (id),
    turn_index INTEGER NOT NULL,
    sender TEXT NOT NULL CHECK (sender IN ('user', 'model')),
    content TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    UNIQUE (chat_id, turn_index)
);

CREATE TABLE IF NOT EXISTS journal_entries (
    id TEXT PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users (id),
    content TEXT NOT NULL,
    ai_feedback TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_user ON journal_entries (user_id, created_at);
`

// rebind rewrites '?' placeholders into $n for postgres.
func (c conn) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

func now() time.Time {
	return time.Now().UTC()
}

// User methods

// GetOrCreateUser returns the user row for an identity-provider id,
// provisioning it on first sight.
func (c conn) GetOrCreateUser(ctx context.Context, externalUserID string) (*User, error) {
	_, err := c.exec(ctx, "INSERT INTO users (external_user_id, created_at) VALUES (?, ?) ON CONFLICT (external_user_id) DO NOTHING", externalUserID, now())
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	var user User
	err = c.queryRow(ctx, "SELECT id, external_user_id, created_at FROM users WHERE external_user_id = ?", externalUserID).
		Scan(&user.ID, &user.ExternalUserID, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Chat methods

func (c conn) CreateChat(ctx context.Context, userID int64, title *string) (*Chat, error) {
	chat := &Chat{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: now()}
	_, err := c.exec(ctx, "INSERT INTO chats (id, user_id, title, created_at) VALUES (?, ?, ?, ?)", chat.ID, chat.UserID, chat.Title, chat.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return chat, nil
}

// GetChatByID returns nil, nil when the chat does not exist. Ownership is the
// caller's decision.
func (c conn) GetChatByID(ctx context.Context, chatID string) (*Chat, error) {
	var chat Chat
	var title sql.NullString
	err := c.queryRow(ctx, "SELECT id, user_id, title, created_at FROM chats WHERE id = ?", chatID).
		Scan(&chat.ID, &chat.UserID, &title, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	if title.Valid {
		chat.Title = &title.String
	}
	return &chat, nil
}

func (c conn) GetChatsByUserID(ctx context.Context, userID int64) ([]Chat, error) {
	rows, err := c.query(ctx, "SELECT id, user_id, title, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var chat Chat
		var title sql.NullString
		if err := rows.Scan(&chat.ID, &chat.UserID, &title, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if title.Valid {
			chat.Title = &title.String
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// UpdateChatTitle sets the title of a chat that has none yet. It reports
// false when the chat is missing, owned by someone else or already titled.
func (c conn) UpdateChatTitle(ctx context.Context, chatID string, userID int64, title string) (bool, error) {
	res, err := c.exec(ctx, "UPDATE chats SET title = ? WHERE id = ? AND user_id = ? AND (title IS NULL OR title = '')", title, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to execute chat title update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read chat title update result: %w", err)
	}
	return affected > 0, nil
}

// Message methods

// GetMessagesByChatID returns the full transcript in turn order.
func (c conn) GetMessagesByChatID(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := c.query(ctx, "SELECT id, chat_id, turn_index, sender, content, timestamp FROM messages WHERE chat_id = ? ORDER BY turn_index ASC", chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.TurnIndex, &msg.Sender, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AppendTurnPair writes a user turn and the model reply after the last turn
// of the chat. Run it inside WithTx so both rows land or neither does; a
// concurrent writer that claimed the same turn index fails on the unique key.
func (c conn) AppendTurnPair(ctx context.Context, chatID, userContent, modelContent string) ([]Message, error) {
	var next int
	err := c.queryRow(ctx, "SELECT COALESCE(MAX(turn_index) + 1, 0) FROM messages WHERE chat_id = ?", chatID).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to read next turn index: %w", err)
	}

	ts := now()
	pair := []Message{
		{ID: uuid.NewString(), ChatID: chatID, TurnIndex: next, Sender: SenderUser, Content: userContent, Timestamp: ts},
		{ID: uuid.NewString(), ChatID: chatID, TurnIndex: next + 1, Sender: SenderModel, Content: modelContent, Timestamp: ts},
	}
	for _, msg := range pair {
		_, err := c.exec(ctx, "INSERT INTO messages (id, chat_id, turn_index, sender, content, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
			msg.ID, msg.ChatID, msg.TurnIndex, msg.Sender, msg.Content, msg.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to execute message insert: %w", err)
		}
	}
	return pair, nil
}
