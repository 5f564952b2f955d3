package repository

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
	"unicode"

	_ "modernc.org/sqlite"

	"church-assistant/internal/domain"
)

// SQLiteStore keeps conversations, rate windows and the knowledge base in a
// single SQLite file. Knowledge search goes through an FTS5 index.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens or creates the database at dbPath and applies the
// schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("repository: open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: migrate: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS rate_windows (
		identifier    TEXT PRIMARY KEY,
		window_start  TEXT NOT NULL,
		request_count INTEGER NOT NULL,
		expires_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS knowledge (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		content     TEXT NOT NULL,
		tags        TEXT NOT NULL DEFAULT '[]',
		category    TEXT NOT NULL DEFAULT '',
		entry_type  TEXT NOT NULL DEFAULT '',
		priority    INTEGER NOT NULL DEFAULT 0
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
		title,
		content,
		tags,
		content=knowledge,
		content_rowid=rowid,
		tokenize='unicode61 remove_diacritics 2'
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers keep the external-content index in sync.
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS knowledge_ai AFTER INSERT ON knowledge BEGIN
			INSERT INTO knowledge_fts(rowid, title, content, tags) VALUES (new.rowid, new.title, new.content, new.tags);
		END`,
		`CREATE TRIGGER IF NOT EXISTS knowledge_ad AFTER DELETE ON knowledge BEGIN
			INSERT INTO knowledge_fts(knowledge_fts, rowid, title, content, tags) VALUES ('delete', old.rowid, old.title, old.content, old.tags);
		END`,
		`CREATE TRIGGER IF NOT EXISTS knowledge_au AFTER UPDATE ON knowledge BEGIN
			INSERT INTO knowledge_fts(knowledge_fts, rowid, title, content, tags) VALUES ('delete', old.rowid, old.title, old.content, old.tags);
			INSERT INTO knowledge_fts(rowid, title, content, tags) VALUES (new.rowid, new.title, new.content, new.tags);
		END`,
	}
	for _, stmt := range triggers {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversations and messages
// ---------------------------------------------------------------------------

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.ID == "" {
		return errors.New("repository: CreateConversation: id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, session_id, created_at) VALUES (?, ?, ?)`,
		conv.ID, conv.SessionID, formatTime(conv.CreatedAt))
	if err != nil {
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	var sessionID, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&sessionID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, false, nil
	}
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation: %w", err)
	}
	ts, _ := time.Parse(timeLayout, createdAt)
	return domain.Conversation{ID: id, SessionID: sessionID, CreatedAt: ts}, true, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return errors.New("repository: AppendMessage: message and conversation ids are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// ListMessages returns the conversation's messages oldest first. With
// limit > 0 only the newest limit messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	query := `SELECT id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`
	args := []any{conversationID}
	if limit > 0 {
		query = `SELECT id, role, content, created_at FROM (
			SELECT id, role, content, created_at, rowid AS seq FROM messages
			WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at ASC, seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var id, role, content, createdAt string
		if err := rows.Scan(&id, &role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("repository: ListMessages scan: %w", err)
		}
		if !domain.Role(role).Valid() {
			return nil, fmt.Errorf("repository: ListMessages: unknown role %q", role)
		}
		ts, _ := time.Parse(timeLayout, createdAt)
		msgs = append(msgs, domain.Message{
			ID:             id,
			ConversationID: conversationID,
			Role:           domain.Role(role),
			Content:        content,
			CreatedAt:      ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListMessages: %w", err)
	}
	return msgs, nil
}

// ---------------------------------------------------------------------------
// Rate windows
// ---------------------------------------------------------------------------

// GetWindow returns the identifier's window. Rows past their expiry are
// reported as missing.
func (s *SQLiteStore) GetWindow(ctx context.Context, identifier string) (domain.RateWindow, bool, error) {
	var start, expires string
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT window_start, request_count, expires_at FROM rate_windows WHERE identifier = ?`, identifier,
	).Scan(&start, &count, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RateWindow{}, false, nil
	}
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetWindow: %w", err)
	}

	if exp, err := time.Parse(timeLayout, expires); err == nil && !s.now().Before(exp) {
		return domain.RateWindow{}, false, nil
	}
	ts, err := time.Parse(timeLayout, start)
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetWindow decode window_start: %w", err)
	}
	return domain.RateWindow{Identifier: identifier, WindowStart: ts, RequestCount: count}, true, nil
}

// PutWindow upserts the identifier's window and drops rows that have expired.
func (s *SQLiteStore) PutWindow(ctx context.Context, w domain.RateWindow, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: PutWindow begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_windows WHERE expires_at <= ?`, formatTime(s.now()),
	); err != nil {
		return fmt.Errorf("repository: PutWindow purge: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rate_windows (identifier, window_start, request_count, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			window_start = excluded.window_start,
			request_count = excluded.request_count,
			expires_at = excluded.expires_at`,
		w.Identifier, formatTime(w.WindowStart), w.RequestCount, formatTime(w.WindowStart.Add(ttl)),
	); err != nil {
		return fmt.Errorf("repository: PutWindow: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: PutWindow commit: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Knowledge entries
// ---------------------------------------------------------------------------

// SearchKnowledge returns up to limit entries whose title, content or tags
// share a word with query, best FTS match first. A query without words
// falls back to the first entries in insertion order.
func (s *SQLiteStore) SearchKnowledge(ctx context.Context, query string, limit int) ([]domain.KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 5
	}

	const cols = `k.id, k.title, k.content, k.tags, k.category, k.entry_type, k.priority`
	var (
		rows *sql.Rows
		err  error
	)
	if match := ftsQuery(query); match != "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+cols+`
			FROM knowledge_fts JOIN knowledge k ON k.rowid = knowledge_fts.rowid
			WHERE knowledge_fts MATCH ?
			ORDER BY knowledge_fts.rank, k.rowid
			LIMIT ?`, match, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+cols+` FROM knowledge k ORDER BY k.rowid LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: SearchKnowledge: %w", err)
	}
	defer rows.Close()

	var entries []domain.KnowledgeEntry
	for rows.Next() {
		var e domain.KnowledgeEntry
		var tags string
		if err := rows.Scan(&e.ID, &e.Title, &e.Content, &tags, &e.Category, &e.EntryType, &e.Priority); err != nil {
			return nil, fmt.Errorf("repository: SearchKnowledge scan: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, fmt.Errorf("repository: SearchKnowledge decode tags: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: SearchKnowledge: %w", err)
	}
	return entries, nil
}

// CountKnowledge returns the number of stored knowledge entries.
func (s *SQLiteStore) CountKnowledge(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge`).Scan(&n); err != nil {
		return 0, fmt.Errorf("repository: CountKnowledge: %w", err)
	}
	return n, nil
}

// PutKnowledge upserts entries by id in one transaction.
func (s *SQLiteStore) PutKnowledge(ctx context.Context, entries []domain.KnowledgeEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: PutKnowledge begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("repository: PutKnowledge: entry %q has no id", e.Title)
		}
		tags := e.Tags
		if tags == nil {
			tags = []string{}
		}
		tagJSON, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("repository: PutKnowledge encode tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge (id, title, content, tags, category, entry_type, priority)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				content = excluded.content,
				tags = excluded.tags,
				category = excluded.category,
				entry_type = excluded.entry_type,
				priority = excluded.priority`,
			e.ID, e.Title, e.Content, string(tagJSON), e.Category, e.EntryType, e.Priority,
		); err != nil {
			return fmt.Errorf("repository: PutKnowledge %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: PutKnowledge commit: %w", err)
	}
	return nil
}

// ftsQuery turns free text into an OR of quoted FTS5 terms. Words without a
// letter or digit are dropped.
func ftsQuery(text string) string {
	seen := make(map[string]bool)
	var terms []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if seen[word] || !strings.ContainsFunc(word, isWordRune) {
			continue
		}
		seen[word] = true
		terms = append(terms, `"`+strings.ReplaceAll(word, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
