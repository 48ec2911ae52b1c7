// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/morganforge/hackchat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrClosed is returned when using an index after Close.
	ErrClosed = errors.New("index is closed")
)

// =============================================================================
// MESSAGE INDEX
// =============================================================================

// MessageIndex is a SQLite-backed full-text index over chat messages.
type MessageIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Open opens (or creates) the index database at path.
func Open(path string) (*MessageIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &MessageIndex{db: db}, nil
}

// Close closes the index and releases resources.
func (idx *MessageIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return nil
	}
	idx.closed = true
	return idx.db.Close()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// IndexChat upserts a chat and replaces its indexed messages. Called
// after any persisted mutation; replacing wholesale keeps the index
// consistent through edits, truncations, and deletions without diffing.
func (idx *MessageIndex) IndexChat(chat *model.Chat) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrClosed
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var rowID int64
	err = tx.QueryRow("SELECT id FROM chats WHERE chat_id = ?", chat.ID).Scan(&rowID)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(
			"INSERT INTO chats (chat_id, name, archived) VALUES (?, ?, ?)",
			chat.ID, chat.Name, boolToInt(chat.Archived))
		if err != nil {
			return err
		}
		rowID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if _, err := tx.Exec(
			"UPDATE chats SET name = ?, archived = ? WHERE id = ?",
			chat.Name, boolToInt(chat.Archived), rowID); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM messages WHERE chat_id = ?", rowID); err != nil {
			return err
		}
	}

	stmt, err := tx.Prepare(
		"INSERT INTO messages (message_id, chat_id, role, content, ts) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range chat.SortedMessages() {
		if m.Content == "" {
			continue
		}
		if _, err := stmt.Exec(m.ID, rowID, m.Role.String(), m.Content, m.Timestamp.Unix()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RemoveChat drops a chat and its messages from the index.
func (idx *MessageIndex) RemoveChat(chatID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		return ErrClosed
	}
	_, err := idx.db.Exec("DELETE FROM chats WHERE chat_id = ?", chatID)
	return err
}

// Rebuild drops all indexed data and re-indexes the given chats.
func (idx *MessageIndex) Rebuild(chats []*model.Chat) error {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return ErrClosed
	}
	_, err := idx.db.Exec("DELETE FROM chats")
	idx.mu.Unlock()
	if err != nil {
		return err
	}

	for _, chat := range chats {
		if err := idx.IndexChat(chat); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SEARCH
// =============================================================================

// SearchResult is one matching message with its chat context.
type SearchResult struct {
	ChatID    string
	ChatName  string
	MessageID string
	Role      string
	Snippet   string
	Rank      float64
}

// SearchOptions configures search behavior.
type SearchOptions struct {
	// MaxResults limits the number of results (0 uses the default).
	MaxResults int

	// IncludeArchived includes messages from archived chats.
	IncludeArchived bool
}

// DefaultSearchOptions returns default search options.
func DefaultSearchOptions() *SearchOptions {
	return &SearchOptions{
		MaxResults:      50,
		IncludeArchived: true,
	}
}

// Search finds messages matching the query, best match first.
func (idx *MessageIndex) Search(query string, options *SearchOptions) ([]SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return nil, ErrClosed
	}
	if options == nil {
		options = DefaultSearchOptions()
	}

	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return []SearchResult{}, nil
	}

	sqlQuery := `
		SELECT
			c.chat_id, c.name, m.message_id, m.role,
			snippet(messages_fts, 0, '[', ']', '...', 12),
			fts.rank
		FROM messages_fts fts
		JOIN messages m ON m.id = fts.rowid
		JOIN chats c ON c.id = m.chat_id
		WHERE messages_fts MATCH ?`
	args := []interface{}{ftsQuery}

	if !options.IncludeArchived {
		sqlQuery += " AND c.archived = 0"
	}
	sqlQuery += " ORDER BY fts.rank"

	limit := options.MaxResults
	if limit <= 0 {
		limit = 50
	}
	sqlQuery += " LIMIT ?"
	args = append(args, limit)

	rows, err := idx.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChatID, &r.ChatName, &r.MessageID, &r.Role, &r.Snippet, &r.Rank); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// buildFTSQuery quotes each term so user input cannot inject FTS5
// operators.
func buildFTSQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
