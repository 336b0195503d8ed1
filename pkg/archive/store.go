// Package archive is the persistent inbound message store: an
// append-only-per-chat, full-text-indexed record of every accepted
// message, used to build reply-thread and ambient context windows.
package archive

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lattice-run/lattice/pkg/logger"
)

// Record is one archived message.
type Record struct {
	Channel           string
	ChatID            string
	MessageID         string
	SenderID          string
	SenderDisplayName string
	Text              string
	ReplyToMessageID  string
	Timestamp         time.Time
	Seq               int64
}

// Store is a single-writer, many-reader SQLite-backed archive.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; modernc.org/sqlite does not do this for us
}

// Open creates (if needed) and opens the archive database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one connection keeps us single-writer/reader naturally

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS archive_messages (
	channel              TEXT NOT NULL,
	chat_id              TEXT NOT NULL,
	message_id           TEXT NOT NULL,
	sender_id            TEXT,
	sender_display_name  TEXT,
	text                 TEXT,
	reply_to_message_id  TEXT,
	timestamp            INTEGER NOT NULL,
	seq                  INTEGER NOT NULL,
	PRIMARY KEY (channel, chat_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_archive_seq ON archive_messages(channel, chat_id, seq);
CREATE INDEX IF NOT EXISTS idx_archive_reply ON archive_messages(channel, chat_id, reply_to_message_id);
CREATE VIRTUAL TABLE IF NOT EXISTS archive_fts USING fts5(
	text,
	content='archive_messages',
	content_rowid='rowid'
);
`
	_, err := s.db.Exec(schema)
	return err
}

// Insert idempotently inserts msg, assigning the next seq for its
// (channel, chat_id) partition. If the (channel, chat_id, message_id)
// already exists, the existing record is returned unmodified.
func (s *Store) Insert(r Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok, err := s.lookupLocked(r.Channel, r.ChatID, r.MessageID); err != nil {
		return Record{}, err
	} else if ok {
		return existing, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Record{}, fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(
		`SELECT MAX(seq) FROM archive_messages WHERE channel = ? AND chat_id = ?`,
		r.Channel, r.ChatID,
	).Scan(&maxSeq); err != nil {
		return Record{}, fmt.Errorf("archive: seq lookup: %w", err)
	}
	r.Seq = maxSeq.Int64 + 1

	res, err := tx.Exec(
		`INSERT INTO archive_messages
			(channel, chat_id, message_id, sender_id, sender_display_name, text, reply_to_message_id, timestamp, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Channel, r.ChatID, r.MessageID, r.SenderID, r.SenderDisplayName, r.Text, r.ReplyToMessageID, r.Timestamp.UTC().Unix(), r.Seq,
	)
	if err != nil {
		return Record{}, fmt.Errorf("archive: insert: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("archive: rowid: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO archive_fts (rowid, text) VALUES (?, ?)`, rowID, r.Text,
	); err != nil {
		return Record{}, fmt.Errorf("archive: fts insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("archive: commit: %w", err)
	}
	return r, nil
}

// Lookup returns the record for (channel, chat_id, message_id), if any.
func (s *Store) Lookup(channel, chatID, messageID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(channel, chatID, messageID)
}

func (s *Store) lookupLocked(channel, chatID, messageID string) (Record, bool, error) {
	row := s.db.QueryRow(
		`SELECT channel, chat_id, message_id, sender_id, sender_display_name, text, reply_to_message_id, timestamp, seq
		 FROM archive_messages WHERE channel = ? AND chat_id = ? AND message_id = ?`,
		channel, chatID, messageID,
	)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("archive: lookup: %w", err)
	}
	return r, true, nil
}

// LookupMessagesBefore returns up to limit records with seq < the target
// message's seq, oldest first -- the ambient window.
func (s *Store) LookupMessagesBefore(channel, chatID, messageID string, limit int) ([]Record, error) {
	target, ok, err := s.Lookup(channel, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	rows, err := s.db.Query(
		`SELECT channel, chat_id, message_id, sender_id, sender_display_name, text, reply_to_message_id, timestamp, seq
		 FROM archive_messages WHERE channel = ? AND chat_id = ? AND seq < ?
		 ORDER BY seq DESC LIMIT ?`,
		channel, chatID, target.Seq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("archive: ambient query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// WalkReplyChain follows reply_to_message_id backward from startingMessageID
// up to maxDepth hops, most-recent-first, tracking visited ids so cyclic or
// self-referential chains terminate.
func (s *Store) WalkReplyChain(channel, chatID, startingMessageID string, maxDepth int) ([]Record, error) {
	var out []Record
	visited := map[string]bool{}
	current := startingMessageID

	for depth := 0; depth < maxDepth; depth++ {
		if current == "" || visited[current] {
			break
		}
		visited[current] = true

		rec, ok, err := s.Lookup(channel, chatID, current)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, rec)
		current = rec.ReplyToMessageID
	}
	return out, nil
}

// HasAnyForChat reports whether any message has ever been archived for
// (channel, chat_id), the signal NewChatNotify uses to detect a chat's
// first-ever message.
func (s *Store) HasAnyForChat(channel, chatID string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM archive_messages WHERE channel = ? AND chat_id = ?`,
		channel, chatID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("archive: has any for chat: %w", err)
	}
	return count > 0, nil
}

// DistinctChats returns the set of chat_ids for channel with at least one
// archived message since the given time.
func (s *Store) DistinctChats(channel string, since time.Time) (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT chat_id FROM archive_messages WHERE channel = ? AND timestamp >= ?`,
		channel, since.UTC().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: distinct chats: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var chatID string
		if err := rows.Scan(&chatID); err != nil {
			return nil, err
		}
		out[chatID] = true
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes archive rows older than the given duration,
// intended for the daily retention sweep.
func (s *Store) PurgeOlderThan(d time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-d).UTC().Unix()
	res, err := s.db.Exec(`DELETE FROM archive_messages WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.InfoCF("archive", "retention sweep purged rows", map[string]any{"count": n})
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (Record, error)       { return scanAny(row) }
func scanRecordRows(rows *sql.Rows) (Record, error)  { return scanAny(rows) }

func scanAny(rs rowScanner) (Record, error) {
	var r Record
	var senderID, senderName, text, replyTo sql.NullString
	var ts int64
	if err := rs.Scan(&r.Channel, &r.ChatID, &r.MessageID, &senderID, &senderName, &text, &replyTo, &ts, &r.Seq); err != nil {
		return Record{}, err
	}
	r.SenderID = senderID.String
	r.SenderDisplayName = senderName.String
	r.Text = text.String
	r.ReplyToMessageID = replyTo.String
	r.Timestamp = time.Unix(ts, 0).UTC()
	return r, nil
}
