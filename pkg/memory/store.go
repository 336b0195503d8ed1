package memory

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed long-term memory store: memory_entries (full
// text + optional vector per row), memory_kv scratch space, and
// idea_backlog_items for captured ideas/todos.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates (if needed) and opens the memory database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id               TEXT PRIMARY KEY,
	scope            TEXT NOT NULL,
	scope_key        TEXT NOT NULL,
	kind             TEXT NOT NULL,
	text             TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	salience         REAL NOT NULL,
	embedding        BLOB,
	source_channel   TEXT,
	source_chat      TEXT,
	source_message_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory_entries(scope, scope_key);
CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
	text, content='memory_entries', content_rowid='rowid'
);
CREATE TABLE IF NOT EXISTS memory_kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS idea_backlog_items (
	id         TEXT PRIMARY KEY,
	chat       TEXT NOT NULL,
	text       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

// Insert persists a new memory entry, assigning an id if unset.
func (s *Store) Insert(e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO memory_entries
			(id, scope, scope_key, kind, text, created_at, salience, embedding, source_channel, source_chat, source_message_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Scope, e.ScopeKey, e.Kind, e.Text, e.CreatedAt.Unix(), e.Salience,
		encodeEmbedding(e.Embedding), e.SourceChannel, e.SourceChat, e.SourceMessageID,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("memory: insert: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return Entry{}, err
	}
	if _, err := tx.Exec(`INSERT INTO memory_fts (rowid, text) VALUES (?, ?)`, rowID, e.Text); err != nil {
		return Entry{}, fmt.Errorf("memory: fts insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// SetEmbedding backfills the embedding for an existing entry once computed
// asynchronously.
func (s *Store) SetEmbedding(id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE memory_entries SET embedding = ? WHERE id = ?`, encodeEmbedding(embedding), id)
	return err
}

// LexicalCandidates runs the FTS5 match query and returns candidate entries
// with a normalized BM25-equivalent score in [0,1].
func (s *Store) LexicalCandidates(query string, limit int) ([]Scored, error) {
	if query == "" {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT e.id, e.scope, e.scope_key, e.kind, e.text, e.created_at, e.salience, e.embedding,
		        e.source_channel, e.source_chat, e.source_message_id, bm25(memory_fts) AS rank
		 FROM memory_fts
		 JOIN memory_entries e ON e.rowid = memory_fts.rowid
		 WHERE memory_fts MATCH ?
		 ORDER BY rank LIMIT ?`,
		ftsQuery(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: lexical query: %w", err)
	}
	defer rows.Close()

	var out []Scored
	var worst, best float64 = math.Inf(-1), math.Inf(1)
	type raw struct {
		e    Entry
		rank float64
	}
	var all []raw
	for rows.Next() {
		var e Entry
		var createdAt int64
		var embedding []byte
		var rank float64
		if err := rows.Scan(&e.ID, &e.Scope, &e.ScopeKey, &e.Kind, &e.Text, &createdAt, &e.Salience, &embedding,
			&e.SourceChannel, &e.SourceChat, &e.SourceMessageID, &rank); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		e.Embedding = decodeEmbedding(embedding)
		all = append(all, raw{e: e, rank: rank})
		if rank > worst {
			worst = rank
		}
		if rank < best {
			best = rank
		}
	}
	// bm25() in SQLite returns lower-is-better; invert and normalize to [0,1].
	spread := worst - best
	for _, r := range all {
		score := 1.0
		if spread > 0 {
			score = 1.0 - (r.rank-best)/spread
		}
		out = append(out, Scored{Entry: r.e, Score: score})
	}
	return out, rows.Err()
}

// AllForVectorScan returns every entry with a non-nil embedding, scoped to
// the caller's chat/user/global visibility, for brute-force cosine scoring.
// A brute-force scan is appropriate at this store's expected scale; no
// ANN index is introduced.
func (s *Store) AllForVectorScan(scopeKeys map[Scope]string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, scope, scope_key, kind, text, created_at, salience, embedding,
		       source_channel, source_chat, source_message_id
		FROM memory_entries WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		var embedding []byte
		if err := rows.Scan(&e.ID, &e.Scope, &e.ScopeKey, &e.Kind, &e.Text, &createdAt, &e.Salience, &embedding,
			&e.SourceChannel, &e.SourceChat, &e.SourceMessageID); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		e.Embedding = decodeEmbedding(embedding)
		if !inScope(e, scopeKeys) {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func inScope(e Entry, scopeKeys map[Scope]string) bool {
	if e.Scope == ScopeGlobal {
		return true
	}
	want, ok := scopeKeys[e.Scope]
	return ok && want == e.ScopeKey
}

// InsertIdea records a captured idea/backlog item.
func (s *Store) InsertIdea(chat, text, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO idea_backlog_items (id, chat, text, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), chat, text, kind, time.Now().UTC().Unix(),
	)
	return err
}

// KVSet/KVGet back memory_kv, a small scratch space for extractor state.
func (s *Store) KVSet(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO memory_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) KVGet(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM memory_kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	binary.Read(bytes.NewReader(b), binary.LittleEndian, &v)
	return v
}

// ftsQuery quotes the raw query as a single FTS5 phrase so punctuation in
// user text cannot be interpreted as FTS query syntax.
func ftsQuery(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}
