// Package session keeps a short-term rolling history: one JSONL file per
// (channel, chat), capped at a fixed entry count. No pipeline stage or
// command in this repository reads or writes it; the Responder stage sees
// only the archive-derived reply-thread and ambient windows.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lattice-run/lattice/pkg/fileutil"
)

// maxEntries is the rolling cap on a session file; Append trims the oldest
// entries once the count is exceeded.
const maxEntries = 50

// Entry is one turn recorded to a session file.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	SenderID    string    `json:"sender_id"`
	IsAssistant bool      `json:"is_assistant"`
	Text        string    `json:"text"`
}

// Store manages the on-disk sessions/<channel>_<chat>.jsonl files under dir.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open ensures dir exists and returns a Store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(channel, chatID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.jsonl", channel, chatID))
}

// Append adds one entry to the session file for (channel, chatID). Every
// call rewrites the whole file, keeping only the most recent maxEntries
// entries, through fileutil.WriteFileAtomic (temp file + rename), so a
// crash mid-write never corrupts history.
func (s *Store) Append(channel, chatID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read(channel, chatID)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}

	return s.rewrite(channel, chatID, entries)
}

// Recent returns up to limit of the most recent entries for (channel, chatID),
// oldest first.
func (s *Store) Recent(channel, chatID string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read(channel, chatID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (s *Store) read(channel, chatID string) ([]Entry, error) {
	f, err := os.Open(s.path(channel, chatID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: open: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip a malformed line rather than fail the whole read
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: scan: %w", err)
	}
	return entries, nil
}

func (s *Store) rewrite(channel, chatID string, entries []Entry) error {
	var buf []byte
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("session: marshal entry: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return fileutil.WriteFileAtomic(s.path(channel, chatID), buf, 0o600)
}
