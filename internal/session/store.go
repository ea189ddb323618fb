// Package session persists the mapping from conversation key to the last
// codex session handle seen for it, so conversations survive restarts.
package session

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	storeDirMode     = 0o700
	storeFileMode    = 0o600
	tempFilePattern  = ".sessions-*.json.tmp"
	fieldSessionID   = "session_id"
	fieldLastActive  = "last_active_at"
	nanosPerSecond   = float64(time.Second)
	defaultStoreName = "sessions.json"
)

// Record is the persisted state for one conversation.
type Record struct {
	SessionID    string
	LastActiveAt time.Time
}

// Active reports whether the record is still within ttl at now. The boundary
// is inclusive: a record exactly ttl old is still active.
func (r Record) Active(now time.Time, ttl time.Duration) bool {
	return r.SessionID != "" && now.Sub(r.LastActiveAt) <= ttl
}

// Entry pairs a conversation key with its record, used for listings.
type Entry struct {
	Key string
	Record
}

// Store is a whole-document JSON session store. Reads are served from memory;
// every mutation rewrites the full document atomically.
type Store struct {
	path   string
	now    func() time.Time
	logger *zap.Logger

	mu      sync.RWMutex
	records map[string]Record
}

// StoreOpts holds parameters for opening a Store.
type StoreOpts struct {
	Path   string           // document location; defaults to sessions.json
	Now    func() time.Time // defaults to time.Now
	Logger *zap.Logger      // defaults to a no-op logger
}

// Open loads the document at opts.Path once. A missing, unreadable or
// malformed document yields an empty store; malformed entries are skipped.
func Open(opts StoreOpts) *Store {
	path := opts.Path
	if path == "" {
		path = defaultStoreName
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		path:    path,
		now:     now,
		logger:  logger,
		records: make(map[string]Record),
	}
	s.load()
	return s
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("session: read store, starting empty", zap.String("path", s.path), zap.Error(err))
		}
		return
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		s.logger.Warn("session: store is not a JSON object, starting empty", zap.String("path", s.path))
		return
	}

	skipped := 0
	for key, raw := range doc {
		rec, ok := decodeRecord(raw)
		if !ok {
			skipped++
			continue
		}
		s.records[key] = rec
	}
	s.logger.Info("session: store loaded",
		zap.String("path", s.path),
		zap.Int("records", len(s.records)),
		zap.Int("skipped", skipped))
}

// decodeRecord accepts an entry only if it is an object with a string
// session_id and a numeric last_active_at.
func decodeRecord(raw json.RawMessage) (Record, bool) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Record{}, false
	}
	id, ok := fields[fieldSessionID].(string)
	if !ok {
		return Record{}, false
	}
	ts, ok := fields[fieldLastActive].(float64)
	if !ok || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return Record{}, false
	}
	return Record{SessionID: id, LastActiveAt: fromUnixSeconds(ts)}, true
}

// Resolve returns the session handle for key if a record exists and is no
// older than ttl. Stale records are ignored but kept.
func (s *Store) Resolve(key string, ttl time.Duration) (string, bool) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if !ok || !rec.Active(s.now(), ttl) {
		return "", false
	}
	return rec.SessionID, true
}

// Get returns the raw record for key regardless of age.
func (s *Store) Get(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Update upserts key with sessionID stamped at the current time and persists
// the whole store. Write errors are returned to the caller.
func (s *Store) Update(key, sessionID string) error {
	if key == "" {
		return fmt.Errorf("session: update: empty conversation key")
	}
	if sessionID == "" {
		return fmt.Errorf("session: update %s: empty session id", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.records[key]
	s.records[key] = Record{SessionID: sessionID, LastActiveAt: s.now()}
	if err := s.writeLocked(); err != nil {
		if hadPrev {
			s.records[key] = prev
		} else {
			delete(s.records, key)
		}
		return err
	}
	return nil
}

// Entries returns a snapshot of every record sorted by key.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.records))
	for key, rec := range s.records {
		entries = append(entries, Entry{Key: key, Record: rec})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Len returns the number of records, including stale ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// writeLocked replaces the document with the in-memory state via a temp file
// and rename in the same directory. Callers must hold s.mu.
func (s *Store) writeLocked() error {
	doc := make(map[string]map[string]any, len(s.records))
	for key, rec := range s.records {
		doc[key] = map[string]any{
			fieldSessionID:  rec.SessionID,
			fieldLastActive: toUnixSeconds(rec.LastActiveAt),
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, storeDirMode); err != nil {
		return fmt.Errorf("session: create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("session: create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: write temp store file: %w", err)
	}
	if err := tmp.Chmod(storeFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session: chmod temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("session: replace store file: %w", err)
	}
	cleanup = false
	return nil
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / nanosPerSecond
}

func fromUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*nanosPerSecond))
}
