package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HistoryStore persists chat sessions and summaries on disk.
//
// Layout:
//
//	<root>/sessions/<id>.json
//	<root>/summaries/<id>.json
//	<root>/index.json
//	<root>/summary_index.json
//	<root>/last
//
// Record files are the source of truth; the two index files are listing
// caches rebuilt from records when missing or unreadable. All writes go
// through a temp file renamed into place, so readers never observe a
// half-written record.
type HistoryStore struct {
	root string
	log  *Logger

	// mu serializes mutating operations so save/delete for one id are
	// strictly ordered and no reader observes a record without its index
	// entry.
	mu sync.Mutex
}

// DefaultHistoryRoot prefers the XDG data dir, then ~/.local/share, then tmp.
func DefaultHistoryRoot() string {
	if base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); base != "" {
		return filepath.Join(base, "chathist", "storage")
	}
	if base, err := os.UserHomeDir(); err == nil && base != "" {
		return filepath.Join(base, ".local", "share", "chathist", "storage")
	}
	return filepath.Join(os.TempDir(), "chathist", "storage")
}

// NewHistoryStore opens (creating if needed) the store at root and runs the
// expiration sweep once. expirationDays <= 0 disables the sweep.
func NewHistoryStore(root string, expirationDays int, logger *Logger) (*HistoryStore, error) {
	if strings.TrimSpace(root) == "" {
		root = DefaultHistoryRoot()
	}
	if logger == nil {
		logger = NewLogger(nil)
	}
	s := &HistoryStore{root: root, log: logger}
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.summariesDir(), 0o755); err != nil {
		return nil, err
	}
	s.Expire(expirationDays)
	return s, nil
}

// Location returns the store root path, for external tooling.
func (s *HistoryStore) Location() string { return s.root }

func (s *HistoryStore) sessionsDir() string  { return filepath.Join(s.root, "sessions") }
func (s *HistoryStore) summariesDir() string { return filepath.Join(s.root, "summaries") }

func (s *HistoryStore) sessionPath(id string) string {
	return filepath.Join(s.sessionsDir(), id+".json")
}

func (s *HistoryStore) summaryPath(id string) string {
	return filepath.Join(s.summariesDir(), id+".json")
}

func (s *HistoryStore) indexPath() string        { return filepath.Join(s.root, "index.json") }
func (s *HistoryStore) summaryIndexPath() string { return filepath.Join(s.root, "summary_index.json") }
func (s *HistoryStore) lastPath() string         { return filepath.Join(s.root, "last") }

// writeJSONAtomic writes v next to path and renames it into place, so a
// failure partway leaves the previous file intact.
func (s *HistoryStore) writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp_*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save inserts or overwrites the session by id, assigning a timestamp id when
// absent, and refreshes updated_at plus the index entry. Idempotent.
func (s *HistoryStore) Save(sess *Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(sess.ID) == "" {
		sess.ID = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	sess.normalize()
	sess.UpdatedAt = time.Now().Unix()

	if err := s.writeJSONAtomic(s.sessionPath(sess.ID), sess); err != nil {
		return err
	}
	return s.updateChatIndex(func(idx map[string]ChatIndexEntry) {
		idx[sess.ID] = ChatIndexEntry{
			ID:         sess.ID,
			Title:      sess.Title,
			UpdatedAt:  sess.UpdatedAt,
			HasSummary: s.sessionHasSummary(sess.ID),
		}
	})
}

// Load returns the session with the given id, or (nil, nil) when unknown.
func (s *HistoryStore) Load(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session record %s: %w", id, err)
	}
	sess.normalize()
	return &sess, nil
}

// Delete removes the session record and its index entry. Deleting an absent
// id is not an error; the bool reports whether anything was removed. The
// session's summary, if any, is left alone.
func (s *HistoryStore) Delete(id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *HistoryStore) deleteLocked(id string) (bool, error) {
	removed := true
	if err := os.Remove(s.sessionPath(id)); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
		removed = false
	}
	err := s.updateChatIndex(func(idx map[string]ChatIndexEntry) {
		delete(idx, id)
	})
	if last, lerr := os.ReadFile(s.lastPath()); lerr == nil && strings.TrimSpace(string(last)) == id {
		_ = os.Remove(s.lastPath())
	}
	return removed, err
}

// Update applies mutate to the stored session and persists the result as one
// locked operation. Returns false when the id is unknown; a delete landing
// before the update wins, the mutation never recreates the record.
func (s *HistoryStore) Update(id string, mutate func(*Session)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Load(id)
	if err != nil {
		return false, err
	}
	if sess == nil {
		return false, nil
	}
	mutate(sess)
	sess.normalize()
	sess.UpdatedAt = time.Now().Unix()
	if err := s.writeJSONAtomic(s.sessionPath(sess.ID), sess); err != nil {
		return false, err
	}
	err = s.updateChatIndex(func(idx map[string]ChatIndexEntry) {
		idx[sess.ID] = ChatIndexEntry{
			ID:         sess.ID,
			Title:      sess.Title,
			UpdatedAt:  sess.UpdatedAt,
			HasSummary: s.sessionHasSummary(sess.ID),
		}
	})
	return err == nil, err
}

// Rename updates the title in the record and the index. Returns false when
// the id is unknown.
func (s *HistoryStore) Rename(id, newTitle string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Load(id)
	if err != nil {
		return false, err
	}
	if sess == nil {
		return false, nil
	}
	sess.Title = newTitle
	if err := s.writeJSONAtomic(s.sessionPath(sess.ID), sess); err != nil {
		return false, err
	}
	err = s.updateChatIndex(func(idx map[string]ChatIndexEntry) {
		entry := idx[sess.ID]
		entry.ID = sess.ID
		entry.Title = newTitle
		if entry.UpdatedAt == 0 {
			entry.UpdatedAt = sess.UpdatedAt
		}
		entry.HasSummary = s.sessionHasSummary(sess.ID)
		idx[sess.ID] = entry
	})
	return err == nil, err
}

// Duplicate deep-copies the session under a fresh id with the given title,
// dropping any summary linkage. Returns "" when the source id is unknown.
func (s *HistoryStore) Duplicate(id, newTitle string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.Load(id)
	if err != nil {
		return "", err
	}
	if src == nil {
		return "", nil
	}

	dup := *src
	dup.ID = uuid.NewString()
	dup.Title = newTitle
	dup.TitleRefreshCount = 0
	dup.UpdatedAt = time.Now().Unix()
	dup.Messages = append([]Message(nil), src.Messages...)
	dup.ContextItems = append([]ContextItem(nil), src.ContextItems...)
	if src.Settings != nil {
		dup.Settings = make(map[string]any, len(src.Settings))
		for k, v := range src.Settings {
			dup.Settings[k] = v
		}
	}

	if err := s.writeJSONAtomic(s.sessionPath(dup.ID), &dup); err != nil {
		return "", err
	}
	err = s.updateChatIndex(func(idx map[string]ChatIndexEntry) {
		idx[dup.ID] = ChatIndexEntry{
			ID:        dup.ID,
			Title:     dup.Title,
			UpdatedAt: dup.UpdatedAt,
			// The copy never inherits the source's summary.
			HasSummary: false,
		}
	})
	if err != nil {
		return "", err
	}
	return dup.ID, nil
}

// List returns chat index entries sorted by updated_at descending. The
// filter, when given, is applied before sorting. Corrupt records are skipped
// during index rebuild, with a logged warning.
func (s *HistoryStore) List(filter func(ChatIndexEntry) bool) []ChatIndexEntry {
	idx := s.readChatIndex()
	out := make([]ChatIndexEntry, 0, len(idx))
	for _, entry := range idx {
		if filter != nil && !filter(entry) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt == out[j].UpdatedAt {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out
}

// ListSummaries returns summary index entries sorted by generated_at descending.
func (s *HistoryStore) ListSummaries() []SummaryIndexEntry {
	idx := s.readSummaryIndex()
	out := make([]SummaryIndexEntry, 0, len(idx))
	for _, entry := range idx {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GeneratedAt == out[j].GeneratedAt {
			return out[i].ID > out[j].ID
		}
		return out[i].GeneratedAt > out[j].GeneratedAt
	})
	return out
}

// SaveSummary persists the summary and flips the source session's
// has_summary flag in the chat index.
func (s *HistoryStore) SaveSummary(sum *Summary) error {
	if sum == nil {
		return errors.New("nil summary")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(sum.ID) == "" {
		sum.ID = uuid.NewString()
	}
	if sum.GeneratedAt == 0 {
		sum.GeneratedAt = time.Now().Unix()
	}
	if err := s.writeJSONAtomic(s.summaryPath(sum.ID), sum); err != nil {
		return err
	}
	if err := s.updateSummaryIndex(func(idx map[string]SummaryIndexEntry) {
		idx[sum.ID] = SummaryIndexEntry{
			ID:          sum.ID,
			SessionID:   sum.SessionID,
			ChatTitle:   sum.ChatTitle,
			GeneratedAt: sum.GeneratedAt,
		}
	}); err != nil {
		return err
	}
	return s.updateChatIndex(func(idx map[string]ChatIndexEntry) {
		if entry, ok := idx[sum.SessionID]; ok {
			entry.HasSummary = true
			idx[sum.SessionID] = entry
		}
	})
}

// LoadSummary returns the summary with the given id, or (nil, nil) when unknown.
func (s *HistoryStore) LoadSummary(id string) (*Summary, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.summaryPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("corrupt summary record %s: %w", id, err)
	}
	return &sum, nil
}

// DeleteSummary removes the summary record and clears has_summary on the
// source session. The session itself is untouched.
func (s *HistoryStore) DeleteSummary(id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID := ""
	if entry, ok := s.readSummaryIndex()[id]; ok {
		sessionID = entry.SessionID
	}

	removed := true
	if err := os.Remove(s.summaryPath(id)); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
		removed = false
	}
	if err := s.updateSummaryIndex(func(idx map[string]SummaryIndexEntry) {
		delete(idx, id)
	}); err != nil {
		return removed, err
	}
	if sessionID != "" {
		err := s.updateChatIndex(func(idx map[string]ChatIndexEntry) {
			if entry, ok := idx[sessionID]; ok {
				entry.HasSummary = s.sessionHasSummary(sessionID)
				idx[sessionID] = entry
			}
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Expire deletes every session whose updated_at is older than now minus the
// threshold, without confirmation. days <= 0 disables the sweep.
func (s *HistoryStore) Expire(days int) {
	if days <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.readChatIndex() {
		if entry.UpdatedAt >= cutoff {
			continue
		}
		if _, err := s.deleteLocked(entry.ID); err != nil {
			s.log.Warn("expire: failed to delete session", map[string]interface{}{
				"id": entry.ID, "error": err.Error(),
			})
		}
	}
}

// SetLast records the most recently active session for continue-last-session.
func (s *HistoryStore) SetLast(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		if err := os.Remove(s.lastPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.WriteFile(s.lastPath(), []byte(id), 0o644)
}

// Last returns the recorded last-active session id, or "".
func (s *HistoryStore) Last() string {
	data, err := os.ReadFile(s.lastPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// --- index plumbing (callers hold mu for writes) ---

func (s *HistoryStore) readChatIndex() map[string]ChatIndexEntry {
	idx := make(map[string]ChatIndexEntry)
	data, err := os.ReadFile(s.indexPath())
	if err == nil && json.Unmarshal(data, &idx) == nil {
		return idx
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("chat index unreadable, rebuilding", map[string]interface{}{"error": err.Error()})
	}
	return s.rebuildChatIndex()
}

// rebuildChatIndex scans the sessions dir. Corrupt records are skipped with
// a warning rather than failing the whole listing.
func (s *HistoryStore) rebuildChatIndex() map[string]ChatIndexEntry {
	idx := make(map[string]ChatIndexEntry)
	ents, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		return idx
	}
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		data, err := os.ReadFile(s.sessionPath(id))
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			s.log.Warn("skipping corrupt session record", map[string]interface{}{
				"id": id, "error": err.Error(),
			})
			continue
		}
		if strings.TrimSpace(sess.ID) == "" {
			sess.ID = id
		}
		idx[sess.ID] = ChatIndexEntry{
			ID:         sess.ID,
			Title:      sess.Title,
			UpdatedAt:  sess.UpdatedAt,
			HasSummary: s.sessionHasSummary(sess.ID),
		}
	}
	_ = s.writeJSONAtomic(s.indexPath(), idx)
	return idx
}

func (s *HistoryStore) updateChatIndex(mutate func(map[string]ChatIndexEntry)) error {
	idx := s.readChatIndex()
	mutate(idx)
	return s.writeJSONAtomic(s.indexPath(), idx)
}

func (s *HistoryStore) readSummaryIndex() map[string]SummaryIndexEntry {
	idx := make(map[string]SummaryIndexEntry)
	data, err := os.ReadFile(s.summaryIndexPath())
	if err == nil && json.Unmarshal(data, &idx) == nil {
		return idx
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("summary index unreadable, rebuilding", map[string]interface{}{"error": err.Error()})
	}
	return s.rebuildSummaryIndex()
}

func (s *HistoryStore) rebuildSummaryIndex() map[string]SummaryIndexEntry {
	idx := make(map[string]SummaryIndexEntry)
	ents, err := os.ReadDir(s.summariesDir())
	if err != nil {
		return idx
	}
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		data, err := os.ReadFile(s.summaryPath(id))
		if err != nil {
			continue
		}
		var sum Summary
		if err := json.Unmarshal(data, &sum); err != nil {
			s.log.Warn("skipping corrupt summary record", map[string]interface{}{
				"id": id, "error": err.Error(),
			})
			continue
		}
		if strings.TrimSpace(sum.ID) == "" {
			sum.ID = id
		}
		idx[sum.ID] = SummaryIndexEntry{
			ID:          sum.ID,
			SessionID:   sum.SessionID,
			ChatTitle:   sum.ChatTitle,
			GeneratedAt: sum.GeneratedAt,
		}
	}
	_ = s.writeJSONAtomic(s.summaryIndexPath(), idx)
	return idx
}

func (s *HistoryStore) updateSummaryIndex(mutate func(map[string]SummaryIndexEntry)) error {
	idx := s.readSummaryIndex()
	mutate(idx)
	return s.writeJSONAtomic(s.summaryIndexPath(), idx)
}

func (s *HistoryStore) sessionHasSummary(sessionID string) bool {
	for _, entry := range s.readSummaryIndex() {
		if entry.SessionID == sessionID {
			return true
		}
	}
	return false
}

// maxTitleAttempts bounds the collision retry loop for generated copy titles.
const maxTitleAttempts = 10

// UniqueTitle finds a title not rejected by taken, appending " (n)" suffixes
// up to a fixed attempt cap. The bool is false when every attempt collided.
func UniqueTitle(base string, taken func(string) bool) (string, bool) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "Untitled"
	}
	if !taken(base) {
		return base, true
	}
	for i := 1; i < maxTitleAttempts; i++ {
		candidate := fmt.Sprintf("%s (%d)", base, i)
		if !taken(candidate) {
			return candidate, true
		}
	}
	return "", false
}
