package app

import "strings"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Well-known message tags. Tagged messages are bookkeeping (tool output,
// injected context) and never count toward title generation.
const (
	TagToolOutput = "tool_output"
	TagContext    = "context"
)

type MessageOpts struct {
	Visible bool `json:"visible"`
	// Tag marks machine-generated messages (tool output, injected context).
	Tag string `json:"tag,omitempty"`
	// ContextID links the message to the context item it was expanded from.
	ContextID string `json:"context_id,omitempty"`
}

type Message struct {
	Role    string      `json:"role"` // user|assistant|system
	Content string      `json:"content"`
	Opts    MessageOpts `json:"opts"`
}

// ContextItem is an attached file/buffer/url reference carried with a session.
type ContextItem struct {
	ID     string `json:"id"`
	Path   string `json:"path,omitempty"`
	Source string `json:"source,omitempty"`
}

// Session is one persisted conversation. ID is assigned at creation and
// immutable afterwards.
type Session struct {
	ID           string        `json:"id"`
	Title        string        `json:"title,omitempty"`
	Messages     []Message     `json:"messages"`
	ContextItems []ContextItem `json:"context_items,omitempty"`
	// Refs is the legacy name for ContextItems. Accepted on read for old
	// records, never written back.
	Refs []ContextItem `json:"refs,omitempty"`

	Settings map[string]any `json:"settings,omitempty"`
	Adapter  string         `json:"adapter,omitempty"`

	// Cycle counts completed request/response round trips.
	Cycle int `json:"cycle"`
	// TitleRefreshCount is bounded by the configured maximum; once reached,
	// automatic title refresh stays off for this session.
	TitleRefreshCount int `json:"title_refresh_count"`

	UpdatedAt int64 `json:"updated_at"`
}

// normalize migrates the legacy refs field and deduplicates context items
// (first occurrence wins). Called on every load and save.
func (s *Session) normalize() {
	if len(s.ContextItems) == 0 && len(s.Refs) > 0 {
		s.ContextItems = s.Refs
	}
	s.Refs = nil
	s.ContextItems = dedupeContextItems(s.ContextItems)
}

func dedupeContextItems(items []ContextItem) []ContextItem {
	if len(items) < 2 {
		return items
	}
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, it := range items {
		id := strings.TrimSpace(it.ID)
		if id == "" {
			out = append(out, it)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Summary is a derived artifact addressed independently of its source
// session; a session has zero or one of them.
type Summary struct {
	ID          string   `json:"summary_id"`
	SessionID   string   `json:"session_id"`
	ChatTitle   string   `json:"chat_title,omitempty"`
	GeneratedAt int64    `json:"generated_at"`
	Content     string   `json:"content"`
	Topics      []string `json:"topics,omitempty"`
}

// ChatIndexEntry is the listing projection of a session. The index is never
// the source of truth; it is rebuilt from record files when missing.
type ChatIndexEntry struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	UpdatedAt  int64  `json:"updated_at"`
	HasSummary bool   `json:"has_summary"`
}

type SummaryIndexEntry struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	ChatTitle   string `json:"chat_title,omitempty"`
	GeneratedAt int64  `json:"generated_at"`
}
