package app

import (
	"fmt"
	"strings"
)

// ChatState is the live conversation handed over by the embedding program.
// Snapshot/Restore map it to and from the persisted Session record.
type ChatState struct {
	SessionID         string
	Title             string
	Messages          []Message
	ContextItems      []ContextItem
	Settings          map[string]any
	Adapter           string
	Cycle             int
	TitleRefreshCount int
}

// Snapshot captures a chat state as a Session record. Context items are
// deduplicated by id, first occurrence wins.
func Snapshot(chat *ChatState) *Session {
	sess := &Session{
		ID:                chat.SessionID,
		Title:             chat.Title,
		Messages:          append([]Message(nil), chat.Messages...),
		ContextItems:      dedupeContextItems(append([]ContextItem(nil), chat.ContextItems...)),
		Adapter:           chat.Adapter,
		Cycle:             chat.Cycle,
		TitleRefreshCount: chat.TitleRefreshCount,
	}
	if chat.Settings != nil {
		sess.Settings = make(map[string]any, len(chat.Settings))
		for k, v := range chat.Settings {
			sess.Settings[k] = v
		}
	}
	return sess
}

// ReplayInput is a record prepared for re-opening in a chat UI.
type ReplayInput struct {
	Session  *Session
	Messages []Message
	Adapter  string
	Settings map[string]any
}

// Restore prepares a stored record for replay. The message sequence is
// adjusted to end with a visible user message so the UI can render an input
// prompt. The stored adapter must still be configured; a stored model the
// adapter no longer offers silently falls back to the adapter default.
func Restore(rec *Session, resolver AdapterResolver) (*ReplayInput, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil session record")
	}

	settings := make(map[string]any, len(rec.Settings))
	for k, v := range rec.Settings {
		settings[k] = v
	}

	adapter := strings.TrimSpace(rec.Adapter)
	if adapter != "" && resolver != nil {
		info, ok := resolver.Resolve(adapter)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrAdapterUnavailable, adapter)
		}
		if model, _ := settings["model"].(string); model != "" && !info.HasModel(model) {
			settings["model"] = info.DefaultModel
		}
	}

	msgs := append([]Message(nil), rec.Messages...)
	msgs = ensureTrailingUserMessage(msgs)

	return &ReplayInput{
		Session:  rec,
		Messages: msgs,
		Adapter:  adapter,
		Settings: settings,
	}, nil
}

func ensureTrailingUserMessage(msgs []Message) []Message {
	if n := len(msgs); n > 0 {
		last := msgs[n-1]
		if last.Role == RoleUser && last.Opts.Visible {
			return msgs
		}
	}
	return append(msgs, Message{
		Role: RoleUser,
		Opts: MessageOpts{Visible: true},
	})
}
