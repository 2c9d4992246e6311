package app

import (
	"context"
	"strings"
)

// Hooks is the narrow surface an embedding program wires its editor/UI
// events into. The core never reaches into host globals; everything it needs
// arrives through these calls.
type Hooks struct {
	Store  Store
	Titles *TitleGenerator
	Config Config
	Log    *Logger
}

func NewHooks(store Store, titles *TitleGenerator, cfg Config, logger *Logger) *Hooks {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Hooks{Store: store, Titles: titles, Config: cfg, Log: logger}
}

// OnSessionCreated persists the fresh session and records it as the last
// active one. Returns the record with its assigned id.
func (h *Hooks) OnSessionCreated(ctx context.Context, chat *ChatState) (*Session, error) {
	sess := Snapshot(chat)
	if err := h.Store.Save(sess); err != nil {
		return nil, err
	}
	chat.SessionID = sess.ID
	if err := h.Store.SetLast(sess.ID); err != nil {
		h.Log.Warn("failed to record last session", map[string]interface{}{"error": err.Error()})
	}
	return sess, nil
}

// OnSessionSubmitted saves the pending user turn before the request goes
// out, so a crash mid-turn loses nothing.
func (h *Hooks) OnSessionSubmitted(ctx context.Context, chat *ChatState) error {
	if !h.Config.AutoSave {
		return nil
	}
	return h.Store.Save(Snapshot(chat))
}

// OnTurnFinished auto-saves the completed round trip and runs the title
// decision.
func (h *Hooks) OnTurnFinished(ctx context.Context, chat *ChatState) error {
	sess := Snapshot(chat)
	if h.Config.AutoSave {
		if err := h.Store.Save(sess); err != nil {
			return err
		}
	}
	if h.Titles != nil {
		if err := h.Titles.Trigger(ctx, sess); err != nil {
			h.Log.Error("title trigger failed", map[string]interface{}{
				"id": sess.ID, "error": err.Error(),
			})
		}
	}
	return nil
}

// OnSessionCleared deletes the record when delete-on-clearing is configured;
// otherwise the persisted history survives the UI clear.
func (h *Hooks) OnSessionCleared(ctx context.Context, sessionID string) error {
	if !h.Config.DeleteOnClearing {
		return nil
	}
	_, err := h.Store.Delete(sessionID)
	return err
}

// ContinueLast returns the last active session when the feature is enabled
// and the record still exists.
func (h *Hooks) ContinueLast(ctx context.Context) (*Session, error) {
	if !h.Config.ContinueLastSession {
		return nil, nil
	}
	id := strings.TrimSpace(h.Store.Last())
	if id == "" {
		return nil, nil
	}
	return h.Store.Load(id)
}
