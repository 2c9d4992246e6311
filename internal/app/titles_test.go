package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

// fakeGenerator records prompts and optionally blocks until released.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	result  string
	err     error
	release chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	g.mu.Lock()
	g.calls++
	g.prompts = append(g.prompts, req.Prompt)
	g.mu.Unlock()
	if g.release != nil {
		<-g.release
	}
	return g.result, g.err
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string, _ Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) has(msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.messages {
		if m == msg {
			return true
		}
	}
	return false
}

func newTitleFixture(t *testing.T, gen Generator, opts TitleOptions) (*HistoryStore, *TitleGenerator, *recordingNotifier) {
	t.Helper()
	store := newTestStore(t)
	notify := &recordingNotifier{}
	titles := NewTitleGenerator(store, gen, testResolver(), notify, nil, opts)
	return store, titles, notify
}

func TestQualifyingMessagesFilter(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be nice"},
		{Role: RoleUser, Content: "   "},
		{Role: RoleUser, Content: "real question", Opts: MessageOpts{Visible: true}},
		{Role: RoleUser, Content: "tool noise", Opts: MessageOpts{Tag: TagToolOutput}},
		{Role: RoleUser, Content: "attached file", Opts: MessageOpts{ContextID: "buf://a.go"}},
		{Role: RoleAssistant, Content: "an answer"},
	}
	q := qualifyingMessages(msgs, RoleUser)
	if len(q) != 1 || q[0].Content != "real question" {
		t.Fatalf("filter mismatch: %#v", q)
	}
}

func TestInitialTitleFromFirstPromptOnly(t *testing.T) {
	gen := &fakeGenerator{result: "Greeting Chat"}
	store, titles, _ := newTitleFixture(t, gen, TitleOptions{AutoGenerate: true})

	sess := &Session{
		ID: "s1",
		Messages: []Message{
			{Role: RoleUser, Content: "Hi", Opts: MessageOpts{Visible: true}},
			{Role: RoleAssistant, Content: "Hello", Opts: MessageOpts{Visible: true}},
		},
	}
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	titles.Wait()

	if gen.callCount() != 1 {
		t.Fatalf("expected one generation, got %d", gen.callCount())
	}
	if gen.prompts[0] != "User: Hi" {
		t.Fatalf("prompt mismatch: %q", gen.prompts[0])
	}
	updated, _ := store.Load("s1")
	if updated.Title != "Greeting Chat" {
		t.Fatalf("title not committed: %q", updated.Title)
	}

	// With refresh disabled, further turns never regenerate.
	updated.Messages = append(updated.Messages,
		Message{Role: RoleUser, Content: "more", Opts: MessageOpts{Visible: true}},
		Message{Role: RoleAssistant, Content: "sure", Opts: MessageOpts{Visible: true}},
	)
	if err := titles.Trigger(context.Background(), updated); err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	titles.Wait()
	if gen.callCount() != 1 {
		t.Fatalf("refresh disabled yet generator ran again: %d calls", gen.callCount())
	}
}

func TestNoGenerationWhenAutoGenerateOff(t *testing.T) {
	gen := &fakeGenerator{result: "ignored"}
	store, titles, _ := newTitleFixture(t, gen, TitleOptions{AutoGenerate: false})

	sess := sampleSession("s1")
	sess.Title = ""
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	titles.Wait()
	if gen.callCount() != 0 {
		t.Fatalf("generator should not run")
	}
}

func TestInterimLabelEmittedBeforeCall(t *testing.T) {
	gen := &fakeGenerator{result: "A Title"}
	store, titles, notify := newTitleFixture(t, gen, TitleOptions{AutoGenerate: true})
	sess := sampleSession("s1")
	sess.Title = ""
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	titles.Wait()
	if !notify.has(labelDeciding) {
		t.Fatalf("interim label missing: %#v", notify.messages)
	}
}

func TestLongPromptTruncated(t *testing.T) {
	gen := &fakeGenerator{result: "Long Chat"}
	store, titles, _ := newTitleFixture(t, gen, TitleOptions{AutoGenerate: true})

	long := strings.Repeat("x", 2500)
	sess := &Session{
		ID:       "s1",
		Messages: []Message{{Role: RoleUser, Content: long, Opts: MessageOpts{Visible: true}}},
	}
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	titles.Wait()

	prompt := gen.prompts[0]
	if !strings.HasSuffix(prompt, truncatedMarker) {
		t.Fatalf("expected truncation marker, got tail %q", prompt[len(prompt)-30:])
	}
	if len(prompt) > len("User: ")+titleMessageLimit+len(truncatedMarker)+1 {
		t.Fatalf("prompt too long: %d", len(prompt))
	}
}

func TestClipKeepsRuneBoundaries(t *testing.T) {
	// Two-byte runes; an odd byte limit would split one in half.
	s := strings.Repeat("é", 100)
	got := clip(s, 25, truncatedMarker)
	if !utf8.ValidString(got) {
		t.Fatalf("clip produced invalid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, truncatedMarker) {
		t.Fatalf("marker missing: %q", got)
	}
	body := strings.TrimSuffix(got, " "+truncatedMarker)
	if len(body) > 25 {
		t.Fatalf("clip exceeded the limit: %d bytes", len(body))
	}
	if clip("short", 25, truncatedMarker) != "short" {
		t.Fatalf("strings within the limit must pass through untouched")
	}
}

func TestRefreshUsesRecentWindow(t *testing.T) {
	gen := &fakeGenerator{result: "Refreshed"}
	store, titles, _ := newTitleFixture(t, gen, TitleOptions{
		AutoGenerate:         true,
		RefreshEveryNPrompts: 2,
		MaxRefreshes:         3,
	})

	sess := &Session{ID: "s1", Title: "Old Title"}
	for i := 0; i < 8; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		sess.Messages = append(sess.Messages, Message{
			Role: role, Content: strings.Repeat("m", 3) + string(rune('a'+i)), Opts: MessageOpts{Visible: true},
		})
	}
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	titles.Wait()

	if gen.callCount() != 1 {
		t.Fatalf("expected refresh to run, calls=%d", gen.callCount())
	}
	prompt := gen.prompts[0]
	if strings.Count(prompt, "\n") != titleRefreshWindow-1 {
		t.Fatalf("expected %d lines, got prompt %q", titleRefreshWindow, prompt)
	}
	if !strings.Contains(prompt, "User: ") || !strings.Contains(prompt, "Assistant: ") {
		t.Fatalf("role labels missing: %q", prompt)
	}

	updated, _ := store.Load("s1")
	if updated.Title != "Refreshed" {
		t.Fatalf("title not refreshed: %q", updated.Title)
	}
	if updated.TitleRefreshCount != 1 {
		t.Fatalf("refresh count = %d, want 1", updated.TitleRefreshCount)
	}
}

func TestRefreshStopsAtMax(t *testing.T) {
	gen := &fakeGenerator{result: "Again"}
	store, titles, _ := newTitleFixture(t, gen, TitleOptions{
		AutoGenerate:         true,
		RefreshEveryNPrompts: 1,
		MaxRefreshes:         2,
	})

	sess := &Session{ID: "s1", Title: "Base"}
	for round := 0; round < 5; round++ {
		current, _ := store.Load("s1")
		if current == nil {
			current = sess
		}
		current.Messages = append(current.Messages, Message{
			Role: RoleUser, Content: "prompt", Opts: MessageOpts{Visible: true},
		})
		if err := store.Save(current); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := titles.Trigger(context.Background(), current); err != nil {
			t.Fatalf("trigger: %v", err)
		}
		titles.Wait()
	}

	if gen.callCount() != 2 {
		t.Fatalf("refreshes should stop at max: %d calls", gen.callCount())
	}
	updated, _ := store.Load("s1")
	if updated.TitleRefreshCount != 2 {
		t.Fatalf("refresh count = %d, want 2", updated.TitleRefreshCount)
	}
}

func TestOverlappingTriggersSingleFlight(t *testing.T) {
	gen := &fakeGenerator{result: "Once", release: make(chan struct{})}
	store, titles, _ := newTitleFixture(t, gen, TitleOptions{AutoGenerate: true})

	sess := sampleSession("s1")
	sess.Title = ""
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	close(gen.release)
	titles.Wait()

	if gen.callCount() != 1 {
		t.Fatalf("overlapping triggers must coalesce: %d calls", gen.callCount())
	}
}

func TestLateResultAfterDeleteIsDropped(t *testing.T) {
	gen := &fakeGenerator{result: "Ghost", release: make(chan struct{})}
	store, titles, _ := newTitleFixture(t, gen, TitleOptions{AutoGenerate: true})

	sess := sampleSession("s1")
	sess.Title = ""
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := store.Delete("s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(gen.release)
	titles.Wait()

	if loaded, _ := store.Load("s1"); loaded != nil {
		t.Fatalf("late result must not resurrect a deleted record")
	}
	if len(store.List(nil)) != 0 {
		t.Fatalf("index must stay empty")
	}
}

// racingDeleteStore deletes the record just as the title commit reaches the
// store, modeling a delete keypress landing between generation and commit.
type racingDeleteStore struct {
	*HistoryStore
	raced bool
}

func (s *racingDeleteStore) Update(id string, mutate func(*Session)) (bool, error) {
	if !s.raced {
		s.raced = true
		if _, err := s.HistoryStore.Delete(id); err != nil {
			return false, err
		}
	}
	return s.HistoryStore.Update(id, mutate)
}

func TestDeleteRacingCommitDoesNotResurrect(t *testing.T) {
	gen := &fakeGenerator{result: "Ghost Title"}
	store := newTestStore(t)
	racing := &racingDeleteStore{HistoryStore: store}
	titles := NewTitleGenerator(racing, gen, testResolver(), nil, nil, TitleOptions{AutoGenerate: true})

	sess := sampleSession("s1")
	sess.Title = ""
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	titles.Wait()

	if !racing.raced {
		t.Fatalf("commit never reached the store")
	}
	if loaded, _ := store.Load("s1"); loaded != nil {
		t.Fatalf("deleted session was resurrected by the late title commit: %#v", loaded)
	}
	if len(store.List(nil)) != 0 {
		t.Fatalf("index must stay empty")
	}
}

func TestEmptyAndInterimResultsRejected(t *testing.T) {
	for _, result := range []string{"", "   ", labelDeciding} {
		gen := &fakeGenerator{result: result}
		store, titles, _ := newTitleFixture(t, gen, TitleOptions{AutoGenerate: true})

		sess := sampleSession("s1")
		sess.Title = ""
		if err := store.Save(sess); err != nil {
			t.Fatalf("save: %v", err)
		}
		if err := titles.Trigger(context.Background(), sess); err != nil {
			t.Fatalf("trigger: %v", err)
		}
		titles.Wait()

		updated, _ := store.Load("s1")
		if updated.Title != "" {
			t.Fatalf("result %q should not be committed, got title %q", result, updated.Title)
		}
	}
}

func TestGenerationFailureNotifiesAndKeepsTitle(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	store, titles, notify := newTitleFixture(t, gen, TitleOptions{
		AutoGenerate:         true,
		RefreshEveryNPrompts: 1,
		MaxRefreshes:         3,
	})

	sess := sampleSession("s1")
	sess.Title = "Keep Me"
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	titles.Wait()

	updated, _ := store.Load("s1")
	if updated.Title != "Keep Me" {
		t.Fatalf("failed generation must not clobber the title")
	}
	notify.mu.Lock()
	found := false
	for _, m := range notify.messages {
		if strings.Contains(m, "boom") {
			found = true
		}
	}
	notify.mu.Unlock()
	if !found {
		t.Fatalf("failure was not surfaced: %#v", notify.messages)
	}
}

func TestACPBackendRejected(t *testing.T) {
	gen := &fakeGenerator{result: "nope"}
	store, titles, _ := newTitleFixture(t, gen, TitleOptions{AutoGenerate: true})

	sess := sampleSession("s1")
	sess.Title = ""
	sess.Adapter = "agent"
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := titles.Generate(context.Background(), sess, false)
	if !errors.Is(err, ErrUnsupportedBackend) {
		t.Fatalf("expected ErrUnsupportedBackend, got %v", err)
	}
	titles.Wait()
	if gen.callCount() != 0 {
		t.Fatalf("no network call for agent-protocol adapters")
	}
}

func TestCustomFormatterApplied(t *testing.T) {
	gen := &fakeGenerator{result: "  raw title  "}
	store, titles, _ := newTitleFixture(t, gen, TitleOptions{
		AutoGenerate: true,
		Format:       func(s string) string { return strings.ToUpper(s) },
	})

	sess := sampleSession("s1")
	sess.Title = ""
	if err := store.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := titles.Trigger(context.Background(), sess); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	titles.Wait()

	updated, _ := store.Load("s1")
	if updated.Title != "RAW TITLE" {
		t.Fatalf("formatter not applied: %q", updated.Title)
	}
}
