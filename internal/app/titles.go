package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"
)

// Prompt construction limits. Individual messages are clipped to
// titleMessageLimit characters; the joined refresh context is capped at
// titleContextLimit.
const (
	titleMessageLimit  = 1000
	titleContextLimit  = 10000
	titleRefreshWindow = 6

	truncatedMarker      = "[truncated]"
	conversationTruncMsg = "[conversation truncated]"

	labelDeciding   = "Deciding title..."
	labelRefreshing = "Refreshing title..."
)

const titleInstructions = "Generate a concise title (max 8 words) for this chat. " +
	"Respond with the title only, no quotes, no trailing punctuation."

// TitleOptions mirrors the title portion of Config.
type TitleOptions struct {
	AutoGenerate         bool
	RefreshEveryNPrompts int
	MaxRefreshes         int
	Model                string
	// Format post-processes the raw completion before it is committed.
	Format func(string) string
}

// TitleGenerator decides when a session needs a (re)generated title, builds
// the prompt, and applies the asynchronous result.
//
// At most one generation is in flight per session: overlapping triggers for
// the same id are dropped. Results arriving after the session was deleted
// are discarded.
type TitleGenerator struct {
	store    Store
	gen      Generator
	resolver AdapterResolver
	notify   Notifier
	log      *Logger
	opts     TitleOptions

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewTitleGenerator(store Store, gen Generator, resolver AdapterResolver, notify Notifier, logger *Logger, opts TitleOptions) *TitleGenerator {
	if notify == nil {
		notify = nopNotifier{}
	}
	if logger == nil {
		logger = NewLogger(nil)
	}
	if opts.MaxRefreshes < 0 {
		opts.MaxRefreshes = 0
	}
	return &TitleGenerator{
		store:    store,
		gen:      gen,
		resolver: resolver,
		notify:   notify,
		log:      logger,
		opts:     opts,
		inflight: make(map[string]struct{}),
	}
}

// Wait blocks until all in-flight generations have completed. Used on
// shutdown and in tests.
func (g *TitleGenerator) Wait() { g.wg.Wait() }

// qualifyingMessages keeps messages of the given roles whose trimmed content
// is non-empty and which are neither tagged nor context attachments.
func qualifyingMessages(msgs []Message, roles ...string) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Opts.Tag != "" || m.Opts.ContextID != "" {
			continue
		}
		for _, role := range roles {
			if m.Role == role {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func isInterimLabel(s string) bool {
	return s == labelDeciding || s == labelRefreshing
}

// Trigger runs the title decision for a session after a completed turn:
// first generation when untitled and auto-generate is on, refresh when the
// qualifying prompt count hits the configured interval and the refresh
// budget is not exhausted.
func (g *TitleGenerator) Trigger(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	prompts := len(qualifyingMessages(sess.Messages, RoleUser))
	if prompts == 0 {
		return nil
	}
	if strings.TrimSpace(sess.Title) == "" || isInterimLabel(sess.Title) {
		if !g.opts.AutoGenerate {
			return nil
		}
		return g.Generate(ctx, sess, false)
	}
	if g.opts.RefreshEveryNPrompts <= 0 {
		return nil
	}
	if prompts%g.opts.RefreshEveryNPrompts != 0 {
		return nil
	}
	if sess.TitleRefreshCount >= g.opts.MaxRefreshes {
		return nil
	}
	return g.Generate(ctx, sess, true)
}

// Generate starts one asynchronous title generation. A trigger overlapping
// an in-flight generation for the same session is silently dropped.
func (g *TitleGenerator) Generate(ctx context.Context, sess *Session, refresh bool) error {
	if sess == nil || g.gen == nil {
		return nil
	}
	if err := checkGenerationBackend(g.resolver, sess.Adapter); err != nil {
		g.notify.Notify(err.Error(), SeverityError)
		return err
	}

	prompt := ""
	if refresh {
		prompt = buildRefreshPrompt(sess.Messages)
	} else {
		prompt = buildInitialPrompt(sess.Messages)
	}
	if prompt == "" {
		return nil
	}

	g.mu.Lock()
	if _, busy := g.inflight[sess.ID]; busy {
		g.mu.Unlock()
		return nil
	}
	g.inflight[sess.ID] = struct{}{}
	g.mu.Unlock()

	label := labelDeciding
	if refresh {
		label = labelRefreshing
	}
	g.notify.Notify(label, SeverityInfo)

	id := sess.ID
	baseTitle := sess.Title
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		result, err := g.gen.Generate(ctx, GenerateRequest{
			Prompt:       prompt,
			Instructions: titleInstructions,
			Model:        g.opts.Model,
			MaxTokens:    60,
		})
		g.commit(id, baseTitle, result, err, refresh)
	}()
	return nil
}

// commit applies a finished generation through a single atomic store update:
// a result landing after the session was deleted is dropped, it cannot
// recreate the record.
func (g *TitleGenerator) commit(id, baseTitle, result string, genErr error, refresh bool) {
	defer func() {
		g.mu.Lock()
		delete(g.inflight, id)
		g.mu.Unlock()
	}()

	if genErr != nil {
		g.notify.Notify(fmt.Sprintf("title generation failed: %v", genErr), SeverityError)
		return
	}

	title := strings.TrimSpace(result)
	if g.opts.Format != nil {
		title = strings.TrimSpace(g.opts.Format(title))
	}
	if title == "" || isInterimLabel(title) {
		// Revert the displayed label to whatever the session had before.
		g.notify.Notify(baseTitle, SeverityWarn)
		return
	}

	ok, err := g.store.Update(id, func(sess *Session) {
		sess.Title = title
		if refresh && sess.TitleRefreshCount < g.opts.MaxRefreshes {
			sess.TitleRefreshCount++
		}
	})
	if err != nil {
		g.notify.Notify(fmt.Sprintf("failed to persist title: %v", err), SeverityError)
		return
	}
	if !ok {
		g.log.Info("title commit: session gone, dropping result", map[string]interface{}{"id": id})
		return
	}
	g.notify.Notify(title, SeverityInfo)
}

// buildInitialPrompt uses only the first qualifying user message.
func buildInitialPrompt(msgs []Message) string {
	q := qualifyingMessages(msgs, RoleUser)
	if len(q) == 0 {
		return ""
	}
	return "User: " + clip(strings.TrimSpace(q[0].Content), titleMessageLimit, truncatedMarker)
}

// buildRefreshPrompt concatenates the last qualifying user/assistant
// messages with role labels.
func buildRefreshPrompt(msgs []Message) string {
	q := qualifyingMessages(msgs, RoleUser, RoleAssistant)
	if len(q) == 0 {
		return ""
	}
	if len(q) > titleRefreshWindow {
		q = q[len(q)-titleRefreshWindow:]
	}
	parts := make([]string, 0, len(q))
	for _, m := range q {
		label := "User"
		if m.Role == RoleAssistant {
			label = "Assistant"
		}
		parts = append(parts, label+": "+clip(strings.TrimSpace(m.Content), titleMessageLimit, truncatedMarker))
	}
	return clip(strings.Join(parts, "\n"), titleContextLimit, conversationTruncMsg)
}

// clip bounds s to limit bytes, appending the marker when it was cut. The cut
// backs up to a rune boundary so the output is always valid UTF-8.
func clip(s string, limit int, marker string) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + " " + marker
}
