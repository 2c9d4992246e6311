package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
)

const summaryInstructions = "Summarize this conversation. Capture the goal, the key decisions, " +
	"and any unresolved points. Keep it under 300 words."

// SummaryOptions mirrors the summary portion of Config.
type SummaryOptions struct {
	// ContextBudget caps the transcript size (in characters) included in
	// the prompt.
	ContextBudget      int
	IncludeReferences  bool
	IncludeToolOutputs bool
	Model              string
	Format             func(string) string
}

// summaryPayload is the structured output requested from the backend.
type summaryPayload struct {
	Summary string   `json:"summary" jsonschema:"required"`
	Topics  []string `json:"topics"`
}

var summarySchema = generateSchema[summaryPayload]()

// SummaryGenerator builds a whole-conversation summary on explicit request
// and persists it as a Summary record.
type SummaryGenerator struct {
	store    Store
	gen      Generator
	resolver AdapterResolver
	notify   Notifier
	log      *Logger
	opts     SummaryOptions
}

func NewSummaryGenerator(store Store, gen Generator, resolver AdapterResolver, notify Notifier, logger *Logger, opts SummaryOptions) *SummaryGenerator {
	if notify == nil {
		notify = nopNotifier{}
	}
	if logger == nil {
		logger = NewLogger(nil)
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = 90_000
	}
	return &SummaryGenerator{
		store:    store,
		gen:      gen,
		resolver: resolver,
		notify:   notify,
		log:      logger,
		opts:     opts,
	}
}

// Generate summarizes the session with the given id. On success the Summary
// record is persisted and the session's has_summary indicator flips; on
// failure the error is surfaced once through the notifier.
func (g *SummaryGenerator) Generate(ctx context.Context, sessionID string) (*Summary, error) {
	sess, err := g.store.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %q not found", sessionID)
	}
	if err := checkGenerationBackend(g.resolver, sess.Adapter); err != nil {
		g.notify.Notify(err.Error(), SeverityError)
		return nil, err
	}

	prompt := buildSummaryPrompt(sess.Messages, g.opts)
	if prompt == "" {
		return nil, fmt.Errorf("session %q has no content to summarize", sessionID)
	}

	raw, err := g.gen.Generate(ctx, GenerateRequest{
		Prompt:       prompt,
		Instructions: summaryInstructions,
		Model:        g.opts.Model,
		MaxTokens:    1024,
		Schema:       summarySchema,
		SchemaName:   "ChatSummary",
	})
	if err != nil {
		g.notify.Notify(fmt.Sprintf("summary generation failed: %v", err), SeverityError)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	content, topics := parseSummaryPayload(raw)
	if g.opts.Format != nil {
		content = strings.TrimSpace(g.opts.Format(content))
	}
	if content == "" {
		g.notify.Notify("summary generation returned no content", SeverityError)
		return nil, ErrGenerationFailed
	}

	sum := &Summary{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		ChatTitle:   sess.Title,
		GeneratedAt: time.Now().Unix(),
		Content:     content,
		Topics:      topics,
	}
	if err := g.store.SaveSummary(sum); err != nil {
		g.notify.Notify(fmt.Sprintf("failed to persist summary: %v", err), SeverityError)
		return nil, err
	}
	return sum, nil
}

// parseSummaryPayload decodes the structured response, falling back to
// treating the whole text as the summary body when it is not valid JSON.
func parseSummaryPayload(raw string) (string, []string) {
	var payload summaryPayload
	if err := json.Unmarshal([]byte(raw), &payload); err == nil && strings.TrimSpace(payload.Summary) != "" {
		return strings.TrimSpace(payload.Summary), payload.Topics
	}
	return strings.TrimSpace(raw), nil
}

// buildSummaryPrompt renders the transcript with role labels up to the
// configured budget. Tagged tool output and context attachments are included
// only when the matching option is set.
func buildSummaryPrompt(msgs []Message, opts SummaryOptions) string {
	var b strings.Builder
	truncated := false
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch {
		case m.Opts.Tag == TagToolOutput:
			if !opts.IncludeToolOutputs {
				continue
			}
		case m.Opts.ContextID != "" || m.Opts.Tag == TagContext:
			if !opts.IncludeReferences {
				continue
			}
		case m.Opts.Tag != "":
			continue
		}

		line := roleLabel(m.Role) + ": " + strings.TrimSpace(m.Content) + "\n"
		if b.Len()+len(line) > opts.ContextBudget {
			truncated = true
			break
		}
		b.WriteString(line)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return ""
	}
	if truncated {
		out += "\n" + conversationTruncMsg
	}
	return out
}

func roleLabel(role string) string {
	switch role {
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return "User"
	}
}

// generateSchema reflects a JSON schema from a Go struct in the shape the
// OpenAI structured-output API expects.
func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	b, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	ensureSchemaCompliance(m)
	return m
}

// ensureSchemaCompliance forces additionalProperties=false and marks every
// property required, which strict mode demands.
func ensureSchemaCompliance(schema map[string]any) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if properties, ok := schema["properties"].(map[string]any); ok {
			var required []string
			for name := range properties {
				required = append(required, name)
			}
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}
	if properties, ok := schema["properties"].(map[string]any); ok {
		for _, prop := range properties {
			if m, ok := prop.(map[string]any); ok {
				ensureSchemaCompliance(m)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		ensureSchemaCompliance(items)
	}
}
