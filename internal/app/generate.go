package app

import "context"

// GenerateRequest is one short-completion request to a text-generation
// backend. Schema, when set, asks for structured JSON output matching it.
type GenerateRequest struct {
	Prompt       string
	Instructions string
	Model        string
	MaxTokens    int
	Schema       map[string]any
	SchemaName   string
}

// Generator produces a text completion. Implementations own transport,
// retries, and response parsing.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// Notifier surfaces progress and failures to whatever UI embeds the core.
// Title generation uses it for the interim "Deciding title..." labels.
type Notifier interface {
	Notify(message string, severity Severity)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, Severity) {}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(message string, severity Severity)

func (f NotifierFunc) Notify(message string, severity Severity) { f(message, severity) }
