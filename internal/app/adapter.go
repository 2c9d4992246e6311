package app

import (
	"errors"
	"fmt"
	"strings"
)

// Adapter protocols. ACP (agent-protocol) backends cannot serve plain text
// completions and are rejected for title/summary generation.
const (
	ProtocolHTTP = "http"
	ProtocolACP  = "acp"
)

var (
	// ErrAdapterUnavailable means a stored adapter id is no longer
	// configured; callers should prompt for a replacement.
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	// ErrUnsupportedBackend means the adapter speaks an agent protocol and
	// cannot generate titles or summaries.
	ErrUnsupportedBackend = errors.New("unsupported backend for generation")
	// ErrGenerationFailed wraps network/parse failures from the text
	// generation call.
	ErrGenerationFailed = errors.New("generation failed")
)

// AdapterInfo describes one configured text-generation backend.
type AdapterInfo struct {
	Name         string
	Protocol     string // http|acp
	DefaultModel string
	Models       []string
}

// HasModel reports whether the adapter offers the model. An empty model list
// means the adapter accepts any model name.
func (a *AdapterInfo) HasModel(model string) bool {
	if len(a.Models) == 0 {
		return true
	}
	for _, m := range a.Models {
		if m == model {
			return true
		}
	}
	return false
}

// AdapterResolver maps a stored adapter id to its capabilities.
type AdapterResolver interface {
	Resolve(name string) (*AdapterInfo, bool)
}

// StaticResolver is a fixed adapter table, the resolver used by the CLI.
type StaticResolver map[string]AdapterInfo

func (r StaticResolver) Resolve(name string) (*AdapterInfo, bool) {
	info, ok := r[strings.TrimSpace(name)]
	if !ok {
		return nil, false
	}
	return &info, true
}

// checkGenerationBackend rejects ACP adapters before any network call is
// attempted. An unknown adapter is fine here: the generation client is
// injected separately and does not depend on the stored adapter id.
func checkGenerationBackend(resolver AdapterResolver, adapter string) error {
	if resolver == nil || strings.TrimSpace(adapter) == "" {
		return nil
	}
	info, ok := resolver.Resolve(adapter)
	if !ok {
		return nil
	}
	if info.Protocol == ProtocolACP {
		return fmt.Errorf("%w: adapter %q speaks the agent protocol", ErrUnsupportedBackend, adapter)
	}
	return nil
}
