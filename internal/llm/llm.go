package llm

import "context"

// Request is a single text generation request sent to a provider.
type Request struct {
	System   string
	Prompt   string
	JSONOnly bool
}

// Provider abstracts one LLM backend behind a common generation call.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}
