// Package provider defines the model-provider contract consumed by the
// translation pipeline. Concrete adapters live in subpackages.
package provider

import "context"

// EstimateRequest asks for a token count of the prompt a TranslateRequest
// with the same fields would produce.
type EstimateRequest struct {
	Texts       []string
	TargetLang  string
	Prompt      string
	EntryCount  int
	PrevContext []string
	NextContext []string
	ModelAlias  string
	SourceLang  string // empty means auto-detect
}

// TranslateRequest carries one chunk to the model.
type TranslateRequest struct {
	Texts          []string
	TargetLang     string
	Prompt         string
	Temperature    float64
	TopP           float64
	ExpectedCount  int
	PrevContext    []string
	NextContext    []string
	ThinkingBudget int // -1 disables the thinking cap
	ModelAlias     string
	SourceLang     string
}

// SummarizeRequest asks for a context summary over raw subtitle text.
type SummarizeRequest struct {
	Content     string
	TargetLang  string
	ModelAlias  string
	Temperature float64
}

// Item is a single translated entry text.
type Item struct {
	Text string
}

// Result is the outcome of one chunk translation call.
type Result struct {
	Items     []Item
	ActualIn  int
	ActualOut int
}

// Provider is the remote LLM surface. Implementations must honour ctx
// cancellation on every call.
type Provider interface {
	EstimateInputTokens(ctx context.Context, req EstimateRequest) (int, error)
	TranslateChunk(ctx context.Context, req TranslateRequest) (*Result, error)
	Summarize(ctx context.Context, req SummarizeRequest) (string, error)
}
