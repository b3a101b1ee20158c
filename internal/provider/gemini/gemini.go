// Package gemini adapts the Google Gemini API to the provider contract.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/rainlynd/srt-translator-sub001/internal/provider"
)

// Client calls Gemini through the official genai SDK.
type Client struct {
	client *genai.Client
}

// New creates a Gemini-backed provider.
func New(ctx context.Context, apiKey string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini: api key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{client: client}, nil
}

// EstimateInputTokens counts the tokens of the chunk prompt as it would be
// sent by TranslateChunk.
func (c *Client) EstimateInputTokens(ctx context.Context, req provider.EstimateRequest) (int, error) {
	prompt := buildChunkPrompt(req.Prompt, req.Texts, req.PrevContext, req.NextContext)
	resp, err := c.client.Models.CountTokens(ctx, req.ModelAlias, genai.Text(prompt), nil)
	if err != nil {
		return 0, mapError("count tokens", err)
	}
	return int(resp.TotalTokens), nil
}

// TranslateChunk sends one chunk and parses the numbered-line response.
func (c *Client) TranslateChunk(ctx context.Context, req provider.TranslateRequest) (*provider.Result, error) {
	prompt := buildChunkPrompt(req.Prompt, req.Texts, req.PrevContext, req.NextContext)

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
		TopP:        genai.Ptr(float32(req.TopP)),
	}
	if req.ThinkingBudget != 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(req.ThinkingBudget)),
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.ModelAlias, genai.Text(prompt), cfg)
	if err != nil {
		return nil, mapError("generate content", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("gemini: empty response")
	}

	result := &provider.Result{
		Items: parseNumberedItems(text, req.ExpectedCount),
	}
	if resp.UsageMetadata != nil {
		result.ActualIn = int(resp.UsageMetadata.PromptTokenCount)
		result.ActualOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

// Summarize produces the context summary used by the translation phase.
func (c *Client) Summarize(ctx context.Context, req provider.SummarizeRequest) (string, error) {
	prompt := fmt.Sprintf(summaryPrompt, req.TargetLang, req.Content)
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	resp, err := c.client.Models.GenerateContent(ctx, req.ModelAlias, genai.Text(prompt), cfg)
	if err != nil {
		return "", mapError("summarize", err)
	}
	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return "", fmt.Errorf("gemini: empty summary response")
	}
	return text, nil
}

const summaryPrompt = `You are preparing context for a subtitle translator.
Summarize the following subtitles in %s: name the topic, the speakers if
identifiable, the register (formal/casual), and recurring terminology with
the translations you would recommend. Keep it under 300 words.

Subtitles:
---
%s
---`

// buildChunkPrompt assembles the instruction block, the optional context
// windows, and the numbered source lines.
func buildChunkPrompt(instruction string, texts, prevCtx, nextCtx []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(instruction))
	b.WriteString("\n\n")

	if len(prevCtx) > 0 {
		b.WriteString("Preceding lines (context only, do not translate):\n")
		for _, t := range prevCtx {
			b.WriteString(flatten(t))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(nextCtx) > 0 {
		b.WriteString("Following lines (context only, do not translate):\n")
		for _, t := range nextCtx {
			b.WriteString(flatten(t))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Translate the %d numbered lines below. Respond with exactly one line per input, formatted as \"number|translation\", same numbering, no extra lines.\n\n", len(texts))
	for i, t := range texts {
		fmt.Fprintf(&b, "%d|%s\n", i+1, flatten(t))
	}
	return b.String()
}

// flatten folds multi-line entry text into a single line for the protocol.
func flatten(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\n", " ")), " ")
}

var numberedLineRe = regexp.MustCompile(`^\s*(\d+)\s*\|(.*)$`)

// parseNumberedItems reads "number|translation" lines back into entry order.
// Lines outside 1..expected are dropped; missing numbers yield a shorter
// item list, which the caller's cardinality check rejects.
func parseNumberedItems(text string, expected int) []provider.Item {
	byIndex := make(map[int]string, expected)
	for _, line := range strings.Split(text, "\n") {
		m := numberedLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > expected {
			continue
		}
		if _, dup := byIndex[n]; dup {
			continue
		}
		byIndex[n] = strings.TrimSpace(m[2])
	}

	items := make([]provider.Item, 0, len(byIndex))
	for i := 1; i <= expected; i++ {
		t, ok := byIndex[i]
		if !ok {
			break
		}
		items = append(items, provider.Item{Text: t})
	}
	return items
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// mapError classifies SDK errors; quota exhaustion becomes a 429 APIError
// carrying any server retry hint.
func mapError(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "quota") {
		apiErr := &provider.APIError{
			Status:  http.StatusTooManyRequests,
			Message: msg,
		}
		if d, ok := provider.ParseRetryDelay(msg); ok {
			apiErr.RetryDelay = d
		}
		return fmt.Errorf("gemini: %s: %w", op, apiErr)
	}
	if strings.Contains(msg, "UNAVAILABLE") || strings.Contains(msg, "503") {
		return fmt.Errorf("gemini: %s: %w", op, &provider.APIError{
			Status:  http.StatusServiceUnavailable,
			Message: msg,
		})
	}
	return fmt.Errorf("gemini: %s: %w", op, err)
}
