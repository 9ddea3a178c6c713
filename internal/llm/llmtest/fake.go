// Package llmtest provides an in-memory llm.Provider for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/nasher721/Extract721/internal/llm"
)

// Fake answers every request through Respond and records the requests it
// saw. A nil Respond echoes an empty extraction list. Streamed replies are
// cut into pieces of StreamChunk runes, or sent whole when it is zero.
type Fake struct {
	ProviderName string
	Respond      func(ctx context.Context, req llm.Request) (llm.Response, error)
	StreamChunk  int

	mu    sync.Mutex
	calls []llm.Request
}

// Static returns a Fake that always answers text.
func Static(text string) *Fake {
	return &Fake{Respond: func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{Text: text}, nil
	}}
}

// ByPrompt returns a Fake that answers with the value of the first key
// contained in the prompt, or `{"extractions":[]}` when none matches.
func ByPrompt(answers map[string]string) *Fake {
	return &Fake{Respond: func(_ context.Context, req llm.Request) (llm.Response, error) {
		best := ""
		for key := range answers {
			if strings.Contains(lastQuestion(req.Prompt), key) && len(key) > len(best) {
				best = key
			}
		}
		if best == "" {
			return llm.Response{Text: `{"extractions":[]}`}, nil
		}
		return llm.Response{Text: answers[best]}, nil
	}}
}

// lastQuestion returns the prompt text after the final "Q: " marker so
// examples and carried context do not match.
func lastQuestion(prompt string) string {
	if i := strings.LastIndex(prompt, "Q: "); i >= 0 {
		return prompt[i:]
	}
	return prompt
}

func (f *Fake) Name() string {
	if f.ProviderName == "" {
		return "fake"
	}
	return f.ProviderName
}

func (f *Fake) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if f.Respond == nil {
		return llm.Response{Text: `{"extractions":[]}`, Model: req.Model}, nil
	}
	resp, err := f.Respond(ctx, req)
	if err == nil && resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, err
}

func (f *Fake) Stream(ctx context.Context, req llm.Request, onChunk func(string) error) (llm.Response, error) {
	resp, err := f.Generate(ctx, req)
	if err != nil {
		return llm.Response{}, err
	}
	rest := []rune(resp.Text)
	for len(rest) > 0 {
		n := len(rest)
		if f.StreamChunk > 0 && f.StreamChunk < n {
			n = f.StreamChunk
		}
		if err := onChunk(string(rest[:n])); err != nil {
			return llm.Response{}, err
		}
		rest = rest[n:]
	}
	return resp, nil
}

// Calls returns a copy of the recorded requests.
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}

// Factory adapts f for llm.Registry.Register.
func (f *Fake) Factory() llm.Factory {
	return func(string, string) llm.Provider { return f }
}
