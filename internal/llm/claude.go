package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const claudeDefaultMaxTokens = 4096

// ClaudeProvider calls the Anthropic Messages API.
type ClaudeProvider struct {
	client anthropic.Client
}

// NewClaudeProvider creates a Claude provider. An empty baseURL uses the SDK
// default endpoint.
func NewClaudeProvider(apiKey, baseURL string) *ClaudeProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &ClaudeProvider{client: anthropic.NewClient(opts...)}
}

func (p *ClaudeProvider) Name() string { return Claude }

func (p *ClaudeProvider) params(req Request) anthropic.MessageNewParams {
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = claudeDefaultMaxTokens
	}
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
}

func (p *ClaudeProvider) Generate(ctx context.Context, req Request) (Response, error) {
	message, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return Response{}, fmt.Errorf("claude messages: %w", err)
	}
	return claudeResponse(message)
}

// Stream sends text deltas to onChunk as they arrive.
func (p *ClaudeProvider) Stream(ctx context.Context, req Request, onChunk func(string) error) (Response, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return Response{}, fmt.Errorf("claude messages stream: %w", err)
		}
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
			if err := onChunk(delta.Text); err != nil {
				return Response{}, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Response{}, fmt.Errorf("claude messages stream: %w", err)
	}
	return claudeResponse(&message)
}

func claudeResponse(message *anthropic.Message) (Response, error) {
	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Response{}, fmt.Errorf("claude: no text content in response")
	}
	in := int(message.Usage.InputTokens)
	return Response{
		Text:         strings.TrimSpace(text.String()),
		Model:        string(message.Model),
		PromptTokens: in,
		TotalTokens:  in + int(message.Usage.OutputTokens),
	}, nil
}

func claudeStatus(err error) (int, bool) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}
