package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIProvider calls the Chat Completions API. GLM exposes the same API
// shape and is served by this provider with a different base URL.
type OpenAIProvider struct {
	name   string
	client openai.Client
}

// NewOpenAIProvider creates a provider named name. An empty baseURL uses the
// SDK default endpoint.
func NewOpenAIProvider(name, apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are handled by Reliable.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{name: name, client: openai.NewClient(opts...)}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) params(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		}
	}
	return params
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (Response, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return Response{}, fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	return p.response(completion)
}

// Stream sends the completion deltas to onChunk as they arrive.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onChunk func(string) error) (Response, error) {
	params := p.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onChunk(chunk.Choices[0].Delta.Content); err != nil {
			return Response{}, err
		}
	}
	if err := stream.Err(); err != nil {
		return Response{}, fmt.Errorf("%s chat completion stream: %w", p.name, err)
	}
	return p.response(&acc.ChatCompletion)
}

func (p *OpenAIProvider) response(completion *openai.ChatCompletion) (Response, error) {
	if len(completion.Choices) == 0 {
		return Response{}, fmt.Errorf("%s: no completion choices returned", p.name)
	}
	return Response{
		Text:         strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:        completion.Model,
		PromptTokens: int(completion.Usage.PromptTokens),
		TotalTokens:  int(completion.Usage.TotalTokens),
	}, nil
}

func openAIStatus(err error) (int, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}
