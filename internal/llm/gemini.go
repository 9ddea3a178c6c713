package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// StatusError is a non-2xx reply from a provider reached over plain HTTP.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s upstream %d: %s", e.Provider, e.StatusCode, e.Message)
}

// GeminiProvider calls the Generative Language generateContent and
// streamGenerateContent endpoints.
type GeminiProvider struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

// NewGeminiProvider creates a Gemini provider. A nil hc gets a client with
// the given timeout.
func NewGeminiProvider(apiKey, baseURL string, timeout time.Duration, hc *http.Client) *GeminiProvider {
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	if hc == nil {
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &GeminiProvider{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, hc: hc}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount int `json:"promptTokenCount"`
		TotalTokenCount  int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type geminiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *GeminiProvider) Name() string { return Gemini }

func (p *GeminiProvider) newRequest(ctx context.Context, req Request, method string) (*http.Request, error) {
	temp := req.Temperature
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     &temp,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	}
	if req.JSONMode {
		body.GenerationConfig.ResponseMIMEType = "application/json"
	}
	payload, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("encoding gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s", p.baseURL, url.PathEscape(req.Model), method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)
	return httpReq, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	msg := strings.TrimSpace(string(data))
	var ge geminiError
	if json.Unmarshal(data, &ge) == nil && ge.Error.Message != "" {
		msg = ge.Error.Message
	}
	return &StatusError{Provider: Gemini, StatusCode: resp.StatusCode, Message: msg}
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (Response, error) {
	httpReq, err := p.newRequest(ctx, req, "generateContent")
	if err != nil {
		return Response{}, err
	}
	resp, err := p.hc.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return Response{}, statusError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Response{}, fmt.Errorf("reading gemini response: %w", err)
	}

	var out geminiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return Response{}, fmt.Errorf("gemini: no candidates returned")
	}
	model := out.ModelVersion
	if model == "" {
		model = req.Model
	}
	return Response{
		Text:         strings.TrimSpace(out.text()),
		Model:        model,
		PromptTokens: out.UsageMetadata.PromptTokenCount,
		TotalTokens:  out.UsageMetadata.TotalTokenCount,
	}, nil
}

// Stream reads streamGenerateContent as server-sent events and sends the
// text of each event to onChunk.
func (p *GeminiProvider) Stream(ctx context.Context, req Request, onChunk func(string) error) (Response, error) {
	httpReq, err := p.newRequest(ctx, req, "streamGenerateContent")
	if err != nil {
		return Response{}, err
	}
	q := httpReq.URL.Query()
	q.Set("alt", "sse")
	httpReq.URL.RawQuery = q.Encode()

	resp, err := p.hc.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("gemini stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return Response{}, statusError(resp)
	}

	out := Response{Model: req.Model}
	var text strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 8<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		var event geminiResponse
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &event); err != nil {
			return Response{}, fmt.Errorf("decoding gemini stream event: %w", err)
		}
		if event.ModelVersion != "" {
			out.Model = event.ModelVersion
		}
		if event.UsageMetadata.TotalTokenCount > 0 {
			out.PromptTokens = event.UsageMetadata.PromptTokenCount
			out.TotalTokens = event.UsageMetadata.TotalTokenCount
		}
		chunk := event.text()
		if chunk == "" {
			continue
		}
		text.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return Response{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("reading gemini stream: %w", err)
	}
	out.Text = strings.TrimSpace(text.String())
	return out, nil
}

func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var text strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String()
}
