// Package synth is the AI manifest synthesizer: it asks an LLM provider to
// generate Kubernetes manifests from a repository's compose file and
// surrounding context, validates the result, and falls back to the baseline
// compose synthesizer (pkg/compose) on any failure.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// maxOutputTokens is the output cap every provider enforces via its own
// request-body token-limit field.
const maxOutputTokens = 8192

// Response is a provider's raw completion, before JSON/manifest parsing,
// plus the token accounting and model identity the caller records
// alongside the synthesized manifests.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Provider generates a completion from a system and user prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, systemPrompt, userPrompt string) (Response, error)
}

// NewProvider builds the configured provider. An empty apiKey returns
// (nil, nil): the caller treats a nil provider as "AI synthesis unavailable"
// and goes straight to the compose fallback, the same posture the
// source-host driver takes when its credentials are absent.
func NewProvider(name string, anthropicKey, anthropicModel, openAIKey, openAIModel, geminiKey, geminiModel string) (Provider, error) {
	client := &http.Client{Timeout: 60 * time.Second}
	switch name {
	case "none":
		return nil, nil
	case "anthropic":
		if anthropicKey == "" {
			return nil, nil
		}
		return &anthropicProvider{httpClient: client, apiKey: anthropicKey, model: anthropicModel}, nil
	case "openai":
		if openAIKey == "" {
			return nil, nil
		}
		return &openAIProvider{httpClient: client, apiKey: openAIKey, model: openAIModel}, nil
	case "gemini":
		if geminiKey == "" {
			return nil, nil
		}
		return &geminiProvider{httpClient: client, apiKey: geminiKey, model: geminiModel}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", name)
	}
}

type anthropicProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (Response, error) {
	reqBody := map[string]any{
		"model":      p.model,
		"max_tokens": maxOutputTokens,
		"system":     systemPrompt,
		"messages": []map[string]any{
			{"role": "user", "content": userPrompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("calling Anthropic: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("Anthropic returned HTTP %d", resp.StatusCode)
	}

	var out struct {
		Model   string `json:"model"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Content) == 0 {
		return Response{}, fmt.Errorf("Anthropic returned no content blocks")
	}
	return Response{
		Text:         out.Content[0].Text,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		Model:        out.Model,
	}, nil
}

type openAIProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (Response, error) {
	reqBody := map[string]any{
		"model":      p.model,
		"max_tokens": maxOutputTokens,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("calling OpenAI: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("OpenAI returned HTTP %d", resp.StatusCode)
	}

	var out struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Response{}, fmt.Errorf("OpenAI returned no choices")
	}
	return Response{
		Text:         out.Choices[0].Message.Content,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		Model:        out.Model,
	}, nil
}

type geminiProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (Response, error) {
	reqBody := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": userPrompt}}},
		},
		"systemInstruction": map[string]any{
			"parts": []map[string]any{{"text": systemPrompt}},
		},
		"generationConfig": map[string]any{
			"maxOutputTokens": maxOutputTokens,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("marshalling request: %w", err)
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("calling Gemini: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("Gemini returned HTTP %d", resp.StatusCode)
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return Response{}, fmt.Errorf("Gemini returned no content parts")
	}
	return Response{
		Text:         out.Candidates[0].Content.Parts[0].Text,
		InputTokens:  out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
		Model:        p.model,
	}, nil
}
