// Package openaicompat adapts providers that expose the OpenAI chat completions API,
// such as DeepSeek, through the go-openai client.
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"aigateway/config"
	"aigateway/internal/core"
	"aigateway/internal/httpclient"
	"aigateway/internal/providers"
)

const (
	defaultBaseURL = "https://api.deepseek.com/v1"
	defaultModel   = "deepseek-chat"
)

func init() {
	providers.Register("openai_compatible", func(id core.ProviderID, cfg config.ProviderConfig, hc *http.Client) (providers.Client, error) {
		return New(id, cfg.APIKey, cfg.BaseURL, cfg.Model, hc), nil
	})
}

// Provider calls one model of an OpenAI-compatible API.
type Provider struct {
	id     core.ProviderID
	apiKey string
	model  string
	client *openai.Client
}

// New creates the client. Empty baseURL and model select DeepSeek defaults.
func New(id core.ProviderID, apiKey, baseURL, model string, httpClient *http.Client) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = httpClient

	return &Provider{
		id:     id,
		apiKey: apiKey,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (p *Provider) ID() core.ProviderID { return p.id }
func (p *Provider) Model() string       { return p.model }
func (p *Provider) Configured() bool    { return p.apiKey != "" }

// Call sends one chat completion request.
func (p *Provider) Call(ctx context.Context, prompt core.Prompt) (*core.Completion, error) {
	if p.apiKey == "" {
		return nil, core.NewConfigurationError(p.id, "API key not configured")
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system := providers.JoinSystem(prompt); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.UserMessage})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:       prompt.MaxOutputTokens,
		Temperature:     0.7,
		ReasoningEffort: providers.ReasoningEffortFor(p.model, prompt.ReasoningEffort),
	})
	if err != nil {
		return nil, p.mapError(err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		msg := "response has no content"
		if len(resp.Choices) > 0 && resp.Choices[0].FinishReason != "" {
			msg += " (" + string(resp.Choices[0].FinishReason) + ")"
		}
		return nil, core.NewEmptyResponseError(p.id, msg)
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &core.Completion{
		Content:    resp.Choices[0].Message.Content,
		Model:      model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		TokensUsed: providers.Tokens(resp.Usage.TotalTokens, resp.Usage.TotalTokens > 0),
	}, nil
}

func (p *Provider) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return core.NewUpstreamStatusError(p.id, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return core.NewUpstreamStatusError(p.id, reqErr.HTTPStatusCode, "", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewTransportError(p.id, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return core.NewTransportError(p.id, "request cancelled", err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return core.NewEmptyResponseError(p.id, "unparseable response body")
	}
	return core.NewTransportError(p.id, "failed to send request: "+err.Error(), err)
}
