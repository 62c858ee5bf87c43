// Package openrouter adapts the OpenRouter chat completions API. It serves both the free
// and the paid aggregator tiers; the tier is selected by the configured model.
package openrouter

import (
	"context"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"aigateway/config"
	"aigateway/internal/core"
	"aigateway/internal/pkg/llmclient"
	"aigateway/internal/providers"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

func init() {
	providers.Register("openrouter", func(id core.ProviderID, cfg config.ProviderConfig, hc *http.Client) (providers.Client, error) {
		p := New(id, cfg.APIKey, cfg.Model, cfg.Headers, hc)
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
}

// Provider calls one OpenRouter model.
type Provider struct {
	id      core.ProviderID
	apiKey  string
	model   string
	headers map[string]string
	client  *llmclient.Client
}

// New creates an OpenRouter client. headers are sent with every call, typically
// HTTP-Referer and X-Title for app attribution.
func New(id core.ProviderID, apiKey, model string, headers map[string]string, httpClient *http.Client) *Provider {
	p := &Provider{id: id, apiKey: apiKey, model: model, headers: headers}
	p.client = llmclient.New(httpClient, llmclient.Config{
		Provider: id,
		BaseURL:  defaultBaseURL,
	}, p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(strings.TrimRight(url, "/"))
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
}

func (p *Provider) ID() core.ProviderID { return p.id }
func (p *Provider) Model() string       { return p.model }
func (p *Provider) Configured() bool    { return p.apiKey != "" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`

	// ReasoningEffort is only set for DeepSeek models.
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

// Call sends one chat completion request.
func (p *Provider) Call(ctx context.Context, prompt core.Prompt) (*core.Completion, error) {
	if p.apiKey == "" {
		return nil, core.NewConfigurationError(p.id, "OpenRouter API key not configured")
	}
	if p.model == "" {
		return nil, core.NewConfigurationError(p.id, "OpenRouter model not configured")
	}

	messages := make([]message, 0, 2)
	if system := providers.JoinSystem(prompt); system != "" {
		messages = append(messages, message{Role: "system", Content: system})
	}
	messages = append(messages, message{Role: "user", Content: prompt.UserMessage})

	resp, err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body: chatRequest{
			Model:       p.model,
			Messages:    messages,
			MaxTokens:       prompt.MaxOutputTokens,
			Temperature:     0.7,
			ReasoningEffort: providers.ReasoningEffortFor(p.model, prompt.ReasoningEffort),
		},
	})
	if err != nil {
		return nil, err
	}
	return p.parse(resp.Body)
}

func (p *Provider) parse(body []byte) (*core.Completion, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewEmptyResponseError(p.id, "unparseable response body")
	}
	// OpenRouter reports some upstream failures inside a 200 response.
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		status := int(gjson.GetBytes(body, "error.code").Int())
		if status == 0 {
			status = http.StatusBadGateway
		}
		return nil, core.NewUpstreamStatusError(p.id, status, msg.String(), nil)
	}

	text := gjson.GetBytes(body, "choices.0.message.content").String()
	if strings.TrimSpace(text) == "" {
		msg := "response has no content"
		if reason := gjson.GetBytes(body, "choices.0.finish_reason").String(); reason != "" {
			msg += " (" + reason + ")"
		}
		return nil, core.NewEmptyResponseError(p.id, msg)
	}

	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		model = p.model
	}
	usage := gjson.GetBytes(body, "usage")
	total := usage.Get("total_tokens")
	return &core.Completion{
		Content:    text,
		Model:      model,
		TokensIn:   int(usage.Get("prompt_tokens").Int()),
		TokensOut:  int(usage.Get("completion_tokens").Int()),
		TokensUsed: providers.Tokens(int(total.Int()), total.Exists()),
	}, nil
}
