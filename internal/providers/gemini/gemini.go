// Package gemini adapts the native Google Gemini generateContent API.
package gemini

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

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

func init() {
	providers.Register("gemini", func(id core.ProviderID, cfg config.ProviderConfig, hc *http.Client) (providers.Client, error) {
		p := New(id, cfg.APIKey, cfg.Model, hc)
		if cfg.BaseURL != "" {
			p.SetBaseURL(cfg.BaseURL)
		}
		return p, nil
	})
}

// Provider calls Gemini models through the native API.
type Provider struct {
	id     core.ProviderID
	apiKey string
	model  string
	client *llmclient.Client
}

// New creates a Gemini client. A nil httpClient selects the shared default client.
func New(id core.ProviderID, apiKey, model string, httpClient *http.Client) *Provider {
	if model == "" {
		model = defaultModel
	}
	p := &Provider{id: id, apiKey: apiKey, model: model}
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
	req.Header.Set("x-goog-api-key", p.apiKey)
}

func (p *Provider) ID() core.ProviderID { return p.id }
func (p *Provider) Model() string       { return p.model }
func (p *Provider) Configured() bool    { return p.apiKey != "" }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

func buildRequest(prompt core.Prompt) generateRequest {
	req := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt.UserMessage}}}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: prompt.MaxOutputTokens,
			Temperature:     0.7,
		},
	}
	if system := providers.JoinSystem(prompt); system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	return req
}

// Call sends one generateContent request.
func (p *Provider) Call(ctx context.Context, prompt core.Prompt) (*core.Completion, error) {
	if p.apiKey == "" {
		return nil, core.NewConfigurationError(p.id, "gemini API key not configured")
	}

	resp, err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + p.model + ":generateContent",
		Body:     buildRequest(prompt),
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
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return nil, core.NewProviderError(p.id, http.StatusBadGateway, msg.String(), nil)
	}

	var text strings.Builder
	for _, t := range gjson.GetBytes(body, "candidates.0.content.parts.#.text").Array() {
		text.WriteString(t.String())
	}
	if strings.TrimSpace(text.String()) == "" {
		reason := gjson.GetBytes(body, "promptFeedback.blockReason").String()
		if reason == "" {
			reason = gjson.GetBytes(body, "candidates.0.finishReason").String()
		}
		msg := "response has no text"
		if reason != "" {
			msg += " (" + reason + ")"
		}
		return nil, core.NewEmptyResponseError(p.id, msg)
	}

	model := gjson.GetBytes(body, "modelVersion").String()
	if model == "" {
		model = p.model
	}

	usage := gjson.GetBytes(body, "usageMetadata")
	total := usage.Get("totalTokenCount")
	return &core.Completion{
		Content:    text.String(),
		Model:      model,
		TokensIn:   int(usage.Get("promptTokenCount").Int()),
		TokensOut:  int(usage.Get("candidatesTokenCount").Int()),
		TokensUsed: providers.Tokens(int(total.Int()), total.Exists()),
	}, nil
}
