// Package providers defines the Provider Client contract and builds one client per
// ProviderID from configuration.
package providers

import (
	"context"
	"strings"

	"aigateway/internal/core"
)

// Client is a stateless adapter from the normalized prompt to one provider's HTTP API.
//
// Call fails with a *core.GatewayError of type configuration_error when credentials are
// missing (without doing I/O), transport_error on timeouts and connection failures,
// provider_error on non-success statuses, and empty_response_error when the body has no
// usable content.
type Client interface {
	ID() core.ProviderID
	// Model is the configured model name, used for ledger records of failed calls.
	Model() string
	// Configured reports whether credentials are present.
	Configured() bool
	Call(ctx context.Context, prompt core.Prompt) (*core.Completion, error)
}

// JoinSystem returns the system prompt followed by the context message, separated by a
// blank line. Adapters with a single system slot send this text.
func JoinSystem(prompt core.Prompt) string {
	if prompt.ContextMessage == "" {
		return prompt.SystemPrompt
	}
	if prompt.SystemPrompt == "" {
		return prompt.ContextMessage
	}
	return prompt.SystemPrompt + "\n\n" + prompt.ContextMessage
}

// ReasoningEffortFor returns the reasoning_effort value to send to model. Only DeepSeek
// models accept the field.
func ReasoningEffortFor(model string, e core.ReasoningEffort) string {
	if !strings.Contains(strings.ToLower(model), "deepseek") {
		return ""
	}
	return string(e)
}

// Tokens builds a TokensUsed value, or nil when the provider reported no usage.
func Tokens(total int, reported bool) *int {
	if !reported {
		return nil
	}
	return &total
}
