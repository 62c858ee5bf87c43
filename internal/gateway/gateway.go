package gateway

import (
	"context"
	"log/slog"
	"strings"

	"aigateway/internal/core"
)

// ContextProvider supplies the context message for an actor.
type ContextProvider interface {
	Context(ctx context.Context, actorID string) (string, error)
}

// ContextFunc adapts a function to ContextProvider.
type ContextFunc func(ctx context.Context, actorID string) (string, error)

func (f ContextFunc) Context(ctx context.Context, actorID string) (string, error) {
	return f(ctx, actorID)
}

// Options are the per-call options of AskAgent.
type Options struct {
	Restricted    bool
	Feature       core.Feature
	ForceProvider core.ProviderID

	// ReasoningEffort defaults to auto; 3x raises the token and time bounds.
	ReasoningEffort core.ReasoningEffort
}

// Response is what AskAgent returns to callers.
type Response struct {
	Content    string          `json:"content"`
	Model      string          `json:"model"`
	Provider   core.ProviderID `json:"provider"`
	TokensUsed *int            `json:"tokens_used,omitempty"`
	Degraded   bool            `json:"degraded"`
	Attempts   int             `json:"attempts"`
	RequestID  string          `json:"request_id"`
}

// FallbackModel is the model reported by degraded responses.
const FallbackModel = "fallback"

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Dispatcher        *Dispatcher
	Agents            *AgentRegistry
	Context           ContextProvider
	Limits            map[core.Feature]core.FeatureLimits
	RestrictionNotice string
}

// Service is the public entry point of the gateway.
type Service struct {
	dispatcher        *Dispatcher
	agents            *AgentRegistry
	context           ContextProvider
	limits            map[core.Feature]core.FeatureLimits
	restrictionNotice string
}

// NewService creates a Service. Missing feature limits fall back to the built-in ones.
func NewService(cfg ServiceConfig) *Service {
	limits := core.DefaultFeatureLimits()
	for f, l := range cfg.Limits {
		limits[f] = l
	}
	return &Service{
		dispatcher:        cfg.Dispatcher,
		agents:            cfg.Agents,
		context:           cfg.Context,
		limits:            limits,
		restrictionNotice: cfg.RestrictionNotice,
	}
}

// Agents returns the agent registry.
func (s *Service) Agents() *AgentRegistry {
	return s.agents
}

// AskAgent answers message as agentID. Provider failures become a degraded response;
// an error is returned only for invalid input or a failed forced provider.
func (s *Service) AskAgent(ctx context.Context, agentID, message, actorID string, opts Options) (*Response, error) {
	if strings.TrimSpace(message) == "" {
		return nil, core.NewInvalidRequestError("message is required", nil)
	}
	feature := opts.Feature
	if feature == "" {
		feature = core.FeatureChat
	}
	if !feature.Valid() {
		return nil, core.NewInvalidRequestError("unknown feature "+string(feature), nil)
	}
	if opts.ForceProvider != "" && !opts.ForceProvider.Valid() {
		return nil, core.NewInvalidRequestError("unknown provider "+string(opts.ForceProvider), nil)
	}

	effort := opts.ReasoningEffort
	if effort == "" {
		effort = core.EffortAuto
	}
	if !effort.Valid() {
		return nil, core.NewInvalidRequestError("unknown reasoning effort "+string(effort), nil)
	}

	agent := s.agents.Resolve(agentID)
	data := agent.data(actorID, feature, opts.Restricted)
	prompt, err := s.buildPrompt(ctx, agent, data, message)
	if err != nil {
		return nil, err
	}

	limits := s.limits[feature].ForEffort(effort)
	prompt.MaxOutputTokens = limits.MaxOutputTokens
	prompt.ReasoningEffort = effort

	res, err := s.dispatcher.Dispatch(ctx, Request{
		Feature:       feature,
		Prompt:        prompt,
		ActorID:       actorID,
		ForceProvider: opts.ForceProvider,
		Timeout:       limits.Timeout,
	})
	if err != nil {
		return nil, err
	}

	if res.Degraded {
		return &Response{
			Content:   agent.FallbackMessage(data),
			Model:     FallbackModel,
			Provider:  res.Provider,
			Degraded:  true,
			Attempts:  res.Attempts,
			RequestID: res.RequestID,
		}, nil
	}

	c := res.Completion
	return &Response{
		Content:    c.Content,
		Model:      c.Model,
		Provider:   res.Provider,
		TokensUsed: c.TokensUsed,
		Attempts:   res.Attempts,
		RequestID:  res.RequestID,
	}, nil
}

func (s *Service) buildPrompt(ctx context.Context, agent *Agent, data PromptData, message string) (core.Prompt, error) {
	system, err := agent.SystemPrompt(data)
	if err != nil {
		return core.Prompt{}, core.NewInvalidRequestError("failed to render agent prompt", err)
	}
	prompt := core.Prompt{SystemPrompt: system, UserMessage: message}

	if data.Restricted {
		if s.restrictionNotice != "" {
			prompt.SystemPrompt = strings.TrimSpace(prompt.SystemPrompt + "\n\n" + s.restrictionNotice)
		}
		return prompt, nil
	}

	if s.context != nil {
		msg, err := s.context.Context(ctx, data.ActorID)
		if err != nil {
			slog.Warn("failed to load agent context", "agent", agent.ID, "actor_id", data.ActorID, "error", err)
		} else {
			prompt.ContextMessage = msg
		}
	}
	return prompt, nil
}
