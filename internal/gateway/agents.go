package gateway

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"aigateway/config"
	"aigateway/internal/core"
)

// Agent is one persona. Its prompts are templates rendered per request.
type Agent struct {
	ID       string
	Name     string
	system   *template.Template
	fallback *template.Template
}

// PromptData is exposed to agent templates.
type PromptData struct {
	ID         string
	Name       string
	ActorID    string
	Feature    core.Feature
	Restricted bool
	Now        time.Time
}

func (a *Agent) data(actorID string, feature core.Feature, restricted bool) PromptData {
	return PromptData{
		ID:         a.ID,
		Name:       a.Name,
		ActorID:    actorID,
		Feature:    feature,
		Restricted: restricted,
		Now:        time.Now().UTC(),
	}
}

// SystemPrompt renders the agent's system prompt.
func (a *Agent) SystemPrompt(data PromptData) (string, error) {
	return render(a.system, data)
}

// FallbackMessage renders the message shown when every provider failed. A template
// error falls back to a fixed sentence so the degraded path cannot fail.
func (a *Agent) FallbackMessage(data PromptData) string {
	msg, err := render(a.fallback, data)
	if err != nil || strings.TrimSpace(msg) == "" {
		return fmt.Sprintf("%s is temporarily unavailable. Please try again in a few minutes.", a.Name)
	}
	return msg
}

func render(t *template.Template, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// AgentRegistry resolves agent IDs. Unknown IDs resolve to the first configured agent.
type AgentRegistry struct {
	agents    map[string]*Agent
	order     []string
	defaultID string
}

// NewAgentRegistry parses every agent's templates.
func NewAgentRegistry(cfgs []config.AgentConfig) (*AgentRegistry, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	r := &AgentRegistry{agents: make(map[string]*Agent, len(cfgs))}
	for _, c := range cfgs {
		id := strings.ToLower(strings.TrimSpace(c.ID))
		if id == "" {
			return nil, fmt.Errorf("agent without id")
		}
		if _, dup := r.agents[id]; dup {
			return nil, fmt.Errorf("duplicate agent %q", id)
		}
		name := c.Name
		if name == "" {
			name = c.ID
		}
		system, err := template.New(id + ".system").Funcs(sprig.TxtFuncMap()).Parse(c.SystemPrompt)
		if err != nil {
			return nil, fmt.Errorf("agent %q system prompt: %w", id, err)
		}
		fallback, err := template.New(id + ".fallback").Funcs(sprig.TxtFuncMap()).Parse(c.FallbackMessage)
		if err != nil {
			return nil, fmt.Errorf("agent %q fallback message: %w", id, err)
		}
		r.agents[id] = &Agent{ID: id, Name: name, system: system, fallback: fallback}
		r.order = append(r.order, id)
	}
	r.defaultID = r.order[0]
	return r, nil
}

// Resolve returns the agent for id, or the default agent.
func (r *AgentRegistry) Resolve(id string) *Agent {
	if a, ok := r.agents[strings.ToLower(strings.TrimSpace(id))]; ok {
		return a
	}
	return r.agents[r.defaultID]
}

// IDs returns the configured agent IDs in configuration order.
func (r *AgentRegistry) IDs() []string {
	return append([]string(nil), r.order...)
}
