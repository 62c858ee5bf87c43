// Package gateway turns one logical "ask an agent" call into a sequential, cost-ordered
// dispatch across providers, recording every attempt in the Usage Ledger and the Health
// Tracker.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aigateway/internal/alert"
	"aigateway/internal/core"
	"aigateway/internal/health"
	"aigateway/internal/observability"
	"aigateway/internal/providers"
	"aigateway/internal/usage"
)

// Selector picks the provider for the next attempt.
type Selector interface {
	SelectNextProvider(ctx context.Context, feature core.Feature, excluded core.ExclusionSet) core.StrategyDecision
}

// ClientSource resolves the client of a provider.
type ClientSource interface {
	Get(p core.ProviderID) providers.Client
}

// TaskSubmitter queues background work without blocking.
type TaskSubmitter interface {
	Submit(name string, task alert.Task) bool
}

// Request is one logical request as seen by the Dispatcher.
type Request struct {
	Feature core.Feature
	Prompt  core.Prompt
	ActorID string
	// ForceProvider bypasses the Selector and disables fallback.
	ForceProvider core.ProviderID
	// Timeout bounds each provider call; zero selects the dispatcher default.
	Timeout time.Duration
}

// Result is the outcome of Dispatch. When Degraded is set no provider succeeded and
// Completion is nil.
type Result struct {
	RequestID  string
	Provider   core.ProviderID
	Completion *core.Completion
	Attempts   int
	Degraded   bool
}

// DispatcherConfig holds the dispatcher's collaborators and limits.
type DispatcherConfig struct {
	Selector Selector
	Clients  ClientSource
	Tracker  health.Tracker
	Alerter  *health.Alerter
	Alerts   TaskSubmitter
	Ledger   usage.Ledger
	Prices   usage.PriceTable
	// CallTimeout bounds each provider call (default 30s)
	CallTimeout time.Duration
	// MaxAttempts caps attempts per request (default one per provider)
	MaxAttempts int
}

// Dispatcher runs the SELECT, CALL, SUCCESS and FAIL loop of each request.
type Dispatcher struct {
	selector    Selector
	clients     ClientSource
	tracker     health.Tracker
	alerter     *health.Alerter
	alerts      TaskSubmitter
	ledger      usage.Ledger
	prices      usage.PriceTable
	callTimeout time.Duration
	maxAttempts int
}

// NewDispatcher creates a Dispatcher. Selector, Clients and Tracker are required.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		selector:    cfg.Selector,
		clients:     cfg.Clients,
		tracker:     cfg.Tracker,
		alerter:     cfg.Alerter,
		alerts:      cfg.Alerts,
		ledger:      cfg.Ledger,
		prices:      cfg.Prices,
		callTimeout: cfg.CallTimeout,
		maxAttempts: cfg.MaxAttempts,
	}
	if d.ledger == nil {
		d.ledger = usage.NoopLedger{}
	}
	if d.callTimeout <= 0 {
		d.callTimeout = 30 * time.Second
	}
	if n := len(core.Providers()); d.maxAttempts <= 0 || d.maxAttempts > n {
		d.maxAttempts = n
	}
	return d
}

type state int

const (
	stateSelect state = iota
	stateCall
	stateSuccess
	stateFail
)

func (s state) String() string {
	switch s {
	case stateSelect:
		return "select"
	case stateCall:
		return "call"
	case stateSuccess:
		return "success"
	case stateFail:
		return "fail"
	}
	return "unknown"
}

// run is the per-request state. It is never shared between requests.
type run struct {
	req       Request
	requestID string
	excluded  core.ExclusionSet
	attempts  int
	decision  core.StrategyDecision
	outcome   attemptOutcome
}

type attemptOutcome struct {
	completion *core.Completion
	err        error
	model      string
	latency    time.Duration
}

// Dispatch tries providers one at a time until one succeeds. It returns an error only
// when ForceProvider is set and that provider fails; exhaustion yields a degraded Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.Feature == "" {
		req.Feature = core.FeatureChat
	}
	r := &run{
		req:       req,
		requestID: uuid.NewString(),
		excluded:  core.ExclusionSet{},
	}
	if req.ForceProvider != "" {
		return d.dispatchForced(ctx, r)
	}

	st := stateSelect
	for {
		switch st {
		case stateSelect:
			var ok bool
			st, ok = d.selectNext(ctx, r)
			if !ok {
				return d.degraded(r), nil
			}
		case stateCall:
			st = d.call(ctx, r)
		case stateSuccess:
			d.recordSuccess(ctx, r)
			observability.ObserveRequest(req.Feature, observability.OutcomeSuccess)
			return d.success(r), nil
		case stateFail:
			if ctx.Err() != nil {
				d.recordCancelled(ctx, r)
				return d.degraded(r), nil
			}
			d.recordFailure(ctx, r)
			r.excluded.Add(r.decision.Provider)
			st = stateSelect
		}
	}
}

// selectNext reports false when the request should stop with a degraded result.
func (d *Dispatcher) selectNext(ctx context.Context, r *run) (state, bool) {
	if r.attempts >= d.maxAttempts {
		return stateSelect, false
	}
	if ctx.Err() != nil {
		slog.Info("request cancelled, stopping dispatch", "request_id", r.requestID, "attempts", r.attempts)
		return stateSelect, false
	}

	dec := d.selector.SelectNextProvider(ctx, r.req.Feature, r.excluded)
	slog.Info("provider selected",
		"request_id", r.requestID,
		"provider", dec.Provider,
		"feature", r.req.Feature,
		"reason", dec.Reason,
		"attempt", r.attempts+1,
		"degraded", dec.Degraded,
	)
	if dec.Exhausted || r.excluded.Has(dec.Provider) {
		return stateSelect, false
	}
	r.decision = dec
	return stateCall, true
}

func (d *Dispatcher) call(ctx context.Context, r *run) state {
	r.outcome = d.invoke(ctx, r.decision.Provider, r.req)
	r.attempts++
	if r.outcome.err != nil {
		return stateFail
	}
	return stateSuccess
}

func (d *Dispatcher) invoke(ctx context.Context, p core.ProviderID, req Request) attemptOutcome {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.callTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := d.clients.Get(p)
	start := time.Now()
	completion, err := client.Call(callCtx, req.Prompt)
	out := attemptOutcome{
		completion: completion,
		err:        err,
		model:      client.Model(),
		latency:    time.Since(start),
	}
	if err == nil && completion == nil {
		out.err = core.NewEmptyResponseError(p, "provider returned no completion")
	}
	return out
}

func (d *Dispatcher) recordSuccess(ctx context.Context, r *run) {
	p, f := r.decision.Provider, r.req.Feature
	d.tracker.RecordSuccess(ctx, p, f)
	observability.SetStreak(p, f, 0)
	observability.ObserveAttempt(p, f, r.outcome.latency, "")

	c := r.outcome.completion
	in, out := tokenCounts(r.req.Prompt, c)
	rec := d.newRecord(r)
	rec.Model = c.Model
	rec.TokensIn = in
	rec.TokensOut = out
	rec.CostEstimate = d.prices.Estimate(p, in, out)
	rec.Success = true
	d.ledger.Append(ctx, rec)
}

func (d *Dispatcher) recordFailure(ctx context.Context, r *run) {
	p, f := r.decision.Provider, r.req.Feature
	streak := d.tracker.RecordFailure(ctx, p, f)
	observability.SetStreak(p, f, streak)
	observability.ObserveAttempt(p, f, r.outcome.latency, errorType(r.outcome.err))

	slog.Warn("provider attempt failed",
		"request_id", r.requestID,
		"provider", p,
		"feature", f,
		"attempt", r.attempts,
		"consecutive_failures", streak,
		"error", r.outcome.err,
	)

	if d.alerter != nil && d.alerts != nil && streak >= d.alerter.Threshold() {
		d.alerts.Submit("health:"+string(p)+":"+string(f), d.alerter.Task(p, f))
	}

	rec := d.newRecord(r)
	rec.Model = r.outcome.model
	rec.Success = false
	rec.ErrorMessage = r.outcome.err.Error()
	d.ledger.Append(ctx, rec)
}

// recordCancelled logs an attempt abandoned by the caller. The provider's streak is left
// untouched and no alert is raised.
func (d *Dispatcher) recordCancelled(ctx context.Context, r *run) {
	p, f := r.decision.Provider, r.req.Feature
	observability.ObserveAttempt(p, f, r.outcome.latency, core.ErrorTypeCancelled)

	slog.Info("provider attempt cancelled by caller",
		"request_id", r.requestID,
		"provider", p,
		"feature", f,
		"attempt", r.attempts,
		"error", r.outcome.err,
	)

	rec := d.newRecord(r)
	rec.Model = r.outcome.model
	rec.ErrorMessage = usage.CancelledPrefix + r.outcome.err.Error()
	d.ledger.Append(ctx, rec)
}

func (d *Dispatcher) newRecord(r *run) *usage.Record {
	rec := usage.NewRecord(r.requestID, r.attempts, r.decision.Provider, r.req.Feature)
	rec.LatencyMs = r.outcome.latency.Milliseconds()
	rec.ActorID = r.req.ActorID
	return rec
}

func (d *Dispatcher) success(r *run) *Result {
	return &Result{
		RequestID:  r.requestID,
		Provider:   r.decision.Provider,
		Completion: r.outcome.completion,
		Attempts:   r.attempts,
	}
}

func (d *Dispatcher) degraded(r *run) *Result {
	observability.ObserveRequest(r.req.Feature, observability.OutcomeDegraded)
	slog.Error("all providers failed, returning degraded response",
		"request_id", r.requestID,
		"feature", r.req.Feature,
		"attempts", r.attempts,
	)
	return &Result{
		RequestID: r.requestID,
		Provider:  core.Providers()[0],
		Attempts:  r.attempts,
		Degraded:  true,
	}
}

// dispatchForced makes exactly one attempt with the forced provider and never falls back.
func (d *Dispatcher) dispatchForced(ctx context.Context, r *run) (*Result, error) {
	p := r.req.ForceProvider
	if !p.Valid() {
		return nil, core.NewInvalidRequestError("unknown provider "+string(p), nil)
	}
	r.decision = core.StrategyDecision{Provider: p, Reason: "forced by caller"}
	slog.Info("provider forced",
		"request_id", r.requestID,
		"provider", p,
		"feature", r.req.Feature,
	)

	if d.call(ctx, r) == stateSuccess {
		d.recordSuccess(ctx, r)
		observability.ObserveRequest(r.req.Feature, observability.OutcomeSuccess)
		return d.success(r), nil
	}
	if ctx.Err() != nil {
		d.recordCancelled(ctx, r)
	} else {
		d.recordFailure(ctx, r)
	}
	observability.ObserveRequest(r.req.Feature, observability.OutcomeForcedFailure)
	return nil, &core.ForcedProviderError{Provider: p, Err: r.outcome.err}
}

// tokenCounts returns the input and output tokens of a successful call, estimating from
// text when the provider did not report a split.
func tokenCounts(prompt core.Prompt, c *core.Completion) (in, out int) {
	in, out = c.TokensIn, c.TokensOut
	if in > 0 || out > 0 {
		return in, out
	}
	in = usage.EstimateTokens(prompt.SystemPrompt, prompt.ContextMessage, prompt.UserMessage)
	if c.TokensUsed != nil {
		return min(in, *c.TokensUsed), max(*c.TokensUsed-in, 0)
	}
	return in, usage.EstimateTokens(c.Content)
}

func errorType(err error) core.ErrorType {
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Type
	}
	return core.ErrorTypeProvider
}
