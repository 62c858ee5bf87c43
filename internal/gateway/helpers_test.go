package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"aigateway/internal/alert"
	"aigateway/internal/core"
	"aigateway/internal/health"
	"aigateway/internal/providers"
	"aigateway/internal/strategy"
	"aigateway/internal/usage"
)

// fakeClient answers with a scripted result per call. With an empty script it fails.
type fakeClient struct {
	id       core.ProviderID
	mu       sync.Mutex
	calls    int
	prompts  []core.Prompt
	budgets  []time.Duration // time left until the call deadline
	err      error
	response *core.Completion

	// onCall runs inside Call; a cancelled ctx afterwards fails the call.
	onCall func()
}

func failing(id core.ProviderID) *fakeClient {
	return &fakeClient{id: id, err: core.NewProviderError(id, 502, "status 500: boom", nil)}
}

func answering(id core.ProviderID, content string) *fakeClient {
	total := 42
	return &fakeClient{id: id, response: &core.Completion{
		Content:    content,
		Model:      string(id) + "-model",
		TokensIn:   30,
		TokensOut:  12,
		TokensUsed: &total,
	}}
}

func (c *fakeClient) ID() core.ProviderID { return c.id }
func (c *fakeClient) Model() string       { return string(c.id) + "-model" }
func (c *fakeClient) Configured() bool    { return true }

func (c *fakeClient) Call(ctx context.Context, prompt core.Prompt) (*core.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.prompts = append(c.prompts, prompt)
	if dl, ok := ctx.Deadline(); ok {
		c.budgets = append(c.budgets, time.Until(dl))
	}
	if c.onCall != nil {
		c.onCall()
		if err := ctx.Err(); err != nil {
			return nil, core.NewTransportError(c.id, "call aborted", err)
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.response, nil
}

func (c *fakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// syncSubmitter runs tasks inline.
type syncSubmitter struct {
	mu    sync.Mutex
	names []string
}

func (s *syncSubmitter) Submit(name string, task alert.Task) bool {
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
	_ = task(context.Background())
	return true
}

type countingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *countingNotifier) Name() string { return "counting" }

func (n *countingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *countingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type failingStore struct{}

func (failingStore) WriteBatch(context.Context, []*usage.Record) error {
	return errors.New("disk full")
}
func (failingStore) Flush(context.Context) error { return nil }
func (failingStore) Close() error                { return nil }

type fixture struct {
	store    *usage.MemoryStore
	tracker  *health.MemoryTracker
	notifier *countingNotifier
	submit   *syncSubmitter
	budget   *strategy.BudgetTracker
	clients  map[core.ProviderID]*fakeClient
}

// newFixture builds a dispatcher over clients. Providers without a client fail.
func newFixture(limits map[core.ProviderID]strategy.Limits, clients ...*fakeClient) (*fixture, *Dispatcher) {
	f := &fixture{
		store:    usage.NewMemoryStore(),
		tracker:  health.NewMemoryTracker(),
		notifier: &countingNotifier{},
		submit:   &syncSubmitter{},
		clients:  map[core.ProviderID]*fakeClient{},
	}
	for _, c := range clients {
		f.clients[c.id] = c
	}
	var list []providers.Client
	for _, p := range core.Providers() {
		c, ok := f.clients[p]
		if !ok {
			c = failing(p)
			f.clients[p] = c
		}
		list = append(list, c)
	}
	f.budget = strategy.NewBudgetTracker(f.store, nil, limits, 0)
	d := NewDispatcher(DispatcherConfig{
		Selector: strategy.NewSelector(f.budget, f.tracker, 5),
		Clients:  providers.NewRegistry(list...),
		Tracker:  f.tracker,
		Alerter:  health.NewAlerter(f.tracker, f.notifier, 3),
		Alerts:   f.submit,
		Ledger:   f.store,
		Prices: usage.PriceTable{
			core.PaidDirect: {InputPerMtok: mustDecimal("0.27"), OutputPerMtok: mustDecimal("1.10")},
		},
	})
	return f, d
}
