package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigateway/internal/core"
)

type recordingNotifier struct {
	mu     sync.Mutex
	name   string
	err    error
	alerts []Alert
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Notify(_ context.Context, a Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func TestAlert_Text(t *testing.T) {
	a := Alert{
		Severity: SeverityCritical,
		Title:    "Provider failing",
		Message:  "3 consecutive failures",
		Provider: core.PaidDirect,
		Feature:  core.FeatureOCR,
		Fields:   map[string]string{"b": "2", "a": "1"},
		At:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	text := a.Text()

	assert.True(t, strings.HasPrefix(text, "🚨 *Provider failing*\n"))
	assert.Contains(t, text, "provider: `paid_direct`")
	assert.Contains(t, text, "feature: `ocr`")
	assert.Less(t, strings.Index(text, "a: 1"), strings.Index(text, "b: 2"))
	assert.True(t, strings.HasSuffix(text, "_2026-03-10T12:00:00Z_"))
}

func TestMulti_CallsEveryNotifier(t *testing.T) {
	failing := &recordingNotifier{name: "first", err: errors.New("down")}
	ok := &recordingNotifier{name: "second"}
	m := Multi{failing, ok}

	err := m.Notify(context.Background(), Alert{Title: "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "first: down")
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, "first,second", m.Name())
}

func TestLogNotifier_NeverFails(t *testing.T) {
	n := NewLogNotifier(nil)
	assert.NoError(t, n.Notify(context.Background(), Alert{Title: "x", Severity: SeverityWarning}))
}

func TestSlackNotifier_PostsWebhook(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewSlackNotifier(srv.URL, "#ops")
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), Alert{Title: "Budget warning", Severity: SeverityWarning}))

	assert.Equal(t, "Budget warning", body["text"])
	assert.Equal(t, "#ops", body["channel"])
}

func TestSlackNotifier_ReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, err := NewSlackNotifier(srv.URL, "")
	require.NoError(t, err)
	assert.Error(t, n.Notify(context.Background(), Alert{Title: "x"}))

	_, err = NewSlackNotifier("", "")
	assert.Error(t, err)
}

func TestTelegramNotifier_SendsEscapedMarkdownV2(t *testing.T) {
	var gotPath string
	var gotText, gotMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotText = r.FormValue("text")
		gotMode = r.FormValue("parse_mode")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	n, err := NewTelegramNotifier("123:abc", "42", bot.WithServerURL(srv.URL))
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), Alert{
		Severity: SeverityCritical,
		Title:    "AI provider failing",
		Message:  "error rate 45.5% over 1h",
		Provider: core.PaidDirect,
		Feature:  core.FeatureChat,
		Fields:   map[string]string{"daily_cost": "$5.10"},
		At:       time.Date(2026, 10, 14, 5, 0, 0, 0, time.UTC),
	}))

	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "MarkdownV2", gotMode)
	assert.Equal(t, "🚨 *AI provider failing*\n"+
		"error rate 45\\.5% over 1h\n"+
		"provider: `paid\\_direct`\n"+
		"feature: `chat`\n"+
		"daily\\_cost: $5\\.10\n"+
		"_2026\\-10\\-14T05:00:00Z_", gotText)
}

func TestTelegramText_EscapesBackslashAndCapsMessage(t *testing.T) {
	text := telegramText(Alert{Title: "x", Message: `C:\tmp` + strings.Repeat("a", 2*telegramMaxMessageRunes)})
	assert.Contains(t, text, `C:\\tmp`)
	assert.Less(t, len([]rune(text)), 4096)
	assert.True(t, strings.HasSuffix(text, "_"), "footer entity must stay closed")
}

func TestNewTelegramNotifier_Validates(t *testing.T) {
	_, err := NewTelegramNotifier("", "1")
	assert.Error(t, err)
	_, err = NewTelegramNotifier("token", "not-a-number")
	assert.Error(t, err)
}

func TestDispatcher_RunsTasksAndSwallowsFailures(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 2, QueueSize: 8, Timeout: time.Second})

	var ran atomic.Int32
	assert.True(t, d.Submit("ok", func(context.Context) error { ran.Add(1); return nil }))
	assert.True(t, d.Submit("err", func(context.Context) error { ran.Add(1); return errors.New("sink down") }))
	assert.True(t, d.Submit("panic", func(context.Context) error { ran.Add(1); panic("boom") }))
	assert.True(t, d.Submit("after-panic", func(context.Context) error { ran.Add(1); return nil }))

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(4), ran.Load())
}

func TestDispatcher_TaskHasDeadline(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1, Timeout: 20 * time.Millisecond})

	done := make(chan error, 1)
	d.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("task context was not cancelled")
	}
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_SubmitNeverBlocks(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1, Timeout: time.Second})
	release := make(chan struct{})

	require.True(t, d.Submit("blocker", func(context.Context) error { <-release; return nil }))
	// Wait until the worker picked up the blocker so the queue slot is free.
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, d.Submit("queued", func(context.Context) error { return nil }))

	start := time.Now()
	assert.False(t, d.Submit("dropped", func(context.Context) error { return nil }))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, d.Submit("closed", func(context.Context) error { return nil }))
	assert.NoError(t, d.Close(context.Background()))
}
