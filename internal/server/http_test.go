package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpointAlwaysAvailable(t *testing.T) {
	srv := newTestServer(&mockAgents{}, &mockUsage{}, "secret")

	rec := do(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpointSkipsAuth(t *testing.T) {
	srv := newTestServer(&mockAgents{}, &mockUsage{}, "secret")

	rec := do(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAPIRoutesRequireMasterKey(t *testing.T) {
	srv := newTestServer(&mockAgents{}, &mockUsage{}, "secret")

	for _, path := range []string{"/v1/usage/providers", "/v1/diagnostics"} {
		rec := do(srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)

		rec = do(srv, http.MethodGet, path, "", "Authorization", "Bearer secret")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := do(srv, http.MethodPost, "/v1/agents/assistant/ask", `{"message":"hi"}`, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(&mockAgents{}, &mockUsage{}, "")

	rec := do(srv, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = do(srv, http.MethodGet, "/health", "", "X-Request-Id", "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestBodyLimit(t *testing.T) {
	srv := New(NewHandler(&mockAgents{}, &mockUsage{}, nil), Config{BodySizeLimit: "64B"})

	body := `{"message":"` + strings.Repeat("a", 128) + `"}`
	rec := do(srv, http.MethodPost, "/v1/agents/assistant/ask", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
