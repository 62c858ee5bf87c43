package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		masterKey   string
		authHeader  string
		wantStatus  int
		wantMessage string
	}{
		{name: "no master key configured", wantStatus: http.StatusOK},
		{name: "valid key", masterKey: "k-123", authHeader: "Bearer k-123", wantStatus: http.StatusOK},
		{name: "missing header", masterKey: "k-123", wantStatus: http.StatusUnauthorized, wantMessage: "missing authorization header"},
		{name: "not a bearer token", masterKey: "k-123", authHeader: "Basic k-123", wantStatus: http.StatusUnauthorized, wantMessage: "invalid authorization header format, expected 'Bearer <token>'"},
		{name: "lowercase scheme", masterKey: "k-123", authHeader: "bearer k-123", wantStatus: http.StatusUnauthorized, wantMessage: "invalid authorization header format, expected 'Bearer <token>'"},
		{name: "wrong key", masterKey: "k-123", authHeader: "Bearer k-124", wantStatus: http.StatusUnauthorized, wantMessage: "invalid master key"},
		{name: "key prefix only", masterKey: "k-123", authHeader: "Bearer k-12", wantStatus: http.StatusUnauthorized, wantMessage: "invalid master key"},
		{name: "empty token", masterKey: "k-123", authHeader: "Bearer ", wantStatus: http.StatusUnauthorized, wantMessage: "invalid master key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			handler := AuthMiddleware(tt.masterKey)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/diagnostics", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			require.NoError(t, handler(e.NewContext(req, rec)))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "ok", rec.Body.String())
				return
			}
			assert.JSONEq(t, `{"error":{"type":"authentication_error","message":`+jsonString(tt.wantMessage)+`}}`, rec.Body.String())
		})
	}
}

func jsonString(s string) string {
	return `"` + s + `"`
}
