package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "", want: 5 * time.Second},
		{raw: "45", want: 45 * time.Second},
		{raw: "2m", want: 2 * time.Minute},
		{raw: "soon", want: 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.raw)
			assert.Equal(t, tt.want, envDuration("TEST_DURATION", 5*time.Second))
		})
	}
}

func TestNew_Timeouts(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "")
	assert.Equal(t, 2*time.Minute, NewDefaultHTTPClient().Timeout)
	assert.Equal(t, 3*time.Second, New(Settings{Timeout: 3 * time.Second}).Timeout)

	t.Setenv("HTTP_TIMEOUT", "30")
	assert.Equal(t, 30*time.Second, New(Settings{}).Timeout)
}

func TestNew_SetsUserAgent(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	client := New(Settings{UserAgent: "aigateway/test"})

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom")
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"aigateway/test", "custom"}, got)
}
