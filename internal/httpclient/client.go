// Package httpclient builds the pooled HTTP client shared by provider adapters.
package httpclient

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"aigateway/internal/version"
)

// Settings tunes connection pooling and the outer request bound.
// Per-call deadlines come from the request context, so Timeout only
// caps calls that arrive without one.
type Settings struct {
	Timeout             time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	IdleConnTimeout     time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	UserAgent           string
}

// DefaultSettings reads HTTP_TIMEOUT (seconds or a duration string, default 120s).
func DefaultSettings() Settings {
	return Settings{
		Timeout:             envDuration("HTTP_TIMEOUT", 2*time.Minute),
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		UserAgent:           "aigateway/" + version.Version,
	}
}

// New returns a client for s. Zero durations and pool sizes fall back to
// DefaultSettings.
func New(s Settings) *http.Client {
	s = s.withDefaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: s.DialTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = s.TLSHandshakeTimeout
	transport.IdleConnTimeout = s.IdleConnTimeout
	transport.MaxIdleConns = s.MaxIdleConns
	transport.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost

	return &http.Client{
		Timeout:   s.Timeout,
		Transport: &userAgentTransport{base: transport, agent: s.UserAgent},
	}
}

// NewDefaultHTTPClient is New(DefaultSettings()).
func NewDefaultHTTPClient() *http.Client {
	return New(DefaultSettings())
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.DialTimeout <= 0 {
		s.DialTimeout = d.DialTimeout
	}
	if s.TLSHandshakeTimeout <= 0 {
		s.TLSHandshakeTimeout = d.TLSHandshakeTimeout
	}
	if s.IdleConnTimeout <= 0 {
		s.IdleConnTimeout = d.IdleConnTimeout
	}
	if s.MaxIdleConns <= 0 {
		s.MaxIdleConns = d.MaxIdleConns
	}
	if s.MaxIdleConnsPerHost <= 0 {
		s.MaxIdleConnsPerHost = d.MaxIdleConnsPerHost
	}
	if s.UserAgent == "" {
		s.UserAgent = d.UserAgent
	}
	return s
}

// userAgentTransport stamps outgoing requests that do not set their own agent.
type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(clone)
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
