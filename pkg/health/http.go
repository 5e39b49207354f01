package health

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"
)

// HTTPChecker GETs a registry endpoint, healthy on 2xx and 3xx
type HTTPChecker struct {
	URL string

	header   http.Header
	username string
	password string
	client   *http.Client
}

// NewHTTPChecker creates a checker for url
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:    url,
		header: make(http.Header),
		client: &http.Client{
			Timeout: DefaultConfig().Timeout,
			// a redirect is an answer, the registry is up
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Check implements Checker
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return finish(start, false, "invalid probe url: %v", err)
	}
	req.Header = h.header.Clone()
	if h.username != "" {
		req.SetBasicAuth(h.username, h.password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return finish(start, false, "GET %s: %v", h.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 400
	return finish(start, healthy, "HTTP %d", resp.StatusCode)
}

// Type implements Checker
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithHeader sets a request header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.header.Set(key, value)
	return h
}

// WithBasicAuth authenticates probes as username
func (h *HTTPChecker) WithBasicAuth(username, password string) *HTTPChecker {
	h.username, h.password = username, password
	return h
}

// WithTLSConfig probes over TLS with cfg
func (h *HTTPChecker) WithTLSConfig(cfg *tls.Config) *HTTPChecker {
	h.client.Transport = &http.Transport{TLSClientConfig: cfg}
	return h
}

// WithTimeout bounds each probe
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.client.Timeout = timeout
	return h
}
