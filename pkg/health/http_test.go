package health

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantHealthy bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, true},
		{"redirect", http.StatusFound, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"unavailable", http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/_health", r.URL.Path)
				if tt.status == http.StatusFound {
					w.Header().Set("Location", "/elsewhere")
				}
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			res := NewHTTPChecker(ts.URL + "/_health").Check(context.Background())
			assert.Equal(t, tt.wantHealthy, res.Healthy, res.Message)
			assert.False(t, res.CheckedAt.IsZero())
		})
	}
}

func TestHTTPCheckerSendsCredentials(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "operator" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
	}))
	defer ts.Close()

	checker := NewHTTPChecker(ts.URL).
		WithHeader("Accept", "application/json").
		WithBasicAuth("operator", "secret")

	assert.True(t, checker.Check(context.Background()).Healthy)
}

func TestHTTPCheckerTLS(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	assert.False(t, NewHTTPChecker(ts.URL).Check(context.Background()).Healthy, "unknown CA")

	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())
	checker := NewHTTPChecker(ts.URL).WithTLSConfig(&tls.Config{RootCAs: pool})
	assert.True(t, checker.Check(context.Background()).Healthy)
}

func TestHTTPCheckerTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	res := NewHTTPChecker(ts.URL).WithTimeout(50 * time.Millisecond).Check(context.Background())
	assert.False(t, res.Healthy)
}

func TestHTTPCheckerInvalidURL(t *testing.T) {
	checker := NewHTTPChecker("://bad")
	res := checker.Check(context.Background())
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "invalid probe url")
	assert.Equal(t, CheckTypeHTTP, checker.Type())
}
