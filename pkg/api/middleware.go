package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/metrics"
	"github.com/go-chi/chi/v5/middleware"
)

type claimsKey struct{}

// ClaimsFrom returns the verified token claims of the request
func ClaimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// RequireToken verifies the bearer token. Read scoped tokens may only
// reach read-only routes.
func RequireToken(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := ParseToken(secret, strings.TrimSpace(raw))
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			if !claims.Admin() && !isReadOnlyRequest(r) {
				writeError(w, http.StatusForbidden,
					"token scope is read-only, mint an admin token for actions")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// isReadOnlyRequest reports whether a request only reads non-secret state
func isReadOnlyRequest(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	// the admin password is readable with an admin token only
	return !strings.HasSuffix(r.URL.Path, "/get-password")
}

// instrument records request metrics and logs each request
func instrument(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", timer.Duration()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
