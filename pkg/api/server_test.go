package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/karapace-operator/pkg/auth"
	"github.com/cuemby/karapace-operator/pkg/events"
	"github.com/cuemby/karapace-operator/pkg/reconciler"
	"github.com/cuemby/karapace-operator/pkg/tlsstate"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeController struct {
	fakeSource
	password string
	err      error

	gotUser     string
	gotPassword string
	gotKey      string
}

func (f *fakeController) GetPassword(context.Context) (string, error) {
	return f.password, f.err
}

func (f *fakeController) SetPassword(_ context.Context, username, password string) (string, error) {
	f.gotUser, f.gotPassword = username, password
	if f.err != nil {
		return "", f.err
	}
	if password == "" {
		password = "generatedpassword0000000000000000"
	}
	return password, nil
}

func (f *fakeController) SetTLSPrivateKey(_ context.Context, key string) error {
	f.gotKey = key
	return f.err
}

func newTestServer(t *testing.T, ctrl *fakeController) *Server {
	t.Helper()
	if ctrl == nil {
		ctrl = &fakeController{}
	}
	ctrl.fakeSource = fakeSource{status: types.StatusActive, leader: true, version: "3.4.6"}
	return NewServer(ctrl, nil, testSecret)
}

func token(t *testing.T, scope string) string {
	t.Helper()
	tk, err := IssueToken(testSecret, "tester", scope, time.Minute)
	require.NoError(t, err)
	return tk
}

func do(t *testing.T, s *Server, method, path, tk, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tk != "" {
		req.Header.Set("Authorization", "Bearer "+tk)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestTokenRoundTrip(t *testing.T) {
	tk := token(t, ScopeAdmin)

	claims, err := ParseToken(testSecret, tk)
	require.NoError(t, err)
	assert.Equal(t, "tester", claims.Subject)
	assert.True(t, claims.Admin())
}

func TestParseTokenRejects(t *testing.T) {
	expired, err := IssueToken(testSecret, "tester", ScopeAdmin, -time.Minute)
	require.NoError(t, err)
	forged, err := IssueToken([]byte("another-secret-another-secret-00"), "tester", ScopeAdmin, time.Minute)
	require.NoError(t, err)
	unscoped, err := IssueToken(testSecret, "tester", "root", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{"expired", expired},
		{"wrong secret", forged},
		{"unknown scope", unscoped},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(testSecret, tt.raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken(nil, "tester", ScopeAdmin, time.Minute)
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = ParseToken(nil, "x")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t, &fakeController{password: "secretpassword"})

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		body     string
		wantCode int
	}{
		{"no token", http.MethodGet, "/v1/status", "", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/v1/status", "nope", "", http.StatusUnauthorized},
		{"read status", http.MethodGet, "/v1/status", token(t, ScopeRead), "", http.StatusOK},
		{"read cannot get password", http.MethodGet, "/v1/actions/get-password", token(t, ScopeRead), "", http.StatusForbidden},
		{"read cannot set password", http.MethodPost, "/v1/actions/set-password", token(t, ScopeRead), "{}", http.StatusForbidden},
		{"admin gets password", http.MethodGet, "/v1/actions/get-password", token(t, ScopeAdmin), "", http.StatusOK},
		{"admin sets password", http.MethodPost, "/v1/actions/set-password", token(t, ScopeAdmin), "{}", http.StatusOK},
		{"health is public", http.MethodGet, "/health", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/v1/status", token(t, ScopeRead), "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "karapace-0", resp.Unit)
	assert.Equal(t, "ACTIVE", resp.Status)
	assert.Equal(t, "active", resp.Severity)
	assert.True(t, resp.Leader)
	assert.Equal(t, "3.4.6", resp.Version)
}

func TestGetPassword(t *testing.T) {
	s := newTestServer(t, &fakeController{password: "secretpassword"})

	w := do(t, s, http.MethodGet, "/v1/actions/get-password", token(t, ScopeAdmin), "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp PasswordResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, types.AdminUser, resp.Username)
	assert.Equal(t, "secretpassword", resp.Password)
}

func TestSetPassword(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantUser string
	}{
		{"defaults to admin", `{}`, http.StatusOK, types.AdminUser},
		{"explicit user", `{"username":"relation-7","password":"abcdefgh1234"}`, http.StatusOK, "relation-7"},
		{"non alphanumeric password", `{"password":"abc-defgh-1234"}`, http.StatusBadRequest, ""},
		{"short password", `{"password":"abc"}`, http.StatusBadRequest, ""},
		{"malformed body", `{"password":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{}
			s := newTestServer(t, ctrl)

			w := do(t, s, http.MethodPost, "/v1/actions/set-password", token(t, ScopeAdmin), tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp PasswordResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantUser, resp.Username)
			assert.NotEmpty(t, resp.Password)
		})
	}
}

func TestSetTLSPrivateKey(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(t, ctrl)

	w := do(t, s, http.MethodPost, "/v1/actions/set-tls-private-key", token(t, ScopeAdmin), `{"internal-key":"LS0tLS1CRUdJTg=="}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "LS0tLS1CRUdJTg==", ctrl.gotKey)

	w = do(t, s, http.MethodPost, "/v1/actions/set-tls-private-key", token(t, ScopeAdmin), `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActionErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
	}{
		{reconciler.ErrLeaderOnly, http.StatusConflict},
		{auth.ErrUnsafePassword, http.StatusBadRequest},
		{auth.ErrUnknownUser, http.StatusNotFound},
		{auth.ErrNoCredentials, http.StatusServiceUnavailable},
		{tlsstate.ErrDisabled, http.StatusPreconditionFailed},
		{fmt.Errorf("decode: %w", tlsstate.ErrInvalidKey), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := newTestServer(t, &fakeController{err: tt.err})

			w := do(t, s, http.MethodPost, "/v1/actions/set-password", token(t, ScopeAdmin), `{}`)
			assert.Equal(t, tt.wantCode, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Contains(t, resp.Error, tt.err.Error())
		})
	}
}

func TestEventStream(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ctrl := &fakeController{fakeSource: fakeSource{status: types.StatusActive}}
	ts := httptest.NewServer(NewServer(ctrl, broker, testSecret).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, ScopeRead))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return broker.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)
	broker.Notify(events.EventStatusChanged, "ACTIVE", "unit", "karapace-0")

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	require.NoError(t, err)
	var e events.Event
	require.NoError(t, json.Unmarshal(line, &e))
	assert.Equal(t, events.EventStatusChanged, e.Type)
	assert.Equal(t, "karapace-0", e.Metadata["unit"])
}

func TestEventStreamTypeFilter(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ctrl := &fakeController{fakeSource: fakeSource{status: types.StatusActive}}
	ts := httptest.NewServer(NewServer(ctrl, broker, testSecret).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events?type=workload.restarted", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, ScopeRead))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return broker.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)
	broker.Notify(events.EventStatusChanged, "ACTIVE")
	broker.Notify(events.EventRestarted, "service restarted")

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	require.NoError(t, err)
	var e events.Event
	require.NoError(t, json.Unmarshal(line, &e))
	assert.Equal(t, events.EventRestarted, e.Type)
}

func TestEventStreamDisabled(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/v1/events", token(t, ScopeRead), "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
