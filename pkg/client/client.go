package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/karapace-operator/pkg/api"
	"github.com/cuemby/karapace-operator/pkg/retry"
)

// DefaultTimeout bounds every request made by the client
const DefaultTimeout = 10 * time.Second

// readRetry retries idempotent reads while the operator is starting
var readRetry = retry.Policy{Delay: 500 * time.Millisecond, Attempts: 3}

// Error is a non-2xx answer of the admin API
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// IsConflict reports whether err says the action must run on the leader
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

// Client calls the operator admin API. It mints short lived tokens from
// the shared secret for every request.
type Client struct {
	base    string
	secret  []byte
	subject string
	http    *http.Client
}

// NewClient creates a client for the API at addr ("host:port" or a URL)
func NewClient(addr string, secret []byte) (*Client, error) {
	if len(secret) == 0 {
		return nil, api.ErrNoSecret
	}
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base:    base,
		secret:  secret,
		subject: "cli",
		http:    &http.Client{Timeout: DefaultTimeout},
	}, nil
}

// WithSubject sets the subject recorded in the operator's audit log
func (c *Client) WithSubject(subject string) *Client {
	c.subject = subject
	return c
}

// WithHTTPClient replaces the underlying HTTP client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Status returns the replica status
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.get(ctx, "/v1/status", api.ScopeRead, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPassword returns the admin user and password
func (c *Client) GetPassword(ctx context.Context) (*api.PasswordResponse, error) {
	var out api.PasswordResponse
	if err := c.get(ctx, "/v1/actions/get-password", api.ScopeAdmin, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPassword rotates the password of username. Empty values select the
// admin user and a generated password.
func (c *Client) SetPassword(ctx context.Context, username, password string) (*api.PasswordResponse, error) {
	var out api.PasswordResponse
	req := api.SetPasswordRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/v1/actions/set-password", api.ScopeAdmin, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetTLSPrivateKey installs key as the unit's TLS private key
func (c *Client) SetTLSPrivateKey(ctx context.Context, key string) error {
	req := api.SetTLSPrivateKeyRequest{Key: key}
	return c.do(ctx, http.MethodPost, "/v1/actions/set-tls-private-key", api.ScopeAdmin, req, nil)
}

func (c *Client) get(ctx context.Context, path, scope string, out any) error {
	_, err := retry.Do(ctx, readRetry, func(ctx context.Context) (struct{}, error) {
		err := c.do(ctx, http.MethodGet, path, scope, nil, out)
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return struct{}{}, retry.Permanent(err)
		}
		return struct{}{}, err
	}, struct{}{})
	return err
}

func (c *Client) do(ctx context.Context, method, path, scope string, in, out any) error {
	token, err := api.IssueToken(c.secret, c.subject, scope, api.DefaultTokenTTL)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
