package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/karapace-operator/pkg/auth"
	"github.com/cuemby/karapace-operator/pkg/events"
	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/reconciler"
	"github.com/cuemby/karapace-operator/pkg/tlsstate"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Controller is the reconciler surface the API exposes
type Controller interface {
	StatusSource
	GetPassword(ctx context.Context) (string, error)
	SetPassword(ctx context.Context, username, password string) (string, error)
	SetTLSPrivateKey(ctx context.Context, key string) error
}

// StatusResponse is returned by GET /v1/status
type StatusResponse struct {
	Unit     string `json:"unit"`
	Status   string `json:"status"`
	Severity string `json:"severity"`
	Message  string `json:"message,omitempty"`
	Leader   bool   `json:"leader"`
	Version  string `json:"version,omitempty"`
}

// PasswordResponse carries a password
type PasswordResponse struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SetPasswordRequest rotates a password; empty fields select the admin
// user and a generated password
type SetPasswordRequest struct {
	Username string `json:"username" validate:"omitempty,max=128"`
	Password string `json:"password" validate:"omitempty,alphanum,min=8,max=128"`
}

// SetTLSPrivateKeyRequest supplies a PEM or base64 encoded PEM key
type SetTLSPrivateKeyRequest struct {
	Key string `json:"internal-key" validate:"required"`
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the operator's admin HTTP API
type Server struct {
	ctrl     Controller
	broker   *events.Broker
	secret   []byte
	router   chi.Router
	validate *validator.Validate
	server   *http.Server
	logger   zerolog.Logger
}

// NewServer creates the API. Action routes require a token signed with
// secret; health routes are public.
func NewServer(ctrl Controller, broker *events.Broker, secret []byte) *Server {
	s := &Server{
		ctrl:     ctrl,
		broker:   broker,
		secret:   secret,
		router:   chi.NewRouter(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.WithComponent("api"),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(instrument)

	NewHealthServer(ctrl).Register(s.router)
	s.router.Route("/v1", func(r chi.Router) {
		r.Use(RequireToken(secret))
		r.Get("/status", s.status)
		r.Get("/events", s.streamEvents)
		r.Get("/actions/get-password", s.getPassword)
		r.Post("/actions/set-password", s.setPassword)
		r.Post("/actions/set-tls-private-key", s.setTLSPrivateKey)
	})
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	st := s.ctrl.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		Unit:     s.ctrl.Unit(),
		Status:   st.Name,
		Severity: string(st.Severity),
		Message:  st.Message,
		Leader:   s.ctrl.IsLeader(),
		Version:  s.ctrl.Version(),
	})
}

func (s *Server) getPassword(w http.ResponseWriter, r *http.Request) {
	password, err := s.ctrl.GetPassword(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PasswordResponse{Username: types.AdminUser, Password: password})
}

func (s *Server) setPassword(w http.ResponseWriter, r *http.Request) {
	var req SetPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}
	password, err := s.ctrl.SetPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	username := req.Username
	if username == "" {
		username = types.AdminUser
	}
	s.audit(r, "set-password", username)
	writeJSON(w, http.StatusOK, PasswordResponse{Username: username, Password: password})
}

func (s *Server) setTLSPrivateKey(w http.ResponseWriter, r *http.Request) {
	var req SetTLSPrivateKeyRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ctrl.SetTLSPrivateKey(r.Context(), req.Key); err != nil {
		s.fail(w, err)
		return
	}
	s.audit(r, "set-tls-private-key", s.ctrl.Unit())
	w.WriteHeader(http.StatusNoContent)
}

// streamEvents writes broker events as newline delimited JSON until the
// client goes away. ?type=a,b restricts the stream to those event types.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, http.StatusNotImplemented, "event streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var filter []events.EventType
	for _, t := range strings.Split(r.URL.Query().Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter = append(filter, events.EventType(t))
		}
	}
	sub := s.broker.Subscribe(filter...)
	defer s.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := enc.Encode(e); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) audit(r *http.Request, action, target string) {
	subject := ""
	if c := ClaimsFrom(r.Context()); c != nil {
		subject = c.Subject
	}
	s.logger.Info().Str("action", action).Str("target", target).Str("subject", subject).Msg("Action run")
}

// fail maps action errors to status codes
func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, reconciler.ErrLeaderOnly):
		code = http.StatusConflict
	case errors.Is(err, auth.ErrUnsafePassword), errors.Is(err, tlsstate.ErrInvalidKey):
		code = http.StatusBadRequest
	case errors.Is(err, auth.ErrUnknownUser):
		code = http.StatusNotFound
	case errors.Is(err, auth.ErrNoCredentials):
		code = http.StatusServiceUnavailable
	case errors.Is(err, tlsstate.ErrDisabled):
		code = http.StatusPreconditionFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Action failed")
	}
	writeError(w, code, err.Error())
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Error: message})
}
