package tlsstate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/security"
	"github.com/cuemby/karapace-operator/pkg/state"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/cuemby/karapace-operator/pkg/workload"
	"github.com/rs/zerolog"
)

// State is the certificate lifecycle position of a unit
type State string

const (
	StateNoCertificateRequested State = "no-certificate-requested"
	StateRequestSent            State = "request-sent"
	StateCertificateReceived    State = "certificate-received"
	StateInstalled              State = "installed"
)

var (
	// ErrDisabled is returned by lifecycle calls when TLS is off
	ErrDisabled = errors.New("tls is not enabled")

	// ErrInvalidKey is returned when a supplied private key cannot be used
	ErrInvalidKey = errors.New("invalid private key")
)

// Provider issues certificates for certificate signing requests
type Provider interface {
	// Submit hands a request to the issuer
	Submit(ctx context.Context, unit string, csrPEM []byte) error

	// Fetch returns the issued certificate and its CA. ready is false while
	// the request is pending.
	Fetch(ctx context.Context, unit string, csrPEM []byte) (cert, ca []byte, ready bool, err error)
}

// Options configure the TLS manager
type Options struct {
	Enabled bool
	SANs    []string
}

// Manager tracks the certificate of the local unit through request, issue
// and installation. All material is kept in the unit's own peer data.
type Manager struct {
	cluster  *state.Cluster
	workload *workload.Workload
	provider Provider
	opts     Options
	logger   zerolog.Logger
}

// New creates a TLS Manager
func New(cluster *state.Cluster, w *workload.Workload, provider Provider, opts Options) *Manager {
	return &Manager{
		cluster:  cluster,
		workload: w,
		provider: provider,
		opts:     opts,
		logger:   log.WithComponent("tls"),
	}
}

// Enabled reports whether this service serves TLS
func (m *Manager) Enabled() bool {
	return m.opts.Enabled && m.provider != nil
}

// Material returns the unit's TLS material from peer data
func (m *Manager) Material(ctx context.Context) (types.TLSMaterial, error) {
	data, err := m.cluster.LocalData(ctx)
	if err != nil {
		return types.TLSMaterial{}, err
	}
	return types.TLSMaterial{
		CA:          data[types.KeyCA],
		Certificate: data[types.KeyCertificate],
		PrivateKey:  data[types.KeyPrivateKey],
		CSR:         data[types.KeyCSR],
	}, nil
}

// State derives the lifecycle position from peer data and installed files
func (m *Manager) State(ctx context.Context) (State, error) {
	mat, err := m.Material(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case mat.CSR == "":
		return StateNoCertificateRequested, nil
	case mat.Certificate == "":
		return StateRequestSent, nil
	case m.installed(ctx, mat):
		return StateInstalled, nil
	default:
		return StateCertificateReceived, nil
	}
}

func (m *Manager) installed(ctx context.Context, mat types.TLSMaterial) bool {
	for path, want := range map[string]string{
		types.CAFile:   mat.CA,
		types.CertFile: mat.Certificate,
		types.KeyFile:  mat.PrivateKey,
	} {
		got := strings.Join(m.workload.Read(ctx, path), "\n")
		if got == "" || got != want {
			return false
		}
	}
	return true
}

// Request creates (or reuses) the unit key, builds a CSR and submits it
func (m *Manager) Request(ctx context.Context) error {
	if !m.Enabled() {
		return ErrDisabled
	}
	mat, err := m.Material(ctx)
	if err != nil {
		return err
	}

	key := []byte(mat.PrivateKey)
	if len(key) == 0 {
		if key, err = security.GenerateKey(security.UnitKeySize); err != nil {
			return err
		}
	}

	csr, err := security.CreateCSR(key, m.cluster.Unit(), m.opts.SANs)
	if err != nil {
		return err
	}

	if err := m.cluster.UpdateLocalData(ctx, map[string]string{
		types.KeyPrivateKey:  string(key),
		types.KeyCSR:         string(csr),
		types.KeyCertificate: "",
		types.KeyCA:          "",
	}); err != nil {
		return err
	}

	if err := m.provider.Submit(ctx, m.cluster.Unit(), csr); err != nil {
		return fmt.Errorf("failed to submit certificate request: %w", err)
	}
	m.logger.Info().Strs("sans", m.opts.SANs).Msg("Certificate requested")
	return nil
}

// Collect stores the issued certificate. It returns false while the
// request is still pending.
func (m *Manager) Collect(ctx context.Context) (bool, error) {
	if !m.Enabled() {
		return false, ErrDisabled
	}
	mat, err := m.Material(ctx)
	if err != nil {
		return false, err
	}
	if mat.CSR == "" {
		return false, fmt.Errorf("no certificate request to collect")
	}

	cert, ca, ready, err := m.provider.Fetch(ctx, m.cluster.Unit(), []byte(mat.CSR))
	if err != nil {
		return false, fmt.Errorf("failed to fetch certificate: %w", err)
	}
	if !ready {
		return false, nil
	}
	if !security.CertificateMatchesKey(cert, []byte(mat.PrivateKey)) {
		return false, fmt.Errorf("issued certificate does not match the unit key")
	}

	if err := m.cluster.UpdateLocalData(ctx, map[string]string{
		types.KeyCertificate: string(cert),
		types.KeyCA:          string(ca),
	}); err != nil {
		return false, err
	}
	m.logger.Info().Msg("Certificate received")
	return true, nil
}

// Install writes the CA, certificate and key into the workload
func (m *Manager) Install(ctx context.Context) error {
	mat, err := m.Material(ctx)
	if err != nil {
		return err
	}
	if mat.Certificate == "" || mat.PrivateKey == "" {
		return fmt.Errorf("no certificate to install")
	}

	for _, f := range []struct{ path, content string }{
		{types.CAFile, mat.CA},
		{types.CertFile, mat.Certificate},
		{types.KeyFile, mat.PrivateKey},
	} {
		if err := m.workload.Write(ctx, f.content, f.path); err != nil {
			return err
		}
	}
	m.logger.Info().Str("dir", types.CertsDir).Msg("Certificate installed")
	return nil
}

// SetPrivateKey replaces the unit key with a PEM (or base64 encoded PEM)
// key and requests a new certificate for it
func (m *Manager) SetPrivateKey(ctx context.Context, key string) error {
	if !m.Enabled() {
		return ErrDisabled
	}
	pem, err := decodeKey(key)
	if err != nil {
		return err
	}

	if err := m.cluster.UpdateLocalData(ctx, map[string]string{
		types.KeyPrivateKey:  pem,
		types.KeyCSR:         "",
		types.KeyCertificate: "",
		types.KeyCA:          "",
	}); err != nil {
		return err
	}
	m.logger.Info().Msg("Private key replaced")
	return m.Request(ctx)
}

// HasValidCertificate reports whether an unexpired certificate matching the
// unit key is installed
func (m *Manager) HasValidCertificate(ctx context.Context) bool {
	st, err := m.State(ctx)
	if err != nil || st != StateInstalled {
		return false
	}
	mat, err := m.Material(ctx)
	if err != nil {
		return false
	}
	cert, err := security.ParseCertificatePEM([]byte(mat.Certificate))
	if err != nil || time.Now().After(cert.NotAfter) {
		return false
	}
	return security.CertificateMatchesKey([]byte(mat.Certificate), []byte(mat.PrivateKey))
}

// NeedsRotation reports whether the stored certificate is close to expiry
func (m *Manager) NeedsRotation(ctx context.Context) bool {
	mat, err := m.Material(ctx)
	if err != nil || mat.Certificate == "" {
		return false
	}
	cert, err := security.ParseCertificatePEM([]byte(mat.Certificate))
	if err != nil {
		return true
	}
	return security.CertNeedsRotation(cert)
}

func decodeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return "", fmt.Errorf("%w: neither PEM nor base64", ErrInvalidKey)
		}
		key = strings.TrimSpace(string(decoded))
	}
	if _, err := security.ParsePrivateKeyPEM([]byte(key)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key + "\n", nil
}
