package tlsstate

import (
	"context"
	"fmt"

	"github.com/cuemby/karapace-operator/pkg/security"
)

// LocalProvider signs requests with a CA held by the operator itself
type LocalProvider struct {
	ca *security.CertAuthority
}

// NewLocalProvider creates a provider backed by an initialized CA
func NewLocalProvider(ca *security.CertAuthority) *LocalProvider {
	return &LocalProvider{ca: ca}
}

// Submit validates the request; signing happens on Fetch
func (p *LocalProvider) Submit(_ context.Context, _ string, csrPEM []byte) error {
	if !p.ca.IsInitialized() {
		return fmt.Errorf("local CA not initialized")
	}
	csr, err := security.ParseCSRPEM(csrPEM)
	if err != nil {
		return err
	}
	return csr.CheckSignature()
}

func (p *LocalProvider) Fetch(_ context.Context, _ string, csrPEM []byte) ([]byte, []byte, bool, error) {
	cert, err := p.ca.SignCSR(csrPEM)
	if err != nil {
		return nil, nil, false, err
	}
	return cert, p.ca.RootPEM(), true, nil
}
