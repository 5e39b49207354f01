package tlsstate

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/rs/zerolog"
	certificatesv1 "k8s.io/api/certificates/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	// DefaultCAConfigMap is published in every namespace by the API server
	DefaultCAConfigMap = "kube-root-ca.crt"
	// DefaultCAKey is the CA bundle key in DefaultCAConfigMap
	DefaultCAKey = "ca.crt"
)

// CSRConfig configures the Kubernetes certificates provider
type CSRConfig struct {
	App        string
	Namespace  string
	SignerName string

	// CAConfigMap holds the issuing CA under CAKey
	CAConfigMap string
	CAKey       string

	// AutoApprove approves the operator's own requests
	AutoApprove bool
}

// CSRProvider issues certificates through certificates.k8s.io/v1
type CSRProvider struct {
	client kubernetes.Interface
	cfg    CSRConfig
	logger zerolog.Logger
}

// NewCSRProvider creates a CSRProvider
func NewCSRProvider(client kubernetes.Interface, cfg CSRConfig) *CSRProvider {
	if cfg.CAConfigMap == "" {
		cfg.CAConfigMap = DefaultCAConfigMap
	}
	if cfg.CAKey == "" {
		cfg.CAKey = DefaultCAKey
	}
	return &CSRProvider{
		client: client,
		cfg:    cfg,
		logger: log.WithComponent("csr"),
	}
}

func (p *CSRProvider) name(unit string) string {
	unit = strings.ReplaceAll(unit, "/", "-")
	if p.cfg.App != "" && !strings.HasPrefix(unit, p.cfg.App) {
		unit = p.cfg.App + "-" + unit
	}
	return strings.ToLower(p.cfg.Namespace + "-" + unit)
}

// Submit creates the CertificateSigningRequest, replacing a stale one
// created for a different key
func (p *CSRProvider) Submit(ctx context.Context, unit string, csrPEM []byte) error {
	csrs := p.client.CertificatesV1().CertificateSigningRequests()
	name := p.name(unit)

	existing, err := csrs.Get(ctx, name, metav1.GetOptions{})
	switch {
	case err == nil && bytes.Equal(existing.Spec.Request, csrPEM):
		return nil
	case err == nil:
		if err := csrs.Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete stale CSR %s: %w", name, err)
		}
	case !apierrors.IsNotFound(err):
		return fmt.Errorf("failed to get CSR %s: %w", name, err)
	}

	req := &certificatesv1.CertificateSigningRequest{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				"app.kubernetes.io/name": p.cfg.App,
			},
		},
		Spec: certificatesv1.CertificateSigningRequestSpec{
			Request:    csrPEM,
			SignerName: p.cfg.SignerName,
			Usages: []certificatesv1.KeyUsage{
				certificatesv1.UsageDigitalSignature,
				certificatesv1.UsageKeyEncipherment,
				certificatesv1.UsageServerAuth,
				certificatesv1.UsageClientAuth,
			},
		},
	}
	created, err := csrs.Create(ctx, req, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create CSR %s: %w", name, err)
	}
	p.logger.Info().Str("csr", name).Str("signer", p.cfg.SignerName).Msg("CSR created")

	if p.cfg.AutoApprove {
		created.Status.Conditions = append(created.Status.Conditions, certificatesv1.CertificateSigningRequestCondition{
			Type:           certificatesv1.CertificateApproved,
			Status:         corev1.ConditionTrue,
			Reason:         "KarapaceOperatorApprove",
			Message:        "approved by the karapace operator",
			LastUpdateTime: metav1.Now(),
		})
		if _, err := csrs.UpdateApproval(ctx, name, created, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("failed to approve CSR %s: %w", name, err)
		}
	}
	return nil
}

// Fetch returns the issued certificate and the CA bundle
func (p *CSRProvider) Fetch(ctx context.Context, unit string, csrPEM []byte) ([]byte, []byte, bool, error) {
	name := p.name(unit)
	csr, err := p.client.CertificatesV1().CertificateSigningRequests().Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil, false, fmt.Errorf("CSR %s not found", name)
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to get CSR %s: %w", name, err)
	}
	if !bytes.Equal(csr.Spec.Request, csrPEM) {
		return nil, nil, false, fmt.Errorf("CSR %s was created for a different request", name)
	}

	for _, c := range csr.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		if c.Type == certificatesv1.CertificateDenied || c.Type == certificatesv1.CertificateFailed {
			return nil, nil, false, fmt.Errorf("CSR %s %s: %s", name, strings.ToLower(string(c.Type)), c.Message)
		}
	}
	if len(csr.Status.Certificate) == 0 {
		return nil, nil, false, nil
	}

	cm, err := p.client.CoreV1().ConfigMaps(p.cfg.Namespace).Get(ctx, p.cfg.CAConfigMap, metav1.GetOptions{})
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to get CA config map %s: %w", p.cfg.CAConfigMap, err)
	}
	ca := cm.Data[p.cfg.CAKey]
	if ca == "" {
		return nil, nil, false, fmt.Errorf("config map %s has no %s", p.cfg.CAConfigMap, p.cfg.CAKey)
	}

	return csr.Status.Certificate, []byte(ca), true, nil
}
