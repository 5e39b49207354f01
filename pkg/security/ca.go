package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CertAuthority signs unit certificate requests when no external issuer
// is configured
type CertAuthority struct {
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
	sealer   *SecretsManager
	mu       sync.RWMutex
}

const (
	// Root CA validity: 10 years
	rootCAValidity = 10 * 365 * 24 * time.Hour
	// Unit certificate validity: 90 days
	unitCertValidity = 90 * 24 * time.Hour
	// Root CA key size: 4096 bits (long-lived, high security)
	rootKeySize = 4096

	caCertFile = "ca.crt"
	caKeyFile  = "ca.key"
)

// NewCertAuthority creates a new certificate authority. When sealer is
// non-nil the root key is encrypted on disk.
func NewCertAuthority(sealer *SecretsManager) *CertAuthority {
	return &CertAuthority{sealer: sealer}
}

// Initialize generates a new root CA certificate
func (ca *CertAuthority) Initialize(commonName string) error {
	return ca.initialize(commonName, rootKeySize)
}

func (ca *CertAuthority) initialize(commonName string, bits int) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("failed to generate root key: %w", err)
	}

	serialNumber, err := newSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Karapace Operator"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}

	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("failed to parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// LoadOrInitialize loads the CA from dir, creating and saving a new one if
// the directory holds none
func (ca *CertAuthority) LoadOrInitialize(dir, commonName string) error {
	if _, err := os.Stat(filepath.Join(dir, caCertFile)); err == nil {
		return ca.LoadFromDir(dir)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat CA certificate: %w", err)
	}

	if err := ca.Initialize(commonName); err != nil {
		return err
	}
	return ca.SaveToDir(dir)
}

// LoadFromDir loads the CA certificate and key written by SaveToDir
func (ca *CertAuthority) LoadFromDir(dir string) error {
	certPEM, err := os.ReadFile(filepath.Join(dir, caCertFile))
	if err != nil {
		return fmt.Errorf("failed to read CA certificate: %w", err)
	}
	keyData, err := os.ReadFile(filepath.Join(dir, caKeyFile))
	if err != nil {
		return fmt.Errorf("failed to read CA key: %w", err)
	}

	if ca.sealer != nil {
		keyData, err = ca.sealer.Open(keyData)
		if err != nil {
			return fmt.Errorf("failed to decrypt CA key: %w", err)
		}
	}

	rootCert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return err
	}
	rootKey, err := ParsePrivateKeyPEM(keyData)
	if err != nil {
		return err
	}

	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// SaveToDir writes the CA certificate and key to dir
func (ca *CertAuthority) SaveToDir(dir string) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return fmt.Errorf("CA not initialized")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create CA directory: %w", err)
	}

	keyData := EncodePrivateKeyPEM(ca.rootKey)
	if ca.sealer != nil {
		var err error
		keyData, err = ca.sealer.Seal(keyData)
		if err != nil {
			return fmt.Errorf("failed to encrypt CA key: %w", err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, caCertFile), EncodeCertificatePEM(ca.rootCert.Raw), 0644); err != nil {
		return fmt.Errorf("failed to write CA certificate: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, caKeyFile), keyData, 0600); err != nil {
		return fmt.Errorf("failed to write CA key: %w", err)
	}
	return nil
}

// SignCSR issues a server certificate for a PEM encoded request
func (ca *CertAuthority) SignCSR(csrPEM []byte) ([]byte, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("CA not initialized")
	}

	csr, err := ParseCSRPEM(csrPEM)
	if err != nil {
		return nil, err
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("invalid CSR signature: %w", err)
	}

	serialNumber, err := newSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      csr.Subject,
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(unitCertValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     csr.DNSNames,
		IPAddresses:  csr.IPAddresses,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, csr.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	return EncodeCertificatePEM(certDER), nil
}

// VerifyCertificate verifies a certificate against the root CA
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return fmt.Errorf("CA not initialized")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

// RootPEM returns the root CA certificate PEM encoded
func (ca *CertAuthority) RootPEM() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return nil
	}
	return EncodeCertificatePEM(ca.rootCert.Raw)
}

// IsInitialized returns true if the CA is initialized
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	return ca.rootCert != nil && ca.rootKey != nil
}

func newSerial() (*big.Int, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}
