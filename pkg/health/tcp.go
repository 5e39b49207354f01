package health

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// TCPChecker dials the registry port. With a TLS config the handshake
// must complete too.
type TCPChecker struct {
	Address string

	timeout time.Duration
	tls     *tls.Config
}

// NewTCPChecker creates a checker for address ("host:port")
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, timeout: 5 * time.Second}
}

// Check implements Checker
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if t.tls != nil {
		d := &tls.Dialer{Config: t.tls}
		conn, err = d.DialContext(ctx, "tcp", t.Address)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", t.Address)
	}
	if err != nil {
		return finish(start, false, "dial %s: %v", t.Address, err)
	}
	_ = conn.Close()
	return finish(start, true, "%s accepts connections", t.Address)
}

// Type implements Checker
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout bounds each dial
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.timeout = timeout
	return t
}

// WithTLSConfig requires a TLS handshake
func (t *TCPChecker) WithTLSConfig(cfg *tls.Config) *TCPChecker {
	t.tls = cfg
	return t
}
