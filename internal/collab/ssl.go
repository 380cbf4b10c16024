package collab

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/recondeck/recondeck/internal/pipeline"
)

// TLSCertChecker inspects the certificate a host presents on port 443.
type TLSCertChecker struct {
	timeout time.Duration
	port    string
}

// NewTLSCertChecker builds a TLSCertChecker with the given dial timeout.
func NewTLSCertChecker(timeout time.Duration) *TLSCertChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TLSCertChecker{timeout: timeout, port: "443"}
}

// Check connects to host:443 and reports the leaf certificate. A
// certificate that fails verification is still reported, with Valid set
// to false.
func (c *TLSCertChecker) Check(ctx context.Context, host string) (*pipeline.CertInfo, error) {
	addr := net.JoinHostPort(host, c.port)
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.timeout},
		Config:    &tls.Config{ServerName: host},
	}

	valid := true
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		// Retry without verification so expired or mis-issued certs can
		// still be inspected.
		valid = false
		dialer.Config = &tls.Config{ServerName: host, InsecureSkipVerify: true}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tls dial %s: %w", addr, err)
		}
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("tls dial %s: no peer certificates", addr)
	}
	leaf := state.PeerCertificates[0]

	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		valid = false
	}
	return &pipeline.CertInfo{
		Host:      host,
		Issuer:    leaf.Issuer.String(),
		Subject:   leaf.Subject.String(),
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
		DaysLeft:  int(time.Until(leaf.NotAfter).Hours() / 24),
		Valid:     valid,
		DNSNames:  leaf.DNSNames,
	}, nil
}
