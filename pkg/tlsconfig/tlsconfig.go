package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ErrIncomplete indicates a certificate was given without its key or CA
var ErrIncomplete = errors.New("incomplete TLS configuration")

// Files names the PEM files of one side of an mTLS connection
type Files struct {
	Cert string // this side's certificate
	Key  string // this side's private key
	CA   string // CA that signed the peer's certificate
}

// Enabled reports whether any TLS file was configured
func (f Files) Enabled() bool {
	return f.Cert != "" || f.Key != "" || f.CA != ""
}

// Server creates a tls.Config requiring client certs signed by CA (mTLS).
func (f Files) Server() (*tls.Config, error) {
	if f.Cert == "" || f.Key == "" || f.CA == "" {
		return nil, fmt.Errorf("%w: server needs cert, key and CA", ErrIncomplete)
	}

	cert, err := loadKeyPair(f.Cert, f.Key)
	if err != nil {
		return nil, err
	}

	pool, err := loadPool(f.CA)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Client creates a tls.Config trusting CA. The client certificate is
// optional; without it only the server is authenticated.
func (f Files) Client(serverName string) (*tls.Config, error) {
	if f.CA == "" {
		return nil, fmt.Errorf("%w: client needs a CA", ErrIncomplete)
	}
	if (f.Cert == "") != (f.Key == "") {
		return nil, fmt.Errorf("%w: cert and key must be set together", ErrIncomplete)
	}

	pool, err := loadPool(f.CA)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if f.Cert != "" {
		cert, err := loadKeyPair(f.Cert, f.Key)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func loadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load key pair: %w", err)
	}
	return cert, nil
}

func loadPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", caFile)
	}
	return pool, nil
}
