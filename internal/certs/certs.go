// Package certs keeps a self-signed localhost certificate for the HTTPS
// listeners used by the API server and the bank link page.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	certName = "localhost.pem"
	keyName  = "localhost-key.pem"

	// Validity is the lifetime of a generated certificate.
	Validity = 365 * 24 * time.Hour
	// RenewBefore regenerates certificates this close to expiry.
	RenewBefore = 14 * 24 * time.Hour
)

// Store loads or generates the localhost key pair under a directory.
type Store struct {
	logger *slog.Logger
	now    func() time.Time
	dir    string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		now:    time.Now,
		logger: slog.Default().With("component", "certs"),
	}
}

// CertFile is the PEM certificate path.
func (s *Store) CertFile() string { return filepath.Join(s.dir, certName) }

// KeyFile is the PEM private key path.
func (s *Store) KeyFile() string { return filepath.Join(s.dir, keyName) }

// Certificate returns the stored key pair, generating a fresh one when the
// files are missing, unreadable, expiring or not valid for localhost.
func (s *Store) Certificate() (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(s.CertFile(), s.KeyFile())
	switch {
	case err == nil:
		verr := s.check(cert)
		if verr == nil {
			return cert, nil
		}
		s.logger.Info("Regenerating localhost certificate", "reason", verr)
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Debug("No localhost certificate yet", "dir", s.dir)
	default:
		s.logger.Warn("Stored localhost certificate unreadable", "error", err)
	}
	return s.generate()
}

// TLSConfig returns a server configuration serving the localhost certificate.
func (s *Store) TLSConfig() (*tls.Config, error) {
	cert, err := s.Certificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (s *Store) check(cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return errors.New("empty certificate chain")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	now := s.now()
	if now.Before(leaf.NotBefore) {
		return errors.New("certificate not yet valid")
	}
	if now.Add(RenewBefore).After(leaf.NotAfter) {
		return errors.New("certificate expires soon")
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		return fmt.Errorf("certificate not valid for localhost: %w", err)
	}
	return nil
}

func (s *Store) generate() (tls.Certificate, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := s.now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"Subscription Copilot"}, CommonName: "localhost"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(Validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost", "*.localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to encode private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(s.CertFile(), certPEM, 0600); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(s.KeyFile(), keyPEM, 0600); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to write private key: %w", err)
	}

	s.logger.Info("Generated localhost certificate", "file", s.CertFile(), "expires", template.NotAfter.Format(time.DateOnly))
	return tls.X509KeyPair(certPEM, keyPEM)
}
