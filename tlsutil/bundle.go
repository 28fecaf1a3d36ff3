// Package tlsutil loads PEM trust bundles for FortiManager connections.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Bundle is a parsed PEM bundle: one or more certificates to trust and an
// optional client certificate with its key.
type Bundle struct {
	Roots      []*x509.Certificate
	RootPool   *x509.CertPool
	ClientCert *tls.Certificate
}

// LoadBundle reads and parses the PEM bundle at path.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tls bundle: %w", err)
	}
	return LoadBundleFromBytes(data)
}

// LoadBundleFromBytes parses a PEM bundle. CA certificates and self-signed
// leaves (the usual FortiManager factory certificate) become roots. A
// non-CA certificate followed by a matching private key is used as the
// client certificate instead.
func LoadBundleFromBytes(data []byte) (*Bundle, error) {
	var (
		certs    []*x509.Certificate
		certPEMs [][]byte
		keyPEMs  [][]byte
	)
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("tls bundle: parse certificate: %w", err)
			}
			certs = append(certs, cert)
			certPEMs = append(certPEMs, pem.EncodeToMemory(block))
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			keyPEMs = append(keyPEMs, pem.EncodeToMemory(block))
		}
	}
	if len(certs) == 0 {
		return nil, errors.New("tls bundle: no certificate found")
	}

	b := &Bundle{RootPool: x509.NewCertPool()}
	for i, cert := range certs {
		if b.ClientCert == nil && !cert.IsCA && len(keyPEMs) > 0 {
			if pair, ok := matchKey(certPEMs[i], keyPEMs); ok {
				b.ClientCert = &pair
				continue
			}
		}
		b.Roots = append(b.Roots, cert)
		b.RootPool.AddCert(cert)
	}
	if len(b.Roots) == 0 {
		return nil, errors.New("tls bundle: no certificate to trust")
	}
	return b, nil
}

func matchKey(certPEM []byte, keys [][]byte) (tls.Certificate, bool) {
	for _, key := range keys {
		pair, err := tls.X509KeyPair(certPEM, key)
		if err == nil {
			return pair, true
		}
	}
	return tls.Certificate{}, false
}

// ClientConfig returns a TLS client configuration trusting the bundle's
// roots and presenting its client certificate when present.
func (b *Bundle) ClientConfig() *tls.Config {
	cfg := &tls.Config{RootCAs: b.RootPool, MinVersion: tls.VersionTLS12}
	if b.ClientCert != nil {
		cfg.Certificates = []tls.Certificate{*b.ClientCert}
	}
	return cfg
}
