package interfaces

import (
	"context"
	"crypto/tls"
)

// CertKeyPair is a decrypted certificate and private key in PEM form.
type CertKeyPair struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
}

// CertificateCache is the in-memory index from verified hostname to
// decrypted certificate material, consulted on every TLS handshake that
// needs SNI-based selection. Get must never perform I/O. The cache is a
// derived view over the domain store and is fully rebuilt by Warm.
type CertificateCache interface {
	Get(hostname string) (*CertKeyPair, bool)
	Put(hostname string, certificatePEM, privateKeyPEM []byte) error
	Delete(hostname string)
	Warm(ctx context.Context) error
	// GetCertificate plugs into tls.Config for SNI selection; it returns an
	// error for unknown hostnames so callers fall back to a default cert.
	GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error)
}
