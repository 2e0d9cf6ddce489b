package certcache

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/elektrine/domainstack/interfaces"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
)

type cacheEntry struct {
	pair interfaces.CertKeyPair
	cert tls.Certificate
}

// certificateCache keeps decrypted certificates keyed by normalized hostname.
// Lookups happen on the TLS handshake path, so reads take only an RLock and
// never touch postgres or the codec.
type certificateCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	postgres *repository.Repositories
	codec    interfaces.SecretCodec
	log      logger.Logger
}

func NewCertificateCache(postgres *repository.Repositories, codec interfaces.SecretCodec, log logger.Logger) interfaces.CertificateCache {
	return &certificateCache{
		entries:  map[string]cacheEntry{},
		postgres: postgres,
		codec:    codec,
		log:      log,
	}
}

func (c *certificateCache) Get(hostname string) (*interfaces.CertKeyPair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[utils.NormalizeDomain(hostname)]
	if !ok {
		return nil, false
	}
	pair := entry.pair
	return &pair, true
}

func (c *certificateCache) Put(hostname string, certificatePEM, privateKeyPEM []byte) error {
	cert, err := tls.X509KeyPair(certificatePEM, privateKeyPEM)
	if err != nil {
		return errors.Wrap(err, "invalid certificate key pair")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[utils.NormalizeDomain(hostname)] = cacheEntry{
		pair: interfaces.CertKeyPair{
			CertificatePEM: certificatePEM,
			PrivateKeyPEM:  privateKeyPEM,
		},
		cert: cert,
	}
	return nil
}

func (c *certificateCache) Delete(hostname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, utils.NormalizeDomain(hostname))
}

// Warm rebuilds the cache from every issued certificate in the store. A row
// that fails to decrypt or parse is skipped with a loud log line rather than
// aborting the rebuild; one bad row must not take down SNI for everyone else.
func (c *certificateCache) Warm(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CertificateCache.Warm")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	domains, err := c.postgres.CustomDomainRepository.GetAllIssued(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "error loading issued certificates")
	}

	entries := make(map[string]cacheEntry, len(domains))
	for _, domain := range domains {
		certPEM, err := c.codec.Decrypt(domain.Certificate)
		if err != nil {
			tracing.TraceErr(span, err)
			c.log.Errorf("skipping certificate for %s: decrypt failed: %v", domain.Domain, err)
			continue
		}
		keyPEM, err := c.codec.Decrypt(domain.PrivateKey)
		if err != nil {
			tracing.TraceErr(span, err)
			c.log.Errorf("skipping private key for %s: decrypt failed: %v", domain.Domain, err)
			continue
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			tracing.TraceErr(span, err)
			c.log.Errorf("skipping certificate for %s: invalid key pair: %v", domain.Domain, err)
			continue
		}
		entries[utils.NormalizeDomain(domain.Domain)] = cacheEntry{
			pair: interfaces.CertKeyPair{CertificatePEM: certPEM, PrivateKeyPEM: keyPEM},
			cert: cert,
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	span.LogKV("result.cachedCertificates", len(entries))
	c.log.Infof("certificate cache warmed with %d entries", len(entries))
	return nil
}

func (c *certificateCache) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[utils.NormalizeDomain(hello.ServerName)]
	if !ok {
		return nil, er.ErrCertificateNotFound
	}
	cert := entry.cert
	return &cert, nil
}
