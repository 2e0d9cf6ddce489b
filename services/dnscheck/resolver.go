package dnscheck

import (
	"context"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/pkg/errors"

	"github.com/elektrine/domainstack/config"
)

// ErrRecordNotFound is returned when the zone exists but carries no record of
// the requested type, or the name does not exist at all (NXDOMAIN). Transient
// resolver failures (SERVFAIL, timeout) surface as other errors so callers can
// tell "absent" from "retry later".
var ErrRecordNotFound = errors.New("dns record not found")

// Resolver is the lookup surface the verifier needs. Kept small so tests can
// substitute a canned resolver.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupA(ctx context.Context, name string) ([]net.IP, error)
}

type dnsResolver struct {
	nameservers []string
	client      *mdns.Client
}

func NewResolver(cfg *config.DNSConfig) Resolver {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	nameservers := cfg.Nameservers
	if len(nameservers) == 0 {
		nameservers = systemNameservers()
	}
	for i, s := range nameservers {
		if !strings.Contains(s, ":") {
			nameservers[i] = s + ":53"
		}
	}

	return &dnsResolver{
		nameservers: nameservers,
		client:      &mdns.Client{Timeout: timeout},
	}
}

func systemNameservers() []string {
	clientConfig, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(clientConfig.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	return clientConfig.Servers
}

func ensureAbsolute(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}

// query tries each nameserver twice before giving up on a transient failure.
func (r *dnsResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(ensureAbsolute(name), qtype)
	m.RecursionDesired = true

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		for _, server := range r.nameservers {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = errors.Wrap(err, "dns query failed")
				continue
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, nil
			case mdns.RcodeNameError:
				return nil, ErrRecordNotFound
			default:
				lastErr = errors.Errorf("dns query returned rcode %d", resp.Rcode)
				continue
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("no nameservers configured")
}

func (r *dnsResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	resp, err := r.query(ctx, name, mdns.TypeTXT)
	if err != nil {
		return nil, err
	}

	var records []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			// Long TXT records arrive split into 255-byte strings; join them
			// per RFC 7208 section 3.3.
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	if len(records) == 0 {
		return nil, ErrRecordNotFound
	}
	return records, nil
}

func (r *dnsResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	resp, err := r.query(ctx, name, mdns.TypeMX)
	if err != nil {
		return nil, err
	}

	var records []*net.MX
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*mdns.MX); ok {
			records = append(records, &net.MX{Host: mx.Mx, Pref: mx.Preference})
		}
	}
	if len(records) == 0 {
		return nil, ErrRecordNotFound
	}
	return records, nil
}

func (r *dnsResolver) LookupA(ctx context.Context, name string) ([]net.IP, error) {
	resp, err := r.query(ctx, name, mdns.TypeA)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, rr := range resp.Answer {
		if a, ok := rr.(*mdns.A); ok {
			ips = append(ips, a.A)
		}
	}
	if len(ips) == 0 {
		return nil, ErrRecordNotFound
	}
	return ips, nil
}
