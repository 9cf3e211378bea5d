// Package dns resolves hostnames for the transport's dialer, caching
// answers for their TTL. Lookups go through the system resolver unless an
// upstream nameserver is configured, in which case A/AAAA queries are sent
// to it directly.
package dns

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

const (
	fallbackTTL = 5 * time.Minute
	floorTTL    = 30 * time.Second
	// bounds a shared lookup, which outlives any one caller's context
	lookupTimeout = 10 * time.Second
)

type answer struct {
	ips     []net.IP
	expires time.Time
}

// Cache is a TTL-aware resolver cache, safe for concurrent use. Concurrent
// misses for one host share a single lookup.
type Cache struct {
	mu      sync.RWMutex
	answers map[string]answer
	group   singleflight.Group

	system     *net.Resolver
	nameserver string
	client     *mdns.Client
	preferIPv4 bool
	now        func() time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithNameserver queries addr ("1.1.1.1" or "1.1.1.1:53") instead of the
// system resolver
func WithNameserver(addr string) Option {
	return func(c *Cache) {
		if addr == "" {
			return
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, "53")
		}
		c.nameserver = addr
		c.client = &mdns.Client{Net: "udp", Timeout: 5 * time.Second}
	}
}

// WithPreferIPv4 puts IPv4 addresses ahead of IPv6 in Addrs
func WithPreferIPv4() Option {
	return func(c *Cache) {
		c.preferIPv4 = true
	}
}

// New creates a cache
func New(opts ...Option) *Cache {
	c := &Cache{
		answers: make(map[string]answer),
		system:  net.DefaultResolver,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Nameserver returns the upstream nameserver, empty for the system resolver
func (c *Cache) Nameserver() string {
	return c.nameserver
}

// Resolve returns the addresses of host. IP literals are returned as is.
// When a refresh fails the expired answer is served instead.
func (c *Cache) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	cached, ok, fresh := c.cached(host)
	if fresh {
		return cached.ips, nil
	}

	ch := c.group.DoChan(host, func() (any, error) {
		// a lookup may have finished since the read above
		if a, _, fresh := c.cached(host); fresh {
			return a.ips, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		ips, ttl, err := c.lookup(lctx, host)
		if err != nil {
			return nil, err
		}
		c.Store(host, ips, clampTTL(ttl))
		return ips, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		if ok {
			return cached.ips, nil
		}
		return nil, res.Err
	}
	return res.Val.([]net.IP), nil
}

func (c *Cache) cached(host string) (a answer, ok, fresh bool) {
	c.mu.RLock()
	a, ok = c.answers[host]
	c.mu.RUnlock()
	return a, ok, ok && c.now().Before(a.expires)
}

// Addrs resolves host and orders the result for dialing: address families
// alternate, IPv6 first unless IPv4 is preferred
func (c *Cache) Addrs(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := c.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host, IsNotFound: true}
	}

	var v4, v6 []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			v4 = append(v4, ip)
		} else {
			v6 = append(v6, ip)
		}
	}
	first, second := v6, v4
	if c.preferIPv4 {
		first, second = v4, v6
	}

	out := make([]net.IP, 0, len(ips))
	for i := 0; i < len(first) || i < len(second); i++ {
		if i < len(first) {
			out = append(out, first[i])
		}
		if i < len(second) {
			out = append(out, second[i])
		}
	}
	return out, nil
}

// Store caches ips for host for ttl
func (c *Cache) Store(host string, ips []net.IP, ttl time.Duration) {
	c.mu.Lock()
	c.answers[host] = answer{ips: ips, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Forget drops the cached answer for host
func (c *Cache) Forget(host string) {
	c.mu.Lock()
	delete(c.answers, host)
	c.mu.Unlock()
}

// Len returns the number of cached hosts, expired or not
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.answers)
}

// clampTTL applies the fallback for unknown TTLs and the floor
func clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return fallbackTTL
	case ttl < floorTTL:
		return floorTTL
	default:
		return ttl
	}
}

// lookup queries the configured source. A zero TTL means the source did
// not report one.
func (c *Cache) lookup(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	if c.client != nil {
		return c.exchange(ctx, host)
	}

	addrs, err := c.system.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, 0, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, 0, nil
}

// exchange sends A and AAAA queries to the nameserver; the answer TTL is
// the smallest record TTL
func (c *Cache) exchange(ctx context.Context, host string) ([]net.IP, time.Duration, error) {
	var (
		ips     []net.IP
		ttl     time.Duration
		lastErr error
	)
	for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
		msg := new(mdns.Msg)
		msg.SetQuestion(mdns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, _, err := c.client.ExchangeContext(ctx, msg, c.nameserver)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != mdns.RcodeSuccess {
			lastErr = fmt.Errorf("%s: %s", host, mdns.RcodeToString[resp.Rcode])
			continue
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *mdns.A:
				ips = append(ips, rec.A)
			case *mdns.AAAA:
				ips = append(ips, rec.AAAA)
			default:
				continue
			}
			if t := time.Duration(rr.Header().Ttl) * time.Second; ttl == 0 || t < ttl {
				ttl = t
			}
		}
	}

	if len(ips) == 0 {
		if lastErr == nil {
			lastErr = &net.DNSError{Err: "no addresses found", Name: host, IsNotFound: true}
		}
		return nil, 0, lastErr
	}
	return ips, ttl, nil
}
