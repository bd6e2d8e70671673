package http

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const unknownClient = "unknown"

// ProxyTrust resolves the caller address of requests that may pass through the
// deployment's reverse proxies. The address feeds audit records and the
// per-client rate limit keys, so forwarded headers count only when the peer
// itself is a trusted hop.
type ProxyTrust struct {
	proxies []netip.Prefix
}

// ParseProxyTrust builds a ProxyTrust from TRUSTED_PROXIES entries. Entries
// are CIDR ranges; a bare address is taken as a single host.
func ParseProxyTrust(entries []string) (*ProxyTrust, error) {
	p := &ProxyTrust{proxies: make([]netip.Prefix, 0, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, err := parsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		p.proxies = append(p.proxies, prefix)
	}
	return p, nil
}

func parsePrefix(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Trusts reports whether addr is one of the configured proxy hops
func (p *ProxyTrust) Trusts(addr netip.Addr) bool {
	if p == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the caller address of r. A nil ProxyTrust trusts no proxy.
//
// When the peer is trusted, X-Forwarded-For is walked from the nearest hop
// outwards and the first address outside the trusted ranges is the client.
// X-Real-IP is consulted only if the forwarded chain yields nothing.
func (p *ProxyTrust) ClientIP(r *http.Request) string {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		if r.RemoteAddr == "" {
			return unknownClient
		}
		return r.RemoteAddr
	}
	if !p.Trusts(peer) {
		return peer.String()
	}

	if client, ok := p.walkForwarded(r.Header.Values("X-Forwarded-For")); ok {
		return client.String()
	}
	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}
	return peer.String()
}

// walkForwarded scans the hops right to left. If every hop is trusted the
// outermost one is returned; an unparsable hop ends the walk.
func (p *ProxyTrust) walkForwarded(headers []string) (netip.Addr, bool) {
	var hops []string
	for _, h := range headers {
		hops = append(hops, strings.Split(h, ",")...)
	}

	var last netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		addr = addr.Unmap()
		if !p.Trusts(addr) {
			return addr, true
		}
		last = addr
	}
	return last, last.IsValid()
}

func peerAddr(remote string) (netip.Addr, bool) {
	if remote == "" {
		return netip.Addr{}, false
	}
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
