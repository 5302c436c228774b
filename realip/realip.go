// Package realip finds the address a webhook request came from and tells whether it
// belongs to Telegram's delivery networks.
package realip

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

var (
	privatePrefixes = mustPrefixes(
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"100.64.0.0/10", // RFC 6598
		"198.18.0.0/15", // RFC 2544
		"fc00::/7",
		"fe80::/10",
	)

	// telegramPrefixes are the networks Telegram delivers webhooks from.
	telegramPrefixes = mustPrefixes(
		"149.154.160.0/20",
		"91.108.4.0/22",
	)
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Get extracts the client IP from the request, trusting proxy headers.
// It prefers the right-most public address in X-Forwarded-For or X-Real-Ip,
// falls back to the first valid address seen in those headers, then to RemoteAddr.
func Get(r *http.Request) (string, error) {
	var firstValid string

	for _, header := range []string{"X-Forwarded-For", "X-Real-Ip"} {
		hv := r.Header.Get(header)
		if hv == "" {
			continue
		}

		parts := strings.Split(hv, ",")
		addrs := make([]netip.Addr, 0, len(parts))
		for _, part := range parts {
			addr, err := netip.ParseAddr(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			addrs = append(addrs, addr)
		}
		if len(addrs) > 0 && firstValid == "" {
			firstValid = addrs[0].String()
		}

		for i := len(addrs) - 1; i >= 0; i-- {
			if addrs[i].IsGlobalUnicast() && !contains(privatePrefixes, addrs[i]) {
				return addrs[i].String(), nil
			}
		}
	}

	if firstValid != "" {
		return firstValid, nil
	}
	return Remote(r)
}

// Remote returns the IP of the peer that opened the connection, ignoring headers.
func Remote(r *http.Request) (string, error) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return "", fmt.Errorf("no valid IP found in request: %q", r.RemoteAddr)
	}
	return addr.String(), nil
}

// IsPrivateIP returns true if the IP address is in a private subnet.
func IsPrivateIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	return ok && contains(privatePrefixes, addr)
}

// IsTelegramIP returns true if the IP address is in a Telegram webhook network.
func IsTelegramIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	return ok && contains(telegramPrefixes, addr)
}

// FromTelegram reports whether r was sent from a Telegram webhook network. With
// trustProxy the address is taken from proxy headers (see Get), otherwise from the
// connection itself.
func FromTelegram(r *http.Request, trustProxy bool) bool {
	get := Remote
	if trustProxy {
		get = Get
	}
	s, err := get(r)
	if err != nil {
		return false
	}
	return IsTelegramIP(net.ParseIP(s))
}
