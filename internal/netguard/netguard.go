// Package netguard keeps outbound pings away from loopback, private and
// link-local networks. Hosts are checked when a link is registered and
// again on every dial, so DNS answers and redirects cannot reach a
// blocked address either.
package netguard

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"syscall"
)

// ErrBlockedTarget is returned for hosts and addresses pings may not reach.
var ErrBlockedTarget = errors.New("target address not allowed")

// BlockedCIDRs lists the internal ranges pings never connect to.
var BlockedCIDRs = []string{
	"0.0.0.0/8",      // this network
	"10.0.0.0/8",     // private
	"100.64.0.0/10",  // carrier-grade NAT
	"127.0.0.0/8",    // loopback
	"169.254.0.0/16", // link-local, cloud metadata
	"172.16.0.0/12",  // private
	"192.168.0.0/16", // private
	"::/128",         // unspecified
	"::1/128",        // loopback
	"fc00::/7",       // unique local
	"fe80::/10",      // link-local
}

var blockedPrefixes = mustPrefixes(BlockedCIDRs)

func mustPrefixes(cidrs []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// localSuffixes are name suffixes that only resolve inside a network.
var localSuffixes = []string{".localhost", ".local", ".internal"}

// IsBlockedAddr reports whether addr falls in a blocked range. IPv4-mapped
// IPv6 addresses are judged as IPv4.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsMulticast() || addr.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsBlockedHost reports whether a URL host (without port) is a local name
// or a literal address in a blocked range. Other names pass; their
// resolved addresses are checked by Control when dialing.
func IsBlockedHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(strings.Trim(host, "[]")), ".")
	if host == "" || host == "localhost" {
		return true
	}
	for _, suffix := range localSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return IsBlockedAddr(addr)
	}
	return false
}

// Control is a net.Dialer Control hook. It runs after name resolution
// with the concrete address about to be connected.
func Control(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedTarget, address)
	}
	if IsBlockedAddr(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrBlockedTarget, ap.Addr())
	}
	return nil
}
