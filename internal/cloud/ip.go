package cloud

import (
	"net/netip"

	"go4.org/netipx"
)

var privateRanges = mustIPSet(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustIPSet(prefixes ...string) *netipx.IPSet {
	var b netipx.IPSetBuilder
	for _, p := range prefixes {
		b.AddPrefix(netip.MustParsePrefix(p))
	}
	set, err := b.IPSet()
	if err != nil {
		panic(err)
	}
	return set
}

// IsPublicIP reports whether ip is routable on the public internet.
// Unparsable input is never public.
func IsPublicIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap().WithZone("")
	if addr.IsUnspecified() || addr.IsMulticast() {
		return false
	}
	return !privateRanges.Contains(addr)
}
