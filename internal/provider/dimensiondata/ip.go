package dimensiondata

import (
	"net/netip"

	"github.com/chiquitav2/ddcloud/internal/cloud"
	"github.com/chiquitav2/ddcloud/internal/config"
	"github.com/samber/lo"
)

const (
	InterfacePublic  = "public_ips"
	InterfacePrivate = "private_ips"

	ProtocolIPv4 = "ipv4"
	ProtocolIPv6 = "ipv6"
)

// PreferredIP returns the first address of the requested family, ipv4
// unless protocol is "ipv6". Empty means none matched.
func PreferredIP(protocol string, ips []string) string {
	for _, ip := range ips {
		addr, err := netip.ParseAddr(ip)
		if err != nil || addr.Zone() != "" {
			continue
		}
		if protocol == ProtocolIPv6 {
			if addr.Is6() {
				return ip
			}
			continue
		}
		if addr.Is4() {
			return ip
		}
	}
	return ""
}

// ClassifyIPs moves publicly routable addresses reported as private into
// the public list. Order is kept and duplicates dropped.
func ClassifyIPs(public, private []string) (pub, priv []string) {
	pub = lo.Uniq(append([]string{}, public...))
	priv = []string{}

	for _, ip := range private {
		if cloud.IsPublicIP(ip) {
			if !lo.Contains(pub, ip) {
				pub = append(pub, ip)
			}
			continue
		}
		if !lo.Contains(priv, ip) {
			priv = append(priv, ip)
		}
	}
	return pub, priv
}

// SelectIPs picks the addresses that end the IP wait. Private addresses are
// chosen only for a private_ips preference; otherwise public ones, if any.
func SelectIPs(iface string, public, private []string) ([]string, bool) {
	if iface == InterfacePrivate && len(private) > 0 {
		return private, true
	}
	if len(public) > 0 {
		return public, true
	}
	// No fallback to private addresses: a node that only reports private
	// ones keeps the wait going unless private_ips was asked for.
	return nil, false
}

// SSHInterface is the address list to connect to, public_ips by default
func SSHInterface(vm config.VM, opts *config.Opts) string {
	return config.GetString("ssh_interface", vm, opts, InterfacePublic, false)
}

func protocol(vm config.VM, opts *config.Opts) string {
	return config.GetString("protocol", vm, opts, ProtocolIPv4, false)
}

func addressesFor(iface string, public, private []string) []string {
	if iface == InterfacePrivate {
		return private
	}
	return public
}
