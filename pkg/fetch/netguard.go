package fetch

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"syscall"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// IsPublicAddr reports whether addr is routable on the public internet.
// Loopback, private, link-local, multicast and unspecified addresses are not.
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}

// CheckPublicHost rejects hosts that are obviously internal without resolving them:
// "localhost" names and non-public IP literals. Names still need the dial-time check.
func CheckPublicHost(host string) error {
	h := strings.TrimSuffix(strings.ToLower(host), ".")
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return fmt.Errorf("%w: %s", utils.ErrBlockedAddress, host)
	}
	if addr, err := netip.ParseAddr(strings.Trim(h, "[]")); err == nil && !IsPublicAddr(addr) {
		return fmt.Errorf("%w: %s", utils.ErrBlockedAddress, host)
	}
	return nil
}

// denyPrivateControl is a net.Dialer Control hook. It runs after DNS resolution, so it also
// covers names that resolve to internal addresses and redirects to them.
func denyPrivateControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", utils.ErrBlockedAddress, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !IsPublicAddr(addr) {
		return fmt.Errorf("%w: %s", utils.ErrBlockedAddress, address)
	}
	return nil
}
