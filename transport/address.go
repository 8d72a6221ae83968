package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Address identifies a peer by IP, port and address family.
// It is an immutable, comparable value and is safe to use as a map key.
type Address struct {
	ap netip.AddrPort
}

// AddressFrom wraps a netip.AddrPort. IPv4-mapped IPv6 addresses are unmapped
// so that the same peer always produces the same key.
func AddressFrom(ap netip.AddrPort) Address {
	return Address{ap: netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())}
}

// AddressFromNet converts a net.Addr returned by a socket into an Address.
func AddressFromNet(addr net.Addr) (Address, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return AddressFrom(a.AddrPort()), true
	case nil:
		return Address{}, false
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return Address{}, false
		}
		return AddressFrom(ap), true
	}
}

// ParseAddress parses an "ip:port" string.
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return AddressFrom(ap), nil
}

// ResolveAddress turns a host name or IP literal plus port into an Address.
// The literal "localhost" is answered without consulting the resolver.
func ResolveAddress(ctx context.Context, host string, port int) (Address, error) {
	if port <= 0 || port > 0xFFFF {
		return Address{}, fmt.Errorf("%w: port %d out of range", ErrInvalidAddress, port)
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return Address{}, fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	if strings.EqualFold(host, "localhost") {
		return AddressFrom(netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), uint16(port))), nil
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return AddressFrom(netip.AddrPortFrom(ip, uint16(port))), nil
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return Address{}, newOpError("resolve", host, err)
	}
	// Prefer IPv4 so the default dual-stack listener is reachable.
	for _, ip := range ips {
		if ip.Unmap().Is4() {
			return AddressFrom(netip.AddrPortFrom(ip, uint16(port))), nil
		}
	}
	if len(ips) == 0 {
		return Address{}, newOpError("resolve", host, ErrInvalidAddress)
	}
	return AddressFrom(netip.AddrPortFrom(ips[0], uint16(port))), nil
}

// LoopbackAddress returns 127.0.0.1 with the given port.
func LoopbackAddress(port int) Address {
	return AddressFrom(netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), uint16(port)))
}

// IsValid reports whether the address holds a usable IP and a non-zero port.
func (a Address) IsValid() bool {
	return a.ap.IsValid() && a.ap.Port() != 0
}

// IP returns the IP part of the address.
func (a Address) IP() netip.Addr {
	return a.ap.Addr()
}

// Port returns the port part of the address.
func (a Address) Port() uint16 {
	return a.ap.Port()
}

// Family returns "ip4", "ip6" or "" for the zero Address.
func (a Address) Family() string {
	switch {
	case !a.ap.IsValid():
		return ""
	case a.ap.Addr().Is4():
		return "ip4"
	default:
		return "ip6"
	}
}

// AddrPort returns the underlying netip.AddrPort.
func (a Address) AddrPort() netip.AddrPort {
	return a.ap
}

// UDPAddr converts the address for use with net.PacketConn.
func (a Address) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(a.ap)
}

// String returns "ip:port", or "invalid" for the zero Address.
func (a Address) String() string {
	if !a.ap.IsValid() {
		return "invalid"
	}
	return a.ap.String()
}

// HostAddress returns the first non-loopback IPv4 address of this machine,
// falling back to 127.0.0.1.
func HostAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
