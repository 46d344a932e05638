package transport

import (
	"net"
	"strconv"
	"strings"
)

// ResolveUDPAddr parses host[:port] into a UDP address. A missing port
// defaults to DefaultPort.
func ResolveUDPAddr(addr string) (net.Addr, error) {
	if addr == "" {
		return nil, ErrInvalidAddress
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		host := strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
		addr = net.JoinHostPort(host, strconv.Itoa(DefaultPort))
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return udpAddr, nil
}

// AddrKey returns a map key identifying a peer address.
func AddrKey(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.Network() + "/" + addr.String()
}
