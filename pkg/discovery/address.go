package discovery

import (
	"encoding/hex"
	"net"
	"sort"
	"strconv"
)

// maxInstanceName is the DNS label length limit.
const maxInstanceName = 63

// DefaultInstanceName derives an instance name from a hashed public key.
// Format: "zrtp-" followed by the first 6 bytes of the hash in hex.
func DefaultInstanceName(hashedKey []byte) string {
	n := 6
	if len(hashedKey) < n {
		n = len(hashedKey)
	}
	return "zrtp-" + hex.EncodeToString(hashedKey[:n])
}

// ValidateInstanceName checks that name fits in one DNS label.
func ValidateInstanceName(name string) error {
	if name == "" || len(name) > maxInstanceName {
		return ErrInvalidInstanceName
	}
	return nil
}

// SortIPsByPreference orders addresses for reaching a peer over UDP.
// Priority order (highest to lowest):
//  1. IPv4 addresses
//  2. Global and unique local IPv6 addresses
//  3. Link-local IPv6 addresses
//  4. Loopback and anything else
//
// Link-local addresses need a zone that DNS-SD answers do not carry, so
// they come after routable ones.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}

	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)

	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	ip = ip.To16()
	if ip == nil {
		return 99
	}

	switch {
	case ip.IsLoopback():
		return 80
	case ip.IsMulticast():
		return 90
	case ip.To4() != nil:
		return 0
	case ip.IsGlobalUnicast(), isUniqueLocal(ip):
		return 1
	case ip.IsLinkLocalUnicast():
		return 2
	default:
		return 10
	}
}

// isUniqueLocal returns true if the IP is an IPv6 Unique Local Address (fc00::/7).
func isUniqueLocal(ip net.IP) bool {
	ip = ip.To16()
	if ip == nil {
		return false
	}
	return ip[0] == 0xfc || ip[0] == 0xfd
}

// FilterIPv6 returns only IPv6 addresses from the slice.
func FilterIPv6(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// FilterIPv4 returns only IPv4 addresses from the slice.
func FilterIPv4(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// hostPort joins ip and port for net.ResolveUDPAddr.
func hostPort(ip net.IP, port int) string {
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}
