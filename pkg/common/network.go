package common

import (
	"context"
	"net"
)

// IsIPv6Available reports whether the host has a global unicast IPv6 address,
// which is used to decide whether S3 requests should prefer dual-stack endpoints.
func IsIPv6Available() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if ip.To4() == nil && ip.To16() != nil && ip.IsGlobalUnicast() {
			return true
		}
	}
	return false
}

func DialContextIPv6(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp6", address)
}
