package util

import (
	"net"
	"strings"
)

// ExtractIPAddress returns the caller address of a webhook request,
// preferring the first X-Forwarded-For hop over RemoteAddr.
func ExtractIPAddress(remoteAddr string, xForwardedFor string) string {
	addr := remoteAddr
	if xForwardedFor != "" {
		first, _, _ := strings.Cut(xForwardedFor, ",")
		addr = strings.TrimSpace(first)
	}
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
