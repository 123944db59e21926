package enforce

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIP is returned when no usable client address can be found.
const UnknownIP = "unknown"

// ClientIP resolves the caller's address: the first X-Forwarded-For entry,
// then X-Real-IP, then the connection peer. Empty values and the literal
// "unknown" are skipped.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := usable(first); ip != "" {
			return ip
		}
	}
	if ip := usable(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := usable(stripPort(r.RemoteAddr)); ip != "" {
		return ip
	}
	return UnknownIP
}

func usable(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, UnknownIP) {
		return ""
	}
	return v
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
