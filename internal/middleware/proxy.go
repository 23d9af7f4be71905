package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies makes c.RealIP() honour X-Real-IP and X-Forwarded-For,
// but only for connections arriving from one of trustedCIDRs. Rate limits
// and audit entries key on that address.
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) {
	var nets []*net.IPNet
	for _, cidr := range trustedCIDRs {
		_, n, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy CIDR", slog.String("cidr", cidr))
			continue
		}
		nets = append(nets, n)
	}
	e.IPExtractor = ipExtractor(nets)
}

func ipExtractor(trusted []*net.IPNet) echo.IPExtractor {
	return func(req *http.Request) string {
		peer := req.RemoteAddr
		if host, _, err := net.SplitHostPort(peer); err == nil {
			peer = host
		}
		if !within(peer, trusted) {
			return peer
		}
		if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		return peer
	}
}

func within(ipStr string, nets []*net.IPNet) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
