package middleware

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
)

// ParseAllowList accepts CIDR prefixes or bare addresses.
func ParseAllowList(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid allow-list entry %q", raw)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid allow-list entry %q", raw)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

// WithAdminAccess rejects clients outside allowed. An empty list disables
// the check.
func WithAdminAccess(allowed []netip.Prefix, logger *slog.Logger) gin.HandlerFunc {
	if len(allowed) == 0 {
		logger.Info("admin access control disabled")
		return func(c *gin.Context) { c.Next() }
	}
	logger.Info("admin access control enabled", "prefixes", len(allowed))
	return func(c *gin.Context) {
		if !isIPAllowed(allowed, c.ClientIP()) {
			Logger(c, logger).Warn("admin access denied", "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   http.StatusText(http.StatusForbidden),
				"code":    http.StatusForbidden,
				"message": "access denied",
			})
			return
		}
		c.Next()
	}
}

func isIPAllowed(allowed []netip.Prefix, clientIP string) bool {
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
