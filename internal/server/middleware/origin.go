package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// OriginMatcher decides whether a browser Origin header may open a socket.
type OriginMatcher struct {
	any    bool
	scheme string
	host   string
}

// NewOriginMatcher parses the configured origin. "*" allows every origin. A
// full URL such as "https://shop.example.com" pins both scheme and host; a bare
// host pattern such as "*.example.com" matches the host under any scheme.
func NewOriginMatcher(allowed string) OriginMatcher {
	allowed = strings.TrimSpace(allowed)
	if allowed == "*" {
		return OriginMatcher{any: true}
	}
	if u, err := url.Parse(allowed); err == nil && u.Scheme != "" && u.Host != "" {
		return OriginMatcher{scheme: strings.ToLower(u.Scheme), host: strings.ToLower(u.Host)}
	}
	return OriginMatcher{host: strings.ToLower(allowed)}
}

// Allows reports whether origin matches. Requests without an Origin header
// come from non-browser clients and are allowed.
func (m OriginMatcher) Allows(origin string) bool {
	if m.any || origin == "" {
		return true
	}
	if m.host == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if m.scheme != "" && !strings.EqualFold(u.Scheme, m.scheme) {
		return false
	}
	ok, err := path.Match(m.host, strings.ToLower(u.Host))
	return err == nil && ok
}

// NewOriginCheck refuses handshakes from origins the matcher does not allow.
func NewOriginCheck(logger *slog.Logger, matcher OriginMatcher) Middleware {
	logger = logger.With(slog.String("component", "origin_check"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !matcher.Allows(origin) {
				logger.Warn("Rejected handshake from disallowed origin", slog.String("origin", origin))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
