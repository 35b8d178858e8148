package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/railx/ordertrack/pkg/config"
	"github.com/railx/ordertrack/pkg/state"
)

const (
	tokenCookie = "session-token"
	tokenQuery  = "token"
)

// Authenticator turns a handshake token into an identity.
type Authenticator interface {
	Verify(token string) (state.Identity, error)
	Resolve(subject, role string, orders []string) (state.Identity, error)
}

// NewAuthMiddleware attaches the caller's identity to the request metadata.
// With auth disabled every caller gets the anonymous role, keyed by IP.
func NewAuthMiddleware(logger *slog.Logger, cfg config.AuthConfig, authn Authenticator) Middleware {
	logger = logger.With(slog.String("component", "auth"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if !cfg.Enabled {
				identity, err := authn.Resolve("anonymous:"+reqMeta.IP, cfg.AnonymousRole, nil)
				if err != nil {
					logger.Error("Anonymous role cannot be resolved", slog.String("role", cfg.AnonymousRole), slog.Any("error", err))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					return
				}
				reqMeta.Identity = identity
				next.ServeHTTP(w, r)
				return
			}

			tokenString := TokenFromRequest(r)
			if tokenString == "" {
				logger.Warn("JWT token missing in request", slog.String("ip", reqMeta.IP))
				http.Error(w, "Missing token", http.StatusUnauthorized)
				return
			}

			identity, err := authn.Verify(tokenString)
			if err != nil {
				logger.Warn("Invalid JWT token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			reqMeta.Identity = identity
			next.ServeHTTP(w, r)
		})
	}
}

// TokenFromRequest reads the bearer token from the Authorization header, the
// token query parameter or the session cookie, in that order.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get(tokenQuery); token != "" {
		return token
	}
	if cookie, err := r.Cookie(tokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}
