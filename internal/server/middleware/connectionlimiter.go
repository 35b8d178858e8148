package middleware

import (
	"log/slog"
	"net/http"

	"github.com/railx/ordertrack/pkg/config"
)

type UserConnectionCounter func(userID string) (int, error)

// NewConnectionLimiter refuses handshakes of users already at their socket
// limit before the upgrade. It must run after the auth middleware so the user
// is known. The limit is enforced again when the connection is associated, so
// concurrent handshakes that all pass here still cannot exceed it.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter UserConnectionCounter,
	config config.ConnectionLimitConfig,
) Middleware {
	logger = logger.With(slog.String("component", "connection_limiter"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.MaxPerUser <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			userID := reqMeta.Identity.UserID
			if userID == "" {
				logger.Warn("Connection limiter could not determine userID from metadata; blocking request for safety.")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			count, err := counter(userID)
			if err != nil {
				logger.Error("Connection limiter failed to get connection count", slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if count < config.MaxPerUser {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("User connection limit reached", slog.String("userID", userID), slog.Int("count", count))
			switch config.Mode {
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			case "cycle":
				// the oldest connection is evicted on association
				next.ServeHTTP(w, r)
			default:
				logger.Error("Invalid connection limit mode configured", slog.String("mode", config.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
		})
	}
}
