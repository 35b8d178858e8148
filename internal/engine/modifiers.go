package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/railx/ordertrack/pkg/pipeline"
)

var (
	ErrUnauthorized = errors.New("not authorized")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// scopeAny skips the order scope check and only requires the permission bit.
const scopeAny = "any"

// modifierAuthorize requires the caller to hold a permission for the target
// order. Params: [permission] or [permission, "any"].
func (e *Registry) modifierAuthorize(pctx *pipeline.Cargo, params ...string) error {
	if len(params) < 1 || len(params) > 2 {
		return errors.New("'authorize' modifier requires [permission] or [permission, any]")
	}
	perm, ok := e.lookupPermission(params[0])
	if !ok {
		return fmt.Errorf("'authorize' modifier: unknown permission '%s'", params[0])
	}

	id := pctx.Identity
	if len(params) == 2 {
		if params[1] != scopeAny {
			return fmt.Errorf("'authorize' modifier: unknown scope '%s'", params[1])
		}
		if !id.Permissions.Has(perm) {
			return fmt.Errorf("%w: role '%s' lacks '%s'", ErrUnauthorized, id.Role, params[0])
		}
		return nil
	}
	if !id.Allows(pctx.TargetID, perm) {
		return fmt.Errorf("%w: '%s' on order '%s'", ErrUnauthorized, params[0], pctx.TargetID)
	}
	return nil
}

// modifierRateLimit applies a token bucket per connection and event.
// Param: "N/s", "N/m" or "N/h".
func (e *Registry) modifierRateLimit(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 1 {
		return errors.New("'rate_limit' modifier requires exactly one parameter (e.g., '10/m')")
	}
	if pctx.Connection == nil {
		return errors.New("'rate_limit' modifier requires a connection")
	}
	limiter, err := e.limiters.get(pctx.Connection.ID, pctx.EventName, params[0])
	if err != nil {
		return err
	}
	if !limiter.Allow() {
		return fmt.Errorf("%w for event '%s'", ErrRateLimited, pctx.EventName)
	}
	return nil
}

func parseRate(spec string) (rate.Limit, int, error) {
	parts := strings.Split(spec, "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid rate_limit format: %s", spec)
	}

	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return 0, 0, fmt.Errorf("invalid rate_limit count: %s", parts[0])
	}

	var duration time.Duration
	switch strings.ToLower(parts[1]) {
	case "s":
		duration = time.Second
	case "m":
		duration = time.Minute
	case "h":
		duration = time.Hour
	default:
		return 0, 0, fmt.Errorf("invalid rate_limit duration unit: %s", parts[1])
	}
	return rate.Limit(float64(limit) / duration.Seconds()), limit, nil
}

type limiterKey struct {
	conn  uuid.UUID
	event string
}

type limiterStore struct {
	mu       sync.Mutex
	limiters map[limiterKey]*rate.Limiter
}

func newLimiterStore() *limiterStore {
	return &limiterStore{limiters: make(map[limiterKey]*rate.Limiter)}
}

func (s *limiterStore) get(conn uuid.UUID, event, spec string) (*rate.Limiter, error) {
	key := limiterKey{conn: conn, event: event}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[key]; ok {
		return l, nil
	}
	r, burst, err := parseRate(spec)
	if err != nil {
		return nil, err
	}
	l := rate.NewLimiter(r, burst)
	s.limiters[key] = l
	return l, nil
}

func (s *limiterStore) forget(conn uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.limiters {
		if key.conn == conn {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}
