// Package auth issues and verifies the handshake tokens that bind a
// connection to a role and an order scope.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/railx/ordertrack/pkg/state"
)

var (
	ErrMissingSubject = errors.New("token missing 'sub' claim")
	ErrUnknownRole    = errors.New("token carries an unknown role")
)

// WildcardOrder in the orders claim scopes a token to every order.
const WildcardOrder = "*"

// Claims is the custom JWT claims structure.
type Claims struct {
	Role   string   `json:"role"`
	Orders []string `json:"orders,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	roles  map[string]state.Role
}

func NewVerifier(secret string, roles map[string]state.Role) *Verifier {
	return &Verifier{secret: []byte(secret), roles: roles}
}

// Verify parses an HMAC-signed token and resolves it to an identity.
func (v *Verifier) Verify(tokenString string) (state.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return state.Identity{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return state.Identity{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return state.Identity{}, ErrMissingSubject
	}
	return v.Resolve(claims.Subject, claims.Role, claims.Orders)
}

// Resolve builds the identity of a subject holding role over orders.
func (v *Verifier) Resolve(subject, roleName string, orders []string) (state.Identity, error) {
	role, ok := v.roles[roleName]
	if !ok {
		return state.Identity{}, fmt.Errorf("%w: %q", ErrUnknownRole, roleName)
	}
	identity := state.Identity{
		UserID:      subject,
		Role:        role.Name,
		Permissions: role.Permissions,
		Global:      role.Global,
		Orders:      make(map[string]struct{}, len(orders)),
	}
	for _, o := range orders {
		if o == WildcardOrder {
			identity.Global = true
			continue
		}
		identity.Orders[o] = struct{}{}
	}
	return identity, nil
}

// Issue signs a token for subject. ttl <= 0 issues a token without expiry.
func Issue(secret, subject, role string, orders []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:   role,
		Orders: orders,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
