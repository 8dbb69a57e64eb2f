// Package middleware provides HTTP middleware for the raffle API.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/raffle_engine/internal/httputil"
	"github.com/R3E-Network/raffle_engine/pkg/logger"
)

// Caller roles carried in tokens.
const (
	RoleOperator    = "operator"
	RoleDepositor   = "depositor"
	RoleCoordinator = "coordinator"
)

type contextKey string

const (
	callerKey contextKey = "caller_address"
	roleKey   contextKey = "caller_role"
)

// Claims represents JWT claims
type Claims struct {
	Address string `json:"address"`
	Role    string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware provides JWT authentication
type AuthMiddleware struct {
	secret    []byte
	logger    *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware. Tokens must be
// HS256-signed with secret.
func NewAuthMiddleware(secret []byte, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		secret:    secret,
		logger:    log,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.Unauthorized(w, "missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.Unauthorized(w, "invalid Authorization header format")
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).
				WithField("path", r.URL.Path).
				Warn("token validation failed")
			httputil.Unauthorized(w, "invalid token")
			return
		}

		ctx := WithCaller(r.Context(), claims.Address, claims.Role)
		ctx = logger.ContextWithFields(ctx, map[string]any{"caller": claims.Address})

		m.logger.WithContext(ctx).WithField("role", claims.Role).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateToken validates a JWT token and returns claims
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if strings.TrimSpace(claims.Address) == "" {
		return nil, errors.New("token carries no address")
	}
	return claims, nil
}

// IssueToken signs a token for address with role, valid for ttl.
func IssueToken(secret []byte, address, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Address: address,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// WithCaller stores the authenticated caller in ctx.
func WithCaller(ctx context.Context, address, role string) context.Context {
	ctx = context.WithValue(ctx, callerKey, address)
	if role != "" {
		ctx = context.WithValue(ctx, roleKey, role)
	}
	return ctx
}

// GetCaller extracts the caller address from context
func GetCaller(ctx context.Context) string {
	v, _ := ctx.Value(callerKey).(string)
	return v
}

// GetRole extracts the caller role from context
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}

// RequireRole rejects authenticated callers whose role is not in roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetCaller(r.Context()) == "" {
				httputil.Unauthorized(w, "")
				return
			}
			if !allowed[GetRole(r.Context())] {
				httputil.Forbidden(w, "role not permitted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
