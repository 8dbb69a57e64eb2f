package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/raffle_engine/pkg/logger"
)

var testSecret = []byte("test-secret")

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewAuthMiddleware(t *testing.T) {
	middleware := NewAuthMiddleware(testSecret, nil, []string{"/health", "/metrics"})

	if middleware.logger == nil {
		t.Error("logger should default when nil")
	}
	if len(middleware.skipPaths) != 2 {
		t.Errorf("skipPaths length = %d, want 2", len(middleware.skipPaths))
	}
	if !middleware.skipPaths["/health"] {
		t.Error("skipPaths does not contain /health")
	}
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logger.NewDiscard("test"), []string{"/health"}).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_Rejections(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, logger.NewDiscard("test"), nil).Handler(okHandler())

	expired, err := IssueToken(testSecret, "0xalice", RoleDepositor, -time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	wrongKey, err := IssueToken([]byte("other"), "0xalice", RoleDepositor, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	noAddress, err := IssueToken(testSecret, "", RoleDepositor, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Address: "0xalice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"no bearer prefix", "token123"},
		{"wrong prefix", "Basic token123"},
		{"empty token", "Bearer "},
		{"expired token", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
		{"no address", "Bearer " + noAddress},
		{"unsigned token", "Bearer " + none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/games/current", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidToken(t *testing.T) {
	var caller, role string
	handler := NewAuthMiddleware(testSecret, logger.NewDiscard("test"), nil).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller = GetCaller(r.Context())
			role = GetRole(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	token, err := IssueToken(testSecret, "0xalice", RoleOperator, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req := httptest.NewRequest("GET", "/games/current", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if caller != "0xalice" {
		t.Errorf("caller = %q, want 0xalice", caller)
	}
	if role != RoleOperator {
		t.Errorf("role = %q, want operator", role)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleOperator)(okHandler())

	tests := []struct {
		name   string
		caller string
		role   string
		want   int
	}{
		{"anonymous", "", "", http.StatusUnauthorized},
		{"wrong role", "0xbob", RoleDepositor, http.StatusForbidden},
		{"operator", "0xowner", RoleOperator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/games", nil)
			if tt.caller != "" {
				req = req.WithContext(WithCaller(req.Context(), tt.caller, tt.role))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
