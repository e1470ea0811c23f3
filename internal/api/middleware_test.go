package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testJWTSecret = "test-secret"

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func authProbe(captured *uuid.UUID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, ok := GetAuthUserID(r.Context()); ok {
			*captured = userID
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_RejectsMissingHeader(t *testing.T) {
	var captured uuid.UUID
	handler := AuthMiddleware(testJWTSecret)(authProbe(&captured))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wallet", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_RejectsWrongSecret(t *testing.T) {
	var captured uuid.UUID
	handler := AuthMiddleware(testJWTSecret)(authProbe(&captured))

	token := signedToken(t, "other-secret", jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a forged token, got %d", rec.Code)
	}
}

func TestAuthMiddleware_PutsUserIDOnContext(t *testing.T) {
	userID := uuid.New()
	var captured uuid.UUID
	handler := AuthMiddleware(testJWTSecret)(authProbe(&captured))

	token := signedToken(t, testJWTSecret, jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured != userID {
		t.Fatalf("expected user %s on context, got %s", userID, captured)
	}
}

func TestAuthMiddleware_RejectsExpiredToken(t *testing.T) {
	var captured uuid.UUID
	handler := AuthMiddleware(testJWTSecret)(authProbe(&captured))

	token := signedToken(t, testJWTSecret, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an expired token, got %d", rec.Code)
	}
}

func TestInternalAuthMiddleware_RejectsMismatchedKey(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := InternalAuthMiddleware("expected-key")(next)

	req := httptest.NewRequest(http.MethodPost, "/internal/charge-events", nil)
	req.Header.Set("X-Internal-Api-Key", "wrong-key")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestInternalAuthMiddleware_FailsClosedWhenUnconfigured(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := InternalAuthMiddleware("")(next)

	req := httptest.NewRequest(http.MethodPost, "/internal/charge-events", nil)
	req.Header.Set("X-Internal-Api-Key", "any-key")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no key is configured, got %d", rec.Code)
	}
}

func TestInternalAuthMiddleware_AcceptsMatchingKey(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := InternalAuthMiddleware("expected-key")(next)

	req := httptest.NewRequest(http.MethodPost, "/internal/charge-events", nil)
	req.Header.Set("X-Internal-Api-Key", "expected-key")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
