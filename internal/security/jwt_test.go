package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := []byte("test-secret-key-32bytes-long!!!!!")
	token, err := GenerateToken("ops-1", RoleOperator, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "ops-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ops-1")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.IssuedAt == 0 {
		t.Error("IssuedAt should be set")
	}
	if claims.ExpiresAt == 0 {
		t.Error("ExpiresAt should be set")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	token, _ := GenerateToken("ops-1", RoleOperator, secret, -time.Hour)
	_, err := ValidateToken(token, secret)
	if err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	_, err := ValidateToken("not-a-valid-jwt", secret)
	if err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	secret1 := []byte("secret-1")
	secret2 := []byte("secret-2")
	token, _ := GenerateToken("ops-1", RoleOperator, secret1, time.Hour)
	_, err := ValidateToken(token, secret2)
	if err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	secret := []byte("test-secret")
	handler := AuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/report", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	secret := []byte("test-secret")
	handler := AuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/report", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	secret := []byte("test-secret")
	token, _ := GenerateToken("ops-1", RoleViewer, secret, time.Hour)

	var gotClaims *Claims
	handler := AuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = GetClaims(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/report", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotClaims == nil || gotClaims.Subject != "ops-1" {
		t.Fatal("claims not set in context")
	}
}

func TestAuthMiddleware_DevMode(t *testing.T) {
	// nil secret = dev mode, should pass through
	handler := AuthMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/report", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 in dev mode, got %d", w.Code)
	}
}

func TestGetClaims_NoClaims(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	_, err := GetClaims(req)
	if err != ErrMissingToken {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestAuthMiddleware_BadAuthHeader(t *testing.T) {
	secret := []byte("test-secret")
	handler := AuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/report", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireRole_OperatorFullAccess(t *testing.T) {
	secret := []byte("test-secret")
	token, _ := GenerateToken("ops-1", RoleOperator, secret, time.Hour)

	handler := AuthMiddleware(secret)(RequireRole(RoleOperator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest("POST", "/api/report/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for operator, got %d", w.Code)
	}
}

func TestRequireRole_ViewerBlocked(t *testing.T) {
	secret := []byte("test-secret")
	token, _ := GenerateToken("reader-1", RoleViewer, secret, time.Hour)

	handler := AuthMiddleware(secret)(RequireRole(RoleOperator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest("POST", "/api/execute", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer POST, got %d", w.Code)
	}
}

func TestRequireRole_ViewerMayRead(t *testing.T) {
	secret := []byte("test-secret")
	token, _ := GenerateToken("reader-1", RoleViewer, secret, time.Hour)

	handler := AuthMiddleware(secret)(RequireRole(RoleViewer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest("GET", "/api/report", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for viewer GET, got %d", w.Code)
	}
}
