package adminauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	iss := NewIssuer([]byte("test-signing-key"), time.Minute)

	token, err := iss.IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if err := iss.Verify(token); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	issuer := NewIssuer([]byte("correct-key"), time.Minute)
	token, err := issuer.IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	other := NewIssuer([]byte("wrong-key"), time.Minute)
	if err := other.Verify(token); err == nil {
		t.Fatalf("expected verification failure with mismatched key")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	iss := NewIssuer([]byte("test-signing-key"), -time.Minute)
	token, err := iss.IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if err := iss.Verify(token); err == nil {
		t.Fatalf("expected verification failure for already-expired token")
	}
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	iss := NewIssuer([]byte("test-signing-key"), time.Minute)
	called := false
	h := iss.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatalf("handler should not run without a bearer token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareAllowsValidToken(t *testing.T) {
	iss := NewIssuer([]byte("test-signing-key"), time.Minute)
	token, err := iss.IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	called := false
	h := iss.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("handler should run with a valid bearer token")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
