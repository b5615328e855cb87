package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yogapratama/chatwire/backend/internal/auth"
	appctx "github.com/yogapratama/chatwire/backend/internal/context"
)

func testTokenService() *auth.TokenService {
	return auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret:      "test-access-secret-key-32-bytes!",
		AccessTokenExpiry: 15 * time.Minute,
		Issuer:            "test-issuer",
	})
}

func TestAuthenticate_InjectsIdentity(t *testing.T) {
	svc := testTokenService()
	token, err := svc.GenerateAccessToken("user-1", "alice", true)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	var gotUserID, gotUsername string
	var gotPrivileged bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = appctx.ExtractUserID(r.Context())
		gotUsername, _ = appctx.ExtractUsername(r.Context())
		gotPrivileged = appctx.IsPrivileged(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/poll", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	NewAuthMiddleware(svc).Authenticate(next).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotUserID != "user-1" || gotUsername != "alice" || !gotPrivileged {
		t.Errorf("identity not injected: user=%q username=%q privileged=%v",
			gotUserID, gotUsername, gotPrivileged)
	}
}

func TestAuthenticate_RejectsMissingAndInvalidTokens(t *testing.T) {
	svc := testTokenService()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler must not run")
	})
	mw := NewAuthMiddleware(svc).Authenticate(next)

	req := httptest.NewRequest("GET", "/poll", nil)
	w := httptest.NewRecorder()
	mw.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/poll", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	mw.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("invalid token: expected 401, got %d", w.Code)
	}
}

func TestRequirePrivileged(t *testing.T) {
	svc := testTokenService()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	chain := NewAuthMiddleware(svc).Authenticate(RequirePrivileged(next))

	regular, err := svc.GenerateAccessToken("user-1", "alice", false)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req := httptest.NewRequest("GET", "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+regular)
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("regular user: expected 403, got %d", w.Code)
	}

	privileged, err := svc.GenerateAccessToken("admin-1", "root", true)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req = httptest.NewRequest("GET", "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+privileged)
	w = httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("privileged user: expected 200, got %d", w.Code)
	}
}

func TestRateLimiter_AllowAndWindow(t *testing.T) {
	rl := NewRateLimiter(3, 200*time.Millisecond)

	for i := 0; i < 3; i++ {
		if !rl.Allow("user-1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("user-1") {
		t.Error("4th request inside the window should be rejected")
	}
	if !rl.Allow("user-2") {
		t.Error("different keys must not share a window")
	}

	time.Sleep(250 * time.Millisecond)
	if !rl.Allow("user-1") {
		t.Error("request after the window elapsed should be allowed")
	}
}

func TestPollRateLimiter_Returns429(t *testing.T) {
	limiter := NewPollRateLimiter(1, time.Minute)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	svc := testTokenService()
	token, err := svc.GenerateAccessToken("user-1", "alice", false)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	chain := NewAuthMiddleware(svc).Authenticate(limiter.Handler(next))

	makeRequest := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/poll", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		chain.ServeHTTP(w, req)
		return w
	}

	if w := makeRequest(); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := makeRequest()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 must carry a Retry-After header")
	}
}
