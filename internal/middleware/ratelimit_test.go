package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/R3E-Network/neoguard/internal/logging"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(100, 5, logging.NewNop())
	handler := rl.Handler(okHandler(t, nil))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/vaults", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, rec.Code, http.StatusOK)
		}
	}
}

func TestRateLimiterRejectsBeyondBurst(t *testing.T) {
	// Zero refill with a burst of 2: the third request must be rejected.
	rl := NewRateLimiter(0, 2, logging.NewNop())
	handler := rl.Handler(okHandler(t, nil))

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/vaults", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestRateLimiterKeysByCaller(t *testing.T) {
	key := testKeyPair(t)
	auth := NewAuthMiddleware(&key.PublicKey, logging.NewNop(), nil)
	rl := NewRateLimiter(0, 1, logging.NewNop())
	handler := auth.Handler(rl.Handler(okHandler(t, nil)))

	// Two callers behind the same IP each get their own bucket.
	tokenA := mintUserToken(t, key, &Claims{UserID: "u-a", NeoAddress: "NCallerA"})
	tokenB := mintUserToken(t, key, &Claims{UserID: "u-b", NeoAddress: "NCallerB"})

	for _, token := range []string{tokenA, tokenB} {
		req := httptest.NewRequest(http.MethodGet, "/v1/vaults", nil)
		req.RemoteAddr = "10.0.0.3:1234"
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	}

	// Second hit from the same caller is over budget.
	req := httptest.NewRequest(http.MethodGet, "/v1/vaults", nil)
	req.RemoteAddr = "10.0.0.3:1234"
	req.Header.Set("Authorization", "Bearer "+tokenA)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("repeat status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}
