package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req

	if key := KeyByUserOrIP()(c); !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "203.0.113.9") {
		t.Fatalf("expected ip-based key; got %q", key)
	}
	req.Header.Set(UserIDHeader, " 123456789 ")
	if key := KeyByUserOrIP()(c); key != "user:123456789" {
		t.Fatalf("expected header-based key; got %q", key)
	}
	req.Header.Set(UserIDHeader, strings.Repeat("x", 500))
	if key := KeyByUserOrIP()(c); len(key) > len("user:")+maxUserKeyLen+len("…") {
		t.Fatalf("header key not bounded: %d bytes", len(key))
	}
	c.Set(UserIDKey, "admin")
	if key := KeyByUserOrIP()(c); key != "user:admin" {
		t.Fatalf("expected user-based key; got %q", key)
	}
}

func TestRateLimiter_Handler_UsersBehindOneIPAreIsolated(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(1, 2, nil)
	rl.Now = func() time.Time { return now }

	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		if user != "" {
			req.Header.Set(UserIDHeader, user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 3; i++ {
		do("noisy")
	}
	if got := do("noisy"); got != http.StatusTooManyRequests {
		t.Fatalf("noisy user = %d; want 429", got)
	}
	if got := do("quiet"); got != http.StatusOK {
		t.Fatalf("quiet user on the same IP = %d; want 200", got)
	}
	if rl.Len() != 2 {
		t.Fatalf("Len = %d; want one bucket per user", rl.Len())
	}
}

func TestNewRateLimiter_BurstCoercion_AndBucketReuse(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, nil)
	if rl.burst != 1 || rl.keyFn == nil {
		t.Fatalf("defaults not applied: burst=%d", rl.burst)
	}
	now := time.Now()
	lim := rl.bucketFor("k1", now)
	if rl.bucketFor("k1", now) != lim {
		t.Fatalf("expected the same bucket to be reused")
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, nil)
	start := time.Now()

	_ = rl.bucketFor("old", start)
	rl.mu.Lock()
	rl.lookups = rateGCEvery - 1
	rl.mu.Unlock()

	// The sweep runs on the next lookup and evicts "old" before "new" is added.
	_ = rl.bucketFor("new", start.Add(rl.idleTTL))

	rl.mu.Lock()
	_, existsOld := rl.buckets["old"]
	_, existsNew := rl.buckets["new"]
	rl.mu.Unlock()
	if existsOld || !existsNew {
		t.Fatalf("eviction: old=%v new=%v", existsOld, existsNew)
	}
	if rl.Len() != 1 {
		t.Fatalf("Len = %d", rl.Len())
	}
}

func TestRateLimiter_Handler_AllowDenyAndRefill(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(0.5, 1, nil) // one token every 2s
	rl.Now = func() time.Time { return now }

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header(requestIDHeader, "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
		return w
	}

	if w := do(); w.Code != http.StatusOK {
		t.Fatalf("first request should be allowed, got %d", w.Code)
	}

	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q; want 2", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected JSON body: %v", body)
	}

	// A denied request must not consume the future token.
	now = now.Add(2 * time.Second)
	if w := do(); w.Code != http.StatusOK {
		t.Fatalf("request after refill should pass, got %d", w.Code)
	}
}
