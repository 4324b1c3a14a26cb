package api

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestIPRateLimiterBurst(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 3})
	defer rl.Stop()

	for i := range 3 {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d rejected inside burst", i)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("request past burst allowed")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other IP shares the first IP's budget")
	}

	stats := rl.GetStats()
	if stats["allowed"] != 4 || stats["rejected"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestIPRateLimiterCleanup(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 10, Burst: 1, CleanupInterval: time.Minute})
	rl.Allow("1.2.3.4")

	rl.cleanup(time.Now())
	if _, ok := rl.limiters.Load("1.2.3.4"); !ok {
		t.Fatal("fresh limiter removed")
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if _, ok := rl.limiters.Load("1.2.3.4"); ok {
		t.Error("stale limiter kept")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 2)
	for range 2 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "10.0.0.1:1234", "10.0.0.1"},
		{"remote without port", nil, "10.0.0.1", "10.0.0.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "10.0.0.1:1", "1.1.1.1"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 3.3.3.3 "}, "10.0.0.1:1", "3.3.3.3"},
		{"real ip", map[string]string{"X-Real-IP": "4.4.4.4"}, "10.0.0.1:1", "4.4.4.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWebSocketRateLimiter(t *testing.T) {
	wrl := NewWebSocketRateLimiter(2)

	if !wrl.Allow("ip") || !wrl.Allow("ip") {
		t.Fatal("slots under the cap rejected")
	}
	if wrl.Allow("ip") {
		t.Fatal("third slot allowed")
	}
	wrl.Release("ip")
	if got := wrl.GetConnectionCount("ip"); got != 1 {
		t.Errorf("count after release = %d, want 1", got)
	}
	if !wrl.Allow("ip") {
		t.Error("released slot not reusable")
	}
	if wrl.GetStats()["rejected"] != 1 {
		t.Errorf("stats = %v", wrl.GetStats())
	}
}

func TestWebSocketRateLimiterConcurrent(t *testing.T) {
	wrl := NewWebSocketRateLimiter(5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if wrl.Allow("ip") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Errorf("allowed = %d, want 5", allowed)
	}
}
