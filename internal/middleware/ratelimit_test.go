package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RateLimitConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  RateLimitConfig{RequestsPerWindow: 30, WindowDuration: time.Minute},
			wantErr: false,
		},
		{
			name:    "zero requests",
			config:  RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Minute},
			wantErr: true,
		},
		{
			name:    "negative requests",
			config:  RateLimitConfig{RequestsPerWindow: -1, WindowDuration: time.Minute},
			wantErr: true,
		},
		{
			name:    "zero window",
			config:  RateLimitConfig{RequestsPerWindow: 30, WindowDuration: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _ := store.Allow(ctx, "u1", config)
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, retryAfter := store.Allow(ctx, "u1", config)
	if allowed {
		t.Error("fourth request should be rate limited")
	}
	if retryAfter <= 0 {
		t.Errorf("expected positive retryAfter, got %d", retryAfter)
	}
}

func TestInMemoryRateLimitStore_PerKeyIsolation(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	ctx := context.Background()

	if allowed, _ := store.Allow(ctx, "u1", config); !allowed {
		t.Fatal("first request for u1 should be allowed")
	}
	if allowed, _ := store.Allow(ctx, "u1", config); allowed {
		t.Error("second request for u1 should be limited")
	}
	// A different actor has an independent bucket.
	if allowed, _ := store.Allow(ctx, "u2", config); !allowed {
		t.Error("first request for u2 should be allowed")
	}
}

func TestInMemoryRateLimitStore_WindowReset(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 20 * time.Millisecond}
	ctx := context.Background()

	if allowed, _ := store.Allow(ctx, "u1", config); !allowed {
		t.Fatal("first request should be allowed")
	}
	if allowed, _ := store.Allow(ctx, "u1", config); allowed {
		t.Fatal("second request should be limited")
	}

	time.Sleep(30 * time.Millisecond)

	if allowed, _ := store.Allow(ctx, "u1", config); !allowed {
		t.Error("request after window reset should be allowed")
	}
}

func TestInMemoryRateLimitStore_Cleanup(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 5, WindowDuration: 10 * time.Millisecond}
	ctx := context.Background()

	store.Allow(ctx, "u1", config)
	store.Allow(ctx, "u2", config)

	time.Sleep(20 * time.Millisecond)
	store.Cleanup()

	store.mu.RLock()
	remaining := len(store.buckets)
	store.mu.RUnlock()

	if remaining != 0 {
		t.Errorf("expected 0 buckets after cleanup, got %d", remaining)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "192.0.2.1:34567",
			want:       "192.0.2.1",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:       "203.0.113.5",
		},
		{
			name:       "x-forwarded-for chain uses first hop",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"},
			want:       "203.0.113.5",
		},
		{
			name:       "x-real-ip",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			want:       "198.51.100.7",
		},
	}

	keyFunc := IPKeyFunc()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := keyFunc(req); got != tt.want {
				t.Errorf("IPKeyFunc() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestActorKeyFunc(t *testing.T) {
	keyFunc := ActorKeyFunc()

	req := httptest.NewRequest(http.MethodPost, "/attendance/check-in", nil)
	req.RemoteAddr = "192.0.2.1:34567"
	req = req.WithContext(SetActor(req.Context(), "u-42", "employee"))

	if got := keyFunc(req); got != "actor:u-42" {
		t.Errorf("expected actor:u-42, got %s", got)
	}

	// Falls back to IP when unauthenticated.
	anon := httptest.NewRequest(http.MethodPost, "/attendance/check-in", nil)
	anon.RemoteAddr = "192.0.2.1:34567"
	if got := keyFunc(anon); got != "ip:192.0.2.1" {
		t.Errorf("expected ip:192.0.2.1, got %s", got)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}

	handler := RateLimiter(store, config, ActorKeyFunc())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	doRequest := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/attendance/check-in", nil)
		req = req.WithContext(SetActor(req.Context(), "u-1", "employee"))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := doRequest(); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := doRequest()
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if w.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected X-RateLimit-Reset header")
	}
}
