package app

import (
	"context"
	"testing"
	"time"
)

func TestNewRedisRateLimiterNormalisesPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "escrow:rate_limit:checkout:u1"},
		{prefix: "  custom:  ", want: "custom:checkout:u1"},
		{prefix: "svc:limits", want: "svc:limits:checkout:u1"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			limiter := NewRedisRateLimiter(nil, tt.prefix)
			if got := limiter.windowKey("checkout", "u1"); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRedisRateLimiterWithoutClientAllows(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, "")
	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "pay", "u1", 5, time.Minute)
	if err != nil || count != 0 || retryAfter != 0 {
		t.Fatalf("expected a no-op, got count=%d retryAfter=%d err=%v", count, retryAfter, err)
	}
}
