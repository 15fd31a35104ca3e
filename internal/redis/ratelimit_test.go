package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*RateLimiter, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}
	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: limit, Window: window})

	return limiter, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRateLimiter_CountsDownToZero(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t, 3, time.Minute)
	defer cleanup()
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		res, err := limiter.Allow(ctx, "api-caller")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request should be allowed with %d remaining", want)
		}
		if res.Remaining != want {
			t.Errorf("remaining = %d, want %d", res.Remaining, want)
		}
	}

	res, err := limiter.Allow(ctx, "api-caller")
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if res.Allowed {
		t.Fatal("fourth request should be rejected")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining after reject = %d, want 0", res.Remaining)
	}
}

func TestRateLimiter_RejectedCallRecordsNothing(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t, 2, time.Minute)
	defer cleanup()
	ctx := context.Background()

	limiter.Allow(ctx, "k")
	limiter.Allow(ctx, "k")

	// Rejections must not eat into the window, or a saturated caller
	// could never recover.
	for i := 0; i < 5; i++ {
		if res, _ := limiter.Allow(ctx, "k"); res.Allowed {
			t.Fatal("request over limit should be rejected")
		}
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t, 1, time.Minute)
	defer cleanup()
	ctx := context.Background()

	if res, _ := limiter.Allow(ctx, "ip:1.2.3.4"); !res.Allowed {
		t.Fatal("first key should be allowed")
	}
	if res, _ := limiter.Allow(ctx, "ip:1.2.3.4"); res.Allowed {
		t.Fatal("first key should now be saturated")
	}
	if res, _ := limiter.Allow(ctx, "ip:5.6.7.8"); !res.Allowed {
		t.Fatal("second key should have its own budget")
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t, 10, time.Minute)
	defer cleanup()
	ctx := context.Background()

	res, err := limiter.AllowN(ctx, "batch", 7)
	if err != nil {
		t.Fatalf("allown: %v", err)
	}
	if !res.Allowed || res.Remaining != 3 {
		t.Fatalf("allowed=%v remaining=%d, want allowed with 3 remaining", res.Allowed, res.Remaining)
	}

	if res, _ := limiter.AllowN(ctx, "batch", 4); res.Allowed {
		t.Fatal("4 more should not fit in a window with 3 left")
	}
	if res, _ := limiter.AllowN(ctx, "batch", 3); !res.Allowed {
		t.Fatal("exactly 3 more should fit")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter, mr, cleanup := newTestLimiter(t, 1, time.Minute)
	defer cleanup()
	ctx := context.Background()

	if res, _ := limiter.Allow(ctx, "k"); !res.Allowed {
		t.Fatal("first request should be allowed")
	}
	if res, _ := limiter.Allow(ctx, "k"); res.Allowed {
		t.Fatal("second request inside the window should be rejected")
	}

	// The recorded member expires with the key TTL; after the window the
	// caller gets a fresh budget.
	mr.FastForward(time.Minute + 2*time.Second)

	if res, _ := limiter.Allow(ctx, "k"); !res.Allowed {
		t.Fatal("request after the window should be allowed again")
	}
}
