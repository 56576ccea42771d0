package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupLimiter(t *testing.T, config Config) (*miniredis.Miniredis, *Limiter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return mr, NewLimiter(rdb, config, zerolog.Nop())
}

func TestLimiter_AdmitsUnderLimit(t *testing.T) {
	config := DefaultConfig()
	config.BurstLimit = 100
	_, limiter := setupLimiter(t, config)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if err := limiter.Allow(ctx, "client-a", CategoryStandard); err != nil {
			t.Fatalf("Expected request %d to be admitted, got %v", i+1, err)
		}
	}
}

func TestLimiter_RejectsOverStandardLimit(t *testing.T) {
	config := DefaultConfig()
	config.BurstLimit = 1000 // keep burst out of the way
	config.StandardLimit = 100
	config.StandardWindow = 60 * time.Second
	_, limiter := setupLimiter(t, config)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := limiter.Allow(ctx, "client-a", CategoryStandard); err != nil {
			t.Fatalf("Expected request %d to be admitted, got %v", i+1, err)
		}
	}

	// The 101st request within the window is rejected with retry_after > 0
	err := limiter.Allow(ctx, "client-a", CategoryStandard)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Expected LimitExceededError, got %v", err)
	}
	if limitErr.RetryAfter <= 0 {
		t.Errorf("Expected positive RetryAfter, got %v", limitErr.RetryAfter)
	}
}

func TestLimiter_AdmitsAgainAfterWindowAges(t *testing.T) {
	config := DefaultConfig()
	config.BurstLimit = 1000
	config.StandardLimit = 3
	config.StandardWindow = 60 * time.Second
	mr, limiter := setupLimiter(t, config)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.Allow(ctx, "client-a", CategoryStandard); err != nil {
			t.Fatalf("Expected request %d admitted, got %v", i+1, err)
		}
	}
	if err := limiter.Allow(ctx, "client-a", CategoryStandard); err == nil {
		t.Fatal("Expected 4th request to be rejected")
	}

	// Age the first entries out of the window
	mr.FastForward(61 * time.Second)

	if err := limiter.Allow(ctx, "client-a", CategoryStandard); err != nil {
		t.Errorf("Expected request admitted after window aged out, got %v", err)
	}
}

func TestLimiter_BurstCheckedFirst(t *testing.T) {
	config := DefaultConfig()
	config.BurstLimit = 2
	config.BurstWindow = 1 * time.Second
	config.StandardLimit = 100
	_, limiter := setupLimiter(t, config)
	ctx := context.Background()

	if err := limiter.Allow(ctx, "client-a", CategoryStandard); err != nil {
		t.Fatalf("Expected admit, got %v", err)
	}
	if err := limiter.Allow(ctx, "client-a", CategoryStandard); err != nil {
		t.Fatalf("Expected admit, got %v", err)
	}

	err := limiter.Allow(ctx, "client-a", CategoryStandard)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Expected burst rejection, got %v", err)
	}
	if limitErr.Category != CategoryBurst {
		t.Errorf("Expected burst category, got %s", limitErr.Category)
	}
}

func TestLimiter_ClientsIsolated(t *testing.T) {
	config := DefaultConfig()
	config.BurstLimit = 2
	_, limiter := setupLimiter(t, config)
	ctx := context.Background()

	limiter.Allow(ctx, "client-a", CategoryBurst)
	limiter.Allow(ctx, "client-a", CategoryBurst)
	if err := limiter.Allow(ctx, "client-a", CategoryBurst); err == nil {
		t.Fatal("Expected client-a to be rejected")
	}

	if err := limiter.Allow(ctx, "client-b", CategoryBurst); err != nil {
		t.Errorf("Expected client-b unaffected, got %v", err)
	}
}

func TestLimiter_Allowlist(t *testing.T) {
	config := DefaultConfig()
	config.BurstLimit = 1
	_, limiter := setupLimiter(t, config)
	ctx := context.Background()

	limiter.Allowlist("vip")

	for i := 0; i < 20; i++ {
		if err := limiter.Allow(ctx, "vip", CategoryStandard); err != nil {
			t.Fatalf("Expected allowlisted client admitted, got %v", err)
		}
	}
}

func TestLimiter_Denylist(t *testing.T) {
	_, limiter := setupLimiter(t, DefaultConfig())
	ctx := context.Background()

	limiter.Denylist("abuser")

	err := limiter.Allow(ctx, "abuser", CategoryStandard)
	var blockedErr *ClientBlockedError
	if !errors.As(err, &blockedErr) {
		t.Fatalf("Expected ClientBlockedError, got %v", err)
	}
}

func TestLimiter_EscalatingPenalty(t *testing.T) {
	config := DefaultConfig()
	config.BurstLimit = 1
	config.BurstWindow = 10 * time.Second
	config.ViolationThreshold = 3
	config.PenaltyBase = 5 * time.Second
	_, limiter := setupLimiter(t, config)
	ctx := context.Background()

	// Use up the single slot, then violate repeatedly
	limiter.Allow(ctx, "noisy", CategoryBurst)
	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, "noisy", CategoryBurst)
	}

	// The penalty now rejects before any window logic runs
	err := limiter.Allow(ctx, "noisy", CategoryStandard)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Expected penalty rejection, got %v", err)
	}
	if limitErr.RetryAfter <= 0 {
		t.Errorf("Expected positive penalty RetryAfter, got %v", limitErr.RetryAfter)
	}
}

func TestLimiter_FailOpenWithoutRedis(t *testing.T) {
	mr, limiter := setupLimiter(t, DefaultConfig())
	mr.Close()
	ctx := context.Background()

	// Store down: admission degrades to admit rather than failing chunks
	if err := limiter.Allow(ctx, "client-a", CategoryStandard); err != nil {
		t.Errorf("Expected fail-open admit, got %v", err)
	}
}

func TestLimiter_ConcurrentCallersShareOneWindow(t *testing.T) {
	config := DefaultConfig()
	config.BurstLimit = 1000 // keep burst out of the way
	config.StandardLimit = 1
	_, limiter := setupLimiter(t, config)
	ctx := context.Background()

	const callers = 8
	start := make(chan struct{})
	results := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- limiter.Allow(ctx, "client-a", CategoryStandard)
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	admitted := 0
	for err := range results {
		if err == nil {
			admitted++
		}
	}
	if admitted != 1 {
		t.Fatalf("Expected exactly 1 of %d concurrent requests admitted with limit 1, got %d", callers, admitted)
	}
}

func TestLimiter_RejectedRequestConsumesNoBudget(t *testing.T) {
	config := DefaultConfig()
	config.BurstLimit = 1000
	config.StandardLimit = 2
	mr, limiter := setupLimiter(t, config)
	ctx := context.Background()

	limiter.Allow(ctx, "client-a", CategoryStandard)
	limiter.Allow(ctx, "client-a", CategoryStandard)

	// Two rejections must not grow the window
	limiter.Allow(ctx, "client-a", CategoryStandard)
	limiter.Allow(ctx, "client-a", CategoryStandard)

	members, err := mr.ZMembers("ratelimit:client-a:standard")
	if err != nil {
		t.Fatalf("Failed to read window: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("Expected 2 entries in the window, got %d", len(members))
	}
}
