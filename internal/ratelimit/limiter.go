package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Category is the admission class of a request
type Category string

const (
	CategoryBurst         Category = "burst"
	CategoryStandard      Category = "standard"
	CategoryTranscription Category = "transcription"
)

// LimitExceededError carries the delay after which the client may retry
type LimitExceededError struct {
	Category   Category
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Category, e.RetryAfter)
}

// ClientBlockedError is returned for denylisted clients before any window
// check runs
type ClientBlockedError struct {
	ClientID string
}

func (e *ClientBlockedError) Error() string {
	return fmt.Sprintf("client %s is blocked", e.ClientID)
}

// Config holds window sizes, limits and the escalation policy
type Config struct {
	BurstLimit  int
	BurstWindow time.Duration

	StandardLimit  int
	StandardWindow time.Duration

	TranscriptionLimit int

	ViolationThreshold int
	PenaltyBase        time.Duration
	PenaltyCap         time.Duration
}

// DefaultConfig returns representative defaults
func DefaultConfig() Config {
	return Config{
		BurstLimit:         10,
		BurstWindow:        1 * time.Second,
		StandardLimit:      100,
		StandardWindow:     60 * time.Second,
		TranscriptionLimit: 60,
		ViolationThreshold: 5,
		PenaltyBase:        5 * time.Second,
		PenaltyCap:         300 * time.Second,
	}
}

// Limiter is a distributed sliding-window admission controller backed by
// Redis sorted sets, shared by every session worker. It is constructed at
// startup and injected; there is no package global. Redis being unreachable
// degrades to admit with a logged warning — admission control protects the
// backend, it must not take the pipeline down with it.
type Limiter struct {
	rdb    *redis.Client
	config Config
	logger zerolog.Logger

	mu        sync.RWMutex
	allowlist map[string]struct{}
	denylist  map[string]struct{}
}

// NewLimiter creates a rate limiter on the given Redis client
func NewLimiter(rdb *redis.Client, config Config, logger zerolog.Logger) *Limiter {
	return &Limiter{
		rdb:       rdb,
		config:    config,
		logger:    logger.With().Str("component", "ratelimit").Logger(),
		allowlist: make(map[string]struct{}),
		denylist:  make(map[string]struct{}),
	}
}

// Allowlist exempts a client from every check
func (l *Limiter) Allowlist(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowlist[clientID] = struct{}{}
}

// Denylist rejects a client unconditionally
func (l *Limiter) Denylist(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.denylist[clientID] = struct{}{}
}

// Allow runs the admission check for one request. Order: denylist,
// allowlist bypass, active penalty, burst window, then the category window.
func (l *Limiter) Allow(ctx context.Context, clientID string, category Category) error {
	l.mu.RLock()
	_, denied := l.denylist[clientID]
	_, allowed := l.allowlist[clientID]
	l.mu.RUnlock()

	if denied {
		return &ClientBlockedError{ClientID: clientID}
	}
	if allowed {
		return nil
	}

	if retryAfter, active := l.activePenalty(ctx, clientID); active {
		return &LimitExceededError{Category: category, RetryAfter: retryAfter}
	}

	// Burst window is always checked first
	if err := l.checkWindow(ctx, clientID, CategoryBurst, l.config.BurstLimit, l.config.BurstWindow); err != nil {
		return err
	}

	if category == CategoryBurst {
		return nil
	}

	limit := l.config.StandardLimit
	if category == CategoryTranscription {
		limit = l.config.TranscriptionLimit
	}

	return l.checkWindow(ctx, clientID, category, limit, l.config.StandardWindow)
}

func windowKey(clientID string, category Category) string {
	return fmt.Sprintf("ratelimit:%s:%s", clientID, category)
}

func violationsKey(clientID string) string {
	return "ratelimit:violations:" + clientID
}

func penaltyKey(clientID string) string {
	return "ratelimit:penalty:" + clientID
}

// checkWindow prunes entries older than the window, inserts this request,
// and counts the result in one transaction, so concurrent callers sharing a
// client identity serialize on the same window. A rejected request removes
// its own entry again so it consumes no budget.
func (l *Limiter) checkWindow(ctx context.Context, clientID string, category Category, limit int, window time.Duration) error {
	key := windowKey(clientID, category)
	now := time.Now()
	cutoff := now.Add(-window)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn().Err(err).Str("client_id", clientID).Msg("rate limit store unavailable, admitting")
		return nil
	}

	if countCmd.Val() > int64(limit) {
		l.rdb.ZRem(ctx, key, member)
		retryAfter := l.retryAfter(ctx, key, window, now)
		l.recordViolation(ctx, clientID)
		return &LimitExceededError{Category: category, RetryAfter: retryAfter}
	}

	return nil
}

// retryAfter computes when the oldest entry ages out of the window
func (l *Limiter) retryAfter(ctx context.Context, key string, window time.Duration, now time.Time) time.Duration {
	oldest, err := l.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return window
	}

	expiresAt := time.UnixMilli(int64(oldest[0].Score)).Add(window)
	retryAfter := expiresAt.Sub(now)
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return retryAfter
}

// recordViolation counts repeated rejections; once the threshold is crossed
// an escalating penalty (exponential, capped) is applied with its own TTL.
func (l *Limiter) recordViolation(ctx context.Context, clientID string) {
	key := violationsKey(clientID)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return
	}
	l.rdb.Expire(ctx, key, 2*l.config.StandardWindow)

	if count < int64(l.config.ViolationThreshold) {
		return
	}

	over := count - int64(l.config.ViolationThreshold)
	penalty := time.Duration(float64(l.config.PenaltyBase) * math.Pow(2, float64(over)))
	if penalty > l.config.PenaltyCap {
		penalty = l.config.PenaltyCap
	}

	if err := l.rdb.Set(ctx, penaltyKey(clientID), time.Now().Format(time.RFC3339), penalty).Err(); err != nil {
		return
	}

	l.logger.Warn().
		Str("client_id", clientID).
		Int64("violations", count).
		Dur("penalty", penalty).
		Msg("escalating backoff penalty applied")
}

// activePenalty reports whether the client is serving a penalty and how
// long is left on it
func (l *Limiter) activePenalty(ctx context.Context, clientID string) (time.Duration, bool) {
	ttl, err := l.rdb.TTL(ctx, penaltyKey(clientID)).Result()
	if err != nil || ttl <= 0 {
		return 0, false
	}
	return ttl, true
}
