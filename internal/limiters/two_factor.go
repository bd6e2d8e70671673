package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTwoFactorMaxAttempts = 5
	defaultTwoFactorWindow      = 5 * time.Minute
	twoFactorKeyPrefix          = keyPrefix + "2fa:"
)

var (
	ErrTwoFactorRateLimited = errors.New("two-factor attempts rate limited")
	ErrLimiterUnavailable   = errors.New("attempt limiter unavailable")
)

// TwoFactorLimiterConfig holds thresholds for the second-factor limiter
type TwoFactorLimiterConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// TwoFactorLimiter caps second-factor submissions per account in a fixed
// window that opens at the first submission. A slot is taken before the code
// is evaluated, so concurrent guesses cannot share one.
type TwoFactorLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	window      time.Duration
}

// NewTwoFactorLimiter creates a limiter. Zero-value fields in cfg fall back to
// defaults (5 attempts / 5m).
func NewTwoFactorLimiter(redisClient redis.UniversalClient, cfg TwoFactorLimiterConfig) *TwoFactorLimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultTwoFactorMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultTwoFactorWindow
	}
	return &TwoFactorLimiter{redis: redisClient, maxAttempts: int64(cfg.MaxAttempts), window: cfg.Window}
}

func (l *TwoFactorLimiter) key(accountID string) string {
	return twoFactorKeyPrefix + accountID
}

// Attempt takes one verification slot for the account.
// Returns ErrTwoFactorRateLimited when the window's budget is already spent.
func (l *TwoFactorLimiter) Attempt(ctx context.Context, accountID string) error {
	count, _, err := bump(ctx, l.redis, l.key(accountID), l.window, 0, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if count > l.maxAttempts {
		return ErrTwoFactorRateLimited
	}
	return nil
}

// Reset gives the account a fresh budget after a successful verification
func (l *TwoFactorLimiter) Reset(ctx context.Context, accountID string) error {
	if err := l.redis.Del(ctx, l.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}
