package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter budgets. A zero budget disables that check.
type Config struct {
	EnableIPThrottle bool
	MaxLoginAttempts int
	LoginCooldown    time.Duration
	MaxOTPRequests   int
	OTPRequestWindow time.Duration
}

// Limiter enforces budgets with Redis counters shared by every node.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Redis backed Limiter.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckLogin fails with ErrRateLimited once the identifier or IP has used
// up its failure budget. It does not consume budget.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if err := l.checkCounter(ctx, loginUserKey(identifier), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginAttempts)
	}
	return nil
}

// IncrementLogin records a failed password attempt.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	if l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, loginUserKey(identifier), l.config.LoginCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LoginCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the identifier's failure counter after a successful
// login. The IP counter is left to expire so one good account cannot reset
// a spraying source.
func (l *Limiter) ResetLogin(ctx context.Context, identifier, _ string) error {
	if err := l.redis.Del(ctx, loginUserKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AllowOTPRequest consumes one unit of the email and IP issuance budgets.
func (l *Limiter) AllowOTPRequest(ctx context.Context, email, ip string) error {
	if l.config.MaxOTPRequests <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, otpEmailKey(email), l.config.OTPRequestWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxOTPRequests) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		// an IP may front several users
		count, err = l.incrementWithTTL(ctx, otpIPKey(ip), l.config.OTPRequestWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxOTPRequests*4) {
			return ErrRateLimited
		}
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func loginUserKey(identifier string) string { return "al:" + identifier }
func loginIPKey(ip string) string           { return "ali:" + ip }
func otpEmailKey(email string) string       { return "ao:" + email }
func otpIPKey(ip string) string             { return "aoi:" + ip }
