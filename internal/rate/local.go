package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const pruneEvery = 1024

// Local enforces the Config budgets with per-key token buckets held in
// memory. A budget of N per window refills continuously at N/window.
type Local struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	calls   int
}

// NewLocal returns an in-process limiter.
func NewLocal(cfg Config) *Local {
	return &Local{
		config:  cfg,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}
}

// WithClock overrides the time source.
func (l *Local) WithClock(now func() time.Time) *Local {
	l.now = now
	return l
}

func (l *Local) CheckLogin(_ context.Context, identifier, ip string) error {
	if l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	now := l.now()
	if l.bucket(loginUserKey(identifier), l.config.MaxLoginAttempts, l.config.LoginCooldown).TokensAt(now) < 1 {
		return ErrRateLimited
	}
	if l.config.EnableIPThrottle && ip != "" &&
		l.bucket(loginIPKey(ip), l.config.MaxLoginAttempts, l.config.LoginCooldown).TokensAt(now) < 1 {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) IncrementLogin(_ context.Context, identifier, ip string) error {
	if l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	now := l.now()
	userOK := l.bucket(loginUserKey(identifier), l.config.MaxLoginAttempts, l.config.LoginCooldown).AllowN(now, 1)
	ipOK := true
	if l.config.EnableIPThrottle && ip != "" {
		ipOK = l.bucket(loginIPKey(ip), l.config.MaxLoginAttempts, l.config.LoginCooldown).AllowN(now, 1)
	}
	if !userOK || !ipOK {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) ResetLogin(_ context.Context, identifier, _ string) error {
	l.mu.Lock()
	delete(l.buckets, loginUserKey(identifier))
	l.mu.Unlock()
	return nil
}

func (l *Local) AllowOTPRequest(_ context.Context, email, ip string) error {
	if l.config.MaxOTPRequests <= 0 {
		return nil
	}
	now := l.now()
	if !l.bucket(otpEmailKey(email), l.config.MaxOTPRequests, l.config.OTPRequestWindow).AllowN(now, 1) {
		return ErrRateLimited
	}
	if l.config.EnableIPThrottle && ip != "" &&
		!l.bucket(otpIPKey(ip), l.config.MaxOTPRequests*4, l.config.OTPRequestWindow).AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) bucket(key string, burst int, window time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%pruneEvery == 0 {
		l.pruneLocked()
	}

	lim, ok := l.buckets[key]
	if !ok {
		every := rate.Inf
		if window > 0 {
			every = rate.Every(window / time.Duration(burst))
		}
		lim = rate.NewLimiter(every, burst)
		// start full at the injected clock, not wall time
		lim.SetLimitAt(l.now(), every)
		l.buckets[key] = lim
	}
	return lim
}

// pruneLocked drops buckets that have refilled completely; they carry no
// state a fresh bucket would not.
func (l *Local) pruneLocked() {
	now := l.now()
	for key, lim := range l.buckets {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(l.buckets, key)
		}
	}
}
