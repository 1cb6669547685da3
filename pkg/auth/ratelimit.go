package auth

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginLimiter throttles login attempts per (email, IP) pair. A token
// bucket smooths ordinary traffic; after FailureThreshold consecutive
// failures the pair is blocked outright with exponential backoff,
// doubling per further failure up to MaxBackoff.
type LoginLimiter struct {
	FailureThreshold int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration

	mu      sync.Mutex
	entries map[string]*loginEntry
	now     func() time.Time
}

type loginEntry struct {
	limiter      *rate.Limiter
	failures     int
	blockedUntil time.Time
}

// NewLoginLimiter creates a limiter with the production defaults:
// five consecutive failures trigger a 2s backoff doubling to 15m.
func NewLoginLimiter() *LoginLimiter {
	return &LoginLimiter{
		FailureThreshold: 5,
		BaseBackoff:      2 * time.Second,
		MaxBackoff:       15 * time.Minute,
		entries:          make(map[string]*loginEntry),
		now:              time.Now,
	}
}

// WithLimiterClock overrides the time source.
func (l *LoginLimiter) WithLimiterClock(now func() time.Time) *LoginLimiter {
	l.now = now
	return l
}

func loginKey(email, ip string) string {
	return email + "\x00" + ip
}

// Allow reports whether a login attempt may proceed, and if not, how
// long the caller should wait.
func (l *LoginLimiter) Allow(email, ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(email, ip)
	now := l.now()
	if now.Before(e.blockedUntil) {
		return false, e.blockedUntil.Sub(now)
	}
	if !e.limiter.AllowN(now, 1) {
		return false, time.Second
	}
	return true, 0
}

// RecordFailure notes a failed attempt. Crossing the consecutive
// failure threshold blocks the pair with exponential backoff.
func (l *LoginLimiter) RecordFailure(email, ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(email, ip)
	e.failures++
	if e.failures < l.FailureThreshold {
		return
	}
	backoff := l.BaseBackoff << (e.failures - l.FailureThreshold)
	if backoff > l.MaxBackoff || backoff <= 0 {
		backoff = l.MaxBackoff
	}
	e.blockedUntil = l.now().Add(backoff)
}

// RecordSuccess resets the pair's failure state.
func (l *LoginLimiter) RecordSuccess(email, ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := loginKey(email, ip)
	if e, ok := l.entries[key]; ok {
		e.failures = 0
		e.blockedUntil = time.Time{}
	}
}

// entry returns the bookkeeping for a pair, creating it on first use.
// Ten attempts per minute with a small burst is generous for humans
// and hostile to scripts.
func (l *LoginLimiter) entry(email, ip string) *loginEntry {
	key := loginKey(email, ip)
	e, ok := l.entries[key]
	if !ok {
		e = &loginEntry{limiter: rate.NewLimiter(rate.Limit(10.0/60.0), 5)}
		l.entries[key] = e
	}
	return e
}

// RetryAfterSeconds formats a wait for the Retry-After header.
func RetryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}
