package auth

import (
	"sync"
	"time"
)

const (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// attemptLimiter はクライアントIPごとのログイン失敗回数を管理します。
type attemptLimiter struct {
	mu       sync.Mutex
	now      func() time.Time
	attempts map[string]*attemptState
}

func newAttemptLimiter(now func() time.Time) *attemptLimiter {
	return &attemptLimiter{now: now, attempts: make(map[string]*attemptState)}
}

// lockedFor はロック解除までの残り時間を返します。ロックされていなければ 0 です。
func (l *attemptLimiter) lockedFor(ip string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.attempts[ip]
	if !ok {
		return 0
	}
	remaining := state.lockedUntil.Sub(l.now())
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// fail は失敗を記録し、ロックまでの残り試行回数を返します。
func (l *attemptLimiter) fail(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		l.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}
	return maxLoginAttempts - state.count
}

func (l *attemptLimiter) reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, ip)
}
