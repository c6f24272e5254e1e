package throttle

import (
	"log/slog"
	"sync"
	"time"
)

// LoginDecision is the outcome of recording a failed login attempt.
type LoginDecision struct {
	Locked     bool
	Remaining  int
	RetryAfter time.Duration
}

// LoginTracker counts failed logins per account and locks accounts that
// exceed the threshold inside the failure window.
type LoginTracker struct {
	cfg      Config
	mu       sync.Mutex
	accounts map[string]*accountState
	logger   *slog.Logger
	now      func() time.Time
}

type accountState struct {
	failures    []time.Time
	lockedUntil time.Time
}

// NewLoginTracker creates a login tracker with the given thresholds.
func NewLoginTracker(cfg Config, logger *slog.Logger) *LoginTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginTracker{
		cfg:      cfg,
		accounts: make(map[string]*accountState),
		logger:   logger,
		now:      time.Now,
	}
}

// RecordFailure registers one failed attempt. Reaching the threshold
// locks the account for the configured duration.
func (lt *LoginTracker) RecordFailure(account string) LoginDecision {
	now := lt.now()

	lt.mu.Lock()
	defer lt.mu.Unlock()

	state, ok := lt.accounts[account]
	if !ok {
		state = &accountState{}
		lt.accounts[account] = state
	}

	if now.Before(state.lockedUntil) {
		return LoginDecision{Locked: true, RetryAfter: state.lockedUntil.Sub(now)}
	}

	cutoff := now.Add(-lt.cfg.FailureWindow)
	kept := state.failures[:0]
	for _, t := range state.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	state.failures = append(kept, now)

	if len(state.failures) >= lt.cfg.MaxLoginFailures {
		state.lockedUntil = now.Add(lt.cfg.LockDuration)
		state.failures = state.failures[:0]
		lt.logger.Warn("account locked after repeated login failures",
			"account", account,
			"lock_duration", lt.cfg.LockDuration)
		return LoginDecision{Locked: true, RetryAfter: lt.cfg.LockDuration}
	}

	return LoginDecision{Remaining: lt.cfg.MaxLoginFailures - len(state.failures)}
}

// RecordSuccess clears the account's failure history and lifts any lock.
func (lt *LoginTracker) RecordSuccess(account string) {
	lt.mu.Lock()
	delete(lt.accounts, account)
	lt.mu.Unlock()
}

// IsLocked reports whether an account is locked and for how much longer.
// Expired locks are removed lazily.
func (lt *LoginTracker) IsLocked(account string) (bool, time.Duration) {
	now := lt.now()

	lt.mu.Lock()
	defer lt.mu.Unlock()

	state, ok := lt.accounts[account]
	if !ok {
		return false, 0
	}
	if state.lockedUntil.IsZero() {
		return false, 0
	}
	if !now.Before(state.lockedUntil) {
		state.lockedUntil = time.Time{}
		return false, 0
	}
	return true, state.lockedUntil.Sub(now)
}

// LockedAccounts returns the number of accounts currently locked.
func (lt *LoginTracker) LockedAccounts() int {
	now := lt.now()

	lt.mu.Lock()
	defer lt.mu.Unlock()

	locked := 0
	for _, state := range lt.accounts {
		if now.Before(state.lockedUntil) {
			locked++
		}
	}
	return locked
}

// cleanup drops accounts with no recent failures and no active lock.
func (lt *LoginTracker) cleanup(now time.Time) {
	cutoff := now.Add(-lt.cfg.FailureWindow)

	lt.mu.Lock()
	defer lt.mu.Unlock()

	for account, state := range lt.accounts {
		idle := len(state.failures) == 0 || state.failures[len(state.failures)-1].Before(cutoff)
		if idle && !now.Before(state.lockedUntil) {
			delete(lt.accounts, account)
		}
	}
}
