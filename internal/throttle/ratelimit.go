package throttle

import (
	"log/slog"
	"sync"
	"time"
)

// Decision is the outcome of a rate limit check. Rejection is a normal
// result, not an error.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RequestLimiter implements a per-client sliding window limiter. A client
// that fills the window is blocked outright for the configured duration.
type RequestLimiter struct {
	cfg     Config
	mu      sync.RWMutex
	clients map[string]*clientState
	logger  *slog.Logger
	now     func() time.Time
}

// clientState tracks one client's recent request times and block status.
// Each client carries its own lock so distinct clients never contend.
type clientState struct {
	mu           sync.Mutex
	hits         []time.Time
	blockedUntil time.Time
}

// NewRequestLimiter creates a request limiter with the given thresholds.
func NewRequestLimiter(cfg Config, logger *slog.Logger) *RequestLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestLimiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		logger:  logger,
		now:     time.Now,
	}
}

// Allow records one request for the client and decides whether it may
// proceed. Expired blocks are lifted lazily on the next check.
func (rl *RequestLimiter) Allow(client string) Decision {
	now := rl.now()

	rl.mu.RLock()
	state, ok := rl.clients[client]
	rl.mu.RUnlock()
	if !ok {
		rl.mu.Lock()
		state, ok = rl.clients[client]
		if !ok {
			state = &clientState{}
			rl.clients[client] = state
		}
		rl.mu.Unlock()
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.blockedUntil.IsZero() {
		if now.Before(state.blockedUntil) {
			return Decision{RetryAfter: state.blockedUntil.Sub(now)}
		}
		// Block expired, start clean
		state.blockedUntil = time.Time{}
		state.hits = state.hits[:0]
	}

	// Slide the window
	cutoff := now.Add(-rl.cfg.Window)
	kept := state.hits[:0]
	for _, t := range state.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	state.hits = kept

	if len(state.hits) >= rl.cfg.RequestsPerMinute {
		state.blockedUntil = now.Add(rl.cfg.BlockDuration)
		rl.logger.Warn("client rate limited",
			"client", client,
			"requests", len(state.hits),
			"block_duration", rl.cfg.BlockDuration)
		return Decision{RetryAfter: rl.cfg.BlockDuration}
	}

	state.hits = append(state.hits, now)
	return Decision{
		Allowed:   true,
		Remaining: rl.cfg.RequestsPerMinute - len(state.hits),
	}
}

// TrackedClients returns the number of clients currently tracked.
func (rl *RequestLimiter) TrackedClients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

// BlockedClients returns the number of clients currently blocked.
func (rl *RequestLimiter) BlockedClients() int {
	now := rl.now()

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	blocked := 0
	for _, state := range rl.clients {
		state.mu.Lock()
		if now.Before(state.blockedUntil) {
			blocked++
		}
		state.mu.Unlock()
	}
	return blocked
}

// cleanup drops clients with no recent activity and no active block.
func (rl *RequestLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-rl.cfg.Window * 2)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for client, state := range rl.clients {
		state.mu.Lock()
		idle := len(state.hits) == 0 || state.hits[len(state.hits)-1].Before(cutoff)
		expired := state.blockedUntil.IsZero() || now.After(state.blockedUntil)
		if idle && expired {
			delete(rl.clients, client)
			removed++
		}
		state.mu.Unlock()
	}

	if removed > 0 {
		rl.logger.Debug("request limiter cleanup", "removed", removed, "remaining", len(rl.clients))
	}
}
