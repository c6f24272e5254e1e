// Package throttle enforces request rate limits, login attempt limits,
// and temporary actor blocks for the inventory trust layer.
package throttle

import (
	"log/slog"
	"sync"
	"time"
)

// Config holds throttle thresholds.
type Config struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Window            time.Duration `yaml:"window"`
	BlockDuration     time.Duration `yaml:"block_duration"`
	MaxLoginFailures  int           `yaml:"max_login_failures"`
	FailureWindow     time.Duration `yaml:"failure_window"`
	LockDuration      time.Duration `yaml:"lock_duration"`
	CleanupPeriod     time.Duration `yaml:"cleanup_period"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 100,
		Window:            60 * time.Second,
		BlockDuration:     15 * time.Minute,
		MaxLoginFailures:  5,
		FailureWindow:     time.Hour,
		LockDuration:      30 * time.Minute,
		CleanupPeriod:     5 * time.Minute,
	}
}

// Guard bundles the request limiter, login tracker, and actor block list
// behind one surface. The detector uses BlockActor for containment; the
// HTTP middleware and auth flow use the rest.
type Guard struct {
	cfg      Config
	requests *RequestLimiter
	logins   *LoginTracker
	logger   *slog.Logger

	mu     sync.Mutex
	actors map[string]time.Time

	now         func() time.Time
	stopCleanup chan struct{}
}

// NewGuard creates a guard and starts its background cleanup goroutine.
func NewGuard(cfg Config, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{
		cfg:         cfg,
		requests:    NewRequestLimiter(cfg, logger),
		logins:      NewLoginTracker(cfg, logger),
		logger:      logger,
		actors:      make(map[string]time.Time),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go g.cleanupLoop()

	return g
}

// AllowRequest checks the per-client sliding window for one request.
func (g *Guard) AllowRequest(client string) Decision {
	return g.requests.Allow(client)
}

// RecordLoginFailure registers a failed login for an account.
func (g *Guard) RecordLoginFailure(account string) LoginDecision {
	return g.logins.RecordFailure(account)
}

// RecordLoginSuccess clears an account's failure history and any lock.
func (g *Guard) RecordLoginSuccess(account string) {
	g.logins.RecordSuccess(account)
}

// IsLocked reports whether an account is locked and for how much longer.
func (g *Guard) IsLocked(account string) (bool, time.Duration) {
	return g.logins.IsLocked(account)
}

// BlockActor temporarily blocks an actor. Used by fraud containment.
func (g *Guard) BlockActor(actor string, d time.Duration) {
	until := g.now().Add(d)

	g.mu.Lock()
	g.actors[actor] = until
	g.mu.Unlock()

	g.logger.Warn("actor blocked",
		"actor_id", actor,
		"until", until.Format(time.RFC3339))
}

// IsActorBlocked reports whether an actor is blocked and for how much
// longer. Expired blocks are removed lazily.
func (g *Guard) IsActorBlocked(actor string) (bool, time.Duration) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	until, ok := g.actors[actor]
	if !ok {
		return false, 0
	}
	if !now.Before(until) {
		delete(g.actors, actor)
		return false, 0
	}
	return true, until.Sub(now)
}

// UnblockActor lifts an actor block, typically after supervisor approval.
func (g *Guard) UnblockActor(actor string) {
	g.mu.Lock()
	delete(g.actors, actor)
	g.mu.Unlock()
}

// Stats returns current guard counters for the stats endpoint.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	blocked := len(g.actors)
	g.mu.Unlock()

	return Stats{
		TrackedClients: g.requests.TrackedClients(),
		BlockedClients: g.requests.BlockedClients(),
		LockedAccounts: g.logins.LockedAccounts(),
		BlockedActors:  blocked,
	}
}

// Stats holds guard counters.
type Stats struct {
	TrackedClients int `json:"tracked_clients"`
	BlockedClients int `json:"blocked_clients"`
	LockedAccounts int `json:"locked_accounts"`
	BlockedActors  int `json:"blocked_actors"`
}

func (g *Guard) cleanupLoop() {
	period := g.cfg.CleanupPeriod
	if period <= 0 {
		period = 5 * time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.cleanup()
		case <-g.stopCleanup:
			return
		}
	}
}

func (g *Guard) cleanup() {
	now := g.now()

	g.mu.Lock()
	for actor, until := range g.actors {
		if !now.Before(until) {
			delete(g.actors, actor)
		}
	}
	g.mu.Unlock()

	g.requests.cleanup(now)
	g.logins.cleanup(now)
}

// Stop halts the background cleanup goroutine.
func (g *Guard) Stop() {
	close(g.stopCleanup)
}
