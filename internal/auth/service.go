package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockguard/internal/ledger"
	"stockguard/internal/logging"
	"stockguard/internal/schema"
	"stockguard/internal/throttle"
)

var (
	// ErrInvalidCredentials covers unknown users and wrong passwords.
	// Callers must not learn which one it was.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountLocked indicates too many failed attempts.
	ErrAccountLocked = errors.New("auth: account locked")

	// ErrAccountDisabled indicates a deactivated account.
	ErrAccountDisabled = errors.New("auth: account disabled")
)

// Recorder appends audit records. The ledger implements it.
type Recorder interface {
	Append(ctx context.Context, e ledger.Entry) (*ledger.Record, error)
}

// Config holds auth settings.
type Config struct {
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SessionBackend selects "redis" or "memory". Memory sessions do not
	// survive a restart.
	SessionBackend string      `yaml:"session_backend"`
	Redis          RedisConfig `yaml:"redis"`
	Users          []User      `yaml:"users"`
}

// DefaultConfig returns auth defaults with no users configured.
func DefaultConfig() Config {
	return Config{
		SessionTTL:     8 * time.Hour,
		SessionBackend: "memory",
		Redis:          DefaultRedisConfig(),
	}
}

// Service performs logins and session checks. Every attempt, failed or
// successful, is written to the audit ledger so the fraud detector can
// observe authentication activity.
type Service struct {
	cfg      Config
	users    map[string]*User // by username
	sessions SessionStore
	guard    *throttle.Guard
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the auth service from configured users.
func NewService(cfg Config, sessions SessionStore, guard *throttle.Guard, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	users := make(map[string]*User, len(cfg.Users))
	for i := range cfg.Users {
		u := cfg.Users[i]
		users[u.Username] = &u
	}
	return &Service{
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		guard:    guard,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Login verifies credentials and opens a session. Failed attempts count
// toward the account lock; a success clears them.
func (s *Service) Login(ctx context.Context, username, password, clientAddr, device string) (*Session, error) {
	if locked, remaining := s.guard.IsLocked(username); locked {
		s.logger.Warn("login rejected, account locked",
			"username", username,
			"remaining", remaining)
		return nil, fmt.Errorf("%w: retry in %s", ErrAccountLocked, remaining.Round(time.Second))
	}

	user, ok := s.users[username]
	if !ok || !VerifyPassword(password, user.PasswordHash) {
		decision := s.guard.RecordLoginFailure(username)
		s.recordLogin(ctx, username, user, clientAddr, device, false)
		if decision.Locked {
			return nil, fmt.Errorf("%w: retry in %s", ErrAccountLocked, decision.RetryAfter.Round(time.Second))
		}
		return nil, fmt.Errorf("%w: %d attempts remaining", ErrInvalidCredentials, decision.Remaining)
	}

	if !user.Active {
		s.recordLogin(ctx, username, user, clientAddr, device, false)
		return nil, ErrAccountDisabled
	}

	s.guard.RecordLoginSuccess(username)

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	session := &Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	if err := s.sessions.Store(ctx, session); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	s.recordLogin(ctx, username, user, clientAddr, device, true)
	// The masked prefix is enough to correlate session log lines.
	s.logger.Info("login succeeded",
		"username", username,
		"user_id", user.ID,
		"client_addr", clientAddr,
		"sid", logging.MaskToken(session.Token))

	return session, nil
}

// Logout closes a session. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token, clientAddr string) error {
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}

	if s.recorder != nil {
		if _, err := s.recorder.Append(ctx, ledger.Entry{
			ActorID:    session.UserID,
			ActorName:  session.Name,
			Action:     schema.ActionLogout,
			EntityKind: schema.EntityUser,
			EntityID:   session.UserID,
			ClientAddr: clientAddr,
			Reason:     "session closed",
		}); err != nil {
			s.logger.Error("recording logout failed", "username", session.Username, "error", err)
		}
	}

	return nil
}

// Authenticate resolves a session token. Expired sessions are deleted on
// sight.
func (s *Service) Authenticate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		_ = s.sessions.Delete(ctx, token)
		return nil, ErrSessionExpired
	}
	return session, nil
}

// recordLogin writes a LOGIN audit record. user may be nil for unknown
// usernames.
func (s *Service) recordLogin(ctx context.Context, username string, user *User, clientAddr, device string, success bool) {
	if s.recorder == nil {
		return
	}

	actorID := username
	actorName := username
	if user != nil {
		actorID = user.ID
		actorName = user.Name
	}
	reason := "login failed"
	if success {
		reason = "login succeeded"
	}

	if _, err := s.recorder.Append(ctx, ledger.Entry{
		ActorID:    actorID,
		ActorName:  actorName,
		Action:     schema.ActionLogin,
		EntityKind: schema.EntityUser,
		EntityID:   actorID,
		ClientAddr: clientAddr,
		Device:     device,
		Reason:     reason,
	}); err != nil {
		s.logger.Error("recording login attempt failed",
			"username", username,
			"error", err)
	}
}
