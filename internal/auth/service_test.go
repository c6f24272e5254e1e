package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockguard/internal/ledger"
	"stockguard/internal/schema"
	"stockguard/internal/throttle"
)

func testService(t *testing.T) (*Service, *throttle.Guard, *ledger.Ledger) {
	t.Helper()

	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Users = []User{
		{ID: "user-1", Username: "ana", Name: "Ana Torres", Role: RoleOperator, PasswordHash: hash, Active: true},
		{ID: "user-2", Username: "luis", Name: "Luis Vega", Role: RoleAuditor, PasswordHash: hash, Active: false},
	}

	guard := throttle.NewGuard(throttle.DefaultConfig(), nil)
	t.Cleanup(guard.Stop)

	l, err := ledger.New(context.Background(), ledger.NewMemStore(), nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}

	svc := NewService(cfg, NewMemorySessionStore(), guard, l, nil)
	return svc, guard, l
}

func loginRecords(t *testing.T, l *ledger.Ledger) []*ledger.Record {
	t.Helper()
	records, err := l.Query(context.Background(), ledger.Filter{
		Actions: []schema.Action{schema.ActionLogin, schema.ActionLogout},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return records
}

func TestService_Login(t *testing.T) {
	svc, _, l := testService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "ana", "correct horse", "10.0.0.5", "scanner-01")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.UserID != "user-1" || session.Role != RoleOperator {
		t.Errorf("unexpected session: %+v", session)
	}
	if len(session.Token) != 64 {
		t.Errorf("expected 64-char token, got %d chars", len(session.Token))
	}
	if !session.ExpiresAt.After(session.CreatedAt) {
		t.Error("session should expire after creation")
	}

	records := loginRecords(t, l)
	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	if records[0].Action != schema.ActionLogin || records[0].Reason != "login succeeded" {
		t.Errorf("unexpected audit record: %+v", records[0])
	}
}

func TestService_LoginWrongPassword(t *testing.T) {
	svc, _, l := testService(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, "ana", "wrong", "10.0.0.5", "scanner-01")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	records := loginRecords(t, l)
	if len(records) != 1 || records[0].Reason != "login failed" {
		t.Errorf("failed attempt should be audited, got %+v", records)
	}
}

func TestService_LoginUnknownUser(t *testing.T) {
	svc, _, _ := testService(t)

	_, err := svc.Login(context.Background(), "ghost", "whatever", "10.0.0.5", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown users must look like bad credentials, got %v", err)
	}
}

func TestService_LoginDisabledUser(t *testing.T) {
	svc, _, _ := testService(t)

	_, err := svc.Login(context.Background(), "luis", "correct horse", "10.0.0.5", "")
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestService_LoginLocksAfterFailures(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = svc.Login(ctx, "ana", "wrong", "10.0.0.5", "")
	}
	if !errors.Is(lastErr, ErrAccountLocked) {
		t.Fatalf("fifth failure should lock the account, got %v", lastErr)
	}

	// Even the correct password is rejected while locked
	_, err := svc.Login(ctx, "ana", "correct horse", "10.0.0.5", "")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked account should reject correct password, got %v", err)
	}
}

func TestService_LoginSuccessClearsFailures(t *testing.T) {
	svc, guard, _ := testService(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		svc.Login(ctx, "ana", "wrong", "10.0.0.5", "")
	}
	if _, err := svc.Login(ctx, "ana", "correct horse", "10.0.0.5", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// A fresh failure run starts from zero
	if locked, _ := guard.IsLocked("ana"); locked {
		t.Fatal("success should clear the failure count")
	}
	_, err := svc.Login(ctx, "ana", "wrong", "10.0.0.5", "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_Authenticate(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "ana", "correct horse", "10.0.0.5", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	got, err := svc.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("unexpected session user %q", got.UserID)
	}

	if _, err := svc.Authenticate(ctx, "bogus-token"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("empty token should not authenticate, got %v", err)
	}

	// Expired sessions are rejected and purged
	svc.now = func() time.Time { return time.Now().Add(9 * time.Hour) }
	if _, err := svc.Authenticate(ctx, session.Token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
	svc.now = time.Now
	if _, err := svc.Authenticate(ctx, session.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired session should be deleted, got %v", err)
	}
}

func TestService_Logout(t *testing.T) {
	svc, _, l := testService(t)
	ctx := context.Background()

	session, err := svc.Login(ctx, "ana", "correct horse", "10.0.0.5", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.Logout(ctx, session.Token, "10.0.0.5"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Authenticate(ctx, session.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session should be gone after logout, got %v", err)
	}

	records := loginRecords(t, l)
	last := records[len(records)-1]
	if last.Action != schema.ActionLogout {
		t.Errorf("logout should be audited, got %+v", last)
	}

	// Logging out twice is not an error
	if err := svc.Logout(ctx, session.Token, "10.0.0.5"); err != nil {
		t.Errorf("repeated logout should be a no-op, got %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleAdministrator, PermManageUsers, true},
		{RoleManager, PermApproveMovement, true},
		{RoleManager, PermManageUsers, false},
		{RoleOperator, PermRecordMovement, true},
		{RoleOperator, PermViewAudit, false},
		{RoleAuditor, PermViewAudit, true},
		{RoleAuditor, PermRecordMovement, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword("s3cret", hash) {
		t.Error("correct password should verify")
	}
	if VerifyPassword("wrong", hash) {
		t.Error("wrong password should not verify")
	}
}
