package detector

import (
	"context"
	"testing"
	"time"

	"stockguard/internal/ledger"
	"stockguard/internal/schema"
)

func appendMovement(t *testing.T, l *ledger.Ledger, ts time.Time, actor string, action schema.Action, entity string, qty int64) {
	t.Helper()
	_, err := l.Append(context.Background(), ledger.Entry{
		Timestamp:  ts,
		ActorID:    actor,
		ActorName:  "Test Actor",
		Action:     action,
		EntityKind: schema.EntityProduct,
		EntityID:   entity,
		Quantity:   qty,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestLedgerHistory_AverageQuantity(t *testing.T) {
	l, err := ledger.New(context.Background(), ledger.NewMemStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := NewLedgerHistory(l)
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	if _, ok, err := h.AverageQuantity(ctx, schema.EntityProduct, "PROD-001", base); err != nil || ok {
		t.Fatalf("empty ledger should report no history, ok=%v err=%v", ok, err)
	}

	appendMovement(t, l, base, "user-1", schema.ActionExit, "PROD-001", 40)
	appendMovement(t, l, base.Add(time.Hour), "user-1", schema.ActionEntry, "PROD-001", 60)
	appendMovement(t, l, base.Add(2*time.Hour), "user-2", schema.ActionExit, "PROD-002", 500)
	// Logins never count toward movement averages
	appendMovement(t, l, base.Add(3*time.Hour), "user-1", schema.ActionLogin, "PROD-001", 0)

	avg, ok, err := h.AverageQuantity(ctx, schema.EntityProduct, "PROD-001", base.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("AverageQuantity: %v", err)
	}
	if !ok {
		t.Fatal("expected history for PROD-001")
	}
	if avg != 50 {
		t.Errorf("expected average 50, got %v", avg)
	}
}

func TestLedgerHistory_AverageQuantity_ExcludesMovementUnderAnalysis(t *testing.T) {
	l, err := ledger.New(context.Background(), ledger.NewMemStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := NewLedgerHistory(l)
	ctx := context.Background()

	// One prior movement of 50, then the 500-unit movement under
	// analysis lands in the ledger before rules run. The average must
	// stay 50, not drift to 275, or the outlier rule goes blind.
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ts := base.Add(time.Hour)
	appendMovement(t, l, base, "user-1", schema.ActionExit, "PROD-001", 50)
	appendMovement(t, l, ts, "user-1", schema.ActionExit, "PROD-001", 500)

	avg, ok, err := h.AverageQuantity(ctx, schema.EntityProduct, "PROD-001", ts)
	if err != nil {
		t.Fatalf("AverageQuantity: %v", err)
	}
	if !ok {
		t.Fatal("expected prior history for PROD-001")
	}
	if avg != 50 {
		t.Errorf("expected average 50 without the movement under analysis, got %v", avg)
	}

	// An entity whose only record is the movement itself has no prior
	// history and must not trip the rule.
	appendMovement(t, l, ts, "user-1", schema.ActionExit, "PROD-777", 900)
	if _, ok, err := h.AverageQuantity(ctx, schema.EntityProduct, "PROD-777", ts); err != nil || ok {
		t.Errorf("first movement of an entity should report no history, ok=%v err=%v", ok, err)
	}
}

func TestDetector_Analyze_OutlierAgainstLedgerHistory(t *testing.T) {
	l, err := ledger.New(context.Background(), ledger.NewMemStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d := New(context.Background(), DefaultConfig(), NewLedgerHistory(l), NewMemProfiles(nil, nil), nil, nil, nil, nil)
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	appendMovement(t, l, base, "user-1", schema.ActionEntry, "PROD-001", 50)

	// Record-then-analyze: the 500-unit movement is appended before the
	// rules see it, and must still read as 10x the historical average.
	m := &schema.Movement{
		Timestamp:  base.Add(time.Hour),
		ActorID:    "user-1",
		ActorName:  "Ana Torres",
		Action:     schema.ActionEntry,
		EntityKind: schema.EntityProduct,
		EntityID:   "PROD-001",
		Quantity:   500,
	}
	appendMovement(t, l, m.Timestamp, m.ActorID, m.Action, m.EntityID, m.Quantity)

	alerts := d.Analyze(ctx, m)
	found := false
	for _, a := range alerts {
		if a.Kind == KindQuantityOutlier {
			found = true
			if got := a.Context["historical_average"]; got != float64(50) {
				t.Errorf("expected historical average 50, got %v", got)
			}
		}
	}
	if !found {
		t.Errorf("expected a quantity outlier alert, got %+v", alerts)
	}
}

func TestLedgerHistory_RecentMovements(t *testing.T) {
	l, err := ledger.New(context.Background(), ledger.NewMemStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := NewLedgerHistory(l)
	ctx := context.Background()

	ref := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		appendMovement(t, l, ref.Add(-time.Duration(i)*time.Minute), "user-1", schema.ActionExit, "PROD-001", 5)
	}
	// Outside the window and by another actor: both excluded
	appendMovement(t, l, ref.Add(-20*time.Minute), "user-1", schema.ActionExit, "PROD-001", 5)
	appendMovement(t, l, ref.Add(-time.Minute), "user-2", schema.ActionExit, "PROD-001", 5)

	count, err := h.RecentMovements(ctx, "user-1", "PROD-001", ref, 15*time.Minute)
	if err != nil {
		t.Fatalf("RecentMovements: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 recent movements, got %d", count)
	}
}

func TestLedgerHistory_SmallWithdrawals(t *testing.T) {
	l, err := ledger.New(context.Background(), ledger.NewMemStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := NewLedgerHistory(l)
	ctx := context.Background()

	ref := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for day := 1; day <= 5; day++ {
		appendMovement(t, l, ref.Add(-time.Duration(day)*24*time.Hour), "user-1", schema.ActionExit, "PROD-001", 20)
	}
	// Too large, too old, and an entry: all excluded
	appendMovement(t, l, ref.Add(-2*24*time.Hour), "user-1", schema.ActionExit, "PROD-001", 400)
	appendMovement(t, l, ref.Add(-8*24*time.Hour), "user-1", schema.ActionExit, "PROD-001", 20)
	appendMovement(t, l, ref.Add(-24*time.Hour), "user-1", schema.ActionEntry, "PROD-001", 20)

	count, total, err := h.SmallWithdrawals(ctx, "user-1", ref, 7*24*time.Hour, 100)
	if err != nil {
		t.Fatalf("SmallWithdrawals: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 small withdrawals, got %d", count)
	}
	if total != 100 {
		t.Errorf("expected accumulated total 100, got %d", total)
	}
}
