package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"stockguard/internal/schema"
)

func testEntry(actor, entity string, quantity int64) Entry {
	return Entry{
		ActorID:    actor,
		ActorName:  "Test Actor",
		Action:     schema.ActionExit,
		EntityKind: schema.EntityProduct,
		EntityID:   entity,
		Quantity:   quantity,
		ClientAddr: "10.0.0.5",
		Device:     "scanner-01",
		Reason:     "routine dispatch",
	}
}

func newTestLedger(t *testing.T) (*Ledger, *MemStore) {
	t.Helper()
	store := NewMemStore()
	l, err := New(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, store
}

func TestLedger_Append(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Append(ctx, testEntry("user-1", "PROD-001", 5))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first.ID != 1 {
		t.Errorf("expected id 1, got %d", first.ID)
	}
	if first.PrevHash != GenesisHash {
		t.Errorf("first record should chain off genesis, got %s", first.PrevHash)
	}
	if len(first.Hash) != 64 {
		t.Errorf("expected 64-char hex hash, got %q", first.Hash)
	}

	second, err := l.Append(ctx, testEntry("user-1", "PROD-001", 3))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if second.ID != 2 {
		t.Errorf("expected id 2, got %d", second.ID)
	}
	if second.PrevHash != first.Hash {
		t.Errorf("second record should chain off first: got %s, want %s", second.PrevHash, first.Hash)
	}
	if second.Hash == first.Hash {
		t.Error("consecutive records must not share a hash")
	}
}

func TestLedger_VerifyChain_Intact(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if _, err := l.Append(ctx, testEntry("user-1", fmt.Sprintf("PROD-%03d", i%3), int64(i+1))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	intact, broken, err := l.VerifyChain(ctx, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !intact {
		t.Error("untampered chain should verify intact")
	}
	if len(broken) != 0 {
		t.Errorf("expected no broken records, got %v", broken)
	}
}

func TestLedger_VerifyChain_SingleTamper(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := l.Append(ctx, testEntry("user-1", "PROD-001", int64(i+1))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	// Alter the payload of record 4 after the fact
	if !store.Tamper(4, func(r *Record) { r.Quantity = 9999 }) {
		t.Fatal("tamper target not found")
	}

	intact, broken, err := l.VerifyChain(ctx, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if intact {
		t.Error("tampered chain should not verify intact")
	}
	if len(broken) != 1 || broken[0] != 4 {
		t.Errorf("expected exactly record 4 flagged, got %v", broken)
	}
}

func TestLedger_VerifyChain_LaterRecordsStayValid(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := l.Append(ctx, testEntry("user-1", "PROD-001", int64(i+1))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	// Tamper two non-adjacent records; everything else chains off stored
	// hashes and must stay valid.
	store.Tamper(2, func(r *Record) { r.Reason = "edited" })
	store.Tamper(7, func(r *Record) { r.ActorID = "intruder" })

	_, broken, err := l.VerifyChain(ctx, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if len(broken) != 2 || broken[0] != 2 || broken[1] != 7 {
		t.Errorf("expected records 2 and 7 flagged, got %v", broken)
	}
}

func TestLedger_VerifyChain_OutOfOrderPredecessor(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, testEntry("user-1", "PROD-001", int64(i+1))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	// Rewrite record 3's hash so it is self-consistent but chains off
	// genesis instead of record 2's stored hash. The hash depends on the
	// predecessor, so hash(3) must fail against the real chain position.
	store.Tamper(3, func(r *Record) {
		r.PrevHash = GenesisHash
		r.Hash = computeHash(r, GenesisHash)
	})

	_, broken, err := l.VerifyChain(ctx, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if len(broken) == 0 || broken[0] != 3 {
		t.Errorf("record chained off wrong predecessor should be flagged, got %v", broken)
	}
}

func TestLedger_VerifyChain_FromID(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := l.Append(ctx, testEntry("user-1", "PROD-001", int64(i+1))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	store.Tamper(8, func(r *Record) { r.Quantity = 12345 })

	// Verification starting mid-chain seeds off record 5's stored hash
	intact, broken, err := l.VerifyChain(ctx, 6)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if intact {
		t.Error("expected tamper to be detected from mid-chain start")
	}
	if len(broken) != 1 || broken[0] != 8 {
		t.Errorf("expected record 8 flagged, got %v", broken)
	}
}

func TestLedger_VerifyChain_FromIDPastEnd(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Append(ctx, testEntry("user-1", "PROD-001", int64(i+1))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	// A start past the last record covers nothing and is trivially intact.
	intact, broken, err := l.VerifyChain(ctx, 20)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !intact || broken != nil {
		t.Errorf("expected empty range to verify clean, intact=%v broken=%v", intact, broken)
	}
}

// failingStore wraps a Store and fails appends on demand.
type failingStore struct {
	*MemStore
	fail bool
}

func (s *failingStore) AppendRecord(ctx context.Context, r *Record) error {
	if s.fail {
		return errors.New("connection refused")
	}
	return s.MemStore.AppendRecord(ctx, r)
}

func TestLedger_Append_FailureDoesNotAdvanceChain(t *testing.T) {
	store := &failingStore{MemStore: NewMemStore()}
	l, err := New(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	first, err := l.Append(ctx, testEntry("user-1", "PROD-001", 5))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	store.fail = true
	if _, err := l.Append(ctx, testEntry("user-1", "PROD-001", 7)); err == nil {
		t.Fatal("expected append to fail while store is down")
	} else if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}

	// Chain pointer must not have advanced: the next successful append
	// still chains off the first record.
	store.fail = false
	next, err := l.Append(ctx, testEntry("user-1", "PROD-001", 7))
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if next.ID != 2 {
		t.Errorf("expected id 2 after failed append, got %d", next.ID)
	}
	if next.PrevHash != first.Hash {
		t.Errorf("recovered append should chain off record 1: got %s, want %s", next.PrevHash, first.Hash)
	}

	intact, _, err := l.VerifyChain(ctx, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !intact {
		t.Error("chain should verify intact after failed append recovery")
	}
}

func TestLedger_RecoversChainState(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	l1, err := New(ctx, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var last *Record
	for i := 0; i < 3; i++ {
		last, err = l1.Append(ctx, testEntry("user-1", "PROD-001", int64(i+1)))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// A new ledger over the same store resumes the chain
	l2, err := New(ctx, store, nil)
	if err != nil {
		t.Fatalf("New over existing store: %v", err)
	}
	next, err := l2.Append(ctx, testEntry("user-2", "PROD-002", 4))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if next.ID != last.ID+1 {
		t.Errorf("expected sequence to resume at %d, got %d", last.ID+1, next.ID)
	}
	if next.PrevHash != last.Hash {
		t.Error("resumed ledger should chain off the last persisted record")
	}

	intact, _, err := l2.VerifyChain(ctx, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !intact {
		t.Error("resumed chain should verify intact")
	}
}

func TestLedger_HistoryForEntity(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		e := testEntry("user-1", "PROD-001", int64(i+1))
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if _, err := l.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	other := testEntry("user-1", "PROD-999", 1)
	other.Timestamp = base.Add(time.Hour)
	if _, err := l.Append(ctx, other); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := l.HistoryForEntity(ctx, schema.EntityProduct, "PROD-001", 4)
	if err != nil {
		t.Fatalf("HistoryForEntity: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp.After(records[i-1].Timestamp) {
			t.Error("history should be descending by timestamp")
		}
	}
	if records[0].Quantity != 6 {
		t.Errorf("most recent record should come first, got quantity %d", records[0].Quantity)
	}
}

func TestLedger_HistoryForActor(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := testEntry("user-1", "PROD-001", int64(i+1))
		e.Timestamp = base.Add(time.Duration(i) * time.Hour)
		if _, err := l.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	from := base.Add(1 * time.Hour)
	to := base.Add(3 * time.Hour)
	records, err := l.HistoryForActor(ctx, "user-1", from, to)
	if err != nil {
		t.Fatalf("HistoryForActor: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records in inclusive range, got %d", len(records))
	}
	if records[0].Timestamp.Before(records[len(records)-1].Timestamp) {
		t.Error("actor history should be descending by timestamp")
	}

	none, err := l.HistoryForActor(ctx, "ghost", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("HistoryForActor: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no records for unknown actor, got %d", len(none))
	}
}

func TestLedger_ConcurrentAppends(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	const n = 50
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := l.Append(ctx, testEntry("user-1", "PROD-001", int64(i+1)))
			done <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Append: %v", err)
		}
	}

	if store.Len() != n {
		t.Fatalf("expected %d records, got %d", n, store.Len())
	}
	intact, broken, err := l.VerifyChain(ctx, 0)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !intact {
		t.Errorf("concurrent appends must not fork the chain, broken: %v", broken)
	}
}
