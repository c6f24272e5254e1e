package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stockguard/internal/schema"
)

// Ledger is the append-only, hash-chained audit record service. It is the
// single writer of the chain pointer: concurrent appends serialize on an
// internal mutex so that no two records ever chain off the same predecessor.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	logger *slog.Logger

	// Chain state, guarded by mu
	lastHash string
	sequence uint64
}

// New creates a Ledger backed by the given store, recovering the chain
// pointer from the most recent persisted record.
func New(ctx context.Context, store Store, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Ledger{
		store:    store,
		logger:   logger,
		lastHash: GenesisHash,
	}

	last, err := store.LastRecord(ctx)
	switch {
	case err == nil:
		l.sequence = last.ID
		l.lastHash = last.Hash
	case errors.Is(err, ErrRecordNotFound):
		// Empty store, chain starts at genesis
	default:
		return nil, fmt.Errorf("%w: recovering chain state: %v", ErrStoreUnavailable, err)
	}

	logger.Info("audit ledger initialized", "sequence", l.sequence)
	return l, nil
}

// Append records an entry, computing the next hash-chain link. The mutex
// spans compute-persist-advance: a failed persist leaves the chain pointer
// untouched and the error propagates to the caller, which decides whether
// to abort the business operation (fail closed).
func (l *Ledger) Append(ctx context.Context, e Entry) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	r := &Record{
		ID:          l.sequence + 1,
		Timestamp:   ts.UTC(),
		ActorID:     e.ActorID,
		ActorName:   e.ActorName,
		Action:      e.Action,
		EntityKind:  e.EntityKind,
		EntityID:    e.EntityID,
		PriorState:  e.PriorState,
		NewState:    e.NewState,
		ClientAddr:  e.ClientAddr,
		Device:      e.Device,
		Location:    e.Location,
		StockBefore: e.StockBefore,
		StockAfter:  e.StockAfter,
		Quantity:    e.Quantity,
		Reason:      e.Reason,
		ApproverID:  e.ApproverID,
		PrevHash:    l.lastHash,
	}
	r.Hash = computeHash(r, l.lastHash)

	if err := l.store.AppendRecord(ctx, r); err != nil {
		return nil, fmt.Errorf("%w: append record %d: %v", ErrStoreUnavailable, r.ID, err)
	}

	l.sequence = r.ID
	l.lastHash = r.Hash

	return r, nil
}

// VerifyChain recomputes every record's expected hash from the chosen start
// (or genesis) and reports the ids of all records whose stored hash does not
// match. Verification continues past breaks: each record is checked against
// its predecessor's STORED hash, never a corrected one, so a single tampered
// record flags exactly that record while later untampered records stay valid.
func (l *Ledger) VerifyChain(ctx context.Context, fromID uint64) (bool, []uint64, error) {
	records, err := l.store.QueryRecords(ctx, Filter{FromID: fromID, Order: OrderIDAsc})
	if err != nil {
		return false, nil, fmt.Errorf("%w: querying records: %v", ErrStoreUnavailable, err)
	}
	if len(records) == 0 {
		// A start past the end of the chain leaves nothing to check.
		return true, nil, nil
	}

	prevHash := GenesisHash
	if fromID > 1 {
		prev, err := l.store.Record(ctx, fromID-1)
		if err != nil {
			return false, nil, fmt.Errorf("%w: loading record %d: %v", ErrStoreUnavailable, fromID-1, err)
		}
		prevHash = prev.Hash
	}

	var broken []uint64
	for _, r := range records {
		if computeHash(r, prevHash) != r.Hash {
			broken = append(broken, r.ID)
			l.logger.Warn("audit record failed integrity check",
				"record_id", r.ID,
				"actor_id", r.ActorID,
				"action", r.Action)
		}
		prevHash = r.Hash
	}

	if len(broken) > 0 {
		l.logger.Error("audit chain verification found tampered records",
			"broken_count", len(broken),
			"checked", len(records))
		return false, broken, nil
	}

	return true, nil, nil
}

// HistoryForEntity returns the most recent records touching an entity,
// descending by timestamp.
func (l *Ledger) HistoryForEntity(ctx context.Context, kind schema.EntityKind, id string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	records, err := l.store.QueryRecords(ctx, Filter{
		EntityKind: kind,
		EntityID:   id,
		Order:      OrderTimestampDesc,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: entity history: %v", ErrStoreUnavailable, err)
	}
	return records, nil
}

// HistoryForActor returns all records by an actor, descending by timestamp,
// optionally constrained to an inclusive time range.
func (l *Ledger) HistoryForActor(ctx context.Context, actorID string, from, to time.Time) ([]*Record, error) {
	records, err := l.store.QueryRecords(ctx, Filter{
		ActorID: actorID,
		From:    from,
		To:      to,
		Order:   OrderTimestampDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: actor history: %v", ErrStoreUnavailable, err)
	}
	return records, nil
}

// Query exposes raw filtered access to the store for collaborators that
// aggregate over history (the fraud detector, the archive exporter).
func (l *Ledger) Query(ctx context.Context, f Filter) ([]*Record, error) {
	records, err := l.store.QueryRecords(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStoreUnavailable, err)
	}
	return records, nil
}

// Sequence returns the id of the most recently appended record.
func (l *Ledger) Sequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence
}
