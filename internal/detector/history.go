package detector

import (
	"context"
	"time"

	"stockguard/internal/ledger"
	"stockguard/internal/schema"
)

// History supplies the aggregates the rules need from past movements.
type History interface {
	// AverageQuantity returns the mean movement quantity for an entity,
	// considering only movements strictly before the given reference time.
	// The movement being analyzed is already in the ledger when rules run,
	// so it must not drag its own average toward itself. ok is false when
	// the entity has no prior history.
	AverageQuantity(ctx context.Context, kind schema.EntityKind, entityID string, before time.Time) (avg float64, ok bool, err error)

	// RecentMovements counts movements by one actor on one entity inside
	// the trailing window ending at ref.
	RecentMovements(ctx context.Context, actorID, entityID string, ref time.Time, window time.Duration) (int, error)

	// SmallWithdrawals counts withdrawals by an actor at or below
	// maxQuantity inside the trailing window ending at ref, and returns
	// their summed quantity.
	SmallWithdrawals(ctx context.Context, actorID string, ref time.Time, window time.Duration, maxQuantity int64) (count int, total int64, err error)
}

// LedgerHistory computes rule aggregates from audit ledger queries.
type LedgerHistory struct {
	ledger *ledger.Ledger
}

// NewLedgerHistory creates a History backed by the audit ledger.
func NewLedgerHistory(l *ledger.Ledger) *LedgerHistory {
	return &LedgerHistory{ledger: l}
}

func (h *LedgerHistory) AverageQuantity(ctx context.Context, kind schema.EntityKind, entityID string, before time.Time) (float64, bool, error) {
	records, err := h.ledger.Query(ctx, ledger.Filter{
		EntityKind: kind,
		EntityID:   entityID,
		Actions:    stockMovementActions(),
	})
	if err != nil {
		return 0, false, err
	}

	var total int64
	count := 0
	for _, r := range records {
		if !r.Timestamp.Before(before) {
			continue
		}
		total += r.Quantity
		count++
	}
	if count == 0 {
		return 0, false, nil
	}
	return float64(total) / float64(count), true, nil
}

func (h *LedgerHistory) RecentMovements(ctx context.Context, actorID, entityID string, ref time.Time, window time.Duration) (int, error) {
	records, err := h.ledger.Query(ctx, ledger.Filter{
		ActorID:  actorID,
		EntityID: entityID,
		Actions:  stockMovementActions(),
		From:     ref.Add(-window),
		To:       ref,
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (h *LedgerHistory) SmallWithdrawals(ctx context.Context, actorID string, ref time.Time, window time.Duration, maxQuantity int64) (int, int64, error) {
	records, err := h.ledger.Query(ctx, ledger.Filter{
		ActorID: actorID,
		Actions: []schema.Action{schema.ActionExit},
		From:    ref.Add(-window),
		To:      ref,
	})
	if err != nil {
		return 0, 0, err
	}

	count := 0
	var total int64
	for _, r := range records {
		if r.Quantity > 0 && r.Quantity <= maxQuantity {
			count++
			total += r.Quantity
		}
	}
	return count, total, nil
}

// Only ENTRY and EXIT carry quantities, so only they feed the averages
// and burst counts.
func stockMovementActions() []schema.Action {
	return []schema.Action{
		schema.ActionEntry,
		schema.ActionExit,
	}
}
