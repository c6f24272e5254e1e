package ledger

import (
	"context"
	"errors"
	"time"

	"stockguard/internal/schema"
)

// Common errors.
var (
	// ErrStoreUnavailable indicates the persistence collaborator could not
	// be reached. The chain pointer is never advanced on a failed append.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")

	// ErrRecordNotFound indicates the requested record does not exist.
	ErrRecordNotFound = errors.New("ledger: record not found")

	// ErrChainBroken indicates chain verification found at least one
	// tampered record. It is surfaced to operators, never auto-repaired.
	ErrChainBroken = errors.New("ledger: hash chain integrity broken")
)

// Order specifies result ordering for record queries.
type Order int

const (
	OrderIDAsc Order = iota
	OrderTimestampDesc
)

// Filter specifies record query criteria. Zero values mean "no constraint".
type Filter struct {
	EntityKind schema.EntityKind
	EntityID   string
	ActorID    string
	Actions    []schema.Action
	From       time.Time // inclusive
	To         time.Time // inclusive
	FromID     uint64    // minimum sequence id
	Order      Order
	Limit      int
}

// Matches checks if a record satisfies the filter.
func (f Filter) Matches(r *Record) bool {
	if f.EntityKind != "" && r.EntityKind != f.EntityKind {
		return false
	}
	if f.EntityID != "" && r.EntityID != f.EntityID {
		return false
	}
	if f.ActorID != "" && r.ActorID != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if r.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	if f.FromID > 0 && r.ID < f.FromID {
		return false
	}
	return true
}

// Store is the persistence collaborator for audit records. Implementations
// must persist records exactly as given; the ledger owns id and hash
// assignment.
type Store interface {
	// AppendRecord persists a fully populated record.
	AppendRecord(ctx context.Context, r *Record) error

	// Record returns the record with the given sequence id, or
	// ErrRecordNotFound.
	Record(ctx context.Context, id uint64) (*Record, error)

	// LastRecord returns the record with the highest sequence id, or
	// ErrRecordNotFound when the store is empty.
	LastRecord(ctx context.Context) (*Record, error)

	// QueryRecords returns records matching the filter in the requested
	// order, up to Limit when Limit > 0.
	QueryRecords(ctx context.Context, f Filter) ([]*Record, error)
}
