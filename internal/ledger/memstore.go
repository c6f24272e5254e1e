package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store. It backs development mode and tests;
// production deployments use the ClickHouse store.
type MemStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// AppendRecord stores a copy of the record.
func (s *MemStore) AppendRecord(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.records = append(s.records, &cp)
	return nil
}

// Record returns the record with the given id.
func (s *MemStore) Record(ctx context.Context, id uint64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRecordNotFound
}

// LastRecord returns the record with the highest sequence id.
func (s *MemStore) LastRecord(ctx context.Context) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return nil, ErrRecordNotFound
	}
	last := s.records[0]
	for _, r := range s.records[1:] {
		if r.ID > last.ID {
			last = r
		}
	}
	cp := *last
	return &cp, nil
}

// QueryRecords returns records matching the filter.
func (s *MemStore) QueryRecords(ctx context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	var results []*Record
	for _, r := range s.records {
		if f.Matches(r) {
			cp := *r
			results = append(results, &cp)
		}
	}
	s.mu.RUnlock()

	switch f.Order {
	case OrderTimestampDesc:
		sort.Slice(results, func(i, j int) bool {
			if results[i].Timestamp.Equal(results[j].Timestamp) {
				return results[i].ID > results[j].ID
			}
			return results[i].Timestamp.After(results[j].Timestamp)
		})
	default:
		sort.Slice(results, func(i, j int) bool {
			return results[i].ID < results[j].ID
		})
	}

	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results, nil
}

// Tamper mutates a stored record in place. Test helper: a real store never
// rewrites records.
func (s *MemStore) Tamper(id uint64, mutate func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.ID == id {
			mutate(r)
			return true
		}
	}
	return false
}

// Len returns the number of stored records.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
