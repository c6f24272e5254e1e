package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"stockguard/internal/ledger"
	"stockguard/internal/schema"
)

const recordsTable = "audit_records"

const recordColumns = `id, timestamp, actor_id, actor_name, action, entity_kind, entity_id,
	prior_state, new_state, client_addr, device, location,
	stock_before, stock_after, quantity, reason, approver_id, hash, prev_hash`

// RecordStore persists audit records in ClickHouse. It implements
// ledger.Store; the ledger owns id and hash assignment.
type RecordStore struct {
	client *ClickHouseClient
}

// NewRecordStore creates a record store over an open client.
func NewRecordStore(client *ClickHouseClient) *RecordStore {
	return &RecordStore{client: client}
}

func (s *RecordStore) AppendRecord(ctx context.Context, r *ledger.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordsTable, recordColumns)

	err := s.client.Exec(ctx, query,
		r.ID,
		r.Timestamp,
		r.ActorID,
		r.ActorName,
		string(r.Action),
		string(r.EntityKind),
		r.EntityID,
		r.PriorState,
		r.NewState,
		r.ClientAddr,
		r.Device,
		r.Location,
		r.StockBefore,
		r.StockAfter,
		r.Quantity,
		r.Reason,
		r.ApproverID,
		r.Hash,
		r.PrevHash,
	)
	if err != nil {
		return WrapInsertError("AppendRecord", recordsTable, err)
	}
	return nil
}

func (s *RecordStore) Record(ctx context.Context, id uint64) (*ledger.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ? LIMIT 1", recordColumns, recordsTable)

	rows, err := s.client.Query(ctx, query, id)
	if err != nil {
		return nil, WrapQueryError("Record", recordsTable, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: record %d", ledger.ErrRecordNotFound, id)
	}
	return scanRecord(rows)
}

func (s *RecordStore) LastRecord(ctx context.Context) (*ledger.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id DESC LIMIT 1", recordColumns, recordsTable)

	rows, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, WrapQueryError("LastRecord", recordsTable, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, fmt.Errorf("%w: ledger empty", ledger.ErrRecordNotFound)
	}
	return scanRecord(rows)
}

func (s *RecordStore) QueryRecords(ctx context.Context, f ledger.Filter) ([]*ledger.Record, error) {
	var conditions []string
	var args []any

	if f.EntityKind != "" {
		conditions = append(conditions, "entity_kind = ?")
		args = append(args, string(f.EntityKind))
	}
	if f.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if len(f.Actions) > 0 {
		placeholders := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			placeholders[i] = "?"
			args = append(args, string(a))
		}
		conditions = append(conditions, fmt.Sprintf("action IN (%s)", strings.Join(placeholders, ", ")))
	}
	if !f.From.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, f.To)
	}
	if f.FromID > 0 {
		conditions = append(conditions, "id >= ?")
		args = append(args, f.FromID)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", recordColumns, recordsTable)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	switch f.Order {
	case ledger.OrderTimestampDesc:
		query += " ORDER BY timestamp DESC, id DESC"
	default:
		query += " ORDER BY id ASC"
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("QueryRecords", recordsTable, err)
	}
	defer rows.Close()

	var records []*ledger.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows driver.Rows) (*ledger.Record, error) {
	var (
		r          ledger.Record
		ts         time.Time
		action     string
		entityKind string
	)
	err := rows.Scan(
		&r.ID,
		&ts,
		&r.ActorID,
		&r.ActorName,
		&action,
		&entityKind,
		&r.EntityID,
		&r.PriorState,
		&r.NewState,
		&r.ClientAddr,
		&r.Device,
		&r.Location,
		&r.StockBefore,
		&r.StockAfter,
		&r.Quantity,
		&r.Reason,
		&r.ApproverID,
		&r.Hash,
		&r.PrevHash,
	)
	if err != nil {
		return nil, WrapQueryError("Scan", recordsTable, err)
	}
	r.Timestamp = ts.UTC()
	r.Action = schema.Action(action)
	r.EntityKind = schema.EntityKind(entityKind)
	return &r, nil
}
