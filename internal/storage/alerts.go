package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stockguard/internal/detector"
)

const alertsTable = "fraud_alerts"

// AlertStore persists fraud alerts in ClickHouse. It implements
// detector.AlertStore.
type AlertStore struct {
	client *ClickHouseClient
}

// NewAlertStore creates an alert store over an open client.
func NewAlertStore(client *ClickHouseClient) *AlertStore {
	return &AlertStore{client: client}
}

func (s *AlertStore) SaveAlert(ctx context.Context, alert *detector.Alert) error {
	contextJSON, err := json.Marshal(alert.Context)
	if err != nil {
		return WrapInsertError("SaveAlert", alertsTable, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, kind, severity, timestamp, actor_id, actor_name, entity_kind, entity_id,
		 description, context, immediate, notified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, alertsTable)

	err = s.client.Exec(ctx, query,
		alert.ID,
		string(alert.Kind),
		string(alert.Severity),
		alert.Timestamp,
		alert.ActorID,
		alert.ActorName,
		alert.EntityKind,
		alert.EntityID,
		alert.Description,
		string(contextJSON),
		boolToUInt8(alert.Immediate),
		boolToUInt8(alert.Notified),
	)
	if err != nil {
		return WrapInsertError("SaveAlert", alertsTable, err)
	}
	return nil
}

// LastAlertID returns the highest persisted alert id, or 0 when the
// table is empty.
func (s *AlertStore) LastAlertID(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT max(id) FROM %s`, alertsTable)

	var id int64
	if err := s.client.QueryRow(ctx, query).Scan(&id); err != nil {
		return 0, WrapQueryError("LastAlertID", alertsTable, err)
	}
	return id, nil
}

// Alerts returns persisted alerts inside the inclusive window, ordered
// by timestamp.
func (s *AlertStore) Alerts(ctx context.Context, from, to time.Time) ([]*detector.Alert, error) {
	query := fmt.Sprintf(`SELECT id, kind, severity, timestamp, actor_id, actor_name,
		entity_kind, entity_id, description, context, immediate, notified
		FROM %s WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC`, alertsTable)

	rows, err := s.client.Query(ctx, query, from, to)
	if err != nil {
		return nil, WrapQueryError("Alerts", alertsTable, err)
	}
	defer rows.Close()

	var alerts []*detector.Alert
	for rows.Next() {
		var (
			a           detector.Alert
			kind        string
			severity    string
			ts          time.Time
			contextJSON string
			immediate   uint8
			notified    uint8
		)
		err := rows.Scan(
			&a.ID,
			&kind,
			&severity,
			&ts,
			&a.ActorID,
			&a.ActorName,
			&a.EntityKind,
			&a.EntityID,
			&a.Description,
			&contextJSON,
			&immediate,
			&notified,
		)
		if err != nil {
			return nil, WrapQueryError("Scan", alertsTable, err)
		}
		a.Kind = detector.Kind(kind)
		a.Severity = detector.Severity(severity)
		a.Timestamp = ts.UTC()
		a.Immediate = immediate != 0
		a.Notified = notified != 0
		if contextJSON != "" {
			if err := json.Unmarshal([]byte(contextJSON), &a.Context); err != nil {
				return nil, WrapQueryError("Scan", alertsTable, err)
			}
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
