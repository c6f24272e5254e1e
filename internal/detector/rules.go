package detector

import (
	"context"
	"fmt"

	"stockguard/internal/schema"
)

// finding is the evidence a triggered rule attaches to its alert.
type finding struct {
	description string
	context     map[string]any
}

// rule pairs a predicate with the alert it produces. Rules run in slice
// order; each produces at most one alert per movement.
type rule struct {
	kind      Kind
	severity  Severity
	immediate bool
	evaluate  func(ctx context.Context, m *schema.Movement) (*finding, error)
}

func (d *Detector) buildRules() []rule {
	return []rule{
		{KindOffHours, SeverityHigh, true, d.evalOffHours},
		{KindQuantityOutlier, SeverityMedium, false, d.evalQuantityOutlier},
		{KindRapidRepetition, SeverityHigh, true, d.evalRapidRepetition},
		{KindGeofenceMismatch, SeverityCritical, true, d.evalGeofence},
		{KindUnknownDevice, SeverityMedium, false, d.evalUnknownDevice},
		{KindTheftPattern, SeverityCritical, true, d.evalTheftPattern},
	}
}

// evalOffHours flags movements outside business hours. The hour is read
// in the movement's own zone, not UTC: a warehouse closes by its local
// clock.
func (d *Detector) evalOffHours(ctx context.Context, m *schema.Movement) (*finding, error) {
	hour := m.Timestamp.Hour()
	if hour >= d.cfg.BusinessHoursStart && hour < d.cfg.BusinessHoursEnd {
		return nil, nil
	}
	return &finding{
		description: fmt.Sprintf("movement recorded outside business hours: %s", m.Timestamp.Format("15:04")),
		context: map[string]any{
			"hour":     hour,
			"quantity": m.Quantity,
			"action":   m.Action,
		},
	}, nil
}

// evalQuantityOutlier flags quantities far above the entity's historical
// average. Entities with no history never trip this rule.
func (d *Detector) evalQuantityOutlier(ctx context.Context, m *schema.Movement) (*finding, error) {
	if !m.Action.IsStockMovement() || m.Quantity <= 0 {
		return nil, nil
	}

	avg, ok, err := d.history.AverageQuantity(ctx, m.EntityKind, m.EntityID, m.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("querying entity average: %w", err)
	}
	if !ok || float64(m.Quantity) <= avg*d.cfg.QuantityMultiplier {
		return nil, nil
	}

	return &finding{
		description: fmt.Sprintf("unusual quantity moved: %d units of %s", m.Quantity, m.EntityID),
		context: map[string]any{
			"quantity":           m.Quantity,
			"historical_average": avg,
		},
	}, nil
}

// evalRapidRepetition flags bursts of movements by one actor on one
// entity. The count covers the trailing window and includes the current
// movement, which is already in the ledger by the time rules run.
func (d *Detector) evalRapidRepetition(ctx context.Context, m *schema.Movement) (*finding, error) {
	if !m.Action.IsStockMovement() {
		return nil, nil
	}

	count, err := d.history.RecentMovements(ctx, m.ActorID, m.EntityID, m.Timestamp, d.cfg.RapidRepeatWindow)
	if err != nil {
		return nil, fmt.Errorf("counting recent movements: %w", err)
	}
	if count < d.cfg.RapidRepeatCount {
		return nil, nil
	}

	return &finding{
		description: fmt.Sprintf("repeated movements of %s in a short period", m.EntityID),
		context: map[string]any{
			"recent_movements": count,
			"window_minutes":   int(d.cfg.RapidRepeatWindow.Minutes()),
		},
	}, nil
}

// evalGeofence flags movements tagged with a location outside the actor's
// permitted set. Actors without a configured geofence are not checked.
func (d *Detector) evalGeofence(ctx context.Context, m *schema.Movement) (*finding, error) {
	if m.Location == "" {
		return nil, nil
	}
	permitted := d.profiles.PermittedLocations(m.ActorID)
	if len(permitted) == 0 {
		return nil, nil
	}
	for _, loc := range permitted {
		if loc == m.Location {
			return nil, nil
		}
	}

	return &finding{
		description: fmt.Sprintf("movement from unauthorized location: %s", m.Location),
		context: map[string]any{
			"location":            m.Location,
			"permitted_locations": permitted,
		},
	}, nil
}

// evalUnknownDevice flags movements from devices the actor has not used
// before.
func (d *Detector) evalUnknownDevice(ctx context.Context, m *schema.Movement) (*finding, error) {
	if m.Device == "" {
		return nil, nil
	}
	known := d.profiles.KnownDevices(m.ActorID)
	for _, dev := range known {
		if dev == m.Device {
			return nil, nil
		}
	}

	return &finding{
		description: fmt.Sprintf("access from unrecognized device: %s", m.Device),
		context: map[string]any{
			"device":        m.Device,
			"known_devices": known,
		},
	}, nil
}

// evalTheftPattern flags movement histories matching known theft
// signatures: a run of small withdrawals accumulating over days, or a
// single massive withdrawal.
func (d *Detector) evalTheftPattern(ctx context.Context, m *schema.Movement) (*finding, error) {
	if !m.Withdrawal() {
		return nil, nil
	}

	if m.Quantity >= d.cfg.TheftMassiveQuantity {
		return &finding{
			description: fmt.Sprintf("single withdrawal of %d units matches bulk theft signature", m.Quantity),
			context: map[string]any{
				"quantity": m.Quantity,
				"pattern":  "BULK_WITHDRAWAL",
			},
		}, nil
	}

	count, total, err := d.history.SmallWithdrawals(ctx, m.ActorID, m.Timestamp, d.cfg.TheftWindow, d.cfg.TheftSmallQuantity)
	if err != nil {
		return nil, fmt.Errorf("counting small withdrawals: %w", err)
	}
	if count < d.cfg.TheftRunCount {
		return nil, nil
	}

	return &finding{
		description: "behavior matches known ant theft pattern",
		context: map[string]any{
			"pattern":           "ANT_THEFT",
			"small_withdrawals": count,
			"accumulated_units": total,
			"window_days":       int(d.cfg.TheftWindow.Hours() / 24),
		},
	}, nil
}
