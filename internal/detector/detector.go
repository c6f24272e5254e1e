package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockguard/internal/schema"
)

// Config holds rule thresholds and containment settings.
type Config struct {
	BusinessHoursStart   int           `yaml:"business_hours_start"`
	BusinessHoursEnd     int           `yaml:"business_hours_end"`
	QuantityMultiplier   float64       `yaml:"quantity_multiplier"`
	RapidRepeatCount     int           `yaml:"rapid_repeat_count"`
	RapidRepeatWindow    time.Duration `yaml:"rapid_repeat_window"`
	TheftRunCount        int           `yaml:"theft_run_count"`
	TheftWindow          time.Duration `yaml:"theft_window"`
	TheftSmallQuantity   int64         `yaml:"theft_small_quantity"`
	TheftMassiveQuantity int64         `yaml:"theft_massive_quantity"`
	ContainmentBlock     time.Duration `yaml:"containment_block"`
}

// DefaultConfig returns the production rule thresholds.
func DefaultConfig() Config {
	return Config{
		BusinessHoursStart:   6,
		BusinessHoursEnd:     22,
		QuantityMultiplier:   3,
		RapidRepeatCount:     5,
		RapidRepeatWindow:    15 * time.Minute,
		TheftRunCount:        5,
		TheftWindow:          7 * 24 * time.Hour,
		TheftSmallQuantity:   100,
		TheftMassiveQuantity: 1000,
		ContainmentBlock:     30 * time.Minute,
	}
}

// Blocker applies and lifts temporary actor blocks. The throttle guard
// implements it.
type Blocker interface {
	BlockActor(actor string, d time.Duration)
	UnblockActor(actor string)
}

// Detector runs the fraud rules against movements and manages alerts.
// Rule evaluation is read-mostly and may run concurrently; the alert
// counter and collection are guarded by one mutex.
type Detector struct {
	cfg       Config
	history   History
	profiles  Profiles
	blocker   Blocker
	sink      Sink
	store     AlertStore
	approvals *Approvals
	logger    *slog.Logger
	rules     []rule

	mu     sync.Mutex
	nextID int64
	alerts []*Alert

	now func() time.Time
}

// New creates a detector, resuming the alert id counter from the store
// so restarts never reissue an id. sink and store may be nil; detection
// still runs, only dispatch and persistence are skipped.
func New(ctx context.Context, cfg Config, history History, profiles Profiles, blocker Blocker, sink Sink, store AlertStore, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		cfg:       cfg,
		history:   history,
		profiles:  profiles,
		blocker:   blocker,
		sink:      sink,
		store:     store,
		approvals: NewApprovals(),
		logger:    logger,
		now:       time.Now,
	}
	if store != nil {
		last, err := store.LastAlertID(ctx)
		if err != nil {
			logger.Error("recovering alert counter failed", "error", err)
		} else {
			d.nextID = last
		}
	}
	d.rules = d.buildRules()
	return d
}

// Analyze runs every rule against a movement in fixed order and processes
// the alerts it produces. A rule that fails to evaluate is logged and
// skipped so one broken aggregate cannot mask the other rules.
func (d *Detector) Analyze(ctx context.Context, m *schema.Movement) []*Alert {
	var alerts []*Alert
	for _, r := range d.rules {
		f, err := r.evaluate(ctx, m)
		if err != nil {
			d.logger.Error("fraud rule evaluation failed",
				"kind", r.kind,
				"actor_id", m.ActorID,
				"error", err)
			continue
		}
		if f == nil {
			continue
		}
		alerts = append(alerts, d.newAlert(r, m, f))
	}

	for _, a := range alerts {
		d.process(ctx, a, m)
	}

	return alerts
}

func (d *Detector) newAlert(r rule, m *schema.Movement, f *finding) *Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	a := &Alert{
		ID:          d.nextID,
		Kind:        r.kind,
		Severity:    r.severity,
		Timestamp:   d.now(),
		ActorID:     m.ActorID,
		ActorName:   m.ActorName,
		EntityKind:  string(m.EntityKind),
		EntityID:    m.EntityID,
		Description: f.description,
		Context:     f.context,
		Immediate:   r.immediate,
	}
	d.alerts = append(d.alerts, a)
	return a
}

// process dispatches, contains, and persists one alert.
func (d *Detector) process(ctx context.Context, a *Alert, m *schema.Movement) {
	if a.Severity.rank() >= SeverityHigh.rank() && d.sink != nil {
		if err := d.sink.Send(ctx, a); err != nil {
			// The alert stays notified=false and remains in the
			// pending queue for a later sweep.
			d.logger.Error("alert dispatch failed",
				"alert_id", a.ID,
				"kind", a.Kind,
				"sink", d.sink.Name(),
				"error", err)
		} else {
			d.mu.Lock()
			a.Notified = true
			d.mu.Unlock()
		}
	}

	if a.Immediate {
		if d.blocker != nil {
			d.blocker.BlockActor(a.ActorID, d.cfg.ContainmentBlock)
		}
		approval := d.approvals.Create(a, m.Device, m.Location)
		d.logger.Warn("containment applied",
			"alert_id", a.ID,
			"kind", a.Kind,
			"actor_id", a.ActorID,
			"approval_id", approval.ID,
			"block_duration", d.cfg.ContainmentBlock)
	}

	if d.store != nil {
		if err := d.store.SaveAlert(ctx, a); err != nil {
			d.logger.Error("persisting alert failed",
				"alert_id", a.ID,
				"error", err)
		}
	}
}

// PendingAlerts returns alerts that require immediate action but have not
// been dispatched yet, ordered by id.
func (d *Detector) PendingAlerts() []*Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	var pending []*Alert
	for _, a := range d.alerts {
		if a.Immediate && !a.Notified {
			copied := *a
			pending = append(pending, &copied)
		}
	}
	return pending
}

// Alerts returns a copy of every alert in the window, ordered by id.
func (d *Detector) Alerts(from, to time.Time) []*Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Alert
	for _, a := range d.alerts {
		if inWindow(a.Timestamp, from, to) {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out
}

// PendingApprovals returns undecided supervisor approvals.
func (d *Detector) PendingApprovals() []*Approval {
	return d.approvals.Pending()
}

// Approval returns a single approval by id.
func (d *Detector) Approval(id uuid.UUID) (*Approval, error) {
	return d.approvals.Get(id)
}

// DecideApproval resolves a pending approval. Approving lifts the
// actor's containment block and registers the device and location that
// triggered the alert as known.
func (d *Detector) DecideApproval(id uuid.UUID, approve bool, supervisor string) (*Approval, error) {
	a, err := d.approvals.decide(id, approve, supervisor)
	if err != nil {
		return nil, err
	}

	if approve {
		d.profiles.LearnDevice(a.ActorID, a.Device)
		d.profiles.LearnLocation(a.ActorID, a.Location)
		if d.blocker != nil {
			d.blocker.UnblockActor(a.ActorID)
		}
	}

	d.logger.Info("supervisor approval decided",
		"approval_id", a.ID,
		"actor_id", a.ActorID,
		"status", a.Status,
		"decided_by", supervisor)

	return a, nil
}

func inWindow(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}
