package detector

import (
	"context"
	"testing"
	"time"
)

func TestDetector_SecurityReport(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// user-9: three CRITICAL geofence alerts
	for i := 0; i < 3; i++ {
		m := movementAt(10, 40)
		m.ActorID = "user-9"
		m.ActorName = "Luis Vega"
		m.Device = ""
		m.Location = "Parking Lot"
		f.detector.profiles.LearnLocation("user-9", "Main Warehouse")
		if alerts := f.detector.Analyze(ctx, m); len(alerts) != 1 {
			t.Fatalf("setup: expected 1 geofence alert, got %d", len(alerts))
		}
	}

	// user-1: two HIGH off-hours alerts and one MEDIUM device alert
	for i := 0; i < 2; i++ {
		if alerts := f.detector.Analyze(ctx, movementAt(23, 40)); len(alerts) != 1 {
			t.Fatalf("setup: expected 1 off-hours alert, got %d", len(alerts))
		}
	}
	m := movementAt(10, 40)
	m.Device = "phone-99"
	m.EntityID = "PROD-002"
	if alerts := f.detector.Analyze(ctx, m); len(alerts) != 1 {
		t.Fatal("setup: expected 1 device alert")
	}

	report := f.detector.SecurityReport(time.Time{}, time.Time{})

	if report.Total != 6 {
		t.Errorf("expected 6 alerts, got %d", report.Total)
	}
	if report.BySeverity[SeverityCritical] != 3 {
		t.Errorf("expected 3 critical, got %d", report.BySeverity[SeverityCritical])
	}
	if report.BySeverity[SeverityHigh] != 2 {
		t.Errorf("expected 2 high, got %d", report.BySeverity[SeverityHigh])
	}
	if report.BySeverity[SeverityMedium] != 1 {
		t.Errorf("expected 1 medium, got %d", report.BySeverity[SeverityMedium])
	}
	if report.ByKind[KindGeofenceMismatch] != 3 {
		t.Errorf("expected 3 geofence alerts, got %d", report.ByKind[KindGeofenceMismatch])
	}

	if len(report.TopActors) != 2 {
		t.Fatalf("expected 2 ranked actors, got %d", len(report.TopActors))
	}
	if report.TopActors[0].ActorID != "user-1" || report.TopActors[0].Alerts != 3 {
		t.Errorf("unexpected top actor: %+v", report.TopActors[0])
	}
	if report.TopActors[1].ActorID != "user-9" || report.TopActors[1].Alerts != 3 {
		t.Errorf("unexpected second actor: %+v", report.TopActors[1])
	}

	if len(report.TopEntities) != 2 {
		t.Fatalf("expected 2 ranked entities, got %d", len(report.TopEntities))
	}
	if report.TopEntities[0].EntityID != "PROD-001" || report.TopEntities[0].Alerts != 5 {
		t.Errorf("unexpected top entity: %+v", report.TopEntities[0])
	}
}

func TestDetector_SecurityReport_Window(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.detector.Analyze(ctx, movementAt(23, 40))

	// A window entirely in the past sees nothing
	past := time.Now().Add(-48 * time.Hour)
	report := f.detector.SecurityReport(past, past.Add(time.Hour))
	if report.Total != 0 {
		t.Errorf("expected empty report outside the window, got %d", report.Total)
	}

	// An open-ended window sees the alert
	report = f.detector.SecurityReport(past, time.Time{})
	if report.Total != 1 {
		t.Errorf("expected 1 alert in open window, got %d", report.Total)
	}
}

func TestDetector_SecurityReport_TieBreak(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Two actors with one alert each; ranking ties break by actor id
	for _, actor := range []string{"user-b", "user-a"} {
		m := movementAt(23, 40)
		m.ActorID = actor
		m.Device = ""
		if alerts := f.detector.Analyze(ctx, m); len(alerts) != 1 {
			t.Fatalf("setup: expected 1 alert for %s, got %d", actor, len(alerts))
		}
	}

	report := f.detector.SecurityReport(time.Time{}, time.Time{})
	if len(report.TopActors) != 2 {
		t.Fatalf("expected 2 ranked actors, got %d", len(report.TopActors))
	}
	if report.TopActors[0].ActorID != "user-a" || report.TopActors[1].ActorID != "user-b" {
		t.Errorf("tie should rank by actor id ascending, got %+v", report.TopActors)
	}
}
