package detector

import (
	"sort"
	"time"
)

// Report summarizes alert activity over a time window.
type Report struct {
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Total       int              `json:"total_alerts"`
	BySeverity  map[Severity]int `json:"by_severity"`
	ByKind      map[Kind]int     `json:"by_kind"`
	TopActors   []ActorCount     `json:"top_actors"`
	TopEntities []EntityCount    `json:"top_entities"`
}

// ActorCount is one row in the actor ranking.
type ActorCount struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
	Alerts    int    `json:"alerts"`
}

// EntityCount is one row in the entity ranking.
type EntityCount struct {
	EntityID string `json:"entity_id"`
	Alerts   int    `json:"alerts"`
}

const reportRankSize = 10

// SecurityReport aggregates alerts in the inclusive window: counts by
// severity and kind, plus the ten most alerted actors and entities. Ties
// rank by id ascending.
func (d *Detector) SecurityReport(from, to time.Time) *Report {
	d.mu.Lock()
	var window []*Alert
	for _, a := range d.alerts {
		if inWindow(a.Timestamp, from, to) {
			window = append(window, a)
		}
	}
	d.mu.Unlock()

	report := &Report{
		From:       from,
		To:         to,
		Total:      len(window),
		BySeverity: make(map[Severity]int),
		ByKind:     make(map[Kind]int),
	}

	actorNames := make(map[string]string)
	actorCounts := make(map[string]int)
	entityCounts := make(map[string]int)
	for _, a := range window {
		report.BySeverity[a.Severity]++
		report.ByKind[a.Kind]++
		actorCounts[a.ActorID]++
		actorNames[a.ActorID] = a.ActorName
		if a.EntityID != "" {
			entityCounts[a.EntityID]++
		}
	}

	for actor, count := range actorCounts {
		report.TopActors = append(report.TopActors, ActorCount{
			ActorID:   actor,
			ActorName: actorNames[actor],
			Alerts:    count,
		})
	}
	sort.Slice(report.TopActors, func(i, j int) bool {
		if report.TopActors[i].Alerts == report.TopActors[j].Alerts {
			return report.TopActors[i].ActorID < report.TopActors[j].ActorID
		}
		return report.TopActors[i].Alerts > report.TopActors[j].Alerts
	})
	if len(report.TopActors) > reportRankSize {
		report.TopActors = report.TopActors[:reportRankSize]
	}

	for entity, count := range entityCounts {
		report.TopEntities = append(report.TopEntities, EntityCount{
			EntityID: entity,
			Alerts:   count,
		})
	}
	sort.Slice(report.TopEntities, func(i, j int) bool {
		if report.TopEntities[i].Alerts == report.TopEntities[j].Alerts {
			return report.TopEntities[i].EntityID < report.TopEntities[j].EntityID
		}
		return report.TopEntities[i].Alerts > report.TopEntities[j].Alerts
	})
	if len(report.TopEntities) > reportRankSize {
		report.TopEntities = report.TopEntities[:reportRankSize]
	}

	return report
}
