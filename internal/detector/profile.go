package detector

import "sync"

// Profiles answers what locations and devices are expected for an actor.
type Profiles interface {
	// PermittedLocations returns the actor's allowed location tags. An
	// empty result means no geofence is configured for the actor.
	PermittedLocations(actorID string) []string

	// KnownDevices returns the actor's recognized device descriptors.
	KnownDevices(actorID string) []string

	// LearnDevice records a device as known for the actor, typically
	// after supervisor approval.
	LearnDevice(actorID, device string)

	// LearnLocation records a location as permitted for the actor.
	LearnLocation(actorID, location string)
}

// MemProfiles is an in-memory Profiles implementation seeded from
// configuration.
type MemProfiles struct {
	mu        sync.RWMutex
	locations map[string][]string
	devices   map[string][]string
}

// NewMemProfiles creates profile state from per-actor seed data.
func NewMemProfiles(locations, devices map[string][]string) *MemProfiles {
	p := &MemProfiles{
		locations: make(map[string][]string),
		devices:   make(map[string][]string),
	}
	for actor, locs := range locations {
		p.locations[actor] = append([]string(nil), locs...)
	}
	for actor, devs := range devices {
		p.devices[actor] = append([]string(nil), devs...)
	}
	return p
}

func (p *MemProfiles) PermittedLocations(actorID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.locations[actorID]...)
}

func (p *MemProfiles) KnownDevices(actorID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.devices[actorID]...)
}

func (p *MemProfiles) LearnDevice(actorID, device string) {
	if device == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.devices[actorID] {
		if d == device {
			return
		}
	}
	p.devices[actorID] = append(p.devices[actorID], device)
}

func (p *MemProfiles) LearnLocation(actorID, location string) {
	if location == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.locations[actorID] {
		if l == location {
			return
		}
	}
	p.locations[actorID] = append(p.locations[actorID], location)
}
