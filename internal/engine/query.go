package engine

import (
	"strings"

	"dronecoord/internal/domain"
)

// PilotFilter narrows a roster query. Empty fields match everything.
type PilotFilter struct {
	Skill         string `json:"skill,omitempty"`
	Certification string `json:"certification,omitempty"`
	Location      string `json:"location,omitempty"`
	Status        string `json:"status,omitempty"`
}

// DroneFilter narrows a fleet query. Empty fields match everything.
type DroneFilter struct {
	Capability           string      `json:"capability,omitempty"`
	Location             string      `json:"location,omitempty"`
	Status               string      `json:"status,omitempty"`
	MaintenanceDueBefore domain.Date `json:"maintenance_due_before"`
}

// QueryPilots returns the pilots matching f in snapshot order.
func (e Engine) QueryPilots(snap domain.Snapshot, f PilotFilter) []domain.Pilot {
	out := []domain.Pilot{}
	for _, p := range snap.Pilots {
		if f.Skill != "" && !p.Skills.Has(f.Skill) {
			continue
		}
		if f.Certification != "" && !p.Certifications.Has(f.Certification) {
			continue
		}
		if !matchText(f.Location, p.Location) || !matchText(f.Status, string(p.Status)) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// QueryDrones returns the drones matching f in snapshot order. A
// MaintenanceDueBefore bound only matches drones with a known due date.
func (e Engine) QueryDrones(snap domain.Snapshot, f DroneFilter) []domain.Drone {
	out := []domain.Drone{}
	for _, d := range snap.Drones {
		if f.Capability != "" && !d.Capabilities.Has(f.Capability) {
			continue
		}
		if !matchText(f.Location, d.Location) || !matchText(f.Status, string(d.Status)) {
			continue
		}
		if !f.MaintenanceDueBefore.IsZero() && (d.MaintenanceDue.IsZero() || !d.MaintenanceDue.Before(f.MaintenanceDueBefore)) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func matchText(want, have string) bool {
	want = strings.TrimSpace(want)
	return want == "" || strings.EqualFold(want, strings.TrimSpace(have))
}
