package domain

import "strings"

type ResourceKind string

const (
	KindPilot ResourceKind = "pilot"
	KindDrone ResourceKind = "drone"
)

type PilotStatus string

const (
	PilotAvailable   PilotStatus = "Available"
	PilotAssigned    PilotStatus = "Assigned"
	PilotOnLeave     PilotStatus = "On Leave"
	PilotUnavailable PilotStatus = "Unavailable"
	PilotUnknown     PilotStatus = "Unknown"
)

// PilotStatuses lists the statuses a pilot record may be written with.
var PilotStatuses = []PilotStatus{PilotAvailable, PilotAssigned, PilotOnLeave, PilotUnavailable}

type DroneStatus string

const (
	DroneAvailable   DroneStatus = "Available"
	DroneAssigned    DroneStatus = "Assigned"
	DroneMaintenance DroneStatus = "Maintenance"
	DroneUnavailable DroneStatus = "Unavailable"
	DroneUnknown     DroneStatus = "Unknown"
)

// DroneStatuses lists the statuses a drone record may be written with.
var DroneStatuses = []DroneStatus{DroneAvailable, DroneAssigned, DroneMaintenance, DroneUnavailable}

// ParsePilotStatus matches s case-insensitively against the pilot statuses.
func ParsePilotStatus(s string) (PilotStatus, bool) {
	for _, st := range PilotStatuses {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, true
		}
	}
	return PilotUnknown, false
}

// ParseDroneStatus matches s case-insensitively against the drone statuses.
func ParseDroneStatus(s string) (DroneStatus, bool) {
	for _, st := range DroneStatuses {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, true
		}
	}
	return DroneUnknown, false
}

type Priority string

const (
	PriorityNormal Priority = "Normal"
	PriorityUrgent Priority = "Urgent"
)

// ParsePriority maps anything other than "urgent" to Normal.
func ParsePriority(s string) Priority {
	if strings.EqualFold(strings.TrimSpace(s), string(PriorityUrgent)) {
		return PriorityUrgent
	}
	return PriorityNormal
}

type Pilot struct {
	ID                string      `json:"pilot_id" validate:"required,recordid"`
	Name              string      `json:"name"`
	Skills            Tags        `json:"skills"`
	Certifications    Tags        `json:"certifications"`
	Location          string      `json:"location"`
	Status            PilotStatus `json:"status" validate:"required"`
	CurrentAssignment string      `json:"current_assignment,omitempty"`
	AvailableFrom     Date        `json:"available_from"`
}

type Drone struct {
	ID                string      `json:"drone_id" validate:"required,recordid"`
	Model             string      `json:"model"`
	Capabilities      Tags        `json:"capabilities"`
	Status            DroneStatus `json:"status" validate:"required"`
	Location          string      `json:"location"`
	CurrentAssignment string      `json:"current_assignment,omitempty"`
	MaintenanceDue    Date        `json:"maintenance_due"`
}

type Mission struct {
	ID                     string   `json:"mission_id" validate:"required,recordid"`
	Client                 string   `json:"client"`
	Location               string   `json:"location"`
	RequiredSkills         Tags     `json:"required_skills"`
	RequiredCertifications Tags     `json:"required_certs"`
	RequiredCapabilities   Tags     `json:"required_capabilities,omitempty"`
	StartDate              Date     `json:"start_date"`
	EndDate                Date     `json:"end_date"`
	Priority               Priority `json:"priority"`
}

// HasDates reports whether the mission has a usable, ordered date range.
func (m Mission) HasDates() bool {
	return !m.StartDate.IsZero() && !m.EndDate.IsZero() && !m.EndDate.Before(m.StartDate)
}

// Overlaps reports whether two missions share at least one day. Both ranges
// are inclusive; missions without usable dates never overlap.
func (m Mission) Overlaps(o Mission) bool {
	if !m.HasDates() || !o.HasDates() {
		return false
	}
	return !m.StartDate.After(o.EndDate) && !o.StartDate.After(m.EndDate)
}

type AssignmentSource string

const (
	SourceExplicit AssignmentSource = "explicit-record"
	SourceDerived  AssignmentSource = "derived-from-current_assignment"
)

// Assignment ties a pilot and/or a drone to a mission. Either id may be empty.
type Assignment struct {
	MissionID string           `json:"mission_id"`
	PilotID   string           `json:"pilot_id,omitempty"`
	DroneID   string           `json:"drone_id,omitempty"`
	Source    AssignmentSource `json:"source"`
}

// Snapshot is the full record set for one evaluation. The engine reads it
// and never writes to it.
type Snapshot struct {
	Pilots       []Pilot       `json:"pilots"`
	Drones       []Drone       `json:"drones"`
	Missions     []Mission     `json:"missions"`
	Assignments  []Assignment  `json:"assignments,omitempty"`
	Observations []Observation `json:"observations,omitempty"`
}

func (s Snapshot) Mission(id string) (Mission, bool) {
	id = strings.TrimSpace(id)
	for _, m := range s.Missions {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return Mission{}, false
}

func (s Snapshot) Pilot(id string) (Pilot, bool) {
	id = strings.TrimSpace(id)
	for _, p := range s.Pilots {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return Pilot{}, false
}

func (s Snapshot) Drone(id string) (Drone, bool) {
	id = strings.TrimSpace(id)
	for _, d := range s.Drones {
		if strings.EqualFold(d.ID, id) {
			return d, true
		}
	}
	return Drone{}, false
}

// SameLocation compares two locations ignoring case and surrounding space.
func SameLocation(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
