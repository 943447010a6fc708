package domain

type ConflictKind string

const (
	DoubleBooking       ConflictKind = "DoubleBooking"
	CapabilityMismatch  ConflictKind = "CapabilityMismatch"
	MaintenanceConflict ConflictKind = "MaintenanceConflict"
	LocationMismatch    ConflictKind = "LocationMismatch"
)

// ConflictKinds is the reporting order of conflict groups.
var ConflictKinds = []ConflictKind{DoubleBooking, CapabilityMismatch, MaintenanceConflict, LocationMismatch}

// Order returns the position of k in ConflictKinds.
func (k ConflictKind) Order() int {
	for i, kind := range ConflictKinds {
		if kind == k {
			return i
		}
	}
	return len(ConflictKinds)
}

type Conflict struct {
	Kind         ConflictKind `json:"kind"`
	ResourceKind ResourceKind `json:"resource_kind"`
	SubjectID    string       `json:"subject_id"`
	MissionIDs   []string     `json:"mission_ids"`
	Detail       string       `json:"detail"`
}

// Involves reports whether the conflict is about the given resource.
func (c Conflict) Involves(kind ResourceKind, id string) bool {
	return c.ResourceKind == kind && c.SubjectID == id
}

type ObservationKind string

const (
	// DataIncomplete marks a record missing a field some check needed.
	DataIncomplete ObservationKind = "DataIncomplete"
	// Inconsistent marks a record whose fields disagree with each other.
	Inconsistent ObservationKind = "Inconsistent"
)

// Observation is a non-fatal note about the snapshot's data quality.
type Observation struct {
	Kind       ObservationKind `json:"kind"`
	RecordKind string          `json:"record_kind"`
	RecordID   string          `json:"record_id,omitempty"`
	Field      string          `json:"field,omitempty"`
	Detail     string          `json:"detail"`
}

// ConflictReport is the output of one conflict detection pass.
type ConflictReport struct {
	Conflicts    []Conflict    `json:"conflicts"`
	Observations []Observation `json:"observations,omitempty"`
}

// For returns the conflicts that involve the given resource.
func (r ConflictReport) For(kind ResourceKind, id string) []Conflict {
	var out []Conflict
	for _, c := range r.Conflicts {
		if c.Involves(kind, id) {
			out = append(out, c)
		}
	}
	return out
}
