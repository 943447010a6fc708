// Package records turns loosely formatted roster, fleet and mission rows
// into validated domain records. Problems with individual rows never fail
// the load; they become observations on the resulting snapshot.
package records

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"dronecoord/internal/domain"
)

// Row is one record keyed by normalized column name.
type Row map[string]string

// Get returns the trimmed value of the first non-empty column among keys.
func (r Row) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r[k]); v != "" {
			return v
		}
	}
	return ""
}

// Set is the raw content of the four record collections.
type Set struct {
	Pilots      []Row
	Drones      []Row
	Missions    []Row
	Assignments []Row
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("recordid", validRecordID)
}

// validRecordID rejects ids containing separators used in list cells.
func validRecordID(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), ",;")
}

// headerAliases maps alternative column names onto the canonical ones.
var headerAliases = map[string]string{
	"project_id":              "mission_id",
	"project":                 "mission_id",
	"mission":                 "mission_id",
	"required_certifications": "required_certs",
	"certs":                   "certifications",
	"required_capability":     "required_capabilities",
	"current_project":         "current_assignment",
	"assignment":              "current_assignment",
	"maintenance_due_date":    "maintenance_due",
	"available_from_date":     "available_from",
}

// NormalizeHeader lowercases a column name and turns spaces and dashes
// into underscores, then resolves aliases.
func NormalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	if canonical, ok := headerAliases[h]; ok {
		return canonical
	}
	return h
}

// FromCells pairs each data row with the normalized header. Rows whose
// cells are all blank are dropped.
func FromCells(header []string, cells [][]string) []Row {
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = NormalizeHeader(h)
	}
	var out []Row
	for _, line := range cells {
		row := make(Row, len(keys))
		blank := true
		for i, k := range keys {
			if k == "" || i >= len(line) {
				continue
			}
			v := strings.TrimSpace(line[i])
			if v != "" {
				blank = false
			}
			if _, dup := row[k]; dup && v == "" {
				continue
			}
			row[k] = v
		}
		if !blank {
			out = append(out, row)
		}
	}
	return out
}

// emptyMarkers are placeholder values meaning "no assignment".
var emptyMarkers = map[string]struct{}{
	"-": {}, "–": {}, "—": {}, "n/a": {}, "na": {}, "none": {}, "null": {},
}

// Reference normalizes an optional id cell, mapping placeholders to "".
func Reference(v string) string {
	v = strings.TrimSpace(v)
	if _, ok := emptyMarkers[strings.ToLower(v)]; ok {
		return ""
	}
	return v
}

// Build normalizes every collection and returns a snapshot carrying the
// observations collected on the way.
func Build(set Set) domain.Snapshot {
	var b builder
	snap := domain.Snapshot{
		Pilots:   b.pilots(set.Pilots),
		Drones:   b.drones(set.Drones),
		Missions: b.missions(set.Missions),
	}
	snap.Assignments = b.assignments(set.Assignments)
	snap.Observations = b.obs
	return snap
}

type builder struct {
	obs []domain.Observation
}

func (b *builder) note(kind domain.ObservationKind, recordKind, id, field, format string, args ...any) {
	b.obs = append(b.obs, domain.Observation{
		Kind:       kind,
		RecordKind: recordKind,
		RecordID:   id,
		Field:      field,
		Detail:     fmt.Sprintf(format, args...),
	})
}

func (b *builder) date(recordKind, id, field, raw string) domain.Date {
	d, err := domain.ParseDate(raw)
	if err != nil {
		b.note(domain.DataIncomplete, recordKind, id, field, "%s %s has unreadable %s %q", recordKind, id, field, raw)
		return domain.Date{}
	}
	return d
}

// check runs struct validation and records a failure as an observation.
func (b *builder) check(recordKind, id string, v any) bool {
	if err := validate.Struct(v); err != nil {
		b.note(domain.DataIncomplete, recordKind, id, "", "%s row %q skipped: %v", recordKind, id, err)
		return false
	}
	return true
}

func (b *builder) pilots(rows []Row) []domain.Pilot {
	out := make([]domain.Pilot, 0, len(rows))
	seen := make(map[string]bool)
	for _, r := range rows {
		id := r.Get("pilot_id", "id")
		status, ok := domain.ParsePilotStatus(r.Get("status"))
		if !ok {
			b.note(domain.DataIncomplete, "pilot", id, "status", "pilot %s has unknown status %q", id, r.Get("status"))
		}
		p := domain.Pilot{
			ID:                id,
			Name:              r.Get("name"),
			Skills:            domain.ParseTags(r.Get("skills")),
			Certifications:    domain.ParseTags(r.Get("certifications")),
			Location:          r.Get("location"),
			Status:            status,
			CurrentAssignment: Reference(r.Get("current_assignment")),
			AvailableFrom:     b.date("pilot", id, "available_from", r.Get("available_from")),
		}
		if !b.check("pilot", id, p) || b.duplicate(seen, "pilot", id) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (b *builder) drones(rows []Row) []domain.Drone {
	out := make([]domain.Drone, 0, len(rows))
	seen := make(map[string]bool)
	for _, r := range rows {
		id := r.Get("drone_id", "id")
		status, ok := domain.ParseDroneStatus(r.Get("status"))
		if !ok {
			b.note(domain.DataIncomplete, "drone", id, "status", "drone %s has unknown status %q", id, r.Get("status"))
		}
		d := domain.Drone{
			ID:                id,
			Model:             r.Get("model"),
			Capabilities:      domain.ParseTags(r.Get("capabilities")),
			Status:            status,
			Location:          r.Get("location"),
			CurrentAssignment: Reference(r.Get("current_assignment")),
			MaintenanceDue:    b.date("drone", id, "maintenance_due", r.Get("maintenance_due")),
		}
		if !b.check("drone", id, d) || b.duplicate(seen, "drone", id) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (b *builder) missions(rows []Row) []domain.Mission {
	out := make([]domain.Mission, 0, len(rows))
	seen := make(map[string]bool)
	for _, r := range rows {
		id := r.Get("mission_id", "id")
		m := domain.Mission{
			ID:                     id,
			Client:                 r.Get("client"),
			Location:               r.Get("location"),
			RequiredSkills:         domain.ParseTags(r.Get("required_skills")),
			RequiredCertifications: domain.ParseTags(r.Get("required_certs")),
			RequiredCapabilities:   domain.ParseTags(r.Get("required_capabilities")),
			StartDate:              b.date("mission", id, "start_date", r.Get("start_date")),
			EndDate:                b.date("mission", id, "end_date", r.Get("end_date")),
			Priority:               domain.ParsePriority(r.Get("priority")),
		}
		if !m.StartDate.IsZero() && !m.EndDate.IsZero() && m.EndDate.Before(m.StartDate) {
			b.note(domain.Inconsistent, "mission", id, "end_date", "mission %s ends %s before it starts %s", id, m.EndDate, m.StartDate)
		}
		if !b.check("mission", id, m) || b.duplicate(seen, "mission", id) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (b *builder) assignments(rows []Row) []domain.Assignment {
	out := make([]domain.Assignment, 0, len(rows))
	for _, r := range rows {
		a := domain.Assignment{
			MissionID: Reference(r.Get("mission_id")),
			PilotID:   Reference(r.Get("pilot_id")),
			DroneID:   Reference(r.Get("drone_id")),
			Source:    domain.SourceExplicit,
		}
		if a.MissionID == "" {
			b.note(domain.DataIncomplete, "assignment", "", "mission_id", "assignment row without mission id skipped")
			continue
		}
		if a.PilotID == "" && a.DroneID == "" {
			b.note(domain.DataIncomplete, "assignment", a.MissionID, "pilot_id", "assignment for %s names neither pilot nor drone", a.MissionID)
			continue
		}
		out = append(out, a)
	}
	return out
}

func (b *builder) duplicate(seen map[string]bool, recordKind, id string) bool {
	key := strings.ToUpper(id)
	if seen[key] {
		b.note(domain.Inconsistent, recordKind, id, "", "duplicate %s %s ignored", recordKind, id)
		return true
	}
	seen[key] = true
	return false
}
