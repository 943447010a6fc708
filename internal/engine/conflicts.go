package engine

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"dronecoord/internal/domain"
)

// DetectConflicts scans every engagement in the snapshot and reports
// double bookings, capability mismatches, maintenance conflicts and
// location mismatches, grouped by kind and then by subject id. Records
// missing a field a rule needs are skipped for that rule and reported as
// observations.
func (e Engine) DetectConflicts(snap domain.Snapshot) domain.ConflictReport {
	return e.detect(newIndex(snap))
}

func (e Engine) detect(ix *index) domain.ConflictReport {
	var conflicts []domain.Conflict
	conflicts = append(conflicts, e.doubleBookings(ix)...)
	conflicts = append(conflicts, e.capabilityMismatches(ix)...)
	conflicts = append(conflicts, e.maintenanceConflicts(ix)...)
	conflicts = append(conflicts, e.locationMismatches(ix)...)
	e.assignedWithoutMission(ix)

	sort.SliceStable(conflicts, func(i, j int) bool {
		a, b := conflicts[i], conflicts[j]
		if a.Kind != b.Kind {
			return a.Kind.Order() < b.Kind.Order()
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if a.ResourceKind != b.ResourceKind {
			return a.ResourceKind < b.ResourceKind
		}
		return strings.Join(a.MissionIDs, ",") < strings.Join(b.MissionIDs, ",")
	})
	report := domain.ConflictReport{
		Conflicts:    conflicts,
		Observations: ix.sortedObservations(),
	}
	if report.Conflicts == nil {
		report.Conflicts = []domain.Conflict{}
	}
	for _, o := range report.Observations {
		e.log().Debug("observation",
			zap.String("kind", string(o.Kind)),
			zap.String("record_kind", o.RecordKind),
			zap.String("record_id", o.RecordID),
			zap.String("detail", o.Detail),
		)
	}
	return report
}

// resourceKeys returns the engaged resources in a stable order.
func (ix *index) resourceKeys() []resourceKey {
	keys := make([]resourceKey, 0, len(ix.byResource))
	for k := range ix.byResource {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}

func (e Engine) doubleBookings(ix *index) []domain.Conflict {
	var out []domain.Conflict
	undated := make(map[string]bool)
	for _, key := range ix.resourceKeys() {
		engs := ix.byResource[key]
		for i := 0; i < len(engs); i++ {
			for j := i + 1; j < len(engs); j++ {
				a, b := engs[i], engs[j]
				if !a.Known || !b.Known {
					continue
				}
				if !a.Mission.HasDates() || !b.Mission.HasDates() {
					for _, m := range []domain.Mission{a.Mission, b.Mission} {
						if !m.HasDates() && !undated[m.ID] {
							undated[m.ID] = true
							ix.observe(domain.Observation{
								Kind:       domain.DataIncomplete,
								RecordKind: "mission",
								RecordID:   m.ID,
								Field:      "start_date/end_date",
								Detail:     fmt.Sprintf("mission %s has no usable date range; double-booking check skipped", m.ID),
							})
						}
					}
					continue
				}
				if !a.Mission.Overlaps(b.Mission) {
					continue
				}
				ids := []string{a.MissionID, b.MissionID}
				sort.Strings(ids)
				out = append(out, domain.Conflict{
					Kind:         domain.DoubleBooking,
					ResourceKind: a.Kind,
					SubjectID:    a.ResourceID,
					MissionIDs:   ids,
					Detail: fmt.Sprintf("%s %s is booked on %s (%s to %s) and %s (%s to %s)",
						a.Kind, a.ResourceID,
						a.MissionID, a.Mission.StartDate, a.Mission.EndDate,
						b.MissionID, b.Mission.StartDate, b.Mission.EndDate),
				})
			}
		}
	}
	return out
}

func (e Engine) capabilityMismatches(ix *index) []domain.Conflict {
	var out []domain.Conflict
	for _, eng := range ix.engagements {
		if !eng.Known {
			continue
		}
		var gaps []string
		switch eng.Kind {
		case domain.KindPilot:
			p, ok := ix.pilots[idKey(eng.ResourceID)]
			if !ok {
				continue
			}
			if missing := p.Skills.Missing(eng.Mission.RequiredSkills); len(missing) > 0 {
				gaps = append(gaps, "skill(s) "+missing.String())
			}
			if missing := p.Certifications.Missing(eng.Mission.RequiredCertifications); len(missing) > 0 {
				gaps = append(gaps, "certification(s) "+missing.String())
			}
		case domain.KindDrone:
			d, ok := ix.drones[idKey(eng.ResourceID)]
			if !ok {
				continue
			}
			if missing := d.Capabilities.Missing(e.DroneRequirements(eng.Mission)); len(missing) > 0 {
				gaps = append(gaps, "capability "+missing.String())
			}
		}
		if len(gaps) == 0 {
			continue
		}
		out = append(out, domain.Conflict{
			Kind:         domain.CapabilityMismatch,
			ResourceKind: eng.Kind,
			SubjectID:    eng.ResourceID,
			MissionIDs:   []string{eng.MissionID},
			Detail:       fmt.Sprintf("%s %s on %s lacks %s", eng.Kind, eng.ResourceID, eng.MissionID, strings.Join(gaps, " and ")),
		})
	}
	return out
}

// maintenanceConflicts yields one conflict per drone in maintenance that is
// still engaged, whatever the number of missions.
func (e Engine) maintenanceConflicts(ix *index) []domain.Conflict {
	var out []domain.Conflict
	for _, d := range ix.snap.Drones {
		if d.Status != domain.DroneMaintenance {
			continue
		}
		engs := ix.engagementsOf(domain.KindDrone, d.ID)
		if len(engs) == 0 {
			continue
		}
		ids := make([]string, 0, len(engs))
		for _, eng := range engs {
			ids = append(ids, eng.MissionID)
		}
		sort.Strings(ids)
		out = append(out, domain.Conflict{
			Kind:         domain.MaintenanceConflict,
			ResourceKind: domain.KindDrone,
			SubjectID:    d.ID,
			MissionIDs:   ids,
			Detail:       fmt.Sprintf("drone %s is in maintenance but assigned to %s", d.ID, strings.Join(ids, ", ")),
		})
	}
	return out
}

func (e Engine) locationMismatches(ix *index) []domain.Conflict {
	var out []domain.Conflict
	for _, eng := range ix.engagements {
		if !eng.Known || strings.TrimSpace(eng.Mission.Location) == "" {
			continue
		}
		var loc string
		switch eng.Kind {
		case domain.KindPilot:
			p, ok := ix.pilots[idKey(eng.ResourceID)]
			if !ok {
				continue
			}
			loc = p.Location
		case domain.KindDrone:
			d, ok := ix.drones[idKey(eng.ResourceID)]
			if !ok {
				continue
			}
			loc = d.Location
		}
		if strings.TrimSpace(loc) == "" {
			ix.observe(domain.Observation{
				Kind:       domain.DataIncomplete,
				RecordKind: string(eng.Kind),
				RecordID:   eng.ResourceID,
				Field:      "location",
				Detail:     fmt.Sprintf("%s %s has no location; location check skipped", eng.Kind, eng.ResourceID),
			})
			continue
		}
		if domain.SameLocation(loc, eng.Mission.Location) {
			continue
		}
		out = append(out, domain.Conflict{
			Kind:         domain.LocationMismatch,
			ResourceKind: eng.Kind,
			SubjectID:    eng.ResourceID,
			MissionIDs:   []string{eng.MissionID},
			Detail:       fmt.Sprintf("%s %s is in %s but %s is in %s", eng.Kind, eng.ResourceID, loc, eng.MissionID, eng.Mission.Location),
		})
	}
	return out
}

// assignedWithoutMission flags Assigned resources with nothing to serve.
func (e Engine) assignedWithoutMission(ix *index) {
	for _, p := range ix.snap.Pilots {
		if p.Status == domain.PilotAssigned && len(ix.engagementsOf(domain.KindPilot, p.ID)) == 0 {
			ix.observe(domain.Observation{
				Kind:       domain.Inconsistent,
				RecordKind: string(domain.KindPilot),
				RecordID:   p.ID,
				Field:      "current_assignment",
				Detail:     fmt.Sprintf("pilot %s is Assigned but has no current assignment", p.ID),
			})
		}
	}
	for _, d := range ix.snap.Drones {
		if d.Status == domain.DroneAssigned && len(ix.engagementsOf(domain.KindDrone, d.ID)) == 0 {
			ix.observe(domain.Observation{
				Kind:       domain.Inconsistent,
				RecordKind: string(domain.KindDrone),
				RecordID:   d.ID,
				Field:      "current_assignment",
				Detail:     fmt.Sprintf("drone %s is Assigned but has no current assignment", d.ID),
			})
		}
	}
}
