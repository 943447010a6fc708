package engine

import (
	"fmt"
	"sort"

	"dronecoord/internal/domain"
)

// engagement is one resource bound to one mission, after merging explicit
// assignment records with current_assignment fields.
type engagement struct {
	Kind       domain.ResourceKind
	ResourceID string
	MissionID  string
	Mission    domain.Mission
	Known      bool
	Source     domain.AssignmentSource
}

// index keeps the snapshot's records keyed by idKey along with the merged
// engagement list. It is built once per call and never escapes it.
type index struct {
	snap         domain.Snapshot
	missions     map[string]domain.Mission
	pilots       map[string]domain.Pilot
	drones       map[string]domain.Drone
	engagements  []engagement
	byResource   map[resourceKey][]engagement
	observations []domain.Observation
}

type resourceKey struct {
	Kind domain.ResourceKind
	ID   string
}

func newIndex(snap domain.Snapshot) *index {
	ix := &index{
		snap:       snap,
		missions:   make(map[string]domain.Mission, len(snap.Missions)),
		pilots:     make(map[string]domain.Pilot, len(snap.Pilots)),
		drones:     make(map[string]domain.Drone, len(snap.Drones)),
		byResource: make(map[resourceKey][]engagement),
	}
	for _, m := range snap.Missions {
		ix.missions[idKey(m.ID)] = m
	}
	for _, p := range snap.Pilots {
		ix.pilots[idKey(p.ID)] = p
	}
	for _, d := range snap.Drones {
		ix.drones[idKey(d.ID)] = d
	}

	seen := make(map[string]struct{})
	add := func(kind domain.ResourceKind, resourceID, missionID string, source domain.AssignmentSource) {
		if idKey(missionID) == "" || idKey(resourceID) == "" {
			return
		}
		key := fmt.Sprintf("%s|%s|%s", kind, idKey(resourceID), idKey(missionID))
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		m, known := ix.missions[idKey(missionID)]
		eng := engagement{
			Kind:       kind,
			ResourceID: resourceID,
			MissionID:  missionID,
			Mission:    m,
			Known:      known,
			Source:     source,
		}
		if known {
			eng.MissionID = m.ID
		} else {
			ix.observe(domain.Observation{
				Kind:       domain.DataIncomplete,
				RecordKind: string(kind),
				RecordID:   resourceID,
				Field:      "current_assignment",
				Detail:     fmt.Sprintf("%s %s references unknown mission %s", kind, resourceID, missionID),
			})
		}
		ix.engagements = append(ix.engagements, eng)
		rk := resourceKey{Kind: kind, ID: idKey(resourceID)}
		ix.byResource[rk] = append(ix.byResource[rk], eng)
	}

	for _, p := range snap.Pilots {
		add(domain.KindPilot, p.ID, p.CurrentAssignment, domain.SourceDerived)
	}
	for _, d := range snap.Drones {
		add(domain.KindDrone, d.ID, d.CurrentAssignment, domain.SourceDerived)
	}
	for _, a := range snap.Assignments {
		if a.PilotID != "" {
			if p, ok := ix.pilots[idKey(a.PilotID)]; ok {
				add(domain.KindPilot, p.ID, a.MissionID, domain.SourceExplicit)
			} else {
				ix.unknownResource(domain.KindPilot, a)
			}
		}
		if a.DroneID != "" {
			if d, ok := ix.drones[idKey(a.DroneID)]; ok {
				add(domain.KindDrone, d.ID, a.MissionID, domain.SourceExplicit)
			} else {
				ix.unknownResource(domain.KindDrone, a)
			}
		}
	}
	return ix
}

func (ix *index) unknownResource(kind domain.ResourceKind, a domain.Assignment) {
	id := a.PilotID
	if kind == domain.KindDrone {
		id = a.DroneID
	}
	ix.observe(domain.Observation{
		Kind:       domain.DataIncomplete,
		RecordKind: "assignment",
		RecordID:   a.MissionID,
		Field:      string(kind) + "_id",
		Detail:     fmt.Sprintf("assignment for %s references unknown %s %s", a.MissionID, kind, id),
	})
}

func (ix *index) observe(o domain.Observation) {
	ix.observations = append(ix.observations, o)
}

func (ix *index) engagementsOf(kind domain.ResourceKind, id string) []engagement {
	return ix.byResource[resourceKey{Kind: kind, ID: idKey(id)}]
}

// currentEngagement picks the mission a resource is serving: the
// current_assignment field first, then the explicit record ending soonest.
// The target mission itself is ignored.
func (ix *index) currentEngagement(kind domain.ResourceKind, id, currentAssignment, targetID string) (engagement, bool) {
	var others []engagement
	for _, eng := range ix.engagementsOf(kind, id) {
		if idKey(eng.MissionID) == idKey(targetID) {
			continue
		}
		if idKey(eng.MissionID) == idKey(currentAssignment) {
			return eng, true
		}
		others = append(others, eng)
	}
	if len(others) == 0 {
		return engagement{}, false
	}
	sort.SliceStable(others, func(i, j int) bool {
		return lessDate(others[i].Mission.EndDate, others[j].Mission.EndDate)
	})
	return others[0], true
}

// lessDate orders dates ascending with unset dates last.
func lessDate(a, b domain.Date) bool {
	switch {
	case a.IsZero():
		return false
	case b.IsZero():
		return true
	default:
		return a.Before(b)
	}
}

// sortedObservations returns the loader's observations plus the index's,
// de-duplicated and in a stable order.
func (ix *index) sortedObservations() []domain.Observation {
	all := make([]domain.Observation, 0, len(ix.snap.Observations)+len(ix.observations))
	seen := make(map[domain.Observation]struct{})
	for _, list := range [][]domain.Observation{ix.snap.Observations, ix.observations} {
		for _, o := range list {
			if _, dup := seen[o]; dup {
				continue
			}
			seen[o] = struct{}{}
			all = append(all, o)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.RecordKind != b.RecordKind {
			return a.RecordKind < b.RecordKind
		}
		if a.RecordID != b.RecordID {
			return a.RecordID < b.RecordID
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Detail < b.Detail
	})
	return all
}
