package engine

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"dronecoord/internal/domain"
)

// Ranking is the outcome of ranking one resource pool against a mission.
// Eligible is in rank order; Rejected is in id order and carries reasons.
type Ranking struct {
	MissionID string              `json:"mission_id"`
	Kind      domain.ResourceKind `json:"kind"`
	Eligible  []domain.Candidate  `json:"eligible"`
	Rejected  []domain.Candidate  `json:"rejected"`
}

// IDs returns the eligible ids in rank order.
func (r Ranking) IDs() []string {
	ids := make([]string, 0, len(r.Eligible))
	for _, c := range r.Eligible {
		ids = append(ids, c.ID)
	}
	return ids
}

// RankCandidates filters the pilot or drone pool by the mission's hard
// requirements and orders the survivors: Available before Assigned, then
// soonest to free, then id. An empty Eligible list is a normal outcome.
func (e Engine) RankCandidates(snap domain.Snapshot, missionID string, kind domain.ResourceKind) (Ranking, error) {
	m, err := e.mission(snap, missionID)
	if err != nil {
		return Ranking{}, err
	}
	switch kind {
	case domain.KindPilot, domain.KindDrone:
	default:
		return Ranking{}, fmt.Errorf("unknown resource kind %q", kind)
	}
	return e.rank(newIndex(snap), m, kind), nil
}

func (e Engine) rank(ix *index, m domain.Mission, kind domain.ResourceKind) Ranking {
	out := Ranking{MissionID: m.ID, Kind: kind}
	var all []domain.Candidate
	if kind == domain.KindPilot {
		for _, p := range ix.snap.Pilots {
			all = append(all, e.pilotCandidate(ix, m, p))
		}
	} else {
		for _, d := range ix.snap.Drones {
			all = append(all, e.droneCandidate(ix, m, d))
		}
	}
	for _, c := range all {
		if c.Eligible {
			out.Eligible = append(out.Eligible, c)
		} else {
			out.Rejected = append(out.Rejected, c)
		}
	}
	sort.SliceStable(out.Eligible, func(i, j int) bool {
		return rankLess(out.Eligible[i], out.Eligible[j])
	})
	sort.SliceStable(out.Rejected, func(i, j int) bool {
		return out.Rejected[i].ID < out.Rejected[j].ID
	})
	e.log().Debug("ranked candidates",
		zap.String("mission_id", m.ID),
		zap.String("kind", string(kind)),
		zap.Strings("eligible", out.IDs()),
		zap.Int("rejected", len(out.Rejected)),
	)
	return out
}

func rankLess(a, b domain.Candidate) bool {
	if a.Available != b.Available {
		return a.Available
	}
	if !a.Available && !a.FreeAt.Equal(b.FreeAt) {
		return lessDate(a.FreeAt, b.FreeAt)
	}
	return a.ID < b.ID
}

func (e Engine) pilotCandidate(ix *index, m domain.Mission, p domain.Pilot) domain.Candidate {
	c := domain.Candidate{
		Kind:            domain.KindPilot,
		ID:              p.ID,
		Status:          string(p.Status),
		Available:       p.Status == domain.PilotAvailable,
		LocationMatch:   m.Location == "" || domain.SameLocation(p.Location, m.Location),
		CapabilityMatch: p.Skills.Covers(m.RequiredSkills) && p.Certifications.Covers(m.RequiredCertifications),
	}
	switch p.Status {
	case domain.PilotAvailable:
	case domain.PilotAssigned:
		e.fillEngagement(ix, &c, m, p.CurrentAssignment)
	default:
		c.Rejections = append(c.Rejections, domain.Rejection{
			Reason: domain.RejectStatus,
			Detail: fmt.Sprintf("%s is %s", p.ID, statusText(string(p.Status))),
		})
	}
	if missing := p.Skills.Missing(m.RequiredSkills); len(missing) > 0 {
		c.Rejections = append(c.Rejections, domain.Rejection{
			Reason: domain.RejectSkill,
			Detail: fmt.Sprintf("%s lacks skill(s) %s", p.ID, missing),
		})
	}
	if missing := p.Certifications.Missing(m.RequiredCertifications); len(missing) > 0 {
		c.Rejections = append(c.Rejections, domain.Rejection{
			Reason: domain.RejectCertification,
			Detail: fmt.Sprintf("%s lacks certification(s) %s", p.ID, missing),
		})
	}
	if !c.LocationMatch {
		c.Rejections = append(c.Rejections, locationRejection(p.ID, p.Location, m.Location))
	}
	if !p.AvailableFrom.IsZero() && !m.StartDate.IsZero() && p.AvailableFrom.After(m.StartDate) {
		c.Rejections = append(c.Rejections, domain.Rejection{
			Reason: domain.RejectNotYetFree,
			Detail: fmt.Sprintf("%s available from %s, mission starts %s", p.ID, p.AvailableFrom, m.StartDate),
		})
	}
	c.Eligible = len(c.Rejections) == 0
	return c
}

func (e Engine) droneCandidate(ix *index, m domain.Mission, d domain.Drone) domain.Candidate {
	required := e.DroneRequirements(m)
	c := domain.Candidate{
		Kind:            domain.KindDrone,
		ID:              d.ID,
		Status:          string(d.Status),
		Available:       d.Status == domain.DroneAvailable,
		LocationMatch:   m.Location == "" || domain.SameLocation(d.Location, m.Location),
		CapabilityMatch: d.Capabilities.Covers(required),
	}
	switch d.Status {
	case domain.DroneAvailable:
	case domain.DroneAssigned:
		e.fillEngagement(ix, &c, m, d.CurrentAssignment)
	case domain.DroneMaintenance:
		c.Rejections = append(c.Rejections, domain.Rejection{
			Reason: domain.RejectMaintenance,
			Detail: fmt.Sprintf("%s is in maintenance", d.ID),
		})
	default:
		c.Rejections = append(c.Rejections, domain.Rejection{
			Reason: domain.RejectStatus,
			Detail: fmt.Sprintf("%s is %s", d.ID, statusText(string(d.Status))),
		})
	}
	if missing := d.Capabilities.Missing(required); len(missing) > 0 {
		c.Rejections = append(c.Rejections, domain.Rejection{
			Reason: domain.RejectCapability,
			Detail: fmt.Sprintf("%s lacks capability %s", d.ID, missing),
		})
	}
	if !c.LocationMatch {
		c.Rejections = append(c.Rejections, locationRejection(d.ID, d.Location, m.Location))
	}
	c.Eligible = len(c.Rejections) == 0
	return c
}

// fillEngagement records which mission an Assigned resource serves and when
// it frees up. An unknown end date leaves FreeAt unset and ranks last.
func (e Engine) fillEngagement(ix *index, c *domain.Candidate, target domain.Mission, currentAssignment string) {
	eng, ok := ix.currentEngagement(c.Kind, c.ID, currentAssignment, target.ID)
	if !ok {
		if idKey(currentAssignment) == idKey(target.ID) && currentAssignment != "" {
			c.CurrentMission = target.ID
		}
		return
	}
	c.CurrentMission = eng.MissionID
	if eng.Known {
		c.FreeAt = eng.Mission.EndDate
	}
}

func locationRejection(id, have, want string) domain.Rejection {
	have = strings.TrimSpace(have)
	if have == "" {
		have = "an unknown location"
	}
	return domain.Rejection{
		Reason: domain.RejectLocation,
		Detail: fmt.Sprintf("%s is in %s, mission is in %s", id, have, want),
	}
}

func statusText(status string) string {
	if status == "" {
		return strings.ToLower(string(domain.PilotUnknown))
	}
	return strings.ToLower(status)
}
