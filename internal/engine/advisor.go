package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dronecoord/internal/domain"
)

// Suggest proposes the top Available pilot and drone for a mission. An
// Assigned candidate is only picked when its current engagement does not
// overlap the mission; anything else needs UrgentReassign.
func (e Engine) Suggest(snap domain.Snapshot, missionID string) (domain.Proposal, error) {
	return e.advise(snap, missionID, domain.ModeSuggest)
}

// UrgentReassign proposes the least-impact pilot and drone for a mission,
// taking Assigned candidates away from their current mission when no
// Available one qualifies. Drones in maintenance are never chosen.
func (e Engine) UrgentReassign(snap domain.Snapshot, missionID string) (domain.Proposal, error) {
	return e.advise(snap, missionID, domain.ModeUrgent)
}

func (e Engine) advise(snap domain.Snapshot, missionID string, mode domain.ProposalMode) (domain.Proposal, error) {
	m, err := e.mission(snap, missionID)
	if err != nil {
		return domain.Proposal{}, err
	}
	ix := newIndex(snap)
	report := e.detect(ix)

	pilotSlot, pilotWhy := e.pick(ix, m, e.rank(ix, m, domain.KindPilot), mode)
	droneSlot, droneWhy := e.pick(ix, m, e.rank(ix, m, domain.KindDrone), mode)

	p := domain.Proposal{
		MissionID: m.ID,
		Mode:      mode,
		State:     domain.StateProposed,
		Pilot:     pilotSlot,
		Drone:     droneSlot,
		Caveats:   []domain.Conflict{},
	}
	p.ID = proposalID(p)
	switch {
	case pilotSlot.Displaced != nil:
		p.DisplacedFrom = pilotSlot.Displaced.MissionID
	case droneSlot.Displaced != nil:
		p.DisplacedFrom = droneSlot.Displaced.MissionID
	}
	if !pilotSlot.Absent {
		p.Caveats = append(p.Caveats, report.For(domain.KindPilot, pilotSlot.ID)...)
	}
	if !droneSlot.Absent {
		p.Caveats = append(p.Caveats, report.For(domain.KindDrone, droneSlot.ID)...)
		if d, ok := ix.drones[idKey(droneSlot.ID)]; ok {
			if note := e.maintenanceNote(d, m); note != "" {
				p.Notes = append(p.Notes, note)
			}
		}
	}
	for _, o := range report.Observations {
		if o.RecordID == "" {
			continue
		}
		if o.RecordID == m.ID || (!pilotSlot.Absent && o.RecordID == pilotSlot.ID) || (!droneSlot.Absent && o.RecordID == droneSlot.ID) {
			p.Notes = append(p.Notes, o.Detail)
		}
	}

	p.Explanation = append(p.Explanation, missionLine(m), pilotWhy, droneWhy)
	for _, c := range p.Caveats {
		p.Explanation = append(p.Explanation, "Caveat: "+c.Detail)
	}
	p.Explanation = append(p.Explanation, "Proposal only; nothing changes until it is confirmed.")

	e.log().Info("proposal computed",
		zap.String("proposal_id", p.ID),
		zap.String("mission_id", m.ID),
		zap.String("mode", string(mode)),
		zap.String("pilot_id", pilotSlot.ID),
		zap.String("drone_id", droneSlot.ID),
		zap.String("displaced_from", p.DisplacedFrom),
		zap.Int("caveats", len(p.Caveats)),
	)
	return p, nil
}

// proposalID is stable for the same mission, mode and picks.
func proposalID(p domain.Proposal) string {
	key := strings.Join([]string{string(p.Mode), p.MissionID, p.Pilot.ID, p.Drone.ID}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (e Engine) pick(ix *index, m domain.Mission, r Ranking, mode domain.ProposalMode) (domain.Slot, string) {
	label := kindLabel(r.Kind)
	if len(r.Eligible) > 0 && r.Eligible[0].Available {
		c := r.Eligible[0]
		return domain.Slot{Kind: r.Kind, ID: c.ID},
			fmt.Sprintf("%s %s selected: Available and meets every requirement.", label, c.ID)
	}

	// Available candidates rank first, so everything left is Assigned.
	assigned := r.Eligible
	if len(assigned) == 0 {
		reason := absentReason(r, m)
		return domain.Slot{Kind: r.Kind, Absent: true, Reason: reason},
			fmt.Sprintf("No %s: %s.", strings.ToLower(label), reason)
	}

	if mode == domain.ModeSuggest {
		for _, c := range assigned {
			if ix.busyDuring(c.Kind, c.ID, m) {
				continue
			}
			why := fmt.Sprintf("%s %s selected: no Available %s qualifies; %s is Assigned but free for these dates.",
				label, c.ID, strings.ToLower(label), c.ID)
			return domain.Slot{Kind: r.Kind, ID: c.ID}, why
		}
		reason := fmt.Sprintf("no Available %s; %d eligible %s(s) already assigned (%s); use urgent reassignment",
			strings.ToLower(label), len(assigned), strings.ToLower(label), engagedText(assigned))
		return domain.Slot{Kind: r.Kind, Absent: true, Reason: reason},
			fmt.Sprintf("No %s: %s.", strings.ToLower(label), reason)
	}

	c := assigned[0]
	slot := domain.Slot{Kind: r.Kind, ID: c.ID}
	if c.CurrentMission == "" || idKey(c.CurrentMission) == idKey(m.ID) {
		return slot, fmt.Sprintf("%s %s selected: Assigned, with no other mission to displace.", label, c.ID)
	}
	slot.Override = true
	slot.Displaced = &domain.Displacement{MissionID: c.CurrentMission, EndDate: c.FreeAt}
	ends := "an unknown end date"
	if !c.FreeAt.IsZero() {
		ends = c.FreeAt.String()
	}
	why := fmt.Sprintf("%s %s selected as urgent override: no Available %s qualifies; displaces %s ending %s",
		label, c.ID, strings.ToLower(label), c.CurrentMission, ends)
	if len(assigned) > 1 {
		why += fmt.Sprintf(", the soonest end among %d Assigned alternatives", len(assigned))
	}
	return slot, why + "."
}

// busyDuring reports whether the resource serves another mission whose
// dates overlap m or cannot be compared with it.
func (ix *index) busyDuring(kind domain.ResourceKind, id string, m domain.Mission) bool {
	for _, eng := range ix.engagementsOf(kind, id) {
		if idKey(eng.MissionID) == idKey(m.ID) {
			continue
		}
		if !eng.Known || !m.HasDates() || !eng.Mission.HasDates() {
			return true
		}
		if eng.Mission.Overlaps(m) {
			return true
		}
	}
	return false
}

var reasonPriority = []domain.RejectReason{
	domain.RejectMaintenance,
	domain.RejectStatus,
	domain.RejectNotYetFree,
	domain.RejectLocation,
	domain.RejectSkill,
	domain.RejectCertification,
	domain.RejectCapability,
}

// absentReason explains an empty slot using the candidates that came
// closest, i.e. those with the fewest rejections.
func absentReason(r Ranking, m domain.Mission) string {
	if len(r.Rejected) == 0 {
		return fmt.Sprintf("no %ss on record", r.Kind)
	}
	fewest := len(r.Rejected[0].Rejections)
	for _, c := range r.Rejected {
		if len(c.Rejections) < fewest {
			fewest = len(c.Rejections)
		}
	}
	details := make(map[domain.RejectReason][]string)
	for _, c := range r.Rejected {
		if len(c.Rejections) != fewest {
			continue
		}
		for _, rej := range c.Rejections {
			detail := rej.Detail
			if rej.Reason == domain.RejectMaintenance {
				detail = c.ID
			}
			details[rej.Reason] = append(details[rej.Reason], detail)
		}
	}
	for _, reason := range reasonPriority {
		list, ok := details[reason]
		if !ok {
			continue
		}
		return reasonLabel(reason, m) + ": " + strings.Join(list, "; ")
	}
	return "no eligible " + string(r.Kind)
}

func reasonLabel(reason domain.RejectReason, m domain.Mission) string {
	switch reason {
	case domain.RejectMaintenance:
		return "in maintenance"
	case domain.RejectStatus:
		return "none available"
	case domain.RejectNotYetFree:
		return "none available by the mission start"
	case domain.RejectLocation:
		return "none at the required location " + m.Location
	case domain.RejectCapability:
		return "no match on capability"
	default:
		return "no match on skill/cert"
	}
}

func engagedText(cs []domain.Candidate) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		switch {
		case c.CurrentMission == "":
			parts = append(parts, c.ID)
		case c.FreeAt.IsZero():
			parts = append(parts, fmt.Sprintf("%s on %s", c.ID, c.CurrentMission))
		default:
			parts = append(parts, fmt.Sprintf("%s on %s until %s", c.ID, c.CurrentMission, c.FreeAt))
		}
	}
	return strings.Join(parts, ", ")
}

func (e Engine) maintenanceNote(d domain.Drone, m domain.Mission) string {
	if d.MaintenanceDue.IsZero() {
		return ""
	}
	if !m.EndDate.IsZero() && !d.MaintenanceDue.After(m.EndDate) {
		return fmt.Sprintf("drone %s maintenance due %s, before %s ends %s", d.ID, d.MaintenanceDue, m.ID, m.EndDate)
	}
	horizon := e.today().AddDays(e.Rules.MaintenanceWarningDays)
	if !d.MaintenanceDue.After(horizon) {
		return fmt.Sprintf("drone %s maintenance due %s, within %d days", d.ID, d.MaintenanceDue, e.Rules.MaintenanceWarningDays)
	}
	return ""
}

func missionLine(m domain.Mission) string {
	dates := "undated"
	if !m.StartDate.IsZero() || !m.EndDate.IsZero() {
		dates = fmt.Sprintf("%s to %s", orDash(m.StartDate.String()), orDash(m.EndDate.String()))
	}
	return fmt.Sprintf("Mission %s (%s, %s, %s, priority %s)",
		m.ID, orDash(m.Client), orDash(m.Location), dates, m.Priority)
}

func kindLabel(k domain.ResourceKind) string {
	if k == domain.KindDrone {
		return "Drone"
	}
	return "Pilot"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
