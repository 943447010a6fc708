package shell

import (
	"fmt"
	"strings"

	"dronecoord/internal/app"
	"dronecoord/internal/domain"
)

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "–"
	}
	return s
}

func FormatConflicts(r domain.ConflictReport) string {
	var b strings.Builder
	if len(r.Conflicts) == 0 {
		b.WriteString("No conflicts detected. Roster, assignments and fleet are consistent.")
	} else {
		fmt.Fprintf(&b, "**Conflicts detected (%d):**\n", len(r.Conflicts))
		for _, c := range r.Conflicts {
			fmt.Fprintf(&b, "\n- [%s] %s", c.Kind, c.Detail)
		}
	}
	if len(r.Observations) > 0 {
		b.WriteString("\n\n**Data notes:**\n")
		for _, o := range r.Observations {
			fmt.Fprintf(&b, "\n- %s", o.Detail)
		}
	}
	return b.String()
}

func FormatProposal(p domain.Proposal) string {
	var b strings.Builder
	title := "Suggested assignment"
	if p.Mode == domain.ModeUrgent {
		title = "Urgent reassignment"
	}
	fmt.Fprintf(&b, "**%s for %s:**\n", title, p.MissionID)
	fmt.Fprintf(&b, "\n- **Pilot:** %s", slotText(p.Pilot))
	fmt.Fprintf(&b, "\n- **Drone:** %s", slotText(p.Drone))
	if p.DisplacedFrom != "" {
		fmt.Fprintf(&b, "\n- **Displaces:** %s", p.DisplacedFrom)
	}
	for _, c := range p.Caveats {
		fmt.Fprintf(&b, "\n- _Caveat:_ %s", c.Detail)
	}
	for _, n := range p.Notes {
		fmt.Fprintf(&b, "\n- _Note:_ %s", n)
	}
	if len(p.Explanation) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(p.Explanation, "\n"))
	}
	return b.String()
}

func slotText(s domain.Slot) string {
	if s.Absent {
		return "none (" + s.Reason + ")"
	}
	if s.Displaced != nil {
		return fmt.Sprintf("%s (override, free from %s on %s)", s.ID, s.Displaced.MissionID, dash(s.Displaced.EndDate.String()))
	}
	return s.ID
}

func FormatOutcome(o app.Outcome) string {
	if o.State == domain.StateDiscarded {
		return fmt.Sprintf("Proposal for %s discarded. Nothing was changed.", o.Assignment.MissionID)
	}
	var parts []string
	if o.Assignment.PilotID != "" {
		parts = append(parts, "pilot "+o.Assignment.PilotID)
	}
	if o.Assignment.DroneID != "" {
		parts = append(parts, "drone "+o.Assignment.DroneID)
	}
	text := fmt.Sprintf("**Assignment applied:** %s now on %s.", strings.Join(parts, " and "), o.Assignment.MissionID)
	if o.Displaced != "" {
		text += fmt.Sprintf(" Released from %s.", o.Displaced)
	}
	return text
}

func FormatPilots(pilots []domain.Pilot) string {
	if len(pilots) == 0 {
		return "No pilots match your criteria."
	}
	lines := []string{"**Pilots:**", ""}
	for _, p := range pilots {
		lines = append(lines, fmt.Sprintf("- **%s** (%s) | %s | %s | Skills: %s | Certs: %s | Assignment: %s",
			p.Name, p.ID, p.Status, p.Location, dash(p.Skills.String()), dash(p.Certifications.String()), dash(p.CurrentAssignment)))
	}
	return strings.Join(lines, "\n")
}

func FormatDrones(drones []domain.Drone) string {
	if len(drones) == 0 {
		return "No drones match your criteria."
	}
	lines := []string{"**Drone fleet:**", ""}
	for _, d := range drones {
		flag := ""
		if d.Status == domain.DroneMaintenance {
			flag = " ⚠ Maintenance"
		}
		lines = append(lines, fmt.Sprintf("- **%s** %s | %s%s | %s | %s | Maintenance due: %s | Assignment: %s",
			d.ID, d.Model, d.Status, flag, d.Location, dash(d.Capabilities.String()), dash(d.MaintenanceDue.String()), dash(d.CurrentAssignment)))
	}
	return strings.Join(lines, "\n")
}

func FormatMissions(missions []domain.Mission) string {
	if len(missions) == 0 {
		return "No missions loaded."
	}
	lines := []string{"**Missions:**", ""}
	for _, m := range missions {
		lines = append(lines, fmt.Sprintf("- **%s** %s | %s | %s to %s | Priority: %s",
			m.ID, m.Client, m.Location, dash(m.StartDate.String()), dash(m.EndDate.String()), m.Priority))
	}
	return strings.Join(lines, "\n")
}
