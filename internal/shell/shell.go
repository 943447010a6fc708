// Package shell answers free-text requests by classifying them into a fixed
// set of intents and dispatching each to a coordinator operation.
package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dronecoord/internal/app"
	"dronecoord/internal/config"
	"dronecoord/internal/domain"
	"dronecoord/internal/engine"
)

// Reply is one shell answer. Data holds the structured result when there
// is one.
type Reply struct {
	Intent Intent `json:"intent"`
	Text   string `json:"text"`
	Data   any    `json:"data,omitempty"`
}

type handlerFunc func(s *Shell, ctx context.Context, msg string) Reply

var handlers = map[Intent]handlerFunc{
	IntentGreeting:     (*Shell).greeting,
	IntentHelp:         (*Shell).help,
	IntentConflicts:    (*Shell).conflicts,
	IntentConfirm:      (*Shell).confirm,
	IntentDiscard:      (*Shell).discard,
	IntentUrgent:       (*Shell).urgent,
	IntentSuggest:      (*Shell).suggest,
	IntentRoster:       (*Shell).roster,
	IntentFleet:        (*Shell).fleet,
	IntentStatusUpdate: (*Shell).statusUpdate,
	IntentMissions:     (*Shell).missions,
	IntentUnknown:      (*Shell).unknown,
}

// Shell is one conversation. It remembers the last proposal it showed so a
// bare "confirm" or "discard" can refer to it.
type Shell struct {
	Coord   *app.Coordinator
	Vocab   config.ShellConfig
	ActorID string
	Log     *zap.Logger

	last *app.Ticket
}

func New(coord *app.Coordinator, vocab config.ShellConfig, actorID string, log *zap.Logger) *Shell {
	if log == nil {
		log = zap.NewNop()
	}
	return &Shell{Coord: coord, Vocab: vocab, ActorID: actorID, Log: log}
}

// Handle classifies msg and runs the matching handler.
func (s *Shell) Handle(ctx context.Context, msg string) Reply {
	intent := Classify(msg)
	s.Log.Debug("intent classified", zap.String("intent", string(intent)))
	reply := handlers[intent](s, ctx, msg)
	reply.Intent = intent
	return reply
}

func (s *Shell) fail(err error) Reply {
	s.Log.Warn("shell request failed", zap.Error(err))
	switch {
	case errors.Is(err, engine.ErrUnknownMission), errors.Is(err, engine.ErrUnknownResource):
		return Reply{Text: fmt.Sprintf("Not found: %v.", err)}
	case errors.Is(err, app.ErrWriteBack):
		return Reply{Text: fmt.Sprintf("**Nothing was changed.** %v. You can retry the confirm.", err)}
	case errors.Is(err, domain.ErrInvalidTransition):
		return Reply{Text: fmt.Sprintf("That proposal can no longer change: %v.", err)}
	}
	return Reply{Text: fmt.Sprintf("Error: %v", err)}
}

func (s *Shell) greeting(context.Context, string) Reply {
	return Reply{Text: strings.Join([]string{
		"Hi! I coordinate pilots, drones and missions. I can help with:",
		"- **Roster**: pilots by skill, certification, location or status",
		"- **Fleet**: drones by capability, location, status or maintenance",
		"- **Assignments**: suggest a pilot and drone for a mission",
		"- **Conflicts**: double-booking, capability, maintenance and location issues",
		"- **Urgent reassignments**: least-impact overrides with an explanation",
		"- **Updates**: set a pilot or drone status, confirm a proposal",
		"",
		"Try: *Who is available in Bangalore?* or *Check conflicts* or *Suggest assignment for PRJ002*",
	}, "\n")}
}

func (s *Shell) help(context.Context, string) Reply {
	return Reply{Text: strings.Join([]string{
		"**Commands you can try:**",
		"- *List available pilots in Mumbai*",
		"- *Pilots with DGCA certification*",
		"- *Drones available in Bangalore*",
		"- *Suggest assignment for PRJ001*",
		"- *Urgent reassignment for PRJ002*",
		"- *Confirm* or *Discard* the last proposal",
		"- *Confirm reassignment PRJ002 to P002 and D003*",
		"- *Check conflicts*",
		"- *Set pilot P001 status to On Leave*",
		"- *Set drone D002 status to Available*",
	}, "\n")}
}

func (s *Shell) unknown(context.Context, string) Reply {
	return Reply{Text: "I didn't quite get that. Ask me about **pilots**, **drones**, **assignments**, **conflicts** or **urgent reassignments**. Type *help* for examples."}
}

func (s *Shell) conflicts(ctx context.Context, _ string) Reply {
	report, err := s.Coord.Conflicts(ctx)
	if err != nil {
		return s.fail(err)
	}
	return Reply{Text: FormatConflicts(report), Data: report}
}

func (s *Shell) suggest(ctx context.Context, msg string) Reply {
	missionID, _, _ := ids(msg)
	if missionID == "" {
		return Reply{Text: "Which mission? Include a mission id such as PRJ001."}
	}
	return s.propose(ctx, missionID, s.Coord.Suggest, true)
}

func (s *Shell) urgent(ctx context.Context, msg string) Reply {
	missionID, _, _ := ids(msg)
	if missionID == "" {
		return Reply{Text: "Which mission needs urgent reassignment? For example *Urgent reassignment for PRJ002*."}
	}
	return s.propose(ctx, missionID, s.Coord.Urgent, false)
}

func (s *Shell) propose(ctx context.Context, missionID string, fn func(context.Context, string) (app.Ticket, error), hint bool) Reply {
	t, err := fn(ctx, missionID)
	if err != nil {
		return s.fail(err)
	}
	text := FormatProposal(t.Proposal)
	if t.Token != "" {
		s.last = &t
		text += "\n\nSay *confirm* to apply this or *discard* to drop it."
	}
	if hint && (t.Pilot.Absent || t.Drone.Absent) {
		if m, ok := s.mission(ctx, missionID); ok && m.Priority == domain.PriorityUrgent {
			text += fmt.Sprintf("\n\n%s is Urgent; try *Urgent reassignment for %s*.", m.ID, m.ID)
		}
	}
	return Reply{Text: text, Data: t}
}

func (s *Shell) mission(ctx context.Context, id string) (domain.Mission, bool) {
	missions, err := s.Coord.Missions(ctx)
	if err != nil {
		return domain.Mission{}, false
	}
	return domain.Snapshot{Missions: missions}.Mission(id)
}

func (s *Shell) confirm(ctx context.Context, msg string) Reply {
	missionID, pilotID, droneID := ids(msg)
	var out app.Outcome
	var err error
	switch {
	case missionID != "" && (pilotID != "" || droneID != ""):
		out, err = s.Coord.ConfirmIDs(ctx, missionID, pilotID, droneID, s.ActorID)
	case s.last != nil && (missionID == "" || strings.EqualFold(missionID, s.last.MissionID)):
		out, err = s.Coord.Confirm(ctx, s.last.Token, s.ActorID)
	default:
		return Reply{Text: "Nothing to confirm. Ask for a suggestion first, or name the mission and resources, e.g. *Confirm reassignment PRJ002 to P002 and D003*."}
	}
	if err != nil {
		return s.fail(err)
	}
	s.last = nil
	return Reply{Text: FormatOutcome(out), Data: out}
}

func (s *Shell) discard(ctx context.Context, _ string) Reply {
	if s.last == nil {
		return Reply{Text: "There is no open proposal to discard."}
	}
	out, err := s.Coord.Discard(ctx, s.last.Token, s.ActorID)
	if err != nil {
		return s.fail(err)
	}
	s.last = nil
	return Reply{Text: FormatOutcome(out), Data: out}
}

func (s *Shell) roster(ctx context.Context, msg string) Reply {
	w := wordsOf(msg)
	f := engine.PilotFilter{
		Location:      pickVocab(msg, s.Vocab.Locations),
		Skill:         pickVocab(msg, s.Vocab.Skills),
		Certification: pickVocab(msg, s.Vocab.Certifications),
	}
	switch {
	case w["leave"]:
		f.Status = string(domain.PilotOnLeave)
	case w["assigned"]:
		f.Status = string(domain.PilotAssigned)
	case w["unavailable"]:
		f.Status = string(domain.PilotUnavailable)
	case w["available"]:
		f.Status = string(domain.PilotAvailable)
	}
	pilots, err := s.Coord.Pilots(ctx, f)
	if err != nil {
		return s.fail(err)
	}
	return Reply{Text: FormatPilots(pilots), Data: pilots}
}

func (s *Shell) fleet(ctx context.Context, msg string) Reply {
	w := wordsOf(msg)
	f := engine.DroneFilter{
		Location:   pickVocab(msg, s.Vocab.Locations),
		Capability: pickVocab(msg, s.Vocab.Capabilities),
	}
	switch {
	case w["maintenance"]:
		f.Status = string(domain.DroneMaintenance)
	case w["assigned"]:
		f.Status = string(domain.DroneAssigned)
	case w["available"]:
		f.Status = string(domain.DroneAvailable)
	}
	drones, err := s.Coord.Drones(ctx, f)
	if err != nil {
		return s.fail(err)
	}
	return Reply{Text: FormatDrones(drones), Data: drones}
}

func (s *Shell) statusUpdate(ctx context.Context, msg string) Reply {
	_, pilotID, droneID := ids(msg)
	status := pickStatus(msg)
	switch {
	case pilotID != "" && status != "":
		p, err := s.Coord.SetPilotStatus(ctx, pilotID, status, s.ActorID)
		if err != nil {
			return s.fail(err)
		}
		return Reply{Text: fmt.Sprintf("Pilot %s status set to %s.", p.ID, p.Status), Data: p}
	case droneID != "" && status != "":
		d, err := s.Coord.SetDroneStatus(ctx, droneID, status, s.ActorID)
		if err != nil {
			return s.fail(err)
		}
		return Reply{Text: fmt.Sprintf("Drone %s status set to %s.", d.ID, d.Status), Data: d}
	}
	return Reply{Text: "Name a pilot (P001) or drone (D002) and the new status, e.g. *Set pilot P001 status to On Leave* or *Set drone D002 status to Available*."}
}

func (s *Shell) missions(ctx context.Context, _ string) Reply {
	missions, err := s.Coord.Missions(ctx)
	if err != nil {
		return s.fail(err)
	}
	return Reply{Text: FormatMissions(missions), Data: missions}
}

// pickVocab returns the first vocabulary entry mentioned in msg.
func pickVocab(msg string, vocab []string) string {
	lower := strings.ToLower(msg)
	for _, v := range vocab {
		if strings.Contains(lower, strings.ToLower(v)) {
			return v
		}
	}
	return ""
}

// statusWords are checked longest first so "unavailable" is not read as
// "available".
var statusWords = []string{"unavailable", "maintenance", "on leave", "assigned", "available"}

func pickStatus(msg string) string {
	lower := strings.ToLower(msg)
	for _, st := range statusWords {
		if strings.Contains(lower, st) {
			return st
		}
	}
	return ""
}
