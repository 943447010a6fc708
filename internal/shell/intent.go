package shell

import (
	"regexp"
	"strings"
)

type Intent string

const (
	IntentGreeting     Intent = "greeting"
	IntentHelp         Intent = "help"
	IntentConflicts    Intent = "conflicts"
	IntentConfirm      Intent = "confirm"
	IntentDiscard      Intent = "discard"
	IntentUrgent       Intent = "urgent"
	IntentSuggest      Intent = "suggest"
	IntentRoster       Intent = "roster"
	IntentFleet        Intent = "fleet"
	IntentStatusUpdate Intent = "status_update"
	IntentMissions     Intent = "missions"
	IntentUnknown      Intent = "unknown"
)

var (
	missionIDPattern = regexp.MustCompile(`(?i)\bPRJ\d+\b`)
	pilotIDPattern   = regexp.MustCompile(`(?i)\bP\d+\b`)
	droneIDPattern   = regexp.MustCompile(`(?i)\bD\d+\b`)
	wordPattern      = regexp.MustCompile(`\w+`)
)

var (
	greetings       = []string{"hi", "hello", "hey"}
	confirmWords    = []string{"confirm", "apply", "approve"}
	discardWords    = []string{"discard", "cancel", "reject"}
	urgentWords     = []string{"urgent", "emergency", "asap", "reassign", "reassignment"}
	conflictWords   = []string{"conflict", "conflicts", "double", "overlap", "mismatch", "issue", "issues", "problem", "warning"}
	suggestWords    = []string{"assign", "assignment", "match", "suggest", "who", "which", "pilot", "drone", "for"}
	updateVerbs     = []string{"set", "update", "change", "mark"}
	rosterWords     = []string{"pilot", "pilots", "roster", "availability", "available", "leave", "certification", "certifications", "skill", "skills"}
	fleetNouns      = []string{"drone", "drones", "fleet", "inventory"}
	fleetWords      = []string{"maintenance", "deploy"}
	helpWords       = []string{"help", "how", "what"}
	missionWords    = []string{"mission", "missions", "project", "projects"}
	missionListHint = []string{"list", "show", "all"}
)

type words map[string]bool

func wordsOf(msg string) words {
	w := words{}
	for _, m := range wordPattern.FindAllString(strings.ToLower(msg), -1) {
		w[m] = true
	}
	return w
}

func (w words) any(list []string) bool {
	for _, s := range list {
		if w[s] {
			return true
		}
	}
	return false
}

// Classify maps free text to an intent using fixed keyword sets, checked in
// a fixed order. Confirm comes before urgent since "confirm reassignment"
// contains an urgent keyword. A status update needs an update verb and a
// pilot or drone id, and is checked before the roster and fleet queries.
// Fleet nouns win over roster words so "drones available" lists drones.
func Classify(msg string) Intent {
	text := strings.ToLower(strings.TrimSpace(msg))
	w := wordsOf(text)
	hasMission := missionIDPattern.MatchString(text)
	hasResource := pilotIDPattern.MatchString(text) || droneIDPattern.MatchString(text)

	switch {
	case text == "" || (len(w) <= 2 && w.any(greetings)):
		return IntentGreeting
	case w.any(confirmWords) && (hasMission || w["it"] || w["proposal"] || w["reassignment"] || w["assignment"] || len(w) == 1):
		return IntentConfirm
	case w.any(discardWords):
		return IntentDiscard
	case w.any(urgentWords):
		return IntentUrgent
	case w.any(conflictWords):
		return IntentConflicts
	case (hasMission || w["project"]) && w.any(suggestWords):
		return IntentSuggest
	case w.any(updateVerbs) && hasResource:
		return IntentStatusUpdate
	case w.any(fleetNouns):
		return IntentFleet
	case w.any(rosterWords):
		return IntentRoster
	case w.any(fleetWords):
		return IntentFleet
	case w.any(updateVerbs) || w["status"]:
		return IntentStatusUpdate
	case w.any(helpWords):
		return IntentHelp
	case w.any(missionWords) && (len(text) < 50 || w.any(missionListHint)):
		return IntentMissions
	}
	return IntentUnknown
}

// ids pulls the first mission, pilot and drone id out of msg, upper-cased.
func ids(msg string) (mission, pilot, drone string) {
	mission = strings.ToUpper(missionIDPattern.FindString(msg))
	pilot = strings.ToUpper(pilotIDPattern.FindString(msg))
	drone = strings.ToUpper(droneIDPattern.FindString(msg))
	return mission, pilot, drone
}
