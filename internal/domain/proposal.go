package domain

import (
	"errors"
	"fmt"
	"strings"
)

type RejectReason string

const (
	RejectSkill         RejectReason = "skill"
	RejectCertification RejectReason = "certification"
	RejectCapability    RejectReason = "capability"
	RejectLocation      RejectReason = "location"
	RejectMaintenance   RejectReason = "maintenance"
	RejectStatus        RejectReason = "status"
	RejectNotYetFree    RejectReason = "not_yet_available"
)

type Rejection struct {
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail"`
}

// Candidate is one resource considered for a mission. Score components are
// only meaningful when Eligible is true.
type Candidate struct {
	Kind            ResourceKind `json:"kind"`
	ID              string       `json:"id"`
	Status          string       `json:"status"`
	Eligible        bool         `json:"eligible"`
	Available       bool         `json:"available"`
	LocationMatch   bool         `json:"location_match"`
	CapabilityMatch bool         `json:"capability_match"`
	CurrentMission  string       `json:"current_mission,omitempty"`
	FreeAt          Date         `json:"free_at"`
	Rejections      []Rejection  `json:"rejections,omitempty"`
}

// RejectionText joins the rejection details for display.
func (c Candidate) RejectionText() string {
	parts := make([]string, 0, len(c.Rejections))
	for _, r := range c.Rejections {
		parts = append(parts, r.Detail)
	}
	return strings.Join(parts, "; ")
}

type ProposalMode string

const (
	ModeSuggest ProposalMode = "suggest"
	ModeUrgent  ProposalMode = "urgent"
)

type ProposalState string

const (
	StateProposed  ProposalState = "Proposed"
	StateConfirmed ProposalState = "Confirmed"
	StateApplied   ProposalState = "Applied"
	StateDiscarded ProposalState = "Discarded"
)

var ErrInvalidTransition = errors.New("invalid proposal transition")

var proposalTransitions = map[ProposalState][]ProposalState{
	StateProposed:  {StateConfirmed, StateDiscarded},
	StateConfirmed: {StateApplied, StateProposed, StateConfirmed},
}

// Transition returns the next state or ErrInvalidTransition. Confirmed may
// fall back to Proposed when the write-back fails, and may be confirmed
// again when the outcome of an earlier confirm was never recorded.
func (s ProposalState) Transition(to ProposalState) (ProposalState, error) {
	for _, allowed := range proposalTransitions[s] {
		if allowed == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
}

type Displacement struct {
	MissionID string `json:"mission_id"`
	EndDate   Date   `json:"end_date"`
}

// Slot is the pick for one resource kind. When Absent is set, Reason says why.
type Slot struct {
	Kind      ResourceKind  `json:"kind"`
	ID        string        `json:"id,omitempty"`
	Absent    bool          `json:"absent"`
	Reason    string        `json:"reason,omitempty"`
	Override  bool          `json:"override"`
	Displaced *Displacement `json:"displaced,omitempty"`
}

// Proposal is an unapplied assignment suggestion.
type Proposal struct {
	ID            string        `json:"id"`
	MissionID     string        `json:"mission_id"`
	Mode          ProposalMode  `json:"mode"`
	State         ProposalState `json:"state"`
	Pilot         Slot          `json:"pilot"`
	Drone         Slot          `json:"drone"`
	DisplacedFrom string        `json:"displaced_from,omitempty"`
	Caveats       []Conflict    `json:"caveats"`
	Notes         []string      `json:"notes,omitempty"`
	Explanation   []string      `json:"explanation"`
}
