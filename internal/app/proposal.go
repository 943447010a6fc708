package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dronecoord/internal/domain"
	"dronecoord/internal/engine"
	"dronecoord/internal/events"
)

const defaultTokenTTL = 24 * time.Hour

// Ticket is a proposal plus the signed token a caller hands back to
// confirm or discard it. Token is empty when there is nothing to apply.
type Ticket struct {
	domain.Proposal
	TicketID string `json:"ticket_id,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Outcome is the result of a confirm or discard.
type Outcome struct {
	TicketID   string               `json:"ticket_id"`
	ProposalID string               `json:"proposal_id,omitempty"`
	State      domain.ProposalState `json:"state"`
	Assignment domain.Assignment    `json:"assignment"`
	Displaced  string               `json:"displaced_from,omitempty"`
	EventID    int64                `json:"event_id,omitempty"`
}

// proposalClaims carries the exact identifiers a confirm writes back.
type proposalClaims struct {
	jwt.RegisteredClaims
	MissionID     string `json:"mission_id"`
	PilotID       string `json:"pilot_id,omitempty"`
	DroneID       string `json:"drone_id,omitempty"`
	Mode          string `json:"mode"`
	DisplacedFrom string `json:"displaced_from,omitempty"`
}

func (c *Coordinator) issue(p domain.Proposal) (Ticket, error) {
	t := Ticket{Proposal: p}
	if p.Pilot.Absent && p.Drone.Absent {
		return t, nil
	}
	if len(c.Secret) == 0 {
		return Ticket{}, errors.New("proposal signing secret not configured")
	}
	ttl := c.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := c.now()
	t.TicketID = uuid.NewString()
	claims := proposalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.TicketID,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		MissionID:     p.MissionID,
		Mode:          string(p.Mode),
		DisplacedFrom: p.DisplacedFrom,
	}
	if !p.Pilot.Absent {
		claims.PilotID = p.Pilot.ID
	}
	if !p.Drone.Absent {
		claims.DroneID = p.Drone.ID
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.Secret)
	if err != nil {
		return Ticket{}, fmt.Errorf("sign proposal: %w", err)
	}
	t.Token = token
	return t, nil
}

func (c *Coordinator) verify(token string) (proposalClaims, error) {
	var claims proposalClaims
	if len(c.Secret) == 0 {
		return claims, fmt.Errorf("%w: signing secret not configured", ErrInvalidProposal)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.Secret, nil
	})
	if err != nil {
		return claims, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	if !parsed.Valid || claims.ID == "" || claims.MissionID == "" || (claims.PilotID == "" && claims.DroneID == "") {
		return claims, fmt.Errorf("%w: incomplete token", ErrInvalidProposal)
	}
	return claims, nil
}

// Confirm applies the proposal carried by token. The lifecycle moves
// Proposed → Confirmed → Applied; a failed write-back returns it to
// Proposed so the confirm can be retried. A ticket left Confirmed because
// its outcome could not be recorded may also be confirmed again.
func (c *Coordinator) Confirm(ctx context.Context, token, actorID string) (Outcome, error) {
	claims, err := c.verify(token)
	if err != nil {
		return Outcome{}, err
	}
	return c.confirm(ctx, claims, actorID)
}

// ConfirmIDs confirms an assignment named directly by ids, as in "confirm
// reassignment PRJ002 to P002 and D003".
func (c *Coordinator) ConfirmIDs(ctx context.Context, missionID, pilotID, droneID, actorID string) (Outcome, error) {
	if missionID == "" || (pilotID == "" && droneID == "") {
		return Outcome{}, fmt.Errorf("%w: a mission and at least one pilot or drone are required", ErrInvalidProposal)
	}
	claims := proposalClaims{
		RegisteredClaims: jwt.RegisteredClaims{ID: uuid.NewString()},
		MissionID:        missionID,
		PilotID:          pilotID,
		DroneID:          droneID,
		Mode:             "direct",
	}
	return c.confirm(ctx, claims, actorID)
}

func (c *Coordinator) confirm(ctx context.Context, claims proposalClaims, actorID string) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Outcome{
		TicketID:   claims.ID,
		ProposalID: claims.Subject,
		Assignment: domain.Assignment{MissionID: claims.MissionID, PilotID: claims.PilotID, DroneID: claims.DroneID},
		Displaced:  claims.DisplacedFrom,
	}
	state, err := c.state(ctx, claims.ID)
	if err != nil {
		return Outcome{}, err
	}
	if state, err = state.Transition(domain.StateConfirmed); err != nil {
		return Outcome{}, err
	}
	payload := events.EventPayload{
		"proposal_id": claims.Subject,
		"mode":        claims.Mode,
		"mission_id":  claims.MissionID,
		"pilot_id":    claims.PilotID,
		"drone_id":    claims.DroneID,
	}
	if _, err := c.record(ctx, events.ProposalConfirmed, "proposal", claims.ID, actorID, payload); err != nil {
		return Outcome{}, err
	}

	if err := c.writeBack(ctx, &out); err != nil {
		c.log().Warn("write-back failed", zap.String("ticket_id", claims.ID), zap.String("mission_id", claims.MissionID), zap.Error(err))
		if _, jerr := c.record(ctx, events.ProposalApplyFailed, "proposal", claims.ID, actorID, events.EventPayload{"mission_id": claims.MissionID, "error": err.Error()}); jerr != nil {
			return Outcome{}, errors.Join(err, jerr)
		}
		return Outcome{}, err
	}
	if out.State, err = state.Transition(domain.StateApplied); err != nil {
		return Outcome{}, err
	}
	// The assignment event goes first so a ticket never reads Applied
	// without one. If either append fails the ticket stays Confirmed and a
	// repeated confirm rewrites the same assignment and records both.
	if out.EventID, err = c.record(ctx, events.AssignmentApplied, "mission", out.Assignment.MissionID, actorID, events.EventPayload{
		"pilot_id":       out.Assignment.PilotID,
		"drone_id":       out.Assignment.DroneID,
		"displaced_from": out.Displaced,
		"ticket_id":      claims.ID,
	}); err != nil {
		return Outcome{}, err
	}
	if _, err := c.record(ctx, events.ProposalApplied, "proposal", claims.ID, actorID, payload); err != nil {
		return Outcome{}, err
	}
	c.log().Info("assignment applied",
		zap.String("ticket_id", claims.ID),
		zap.String("mission_id", out.Assignment.MissionID),
		zap.String("pilot_id", out.Assignment.PilotID),
		zap.String("drone_id", out.Assignment.DroneID))
	return out, nil
}

// writeBack resolves ids against a fresh snapshot, then applies. Record ids
// are written in their stored spelling.
func (c *Coordinator) writeBack(ctx context.Context, out *Outcome) error {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return &WriteBackError{MissionID: out.Assignment.MissionID, Cause: err}
	}
	a := &out.Assignment
	m, ok := snap.Mission(a.MissionID)
	if !ok {
		return engine.UnknownError{Kind: "mission", ID: a.MissionID}
	}
	a.MissionID = m.ID
	if a.PilotID != "" {
		p, ok := snap.Pilot(a.PilotID)
		if !ok {
			return engine.UnknownError{Kind: "pilot", ID: a.PilotID}
		}
		a.PilotID = p.ID
	}
	if a.DroneID != "" {
		d, ok := snap.Drone(a.DroneID)
		if !ok {
			return engine.UnknownError{Kind: "drone", ID: a.DroneID}
		}
		a.DroneID = d.ID
	}
	a.Source = domain.SourceExplicit
	if err := c.Store.Apply(ctx, *a); err != nil {
		return &WriteBackError{MissionID: a.MissionID, Cause: err}
	}
	return nil
}

// Discard closes a proposal without writing anything.
func (c *Coordinator) Discard(ctx context.Context, token, actorID string) (Outcome, error) {
	claims, err := c.verify(token)
	if err != nil {
		return Outcome{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	state, err := c.state(ctx, claims.ID)
	if err != nil {
		return Outcome{}, err
	}
	if state, err = state.Transition(domain.StateDiscarded); err != nil {
		return Outcome{}, err
	}
	eventID, err := c.record(ctx, events.ProposalDiscarded, "proposal", claims.ID, actorID, events.EventPayload{"proposal_id": claims.Subject, "mission_id": claims.MissionID})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		TicketID:   claims.ID,
		ProposalID: claims.Subject,
		State:      state,
		Assignment: domain.Assignment{MissionID: claims.MissionID, PilotID: claims.PilotID, DroneID: claims.DroneID},
		Displaced:  claims.DisplacedFrom,
		EventID:    eventID,
	}, nil
}

// state reads the recorded lifecycle. Without a journal every ticket is
// Proposed.
func (c *Coordinator) state(ctx context.Context, ticketID string) (domain.ProposalState, error) {
	if c.Journal == nil {
		return domain.StateProposed, nil
	}
	st, err := c.Journal.ProposalState(ctx, ticketID)
	if err != nil {
		return "", fmt.Errorf("read proposal state: %w", err)
	}
	return st, nil
}
