// Package app wires the engine to a record store. Every call loads a fresh
// snapshot; the engine itself never touches storage.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dronecoord/internal/domain"
	"dronecoord/internal/engine"
	"dronecoord/internal/events"
	"dronecoord/internal/records"
)

// RecordStore supplies snapshots and accepts write-backs. Apply must update
// every named resource or none of them.
type RecordStore interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	Apply(ctx context.Context, a domain.Assignment) error
	SetPilotStatus(ctx context.Context, id string, status domain.PilotStatus) error
	SetDroneStatus(ctx context.Context, id string, status domain.DroneStatus) error
}

// Journal records what changed and tracks proposal lifecycles.
type Journal interface {
	Append(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) (int64, error)
	ProposalState(ctx context.Context, ticketID string) (domain.ProposalState, error)
}

// replacer is implemented by stores that accept a bulk import.
type replacer interface {
	ReplaceAll(ctx context.Context, snap domain.Snapshot) error
}

var (
	ErrWriteBack       = errors.New("write-back failed")
	ErrInvalidProposal = errors.New("invalid proposal")
	ErrInvalidStatus   = errors.New("invalid status")
)

// WriteBackError reports a confirm whose write-back did not take effect.
// The proposal stays unapplied and the confirm may be retried.
type WriteBackError struct {
	MissionID string
	Cause     error
}

func (e *WriteBackError) Error() string {
	if e.MissionID == "" {
		return fmt.Sprintf("write-back did not take effect: %v", e.Cause)
	}
	return fmt.Sprintf("write-back for mission %s did not take effect: %v", e.MissionID, e.Cause)
}

func (e *WriteBackError) Unwrap() []error { return []error{ErrWriteBack, e.Cause} }

type Coordinator struct {
	Store   RecordStore
	Journal Journal
	Engine  engine.Engine
	Log     *zap.Logger
	Secret  []byte
	// TokenTTL bounds how long a proposal can be confirmed. Zero means 24h.
	TokenTTL time.Duration
	Now      func() time.Time

	// mu serializes write-backs issued through this coordinator.
	mu sync.Mutex
}

func (c *Coordinator) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	snap, err := c.Store.Snapshot(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	for _, o := range snap.Observations {
		c.log().Debug("record observation",
			zap.String("kind", string(o.Kind)),
			zap.String("record", o.RecordKind+" "+o.RecordID),
			zap.String("detail", o.Detail))
	}
	return snap, nil
}

func (c *Coordinator) Rank(ctx context.Context, missionID string, kind domain.ResourceKind) (engine.Ranking, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return engine.Ranking{}, err
	}
	return c.Engine.RankCandidates(snap, missionID, kind)
}

func (c *Coordinator) Conflicts(ctx context.Context) (domain.ConflictReport, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return domain.ConflictReport{}, err
	}
	return c.Engine.DetectConflicts(snap), nil
}

func (c *Coordinator) Suggest(ctx context.Context, missionID string) (Ticket, error) {
	return c.advise(ctx, missionID, c.Engine.Suggest)
}

func (c *Coordinator) Urgent(ctx context.Context, missionID string) (Ticket, error) {
	return c.advise(ctx, missionID, c.Engine.UrgentReassign)
}

func (c *Coordinator) advise(ctx context.Context, missionID string, fn func(domain.Snapshot, string) (domain.Proposal, error)) (Ticket, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return Ticket{}, err
	}
	p, err := fn(snap, missionID)
	if err != nil {
		return Ticket{}, err
	}
	return c.issue(p)
}

func (c *Coordinator) Pilots(ctx context.Context, f engine.PilotFilter) ([]domain.Pilot, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return c.Engine.QueryPilots(snap, f), nil
}

func (c *Coordinator) Drones(ctx context.Context, f engine.DroneFilter) ([]domain.Drone, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return c.Engine.QueryDrones(snap, f), nil
}

func (c *Coordinator) Missions(ctx context.Context) ([]domain.Mission, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Missions, nil
}

// SetPilotStatus validates status and id against a fresh snapshot before
// writing.
func (c *Coordinator) SetPilotStatus(ctx context.Context, id, status, actorID string) (domain.Pilot, error) {
	st, ok := domain.ParsePilotStatus(status)
	if !ok {
		return domain.Pilot{}, fmt.Errorf("%w %q for pilot; want one of %s", ErrInvalidStatus, status, joinStatuses(domain.PilotStatuses))
	}
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return domain.Pilot{}, err
	}
	p, ok := snap.Pilot(id)
	if !ok {
		return domain.Pilot{}, engine.UnknownError{Kind: "pilot", ID: id}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Store.SetPilotStatus(ctx, p.ID, st); err != nil {
		return domain.Pilot{}, &WriteBackError{Cause: err}
	}
	c.journal(ctx, events.PilotStatusUpdated, "pilot", p.ID, actorID, events.EventPayload{"from": string(p.Status), "to": string(st)})
	p.Status = st
	return p, nil
}

func (c *Coordinator) SetDroneStatus(ctx context.Context, id, status, actorID string) (domain.Drone, error) {
	st, ok := domain.ParseDroneStatus(status)
	if !ok {
		return domain.Drone{}, fmt.Errorf("%w %q for drone; want one of %s", ErrInvalidStatus, status, joinStatuses(domain.DroneStatuses))
	}
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return domain.Drone{}, err
	}
	d, ok := snap.Drone(id)
	if !ok {
		return domain.Drone{}, engine.UnknownError{Kind: "drone", ID: id}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Store.SetDroneStatus(ctx, d.ID, st); err != nil {
		return domain.Drone{}, &WriteBackError{Cause: err}
	}
	c.journal(ctx, events.DroneStatusUpdated, "drone", d.ID, actorID, events.EventPayload{"from": string(d.Status), "to": string(st)})
	d.Status = st
	return d, nil
}

// ImportResult summarizes a CSV import.
type ImportResult struct {
	Pilots       int                  `json:"pilots"`
	Drones       int                  `json:"drones"`
	Missions     int                  `json:"missions"`
	Assignments  int                  `json:"assignments"`
	Observations []domain.Observation `json:"observations"`
}

// Import replaces the stored records with the CSV files in dir. Only stores
// supporting bulk replacement accept it.
func (c *Coordinator) Import(ctx context.Context, dir, actorID string) (ImportResult, error) {
	r, ok := c.Store.(replacer)
	if !ok {
		return ImportResult{}, errors.New("import needs the sqlite backend")
	}
	set, err := records.LoadDir(dir)
	if err != nil {
		return ImportResult{}, err
	}
	snap := records.Build(set)
	if err := r.ReplaceAll(ctx, snap); err != nil {
		return ImportResult{}, fmt.Errorf("store imported records: %w", err)
	}
	res := ImportResult{
		Pilots:       len(snap.Pilots),
		Drones:       len(snap.Drones),
		Missions:     len(snap.Missions),
		Assignments:  len(snap.Assignments),
		Observations: snap.Observations,
	}
	if res.Observations == nil {
		res.Observations = []domain.Observation{}
	}
	c.journal(ctx, events.RecordsImported, "records", "", actorID, events.EventPayload{
		"dir": dir, "pilots": res.Pilots, "drones": res.Drones, "missions": res.Missions,
		"assignments": res.Assignments, "observations": len(res.Observations),
	})
	c.log().Info("records imported", zap.String("dir", dir), zap.Int("pilots", res.Pilots),
		zap.Int("drones", res.Drones), zap.Int("missions", res.Missions), zap.Int("observations", len(res.Observations)))
	return res, nil
}

// journal appends an event after a change has been written. A failed
// append is logged; the change itself already took effect.
func (c *Coordinator) journal(ctx context.Context, evtType, kind, id, actorID string, payload events.EventPayload) int64 {
	eventID, err := c.record(ctx, evtType, kind, id, actorID, payload)
	if err != nil {
		c.log().Warn("journal append failed", zap.String("type", evtType), zap.String("entity_id", id), zap.Error(err))
		return 0
	}
	return eventID
}

// record appends an event the caller depends on. Proposal lifecycles are
// read back from the journal, so their events go through here.
func (c *Coordinator) record(ctx context.Context, evtType, kind, id, actorID string, payload events.EventPayload) (int64, error) {
	if c.Journal == nil {
		return 0, nil
	}
	if actorID == "" {
		actorID = "local-user"
	}
	eventID, err := c.Journal.Append(ctx, evtType, kind, id, actorID, payload)
	if err != nil {
		return 0, fmt.Errorf("record %s for %s %s: %w", evtType, kind, id, err)
	}
	return eventID, nil
}

func joinStatuses[S ~string](list []S) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
