package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dronecoord/internal/domain"
	"dronecoord/internal/events"
)

// Journal appends events to the workspace database.
type Journal struct {
	DB     *sql.DB
	Writer events.Writer
}

// Append writes one event in its own transaction and returns its id.
func (j Journal) Append(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) (int64, error) {
	tx, err := j.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	id, err := j.Writer.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", evtType, err)
	}
	return id, tx.Commit()
}

// EventFilter narrows LatestEvents. Empty fields match everything.
type EventFilter struct {
	Type       string
	EntityKind string
	EntityID   string
	// Before only returns events with smaller ids when positive.
	Before int64
}

// LatestEvents returns up to limit events, newest first.
func (j Journal) LatestEvents(ctx context.Context, limit int, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=? COLLATE NOCASE")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return j.query(ctx, query, args...)
}

// EventsAfter returns events with ids greater than the cursor in ascending order.
func (j Journal) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return j.query(ctx, `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event id, or 0 on an empty journal.
func (j Journal) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := j.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// ProposalState returns the lifecycle state recorded for a proposal id.
// A proposal with no recorded transition is Proposed.
func (j Journal) ProposalState(ctx context.Context, proposalID string) (domain.ProposalState, error) {
	var evtType string
	err := j.DB.QueryRowContext(ctx, `SELECT type FROM events WHERE entity_kind='proposal' AND entity_id=? AND type IN (?,?,?,?) ORDER BY id DESC LIMIT 1`,
		proposalID, events.ProposalConfirmed, events.ProposalApplied, events.ProposalApplyFailed, events.ProposalDiscarded).Scan(&evtType)
	if err == sql.ErrNoRows {
		return domain.StateProposed, nil
	}
	if err != nil {
		return "", err
	}
	switch evtType {
	case events.ProposalConfirmed:
		return domain.StateConfirmed, nil
	case events.ProposalApplied:
		return domain.StateApplied, nil
	case events.ProposalDiscarded:
		return domain.StateDiscarded, nil
	default:
		return domain.StateProposed, nil
	}
}

func (j Journal) query(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := j.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
