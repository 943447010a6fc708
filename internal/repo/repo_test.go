package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronecoord/internal/db"
	"dronecoord/internal/domain"
	"dronecoord/internal/events"
	"dronecoord/internal/migrate"
	"dronecoord/internal/repo"
)

type testEnv struct {
	Repo    repo.Repo
	Journal repo.Journal
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := func() time.Time { return time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC) }
	env := testEnv{
		Repo:    repo.Repo{DB: conn},
		Journal: repo.Journal{DB: conn, Writer: events.Writer{Now: clock}},
		Ctx:     ctx,
	}
	if err := env.Repo.ReplaceAll(ctx, fixture()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return env
}

func fixture() domain.Snapshot {
	start, _ := domain.ParseDate("2024-04-10")
	end, _ := domain.ParseDate("2024-04-15")
	due, _ := domain.ParseDate("2024-05-01")
	return domain.Snapshot{
		Pilots: []domain.Pilot{
			{ID: "P001", Name: "Arjun", Skills: domain.NewTags("mapping", "thermal"), Certifications: domain.NewTags("dgca"), Location: "Bangalore", Status: domain.PilotAvailable},
			{ID: "P002", Name: "Neha", Skills: domain.NewTags("thermal"), Location: "Bangalore", Status: domain.PilotAssigned, CurrentAssignment: "PRJ005"},
		},
		Drones: []domain.Drone{
			{ID: "D001", Model: "M300", Capabilities: domain.NewTags("thermal"), Status: domain.DroneAvailable, Location: "Bangalore", MaintenanceDue: due},
		},
		Missions: []domain.Mission{
			{ID: "PRJ002", Client: "Client B", Location: "Bangalore", RequiredSkills: domain.NewTags("thermal"), StartDate: start, EndDate: end, Priority: domain.PriorityUrgent},
			{ID: "PRJ005", Client: "Client E", Location: "Bangalore", Priority: domain.PriorityNormal},
		},
		Assignments: []domain.Assignment{
			{MissionID: "PRJ005", PilotID: "P002", Source: domain.SourceExplicit},
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	snap, err := env.Repo.Snapshot(env.Ctx)
	require.NoError(t, err)

	if diff := cmp.Diff(fixture(), snap, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyBindsResources(t *testing.T) {
	env := newTestEnv(t)
	err := env.Repo.Apply(env.Ctx, domain.Assignment{MissionID: "prj002", PilotID: "p002", DroneID: "D001"})
	require.NoError(t, err)

	snap, err := env.Repo.Snapshot(env.Ctx)
	require.NoError(t, err)
	p, _ := snap.Pilot("P002")
	assert.Equal(t, domain.PilotAssigned, p.Status)
	assert.Equal(t, "prj002", p.CurrentAssignment)
	d, _ := snap.Drone("D001")
	assert.Equal(t, domain.DroneAssigned, d.Status)
	assert.Empty(t, snap.Assignments, "the explicit PRJ005 row for P002 is cleared")

	require.NoError(t, env.Repo.Apply(env.Ctx, domain.Assignment{PilotID: "P002"}))
	snap, err = env.Repo.Snapshot(env.Ctx)
	require.NoError(t, err)
	p, _ = snap.Pilot("P002")
	assert.Equal(t, domain.PilotAvailable, p.Status)
	assert.Empty(t, p.CurrentAssignment)
}

func TestApplyIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	err := env.Repo.Apply(env.Ctx, domain.Assignment{MissionID: "PRJ002", PilotID: "P001", DroneID: "D404"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	var nf repo.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "drone", nf.Kind)

	snap, err := env.Repo.Snapshot(env.Ctx)
	require.NoError(t, err)
	p, _ := snap.Pilot("P001")
	assert.Equal(t, domain.PilotAvailable, p.Status, "pilot update rolled back")
	assert.Empty(t, p.CurrentAssignment)

	err = env.Repo.Apply(env.Ctx, domain.Assignment{MissionID: "PRJ404", PilotID: "P001"})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSetStatus(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Repo.SetPilotStatus(env.Ctx, "P001", domain.PilotOnLeave))
	require.NoError(t, env.Repo.SetDroneStatus(env.Ctx, "d001", domain.DroneMaintenance))
	assert.ErrorIs(t, env.Repo.SetPilotStatus(env.Ctx, "P999", domain.PilotAvailable), repo.ErrNotFound)

	snap, err := env.Repo.Snapshot(env.Ctx)
	require.NoError(t, err)
	p, _ := snap.Pilot("P001")
	assert.Equal(t, domain.PilotOnLeave, p.Status)
	d, _ := snap.Drone("D001")
	assert.Equal(t, domain.DroneMaintenance, d.Status)
}

func TestJournal(t *testing.T) {
	env := newTestEnv(t)
	id1, err := env.Journal.Append(env.Ctx, events.ProposalConfirmed, "proposal", "prop-1", "ops", events.EventPayload{"mission_id": "PRJ002"})
	require.NoError(t, err)
	id2, err := env.Journal.Append(env.Ctx, events.AssignmentApplied, "mission", "PRJ002", "ops", nil)
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	state, err := env.Journal.ProposalState(env.Ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateConfirmed, state)
	state, err = env.Journal.ProposalState(env.Ctx, "prop-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StateProposed, state)

	latest, err := env.Journal.LatestEvents(env.Ctx, 10, repo.EventFilter{})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, events.AssignmentApplied, latest[0].Type)
	assert.Equal(t, "2024-04-01T08:00:00Z", latest[0].TS)
	assert.Equal(t, `{"mission_id":"PRJ002"}`, latest[1].Payload)

	after, err := env.Journal.EventsAfter(env.Ctx, 10, id1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, id2, after[0].ID)

	filtered, err := env.Journal.LatestEvents(env.Ctx, 10, repo.EventFilter{EntityKind: "proposal"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	maxID, err := env.Journal.LatestEventID(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, id2, maxID)
}

func TestSnapshotKeepsUnknownStatusObservations(t *testing.T) {
	env := newTestEnv(t)
	snap := fixture()
	snap.Pilots[0].Status = domain.PilotUnknown
	snap.Drones[0].Status = domain.DroneUnknown
	if err := env.Repo.ReplaceAll(env.Ctx, snap); err != nil {
		t.Fatalf("replace: %v", err)
	}
	// every read reports it, not only the import that stored it
	for i := 0; i < 2; i++ {
		got, err := env.Repo.Snapshot(env.Ctx)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		seen := map[string]bool{}
		for _, o := range got.Observations {
			if o.Kind == domain.DataIncomplete && o.Field == "status" {
				seen[o.RecordKind+" "+o.RecordID] = true
			}
		}
		if !seen["pilot P001"] || !seen["drone D001"] {
			t.Fatalf("read %d: status observations = %+v", i, got.Observations)
		}
		if p, _ := got.Pilot("P001"); p.Status != domain.PilotUnknown {
			t.Fatalf("read %d: pilot status = %s", i, p.Status)
		}
	}
}
