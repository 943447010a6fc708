package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dronecoord/internal/app"
	"dronecoord/internal/db"
	"dronecoord/internal/domain"
	"dronecoord/internal/engine"
	"dronecoord/internal/events"
	"dronecoord/internal/migrate"
	"dronecoord/internal/records"
	"dronecoord/internal/repo"
)

type testEnv struct {
	Coord   *app.Coordinator
	Repo    repo.Repo
	Journal repo.Journal
	Ctx     context.Context
	clock   *time.Time
}

// failingStore wraps a store and fails every Apply.
type failingStore struct {
	app.RecordStore
}

func (failingStore) Apply(context.Context, domain.Assignment) error {
	return errors.New("sheet is read-only")
}

// flakyJournal fails the next appends of one event type.
type flakyJournal struct {
	app.Journal
	failType string
	failures int
}

func (j *flakyJournal) Append(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) (int64, error) {
	if evtType == j.failType && j.failures > 0 {
		j.failures--
		return 0, errors.New("journal unavailable")
	}
	return j.Journal.Append(ctx, evtType, entityKind, entityID, actorID, payload)
}

func day(t *testing.T, s string) domain.Date {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func fixture(t *testing.T) domain.Snapshot {
	return domain.Snapshot{
		Pilots: []domain.Pilot{
			{ID: "P001", Name: "Arjun", Skills: domain.NewTags("mapping"), Certifications: domain.NewTags("dgca"), Location: "Bangalore", Status: domain.PilotAvailable},
			{ID: "P002", Name: "Neha", Skills: domain.NewTags("thermal"), Certifications: domain.NewTags("dgca"), Location: "Bangalore", Status: domain.PilotAssigned, CurrentAssignment: "PRJ005"},
		},
		Drones: []domain.Drone{
			{ID: "D001", Model: "M300", Capabilities: domain.NewTags("thermal", "rgb"), Status: domain.DroneAvailable, Location: "Bangalore"},
			{ID: "D002", Model: "Mavic", Capabilities: domain.NewTags("rgb"), Status: domain.DroneMaintenance, Location: "Bangalore"},
		},
		Missions: []domain.Mission{
			{ID: "PRJ002", Client: "Client B", Location: "Bangalore", RequiredSkills: domain.NewTags("thermal"), RequiredCertifications: domain.NewTags("dgca"),
				StartDate: day(t, "2024-04-10"), EndDate: day(t, "2024-04-15"), Priority: domain.PriorityUrgent},
			{ID: "PRJ005", Client: "Client E", Location: "Bangalore", RequiredSkills: domain.NewTags("thermal"),
				StartDate: day(t, "2024-04-05"), EndDate: day(t, "2024-04-20"), Priority: domain.PriorityNormal},
		},
	}
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := repo.Repo{DB: conn}
	require.NoError(t, r.ReplaceAll(ctx, fixture(t)))
	journal := repo.Journal{DB: conn, Writer: events.Writer{Now: clock}}
	log := zaptest.NewLogger(t)
	eng := engine.New(engine.DefaultRules(), log)
	eng.Now = clock
	return testEnv{
		Coord: &app.Coordinator{
			Store:   r,
			Journal: journal,
			Engine:  eng,
			Log:     log,
			Secret:  []byte("test-secret"),
			Now:     func() time.Time { return now },
		},
		Repo:    r,
		Journal: journal,
		Ctx:     ctx,
		clock:   &now,
	}
}

func TestUrgentConfirmAppliesAndJournals(t *testing.T) {
	env := newTestEnv(t)
	ticket, err := env.Coord.Urgent(env.Ctx, "PRJ002")
	require.NoError(t, err)
	assert.Equal(t, "P002", ticket.Pilot.ID)
	assert.Equal(t, "PRJ005", ticket.DisplacedFrom)
	assert.Equal(t, "D001", ticket.Drone.ID)
	require.NotEmpty(t, ticket.Token)

	snap, err := env.Repo.Snapshot(env.Ctx)
	require.NoError(t, err)
	p, _ := snap.Pilot("P002")
	assert.Equal(t, "PRJ005", p.CurrentAssignment, "nothing is written before confirm")

	out, err := env.Coord.Confirm(env.Ctx, ticket.Token, "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StateApplied, out.State)
	assert.Equal(t, "PRJ002", out.Assignment.MissionID)
	assert.Equal(t, "PRJ005", out.Displaced)
	assert.NotZero(t, out.EventID)

	snap, err = env.Repo.Snapshot(env.Ctx)
	require.NoError(t, err)
	p, _ = snap.Pilot("P002")
	assert.Equal(t, "PRJ002", p.CurrentAssignment)
	d, _ := snap.Drone("D001")
	assert.Equal(t, domain.DroneAssigned, d.Status)

	state, err := env.Journal.ProposalState(env.Ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateApplied, state)

	_, err = env.Coord.Confirm(env.Ctx, ticket.Token, "ops")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "a ticket applies once")

	applied, err := env.Journal.LatestEvents(env.Ctx, 10, repo.EventFilter{Type: events.AssignmentApplied})
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "PRJ002", applied[0].EntityID)
	assert.Equal(t, "ops", applied[0].ActorID)
}

func TestConfirmWriteBackFailureKeepsProposal(t *testing.T) {
	env := newTestEnv(t)
	ticket, err := env.Coord.Urgent(env.Ctx, "PRJ002")
	require.NoError(t, err)

	env.Coord.Store = failingStore{RecordStore: env.Repo}
	_, err = env.Coord.Confirm(env.Ctx, ticket.Token, "ops")
	require.Error(t, err)
	assert.ErrorIs(t, err, app.ErrWriteBack)
	var wb *app.WriteBackError
	require.True(t, errors.As(err, &wb))
	assert.Equal(t, "PRJ002", wb.MissionID)

	state, err := env.Journal.ProposalState(env.Ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateProposed, state)

	env.Coord.Store = env.Repo
	out, err := env.Coord.Confirm(env.Ctx, ticket.Token, "ops")
	require.NoError(t, err, "a failed confirm can be retried")
	assert.Equal(t, domain.StateApplied, out.State)
}

func TestConfirmUnrecordedFailureCanBeRetried(t *testing.T) {
	env := newTestEnv(t)
	ticket, err := env.Coord.Urgent(env.Ctx, "PRJ002")
	if err != nil {
		t.Fatalf("urgent: %v", err)
	}
	env.Coord.Store = failingStore{RecordStore: env.Repo}
	env.Coord.Journal = &flakyJournal{Journal: env.Journal, failType: events.ProposalApplyFailed, failures: 1}

	_, err = env.Coord.Confirm(env.Ctx, ticket.Token, "ops")
	if !errors.Is(err, app.ErrWriteBack) {
		t.Fatalf("expected write-back error, got %v", err)
	}
	if !strings.Contains(err.Error(), "journal unavailable") {
		t.Fatalf("expected the journal failure to be reported, got %v", err)
	}
	state, err := env.Journal.ProposalState(env.Ctx, ticket.TicketID)
	if err != nil || state != domain.StateConfirmed {
		t.Fatalf("state = %s, %v", state, err)
	}

	env.Coord.Store = env.Repo
	out, err := env.Coord.Confirm(env.Ctx, ticket.Token, "ops")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.State != domain.StateApplied {
		t.Fatalf("retry state = %s", out.State)
	}
}

func TestConfirmUnrecordedApplyIsReported(t *testing.T) {
	env := newTestEnv(t)
	ticket, err := env.Coord.Urgent(env.Ctx, "PRJ002")
	if err != nil {
		t.Fatalf("urgent: %v", err)
	}
	env.Coord.Journal = &flakyJournal{Journal: env.Journal, failType: events.ProposalApplied, failures: 1}

	if _, err := env.Coord.Confirm(env.Ctx, ticket.Token, "ops"); err == nil {
		t.Fatalf("expected an error when the applied event cannot be recorded")
	}
	snap, err := env.Repo.Snapshot(env.Ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if p, _ := snap.Pilot("P002"); p.CurrentAssignment != "PRJ002" {
		t.Fatalf("write-back should have taken effect, pilot on %q", p.CurrentAssignment)
	}
	state, err := env.Journal.ProposalState(env.Ctx, ticket.TicketID)
	if err != nil || state != domain.StateConfirmed {
		t.Fatalf("state = %s, %v", state, err)
	}

	out, err := env.Coord.Confirm(env.Ctx, ticket.Token, "ops")
	if err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if out.State != domain.StateApplied {
		t.Fatalf("repeat state = %s", out.State)
	}
	state, err = env.Journal.ProposalState(env.Ctx, ticket.TicketID)
	if err != nil || state != domain.StateApplied {
		t.Fatalf("state after repeat = %s, %v", state, err)
	}
	if _, err := env.Coord.Confirm(env.Ctx, ticket.Token, "ops"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("an applied ticket must not apply again, got %v", err)
	}
}

func TestDiscard(t *testing.T) {
	env := newTestEnv(t)
	ticket, err := env.Coord.Suggest(env.Ctx, "PRJ002")
	require.NoError(t, err)

	out, err := env.Coord.Discard(env.Ctx, ticket.Token, "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDiscarded, out.State)

	_, err = env.Coord.Confirm(env.Ctx, ticket.Token, "ops")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	snap, err := env.Repo.Snapshot(env.Ctx)
	require.NoError(t, err)
	d, _ := snap.Drone("D001")
	assert.Equal(t, domain.DroneAvailable, d.Status)
}

func TestConfirmRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	ticket, err := env.Coord.Urgent(env.Ctx, "PRJ002")
	require.NoError(t, err)

	_, err = env.Coord.Confirm(env.Ctx, ticket.Token+"x", "ops")
	assert.ErrorIs(t, err, app.ErrInvalidProposal)

	other := &app.Coordinator{Store: env.Repo, Journal: env.Journal, Engine: env.Coord.Engine, Secret: []byte("another-secret")}
	_, err = other.Confirm(env.Ctx, ticket.Token, "ops")
	assert.ErrorIs(t, err, app.ErrInvalidProposal)

	*env.clock = env.clock.Add(48 * time.Hour)
	_, err = env.Coord.Confirm(env.Ctx, ticket.Token, "ops")
	assert.ErrorIs(t, err, app.ErrInvalidProposal, "expired")
}

func TestConfirmIDs(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.Coord.ConfirmIDs(env.Ctx, "prj002", "p002", "d001", "")
	require.NoError(t, err)
	assert.Equal(t, domain.Assignment{MissionID: "PRJ002", PilotID: "P002", DroneID: "D001", Source: domain.SourceExplicit}, out.Assignment)

	_, err = env.Coord.ConfirmIDs(env.Ctx, "PRJ002", "P404", "", "")
	assert.ErrorIs(t, err, engine.ErrUnknownResource)
	_, err = env.Coord.ConfirmIDs(env.Ctx, "PRJ404", "P001", "", "")
	assert.ErrorIs(t, err, engine.ErrUnknownMission)
	_, err = env.Coord.ConfirmIDs(env.Ctx, "PRJ002", "", "", "")
	assert.ErrorIs(t, err, app.ErrInvalidProposal)
}

func TestAbsentProposalHasNoToken(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Repo.SetPilotStatus(env.Ctx, "P002", domain.PilotOnLeave))
	require.NoError(t, env.Repo.SetDroneStatus(env.Ctx, "D001", domain.DroneMaintenance))

	ticket, err := env.Coord.Urgent(env.Ctx, "PRJ002")
	require.NoError(t, err)
	assert.True(t, ticket.Pilot.Absent)
	assert.True(t, ticket.Drone.Absent)
	assert.Empty(t, ticket.Token)
}

func TestSetStatus(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Coord.SetPilotStatus(env.Ctx, "p001", "on leave", "ops")
	require.NoError(t, err)
	assert.Equal(t, "P001", p.ID)
	assert.Equal(t, domain.PilotOnLeave, p.Status)

	_, err = env.Coord.SetPilotStatus(env.Ctx, "P001", "sleeping", "ops")
	assert.ErrorIs(t, err, app.ErrInvalidStatus)
	_, err = env.Coord.SetDroneStatus(env.Ctx, "D999", "Available", "ops")
	assert.ErrorIs(t, err, engine.ErrUnknownResource)

	d, err := env.Coord.SetDroneStatus(env.Ctx, "D002", "available", "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.DroneAvailable, d.Status)

	evts, err := env.Journal.LatestEvents(env.Ctx, 10, repo.EventFilter{EntityKind: "pilot"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.PilotStatusUpdated, evts[0].Type)
	assert.JSONEq(t, `{"from":"Available","to":"On Leave"}`, evts[0].Payload)
}

func TestQueriesAndConflicts(t *testing.T) {
	env := newTestEnv(t)
	pilots, err := env.Coord.Pilots(env.Ctx, engine.PilotFilter{Skill: "thermal"})
	require.NoError(t, err)
	require.Len(t, pilots, 1)
	assert.Equal(t, "P002", pilots[0].ID)

	drones, err := env.Coord.Drones(env.Ctx, engine.DroneFilter{Status: "maintenance"})
	require.NoError(t, err)
	require.Len(t, drones, 1)
	assert.Equal(t, "D002", drones[0].ID)

	report, err := env.Coord.Conflicts(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Conflicts)

	ranking, err := env.Coord.Rank(env.Ctx, "PRJ002", domain.KindPilot)
	require.NoError(t, err)
	assert.Equal(t, []string{"P002"}, ranking.IDs())

	_, err = env.Coord.Rank(env.Ctx, "PRJ999", domain.KindPilot)
	assert.ErrorIs(t, err, engine.ErrUnknownMission)
}

func TestImport(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write(records.PilotsFile, "pilot_id,name,skills,certifications,location,status,current_assignment\nP010,Kiran,Survey,DGCA,Pune,Available,\n")
	write(records.DronesFile, "drone_id,model,capabilities,status,location,current_assignment,maintenance_due\nD010,Matrice,RGB,Available,Pune,,\n")
	write(records.MissionsFile, "project_id,client,location,required_skills,required_certs,start_date,end_date,priority\nPRJ010,Client J,Pune,Survey,DGCA,2024-05-01,2024-05-03,Normal\n")

	res, err := env.Coord.Import(env.Ctx, dir, "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pilots)
	assert.Equal(t, 1, res.Missions)
	assert.Empty(t, res.Observations)

	missions, err := env.Coord.Missions(env.Ctx)
	require.NoError(t, err)
	require.Len(t, missions, 1)
	assert.Equal(t, "PRJ010", missions[0].ID)

	env.Coord.Store = failingStore{RecordStore: env.Repo}
	_, err = env.Coord.Import(env.Ctx, dir, "ops")
	assert.ErrorContains(t, err, "sqlite backend")
}
