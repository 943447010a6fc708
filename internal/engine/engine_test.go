package engine_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dronecoord/internal/domain"
	"dronecoord/internal/engine"
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	eng := engine.New(engine.DefaultRules(), zaptest.NewLogger(t))
	eng.Now = func() time.Time { return time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC) }
	return eng
}

func day(t *testing.T, s string) domain.Date {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

// bangalore is the PRJ002 scenario: an urgent thermal mission with one
// Available and one Assigned thermal pilot on site.
func bangalore(t *testing.T) domain.Snapshot {
	return domain.Snapshot{
		Pilots: []domain.Pilot{
			{ID: "P001", Name: "Arjun", Skills: domain.NewTags("Thermal", "Mapping"), Certifications: domain.NewTags("DGCA"), Location: "Bangalore", Status: domain.PilotAvailable},
			{ID: "P002", Name: "Neha", Skills: domain.NewTags("thermal"), Certifications: domain.NewTags("dgca"), Location: "Bangalore", Status: domain.PilotAssigned, CurrentAssignment: "PRJ005"},
		},
		Drones: []domain.Drone{
			{ID: "D001", Model: "M300", Capabilities: domain.NewTags("thermal", "rgb"), Status: domain.DroneAvailable, Location: "Bangalore"},
			{ID: "D002", Model: "Mavic 3T", Capabilities: domain.NewTags("thermal"), Status: domain.DroneAssigned, Location: "Bangalore", CurrentAssignment: "PRJ005"},
		},
		Missions: []domain.Mission{
			{ID: "PRJ002", Client: "Client B", Location: "Bangalore", RequiredSkills: domain.NewTags("thermal"), RequiredCertifications: domain.NewTags("dgca"), StartDate: day(t, "2024-04-10"), EndDate: day(t, "2024-04-15"), Priority: domain.PriorityUrgent},
			{ID: "PRJ005", Client: "Client E", Location: "Bangalore", RequiredSkills: domain.NewTags("thermal"), StartDate: day(t, "2024-04-01"), EndDate: day(t, "2024-04-20"), Priority: domain.PriorityNormal},
		},
	}
}

func TestSuggestPrefersAvailablePilot(t *testing.T) {
	eng := newEngine(t)
	p, err := eng.Suggest(bangalore(t), "PRJ002")
	require.NoError(t, err)

	assert.Equal(t, "PRJ002", p.MissionID)
	assert.Equal(t, domain.StateProposed, p.State)
	assert.Equal(t, domain.ModeSuggest, p.Mode)
	assert.Equal(t, "P001", p.Pilot.ID)
	assert.False(t, p.Pilot.Override)
	assert.Equal(t, "D001", p.Drone.ID)
	assert.Empty(t, p.DisplacedFrom)
	assert.Empty(t, p.Caveats)
	assert.NotEmpty(t, p.ID)
}

func TestUrgentReassignDisplacesAssignedPilot(t *testing.T) {
	snap := bangalore(t)
	snap.Pilots[0].Skills = domain.NewTags("mapping")
	eng := newEngine(t)

	p, err := eng.UrgentReassign(snap, "PRJ002")
	require.NoError(t, err)
	assert.Equal(t, "P002", p.Pilot.ID)
	assert.True(t, p.Pilot.Override)
	require.NotNil(t, p.Pilot.Displaced)
	assert.Equal(t, "PRJ005", p.Pilot.Displaced.MissionID)
	assert.Equal(t, "2024-04-20", p.Pilot.Displaced.EndDate.String())
	assert.Equal(t, "PRJ005", p.DisplacedFrom)
	assert.Equal(t, "D001", p.Drone.ID)
	assert.Nil(t, p.Drone.Displaced)
	assert.Contains(t, strings.Join(p.Explanation, "\n"), "displaces PRJ005 ending 2024-04-20")

	// Normal mode never takes a busy pilot.
	s, err := eng.Suggest(snap, "PRJ002")
	require.NoError(t, err)
	assert.True(t, s.Pilot.Absent)
	assert.Contains(t, s.Pilot.Reason, "use urgent reassignment")
	assert.Contains(t, s.Pilot.Reason, "P002 on PRJ005 until 2024-04-20")
}

func TestUrgentReassignAttachesCaveats(t *testing.T) {
	snap := bangalore(t)
	snap.Pilots[0].Skills = domain.NewTags("mapping")
	snap.Missions[1].Location = "Chennai"

	p, err := newEngine(t).UrgentReassign(snap, "PRJ002")
	require.NoError(t, err)
	require.Len(t, p.Caveats, 1)
	assert.Equal(t, domain.LocationMismatch, p.Caveats[0].Kind)
	assert.Equal(t, "P002", p.Caveats[0].SubjectID)
	assert.Contains(t, strings.Join(p.Explanation, "\n"), "Caveat: pilot P002 is in Bangalore but PRJ005 is in Chennai")
}

func TestUrgentReassignLeastImpact(t *testing.T) {
	snap := domain.Snapshot{
		Pilots: []domain.Pilot{
			{ID: "P001", Skills: domain.NewTags("survey"), Location: "Pune", Status: domain.PilotAssigned, CurrentAssignment: "PRJ010"},
			{ID: "P002", Skills: domain.NewTags("survey"), Location: "Pune", Status: domain.PilotAssigned, CurrentAssignment: "PRJ011"},
		},
		Drones: []domain.Drone{
			{ID: "D001", Capabilities: domain.NewTags("rgb"), Status: domain.DroneAvailable, Location: "Pune"},
		},
		Missions: []domain.Mission{
			{ID: "PRJ010", Location: "Pune", StartDate: day(t, "2024-04-25"), EndDate: day(t, "2024-05-10")},
			{ID: "PRJ011", Location: "Pune", StartDate: day(t, "2024-04-20"), EndDate: day(t, "2024-05-01")},
			{ID: "PRJ100", Location: "Pune", RequiredSkills: domain.NewTags("survey"), StartDate: day(t, "2024-04-28"), EndDate: day(t, "2024-05-12"), Priority: domain.PriorityUrgent},
		},
	}
	eng := newEngine(t)

	p, err := eng.UrgentReassign(snap, "PRJ100")
	require.NoError(t, err)
	assert.Equal(t, "P002", p.Pilot.ID)
	assert.Equal(t, "PRJ011", p.DisplacedFrom)
	assert.Contains(t, strings.Join(p.Explanation, "\n"), "the soonest end among 2 Assigned alternatives")

	ranking, err := eng.RankCandidates(snap, "PRJ100", domain.KindPilot)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"P002", "P001"}, ranking.IDs()); diff != "" {
		t.Fatalf("ranking mismatch (-want +got):\n%s", diff)
	}
}

func TestSuggestTakesAssignedPilotFreeForDates(t *testing.T) {
	snap := bangalore(t)
	snap.Pilots[0].Skills = domain.NewTags("mapping")
	snap.Missions[1].EndDate = day(t, "2024-04-05")

	p, err := newEngine(t).Suggest(snap, "PRJ002")
	require.NoError(t, err)
	assert.Equal(t, "P002", p.Pilot.ID)
	assert.False(t, p.Pilot.Override)
	assert.Nil(t, p.Pilot.Displaced)
	assert.Empty(t, p.DisplacedFrom)
}

func TestUrgentNeverSelectsMaintenanceDrone(t *testing.T) {
	snap := bangalore(t)
	snap.Drones = []domain.Drone{
		{ID: "D003", Capabilities: domain.NewTags("thermal"), Status: domain.DroneMaintenance, Location: "Bangalore"},
		{ID: "D004", Capabilities: domain.NewTags("rgb"), Status: domain.DroneAvailable, Location: "Bangalore"},
	}

	for _, advise := range []func(domain.Snapshot, string) (domain.Proposal, error){
		newEngine(t).UrgentReassign,
		newEngine(t).Suggest,
	} {
		p, err := advise(snap, "PRJ002")
		require.NoError(t, err)
		assert.True(t, p.Drone.Absent)
		assert.Empty(t, p.Drone.ID)
		assert.False(t, p.Drone.Override)
		assert.True(t, strings.HasPrefix(p.Drone.Reason, "in maintenance"), p.Drone.Reason)
		assert.Equal(t, "P001", p.Pilot.ID)
	}
}

func TestAbsentSlotReasons(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Snapshot)
		want   string
	}{
		{
			name: "skill",
			mutate: func(s *domain.Snapshot) {
				s.Pilots = s.Pilots[:1]
				s.Pilots[0].Skills = domain.NewTags("mapping")
			},
			want: "no match on skill/cert",
		},
		{
			name: "location",
			mutate: func(s *domain.Snapshot) {
				s.Pilots = s.Pilots[:1]
				s.Pilots[0].Location = "Mumbai"
			},
			want: "none at the required location Bangalore",
		},
		{
			name: "status",
			mutate: func(s *domain.Snapshot) {
				s.Pilots = s.Pilots[:1]
				s.Pilots[0].Status = domain.PilotOnLeave
			},
			want: "none available: P001 is on leave",
		},
		{
			name:   "empty roster",
			mutate: func(s *domain.Snapshot) { s.Pilots = nil },
			want:   "no pilots on record",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := bangalore(t)
			tc.mutate(&snap)
			p, err := newEngine(t).Suggest(snap, "PRJ002")
			require.NoError(t, err)
			assert.True(t, p.Pilot.Absent)
			assert.Contains(t, p.Pilot.Reason, tc.want)
		})
	}
}

func TestRankCandidatesOrderAndEligibility(t *testing.T) {
	snap := domain.Snapshot{
		Missions: []domain.Mission{
			{ID: "PRJ050", Location: "Delhi", RequiredSkills: domain.NewTags("survey"), RequiredCertifications: domain.NewTags("bvlos"), StartDate: day(t, "2024-06-01"), EndDate: day(t, "2024-06-05")},
			{ID: "PRJ051", Location: "Delhi", StartDate: day(t, "2024-04-01"), EndDate: day(t, "2024-04-20")},
			{ID: "PRJ052", Location: "Delhi", StartDate: day(t, "2024-04-01"), EndDate: day(t, "2024-04-18")},
			{ID: "PRJ053", Location: "Delhi"},
		},
	}
	pilot := func(id string, status domain.PilotStatus, current string) domain.Pilot {
		return domain.Pilot{ID: id, Skills: domain.NewTags("survey", "mapping"), Certifications: domain.NewTags("bvlos"), Location: "Delhi", Status: status, CurrentAssignment: current}
	}
	snap.Pilots = []domain.Pilot{
		pilot("P003", domain.PilotAvailable, ""),
		pilot("P001", domain.PilotAvailable, ""),
		pilot("P004", domain.PilotAssigned, "PRJ051"),
		pilot("P002", domain.PilotAssigned, "PRJ052"),
		pilot("P005", domain.PilotAssigned, "PRJ053"),
		pilot("P006", domain.PilotOnLeave, ""),
		pilot("P007", domain.PilotAvailable, ""),
		pilot("P008", domain.PilotAvailable, ""),
		pilot("P009", domain.PilotAvailable, ""),
		pilot("P010", domain.PilotAvailable, ""),
	}
	snap.Pilots[6].Location = "Mumbai"
	snap.Pilots[7].Skills = domain.NewTags("mapping")
	snap.Pilots[8].AvailableFrom = day(t, "2024-06-03")
	snap.Pilots[9].Certifications = nil

	eng := newEngine(t)
	got, err := eng.RankCandidates(snap, "PRJ050", domain.KindPilot)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"P001", "P003", "P002", "P004", "P005"}, got.IDs()); diff != "" {
		t.Fatalf("eligible order mismatch (-want +got):\n%s", diff)
	}
	m, _ := snap.Mission("PRJ050")
	for _, c := range got.Eligible {
		p, ok := snap.Pilot(c.ID)
		require.True(t, ok)
		assert.True(t, p.Skills.Covers(m.RequiredSkills), c.ID)
		assert.True(t, p.Certifications.Covers(m.RequiredCertifications), c.ID)
		assert.True(t, domain.SameLocation(p.Location, m.Location), c.ID)
		assert.Empty(t, c.Rejections)
	}
	assert.Equal(t, "2024-04-18", got.Eligible[2].FreeAt.String())
	assert.True(t, got.Eligible[4].FreeAt.IsZero())

	reasons := map[string]domain.RejectReason{}
	for _, c := range got.Rejected {
		require.Len(t, c.Rejections, 1, c.ID)
		reasons[c.ID] = c.Rejections[0].Reason
	}
	want := map[string]domain.RejectReason{
		"P006": domain.RejectStatus,
		"P007": domain.RejectLocation,
		"P008": domain.RejectSkill,
		"P009": domain.RejectNotYetFree,
		"P010": domain.RejectCertification,
	}
	if diff := cmp.Diff(want, reasons); diff != "" {
		t.Fatalf("rejections mismatch (-want +got):\n%s", diff)
	}

	// Same records in a different order rank identically.
	reversed := snap
	reversed.Pilots = make([]domain.Pilot, len(snap.Pilots))
	for i, p := range snap.Pilots {
		reversed.Pilots[len(snap.Pilots)-1-i] = p
	}
	again, err := eng.RankCandidates(reversed, "PRJ050", domain.KindPilot)
	require.NoError(t, err)
	if diff := cmp.Diff(got, again); diff != "" {
		t.Fatalf("ranking not deterministic (-first +second):\n%s", diff)
	}
}

func TestRankDronesUsesCapabilitySkills(t *testing.T) {
	snap := bangalore(t)
	snap.Drones = append(snap.Drones,
		domain.Drone{ID: "D000", Capabilities: domain.NewTags("rgb"), Status: domain.DroneAvailable, Location: "Bangalore"},
		domain.Drone{ID: "D009", Capabilities: domain.NewTags("thermal"), Status: domain.DroneMaintenance, Location: "Bangalore"},
	)
	got, err := newEngine(t).RankCandidates(snap, "prj002", domain.KindDrone)
	require.NoError(t, err)
	assert.Equal(t, []string{"D001", "D002"}, got.IDs())
	require.Len(t, got.Rejected, 2)
	assert.Equal(t, domain.RejectCapability, got.Rejected[0].Rejections[0].Reason)
	assert.Equal(t, domain.RejectMaintenance, got.Rejected[1].Rejections[0].Reason)
}

func TestRankDecodedSnapshotWithUnsortedTags(t *testing.T) {
	raw := `{
	  "pilots": [{"pilot_id":"P001","skills":["thermal","Mapping"],"certifications":["dgca"],"location":"Pune","status":"Available","current_assignment":"PRJ001"}],
	  "drones": [{"drone_id":"D001","capabilities":["Thermal","rgb"],"status":"Available","location":"Pune","current_assignment":"PRJ001"}],
	  "missions": [{"mission_id":"PRJ001","location":"Pune","required_skills":["mapping","thermal"],"required_certs":["DGCA"],"start_date":"2024-04-10","end_date":"2024-04-12","priority":"Normal"}]
	}`
	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	eng := newEngine(t)
	for _, kind := range []domain.ResourceKind{domain.KindPilot, domain.KindDrone} {
		r, err := eng.RankCandidates(snap, "PRJ001", kind)
		if err != nil {
			t.Fatalf("rank %s: %v", kind, err)
		}
		if len(r.Eligible) != 1 {
			t.Fatalf("rank %s: eligible = %v, rejected = %+v", kind, r.IDs(), r.Rejected)
		}
	}
	for _, c := range eng.DetectConflicts(snap).Conflicts {
		if c.Kind == domain.CapabilityMismatch {
			t.Fatalf("unexpected capability mismatch: %s", c.Detail)
		}
	}

	// literals built without NewTags match the same way
	snap.Pilots[0].Skills = domain.Tags{"Thermal", "mapping"}
	r, err := eng.RankCandidates(snap, "PRJ001", domain.KindPilot)
	if err != nil {
		t.Fatalf("rank literal tags: %v", err)
	}
	if len(r.Eligible) != 1 {
		t.Fatalf("literal tags: eligible = %v", r.IDs())
	}
}

func TestDroneRequirements(t *testing.T) {
	eng := newEngine(t)
	m := domain.Mission{RequiredSkills: domain.NewTags("thermal", "mapping")}
	assert.Equal(t, domain.NewTags("thermal"), eng.DroneRequirements(m))
	m.RequiredCapabilities = domain.NewTags("LiDAR")
	assert.Equal(t, domain.NewTags("lidar"), eng.DroneRequirements(m))
}

type conflictKey struct {
	Kind     domain.ConflictKind
	Subject  string
	Missions []string
}

func keys(cs []domain.Conflict) []conflictKey {
	out := make([]conflictKey, 0, len(cs))
	for _, c := range cs {
		out = append(out, conflictKey{Kind: c.Kind, Subject: c.SubjectID, Missions: c.MissionIDs})
	}
	return out
}

func conflicted(t *testing.T) domain.Snapshot {
	return domain.Snapshot{
		Pilots: []domain.Pilot{
			{ID: "P001", Skills: domain.NewTags("thermal"), Location: "Bangalore", Status: domain.PilotAssigned, CurrentAssignment: "PRJ001"},
			{ID: "P002", Skills: domain.NewTags("rgb"), Location: "Mumbai", Status: domain.PilotAssigned, CurrentAssignment: "PRJ001"},
		},
		Drones: []domain.Drone{
			{ID: "D001", Capabilities: domain.NewTags("thermal"), Status: domain.DroneMaintenance, Location: "Bangalore", CurrentAssignment: "PRJ001"},
		},
		Missions: []domain.Mission{
			{ID: "PRJ001", Location: "Bangalore", RequiredSkills: domain.NewTags("thermal"), StartDate: day(t, "2024-04-01"), EndDate: day(t, "2024-04-05")},
			{ID: "PRJ002", Location: "Bangalore", RequiredSkills: domain.NewTags("thermal"), StartDate: day(t, "2024-04-05"), EndDate: day(t, "2024-04-10")},
		},
		Assignments: []domain.Assignment{
			{MissionID: "PRJ002", PilotID: "P001", DroneID: "D001", Source: domain.SourceExplicit},
		},
	}
}

func TestDetectConflicts(t *testing.T) {
	eng := newEngine(t)
	report := eng.DetectConflicts(conflicted(t))

	want := []conflictKey{
		{Kind: domain.DoubleBooking, Subject: "D001", Missions: []string{"PRJ001", "PRJ002"}},
		{Kind: domain.DoubleBooking, Subject: "P001", Missions: []string{"PRJ001", "PRJ002"}},
		{Kind: domain.CapabilityMismatch, Subject: "P002", Missions: []string{"PRJ001"}},
		{Kind: domain.MaintenanceConflict, Subject: "D001", Missions: []string{"PRJ001", "PRJ002"}},
		{Kind: domain.LocationMismatch, Subject: "P002", Missions: []string{"PRJ001"}},
	}
	if diff := cmp.Diff(want, keys(report.Conflicts)); diff != "" {
		t.Fatalf("conflicts mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, report.Observations)

	again := eng.DetectConflicts(conflicted(t))
	if diff := cmp.Diff(report, again); diff != "" {
		t.Fatalf("detection not idempotent (-first +second):\n%s", diff)
	}
}

func TestDoubleBookingIndependentOfRecordOrder(t *testing.T) {
	snap := conflicted(t)
	flipped := conflicted(t)
	flipped.Missions[0], flipped.Missions[1] = flipped.Missions[1], flipped.Missions[0]
	flipped.Pilots[0].CurrentAssignment = "PRJ002"
	flipped.Assignments[0].MissionID = "PRJ001"
	flipped.Drones[0].CurrentAssignment = "PRJ002"

	eng := newEngine(t)
	a := eng.DetectConflicts(snap)
	b := eng.DetectConflicts(flipped)
	assert.Equal(t, keys(a.Conflicts)[:2], keys(b.Conflicts)[:2])
}

func TestMaintenanceConflictOncePerDrone(t *testing.T) {
	snap := conflicted(t)
	snap.Pilots = nil
	snap.Assignments = []domain.Assignment{
		{MissionID: "prj001", DroneID: "d001", Source: domain.SourceExplicit},
	}
	report := newEngine(t).DetectConflicts(snap)

	var maint []domain.Conflict
	for _, c := range report.Conflicts {
		if c.Kind == domain.MaintenanceConflict {
			maint = append(maint, c)
		}
	}
	require.Len(t, maint, 1)
	assert.Equal(t, "D001", maint[0].SubjectID)
	assert.Equal(t, []string{"PRJ001"}, maint[0].MissionIDs)
}

func TestDetectConflictsSkipsIncompleteRecords(t *testing.T) {
	snap := conflicted(t)
	snap.Missions[1].StartDate = domain.Date{}
	snap.Pilots[1].Location = ""
	snap.Pilots = append(snap.Pilots, domain.Pilot{ID: "P003", Status: domain.PilotAssigned, Location: "Bangalore"})
	snap.Assignments = append(snap.Assignments, domain.Assignment{MissionID: "PRJ404", PilotID: "P003"})

	report := newEngine(t).DetectConflicts(snap)
	for _, c := range report.Conflicts {
		assert.NotEqual(t, domain.DoubleBooking, c.Kind, c.Detail)
		assert.NotEqual(t, domain.LocationMismatch, c.Kind, c.Detail)
	}

	details := make([]string, 0, len(report.Observations))
	for _, o := range report.Observations {
		details = append(details, o.Detail)
	}
	assert.Contains(t, details, "mission PRJ002 has no usable date range; double-booking check skipped")
	assert.Contains(t, details, "pilot P002 has no location; location check skipped")
	assert.Contains(t, details, "pilot P003 references unknown mission PRJ404")
}

func TestAssignedWithoutMissionIsObserved(t *testing.T) {
	snap := bangalore(t)
	snap.Pilots[1].CurrentAssignment = ""
	report := newEngine(t).DetectConflicts(snap)
	require.Len(t, report.Observations, 1)
	assert.Equal(t, domain.Inconsistent, report.Observations[0].Kind)
	assert.Equal(t, "P002", report.Observations[0].RecordID)
}

func TestAdvisorDoesNotMutateSnapshot(t *testing.T) {
	eng := newEngine(t)
	for _, mission := range []string{"PRJ002", "PRJ005"} {
		snap := conflicted(t)
		snap.Missions = append(snap.Missions, bangalore(t).Missions[1])
		pristine := conflicted(t)
		pristine.Missions = append(pristine.Missions, bangalore(t).Missions[1])

		_, err := eng.Suggest(snap, mission)
		require.NoError(t, err)
		_, err = eng.UrgentReassign(snap, mission)
		require.NoError(t, err)
		eng.DetectConflicts(snap)
		if diff := cmp.Diff(pristine, snap); diff != "" {
			t.Fatalf("snapshot mutated (-before +after):\n%s", diff)
		}
	}
}

func TestUnknownMission(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.Suggest(bangalore(t), "PRJ999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrUnknownMission))
	assert.False(t, errors.Is(err, engine.ErrUnknownResource))

	var unknown engine.UnknownError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "PRJ999", unknown.ID)

	_, err = eng.RankCandidates(bangalore(t), "PRJ999", domain.KindDrone)
	assert.ErrorIs(t, err, engine.ErrUnknownMission)
}

func TestMaintenanceDueNote(t *testing.T) {
	snap := bangalore(t)
	snap.Drones[0].MaintenanceDue = day(t, "2024-04-12")
	p, err := newEngine(t).Suggest(snap, "PRJ002")
	require.NoError(t, err)
	assert.Equal(t, "D001", p.Drone.ID)
	assert.Contains(t, p.Notes, "drone D001 maintenance due 2024-04-12, before PRJ002 ends 2024-04-15")

	snap.Drones[0].MaintenanceDue = day(t, "2024-04-30")
	p, err = newEngine(t).Suggest(snap, "PRJ002")
	require.NoError(t, err)
	assert.Empty(t, p.Notes)
}

func TestProposalIDStable(t *testing.T) {
	eng := newEngine(t)
	a, err := eng.Suggest(bangalore(t), "PRJ002")
	require.NoError(t, err)
	b, err := eng.Suggest(bangalore(t), "PRJ002")
	require.NoError(t, err)
	c, err := eng.UrgentReassign(bangalore(t), "PRJ002")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestQueryPilotsAndDrones(t *testing.T) {
	eng := newEngine(t)
	snap := bangalore(t)
	snap.Drones[1].MaintenanceDue = day(t, "2024-04-03")

	pilots := eng.QueryPilots(snap, engine.PilotFilter{Skill: "THERMAL", Status: "available"})
	require.Len(t, pilots, 1)
	assert.Equal(t, "P001", pilots[0].ID)
	assert.Len(t, eng.QueryPilots(snap, engine.PilotFilter{Location: "bangalore"}), 2)
	assert.Empty(t, eng.QueryPilots(snap, engine.PilotFilter{Certification: "bvlos"}))

	drones := eng.QueryDrones(snap, engine.DroneFilter{MaintenanceDueBefore: day(t, "2024-04-10")})
	require.Len(t, drones, 1)
	assert.Equal(t, "D002", drones[0].ID)
	assert.Len(t, eng.QueryDrones(snap, engine.DroneFilter{Capability: "rgb"}), 1)
}
