package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dronecoord/internal/domain"
)

// Repo is the SQLite record store. Ids match case-insensitively.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// NotFoundError names the record a write could not find. It matches
// ErrNotFound through errors.Is.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableDate(d domain.Date) any {
	return nullable(d.String())
}

// Snapshot reads every record collection in one read transaction.
func (r Repo) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer tx.Rollback()

	var snap domain.Snapshot
	var obs observer
	if snap.Pilots, err = listPilots(ctx, tx, &obs); err != nil {
		return domain.Snapshot{}, fmt.Errorf("list pilots: %w", err)
	}
	if snap.Drones, err = listDrones(ctx, tx, &obs); err != nil {
		return domain.Snapshot{}, fmt.Errorf("list drones: %w", err)
	}
	if snap.Missions, err = listMissions(ctx, tx, &obs); err != nil {
		return domain.Snapshot{}, fmt.Errorf("list missions: %w", err)
	}
	if snap.Assignments, err = listAssignments(ctx, tx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("list assignments: %w", err)
	}
	snap.Observations = obs.list
	return snap, nil
}

// observer collects rows whose stored values no longer parse.
type observer struct {
	list []domain.Observation
}

func (o *observer) date(kind, id, field string, v sql.NullString) domain.Date {
	if !v.Valid {
		return domain.Date{}
	}
	d, err := domain.ParseDate(v.String)
	if err != nil {
		o.list = append(o.list, domain.Observation{
			Kind:       domain.DataIncomplete,
			RecordKind: kind,
			RecordID:   id,
			Field:      field,
			Detail:     fmt.Sprintf("%s %s has unreadable %s %q", kind, id, field, v.String),
		})
		return domain.Date{}
	}
	return d
}

// status records a stored status that is not one of the known values.
func (o *observer) status(kind, id, raw string, ok bool) {
	if ok {
		return
	}
	o.list = append(o.list, domain.Observation{
		Kind:       domain.DataIncomplete,
		RecordKind: kind,
		RecordID:   id,
		Field:      "status",
		Detail:     fmt.Sprintf("%s %s has unknown status %q", kind, id, raw),
	})
}

func listPilots(ctx context.Context, tx *sql.Tx, obs *observer) ([]domain.Pilot, error) {
	rows, err := tx.QueryContext(ctx, `SELECT pilot_id,name,skills,certifications,location,status,current_assignment,available_from FROM pilots ORDER BY pilot_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Pilot{}
	for rows.Next() {
		var p domain.Pilot
		var skills, certs, status string
		var current, availableFrom sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &skills, &certs, &p.Location, &status, &current, &availableFrom); err != nil {
			return nil, err
		}
		p.Skills = domain.ParseTags(skills)
		p.Certifications = domain.ParseTags(certs)
		var ok bool
		p.Status, ok = domain.ParsePilotStatus(status)
		obs.status("pilot", p.ID, status, ok)
		p.CurrentAssignment = current.String
		p.AvailableFrom = obs.date("pilot", p.ID, "available_from", availableFrom)
		res = append(res, p)
	}
	return res, rows.Err()
}

func listDrones(ctx context.Context, tx *sql.Tx, obs *observer) ([]domain.Drone, error) {
	rows, err := tx.QueryContext(ctx, `SELECT drone_id,model,capabilities,status,location,current_assignment,maintenance_due FROM drones ORDER BY drone_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Drone{}
	for rows.Next() {
		var d domain.Drone
		var caps, status string
		var current, due sql.NullString
		if err := rows.Scan(&d.ID, &d.Model, &caps, &status, &d.Location, &current, &due); err != nil {
			return nil, err
		}
		d.Capabilities = domain.ParseTags(caps)
		var ok bool
		d.Status, ok = domain.ParseDroneStatus(status)
		obs.status("drone", d.ID, status, ok)
		d.CurrentAssignment = current.String
		d.MaintenanceDue = obs.date("drone", d.ID, "maintenance_due", due)
		res = append(res, d)
	}
	return res, rows.Err()
}

func listMissions(ctx context.Context, tx *sql.Tx, obs *observer) ([]domain.Mission, error) {
	rows, err := tx.QueryContext(ctx, `SELECT mission_id,client,location,required_skills,required_certs,required_capabilities,start_date,end_date,priority FROM missions ORDER BY mission_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Mission{}
	for rows.Next() {
		var m domain.Mission
		var skills, certs, caps, priority string
		var start, end sql.NullString
		if err := rows.Scan(&m.ID, &m.Client, &m.Location, &skills, &certs, &caps, &start, &end, &priority); err != nil {
			return nil, err
		}
		m.RequiredSkills = domain.ParseTags(skills)
		m.RequiredCertifications = domain.ParseTags(certs)
		m.RequiredCapabilities = domain.ParseTags(caps)
		m.StartDate = obs.date("mission", m.ID, "start_date", start)
		m.EndDate = obs.date("mission", m.ID, "end_date", end)
		m.Priority = domain.ParsePriority(priority)
		res = append(res, m)
	}
	return res, rows.Err()
}

func listAssignments(ctx context.Context, tx *sql.Tx) ([]domain.Assignment, error) {
	rows, err := tx.QueryContext(ctx, `SELECT mission_id,COALESCE(pilot_id,''),COALESCE(drone_id,'') FROM assignments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Assignment{}
	for rows.Next() {
		a := domain.Assignment{Source: domain.SourceExplicit}
		if err := rows.Scan(&a.MissionID, &a.PilotID, &a.DroneID); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// Apply binds the named pilot and drone to a mission in one transaction:
// current_assignment becomes the mission and status becomes Assigned. An
// empty mission id releases them back to Available. Explicit assignment
// rows naming either resource are cleared since the resource has moved.
func (r Repo) Apply(ctx context.Context, a domain.Assignment) error {
	if a.PilotID == "" && a.DroneID == "" {
		return fmt.Errorf("apply: no pilot or drone named")
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if a.MissionID != "" {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM missions WHERE mission_id=? COLLATE NOCASE`, a.MissionID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return NotFoundError{Kind: "mission", ID: a.MissionID}
		}
	}
	status := string(domain.PilotAssigned)
	if a.MissionID == "" {
		status = string(domain.PilotAvailable)
	}
	if a.PilotID != "" {
		if err := bind(ctx, tx, "pilots", "pilot_id", a.PilotID, a.MissionID, status); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE assignments SET pilot_id=NULL WHERE pilot_id=? COLLATE NOCASE`, a.PilotID); err != nil {
			return err
		}
	}
	if a.DroneID != "" {
		if err := bind(ctx, tx, "drones", "drone_id", a.DroneID, a.MissionID, status); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE assignments SET drone_id=NULL WHERE drone_id=? COLLATE NOCASE`, a.DroneID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE pilot_id IS NULL AND drone_id IS NULL`); err != nil {
		return err
	}
	return tx.Commit()
}

func bind(ctx context.Context, tx *sql.Tx, table, idCol, id, missionID, status string) error {
	query := fmt.Sprintf(`UPDATE %s SET current_assignment=?, status=? WHERE %s=? COLLATE NOCASE`, table, idCol)
	res, err := tx.ExecContext(ctx, query, nullable(missionID), status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		kind := "pilot"
		if table == "drones" {
			kind = "drone"
		}
		return NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func (r Repo) SetPilotStatus(ctx context.Context, id string, status domain.PilotStatus) error {
	return r.setStatus(ctx, "pilots", "pilot_id", "pilot", id, string(status))
}

func (r Repo) SetDroneStatus(ctx context.Context, id string, status domain.DroneStatus) error {
	return r.setStatus(ctx, "drones", "drone_id", "drone", id, string(status))
}

func (r Repo) setStatus(ctx context.Context, table, idCol, kind, id, status string) error {
	query := fmt.Sprintf(`UPDATE %s SET status=? WHERE %s=? COLLATE NOCASE`, table, idCol)
	res, err := r.DB.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// ReplaceAll swaps the stored records for snap in one transaction.
func (r Repo) ReplaceAll(ctx context.Context, snap domain.Snapshot) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"assignments", "pilots", "drones", "missions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, p := range snap.Pilots {
		_, err := tx.ExecContext(ctx, `INSERT INTO pilots(pilot_id,name,skills,certifications,location,status,current_assignment,available_from) VALUES (?,?,?,?,?,?,?,?)`,
			p.ID, p.Name, p.Skills.String(), p.Certifications.String(), p.Location, string(p.Status), nullable(p.CurrentAssignment), nullableDate(p.AvailableFrom))
		if err != nil {
			return fmt.Errorf("insert pilot %s: %w", p.ID, err)
		}
	}
	for _, d := range snap.Drones {
		_, err := tx.ExecContext(ctx, `INSERT INTO drones(drone_id,model,capabilities,status,location,current_assignment,maintenance_due) VALUES (?,?,?,?,?,?,?)`,
			d.ID, d.Model, d.Capabilities.String(), string(d.Status), d.Location, nullable(d.CurrentAssignment), nullableDate(d.MaintenanceDue))
		if err != nil {
			return fmt.Errorf("insert drone %s: %w", d.ID, err)
		}
	}
	for _, m := range snap.Missions {
		_, err := tx.ExecContext(ctx, `INSERT INTO missions(mission_id,client,location,required_skills,required_certs,required_capabilities,start_date,end_date,priority) VALUES (?,?,?,?,?,?,?,?,?)`,
			m.ID, m.Client, m.Location, m.RequiredSkills.String(), m.RequiredCertifications.String(), m.RequiredCapabilities.String(),
			nullableDate(m.StartDate), nullableDate(m.EndDate), string(m.Priority))
		if err != nil {
			return fmt.Errorf("insert mission %s: %w", m.ID, err)
		}
	}
	for _, a := range snap.Assignments {
		_, err := tx.ExecContext(ctx, `INSERT INTO assignments(mission_id,pilot_id,drone_id) VALUES (?,?,?)`,
			a.MissionID, nullable(a.PilotID), nullable(a.DroneID))
		if err != nil {
			return fmt.Errorf("insert assignment for %s: %w", a.MissionID, err)
		}
	}
	return tx.Commit()
}
