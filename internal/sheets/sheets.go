// Package sheets is the Google Sheets record store. It reads the pilot
// roster, drone fleet, missions and assignments worksheets and writes
// status and current_assignment cells back in place.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"dronecoord/internal/config"
	"dronecoord/internal/domain"
	"dronecoord/internal/records"
)

// NoAssignment is written to current_assignment when a resource is released.
const NoAssignment = "–"

var ErrNotFound = errors.New("not found")

// NotFoundError names the row a write could not locate.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found in worksheet", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// values is the slice of the Sheets values API the store needs.
type values interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	BatchUpdate(ctx context.Context, spreadsheetID string, updates []cellUpdate) error
}

type worksheet struct {
	spreadsheetID string
	tab           string
}

// Store reads and writes records in Google Sheets.
type Store struct {
	api         values
	pilots      worksheet
	drones      worksheet
	missions    worksheet
	assignments worksheet
	Log         *zap.Logger
}

// New connects to the Sheets API. credentials_file wins over
// GOOGLE_APPLICATION_CREDENTIALS; with neither, default credentials apply.
func New(ctx context.Context, cfg config.SheetsConfig, log *zap.Logger) (*Store, error) {
	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("sheets credentials %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return newStore(serviceValues{svc: svc}, cfg, log), nil
}

func newStore(api values, cfg config.SheetsConfig, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	pilotsTab, dronesTab, missionsTab, assignmentsTab := cfg.Worksheets()
	sheetID := func(override string) string {
		if override != "" {
			return override
		}
		return cfg.SpreadsheetID
	}
	return &Store{
		api:         api,
		pilots:      worksheet{spreadsheetID: sheetID(cfg.PilotsSheetID), tab: pilotsTab},
		drones:      worksheet{spreadsheetID: sheetID(cfg.DronesSheetID), tab: dronesTab},
		missions:    worksheet{spreadsheetID: sheetID(cfg.MissionsSheetID), tab: missionsTab},
		assignments: worksheet{spreadsheetID: sheetID(cfg.MissionsSheetID), tab: assignmentsTab},
		Log:         log,
	}
}

func (s *Store) read(ctx context.Context, ws worksheet) (grid, error) {
	cells, err := s.api.Get(ctx, ws.spreadsheetID, quoteTab(ws.tab))
	if err != nil {
		return grid{}, fmt.Errorf("read worksheet %s: %w", ws.tab, err)
	}
	return grid{ws: ws, cells: cells}, nil
}

// readOptional treats a worksheet the API cannot resolve as empty.
func (s *Store) readOptional(ctx context.Context, ws worksheet) (grid, bool, error) {
	g, err := s.read(ctx, ws)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == 400 || gerr.Code == 404) {
		s.Log.Debug("optional worksheet missing", zap.String("worksheet", ws.tab))
		return grid{}, false, nil
	}
	if err != nil {
		return grid{}, false, err
	}
	return g, true, nil
}

// Snapshot reads the four worksheets and normalizes them.
func (s *Store) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var set records.Set
	for _, part := range []struct {
		ws   worksheet
		rows *[]records.Row
	}{
		{s.pilots, &set.Pilots},
		{s.drones, &set.Drones},
		{s.missions, &set.Missions},
	} {
		g, err := s.read(ctx, part.ws)
		if err != nil {
			return domain.Snapshot{}, err
		}
		*part.rows = g.rows()
	}
	g, ok, err := s.readOptional(ctx, s.assignments)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if ok {
		set.Assignments = g.rows()
	}
	return records.Build(set), nil
}

// Apply writes the assignment to the pilot and drone rows. All target rows
// are located before anything is written; if a later spreadsheet fails,
// cells already written are restored to their previous values.
func (s *Store) Apply(ctx context.Context, a domain.Assignment) error {
	if a.PilotID == "" && a.DroneID == "" {
		return fmt.Errorf("apply: no pilot or drone named")
	}
	if a.MissionID != "" {
		missions, err := s.read(ctx, s.missions)
		if err != nil {
			return err
		}
		if _, ok := missions.find(a.MissionID, "mission_id", "id"); !ok {
			return NotFoundError{Kind: "mission", ID: a.MissionID}
		}
	}
	status := string(domain.PilotAssigned)
	current := a.MissionID
	if a.MissionID == "" {
		status = string(domain.PilotAvailable)
		current = NoAssignment
	}

	var plan []cellUpdate
	if a.PilotID != "" {
		g, err := s.read(ctx, s.pilots)
		if err != nil {
			return err
		}
		ups, err := g.bind("pilot", a.PilotID, []string{"pilot_id", "id"}, status, current)
		if err != nil {
			return err
		}
		plan = append(plan, ups...)
	}
	if a.DroneID != "" {
		g, err := s.read(ctx, s.drones)
		if err != nil {
			return err
		}
		ups, err := g.bind("drone", a.DroneID, []string{"drone_id", "id"}, status, current)
		if err != nil {
			return err
		}
		plan = append(plan, ups...)
	}
	g, ok, err := s.readOptional(ctx, s.assignments)
	if err != nil {
		return err
	}
	if ok {
		plan = append(plan, g.release("pilot_id", a.PilotID)...)
		plan = append(plan, g.release("drone_id", a.DroneID)...)
	}
	return s.write(ctx, plan)
}

func (s *Store) SetPilotStatus(ctx context.Context, id string, status domain.PilotStatus) error {
	return s.setStatus(ctx, s.pilots, "pilot", id, []string{"pilot_id", "id"}, string(status))
}

func (s *Store) SetDroneStatus(ctx context.Context, id string, status domain.DroneStatus) error {
	return s.setStatus(ctx, s.drones, "drone", id, []string{"drone_id", "id"}, string(status))
}

func (s *Store) setStatus(ctx context.Context, ws worksheet, kind, id string, idCols []string, status string) error {
	g, err := s.read(ctx, ws)
	if err != nil {
		return err
	}
	up, err := g.set(kind, id, idCols, "status", status)
	if err != nil {
		return err
	}
	return s.write(ctx, []cellUpdate{up})
}

// write sends one batch per spreadsheet, undoing earlier batches when a
// later one fails.
func (s *Store) write(ctx context.Context, plan []cellUpdate) error {
	var order []string
	batches := make(map[string][]cellUpdate)
	for _, up := range plan {
		if _, ok := batches[up.SpreadsheetID]; !ok {
			order = append(order, up.SpreadsheetID)
		}
		batches[up.SpreadsheetID] = append(batches[up.SpreadsheetID], up)
	}
	for i, id := range order {
		if err := s.api.BatchUpdate(ctx, id, batches[id]); err != nil {
			for _, done := range order[:i] {
				if rerr := s.api.BatchUpdate(ctx, done, revert(batches[done])); rerr != nil {
					s.Log.Error("restore after failed write", zap.String("spreadsheet", done), zap.Error(rerr))
				}
			}
			return fmt.Errorf("write spreadsheet %s: %w", id, err)
		}
	}
	s.Log.Debug("cells written", zap.Int("cells", len(plan)), zap.Int("spreadsheets", len(order)))
	return nil
}

// serviceValues adapts the generated client.
type serviceValues struct {
	svc *gsheets.Service
}

func (v serviceValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	resp, err := v.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		line := make([]string, len(row))
		for j, cell := range row {
			line[j] = fmt.Sprint(cell)
		}
		out[i] = line
	}
	return out, nil
}

func (v serviceValues) BatchUpdate(ctx context.Context, spreadsheetID string, updates []cellUpdate) error {
	req := &gsheets.BatchUpdateValuesRequest{ValueInputOption: "RAW"}
	for _, up := range updates {
		req.Data = append(req.Data, &gsheets.ValueRange{
			Range:  up.Range,
			Values: [][]interface{}{{up.Value}},
		})
	}
	_, err := v.svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	return err
}

func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}
