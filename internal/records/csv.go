package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// File names of a CSV export of the four worksheets.
const (
	PilotsFile      = "pilot_roster.csv"
	DronesFile      = "drone_fleet.csv"
	MissionsFile    = "missions.csv"
	AssignmentsFile = "assignments.csv"
)

// ReadCSV reads a header row followed by data rows. Ragged rows are
// accepted; missing trailing cells read as empty.
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	all, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	header := all[0]
	if len(header) > 0 {
		header[0] = trimBOM(header[0])
	}
	return FromCells(header, all[1:]), nil
}

// LoadDir reads the CSV export in dir. The assignments file is optional.
func LoadDir(dir string) (Set, error) {
	var set Set
	var err error
	if set.Pilots, err = readFile(filepath.Join(dir, PilotsFile), true); err != nil {
		return Set{}, err
	}
	if set.Drones, err = readFile(filepath.Join(dir, DronesFile), true); err != nil {
		return Set{}, err
	}
	if set.Missions, err = readFile(filepath.Join(dir, MissionsFile), true); err != nil {
		return Set{}, err
	}
	if set.Assignments, err = readFile(filepath.Join(dir, AssignmentsFile), false); err != nil {
		return Set{}, err
	}
	return set, nil
}

func readFile(path string, required bool) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	rows, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}
