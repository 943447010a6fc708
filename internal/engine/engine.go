// Package engine matches pilots and drones to missions, detects conflicts in
// the current assignment state and proposes reassignments. Every operation
// is a pure function of the snapshot it is given.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dronecoord/internal/domain"
)

var (
	ErrUnknownMission  = errors.New("unknown mission")
	ErrUnknownResource = errors.New("unknown resource")
)

// UnknownError names the id that was not found in the snapshot. It matches
// ErrUnknownMission or ErrUnknownResource through errors.Is.
type UnknownError struct {
	Kind string
	ID   string
}

func (e UnknownError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.ID)
}

func (e UnknownError) Is(target error) bool {
	if e.Kind == "mission" {
		return target == ErrUnknownMission
	}
	return target == ErrUnknownResource
}

// Rules holds the tunables the engine reads from configuration.
type Rules struct {
	// DroneCapabilitySkills are mission skills that also name a drone
	// capability; a mission requiring one needs a drone that has it.
	DroneCapabilitySkills  domain.Tags
	MaintenanceWarningDays int
}

// DefaultRules mirrors the defaults of dronecoord.yml.
func DefaultRules() Rules {
	return Rules{
		DroneCapabilitySkills:  domain.NewTags("thermal", "lidar", "rgb"),
		MaintenanceWarningDays: 7,
	}
}

type Engine struct {
	Rules Rules
	Log   *zap.Logger
	Now   func() time.Time
}

func New(rules Rules, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		Rules: rules,
		Log:   log,
		Now:   time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) today() domain.Date {
	return domain.DateOf(e.now())
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// DroneRequirements returns the capability set a drone needs for m.
func (e Engine) DroneRequirements(m domain.Mission) domain.Tags {
	if len(m.RequiredCapabilities) > 0 {
		return m.RequiredCapabilities
	}
	var caps []string
	for _, skill := range m.RequiredSkills {
		if e.Rules.DroneCapabilitySkills.Has(skill) {
			caps = append(caps, skill)
		}
	}
	return domain.NewTags(caps...)
}

func (e Engine) mission(snap domain.Snapshot, missionID string) (domain.Mission, error) {
	m, ok := snap.Mission(missionID)
	if !ok {
		return domain.Mission{}, UnknownError{Kind: "mission", ID: missionID}
	}
	return m, nil
}

// idKey is the lookup key for record ids; ids compare case-insensitively.
func idKey(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
