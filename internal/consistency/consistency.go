// Package consistency keeps drone status and mission status in agreement.
// It is the only writer of mission-derived drone state.
package consistency

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fleetops/models"
)

var (
	// ErrDroneBusy is returned when an operator change targets a drone held by a mission.
	ErrDroneBusy = errors.New("drone is attached to an active mission")
	// ErrInvalidStatus is returned for statuses an operator may not set directly.
	ErrInvalidStatus = errors.New("invalid drone status")
)

// DroneUnavailableError is returned when a mission cannot take its drone.
type DroneUnavailableError struct {
	DroneID int64
	Status  models.DroneStatus
	// HeldBy is set when another mission already holds the drone.
	HeldBy *int64
}

func (e *DroneUnavailableError) Error() string {
	if e.HeldBy != nil {
		return fmt.Sprintf("drone %d is already in use by mission %d", e.DroneID, *e.HeldBy)
	}
	return fmt.Sprintf("drone %d is unavailable (status %s)", e.DroneID, e.Status)
}

// Change summarises what a mutation did to the drone.
type Change struct {
	StatusChanged bool
	FieldsChanged bool
}

// Any reports whether the drone changed at all.
func (c Change) Any() bool { return c.StatusChanged || c.FieldsChanged }

// Manager applies mission-driven changes to drones. It performs no I/O.
type Manager struct {
	log zerolog.Logger
	now func() time.Time
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("component", "consistency").Logger(), now: time.Now}
}

// Activate attaches d to m and marks it flying. Used for start and resume.
func (mgr *Manager) Activate(d *models.Drone, m *models.Mission) (Change, error) {
	if d.ActiveMission != nil && *d.ActiveMission != m.ID {
		return Change{}, &DroneUnavailableError{DroneID: d.ID, Status: d.Status, HeldBy: d.ActiveMission}
	}
	switch d.Status {
	case models.DroneStatusMaintenance, models.DroneStatusOffline, models.DroneStatusError, models.DroneStatusCharging:
		return Change{}, &DroneUnavailableError{DroneID: d.ID, Status: d.Status}
	}
	var ch Change
	if d.Status != models.DroneStatusFlying {
		d.Status = models.DroneStatusFlying
		ch.StatusChanged = true
	}
	if d.ActiveMission == nil {
		id := m.ID
		d.ActiveMission = &id
		ch.FieldsChanged = true
	}
	if ch.Any() {
		d.UpdatedAt = mgr.now().UTC()
	}
	return ch, nil
}

// Release detaches d from m after m reached a terminal status.
// A pending maintenance request takes effect here; a drone that reported a fault keeps it.
func (mgr *Manager) Release(d *models.Drone, m *models.Mission) Change {
	var ch Change
	next := models.DroneStatusIdle
	switch {
	case d.Status == models.DroneStatusError || d.Status == models.DroneStatusOffline:
		next = d.Status
	case d.MaintenancePending:
		next = models.DroneStatusMaintenance
	}
	if d.Status != next {
		d.Status = next
		ch.StatusChanged = true
	}
	if d.ActiveMission != nil && *d.ActiveMission == m.ID {
		d.ActiveMission = nil
		ch.FieldsChanged = true
	}
	if d.MaintenancePending {
		d.MaintenancePending = false
		ch.FieldsChanged = true
	}
	if d.LastMission == nil || *d.LastMission != m.ID {
		id := m.ID
		d.LastMission = &id
		ch.FieldsChanged = true
	}
	if ch.Any() {
		d.UpdatedAt = mgr.now().UTC()
	}
	return ch
}

// ApplyTelemetry copies battery and position from a sample.
// A battery increase during an active mission is logged and accepted.
func (mgr *Manager) ApplyTelemetry(d *models.Drone, s models.TelemetrySample, active bool) Change {
	var ch Change
	if active && s.BatteryLevel > d.BatteryLevel {
		mgr.log.Warn().
			Int64("drone_id", d.ID).
			Int64("mission_id", s.MissionID).
			Float64("previous", d.BatteryLevel).
			Float64("reported", s.BatteryLevel).
			Msg("battery level increased during mission")
	}
	if d.BatteryLevel != s.BatteryLevel || d.Lat != s.Lat || d.Lng != s.Lng || d.Altitude != s.Altitude {
		d.BatteryLevel = s.BatteryLevel
		d.Lat, d.Lng, d.Altitude = s.Lat, s.Lng, s.Altitude
		ch.FieldsChanged = true
		d.UpdatedAt = mgr.now().UTC()
	}
	return ch
}

// SetStatus is the operator path for drone status. It is rejected while the drone is
// held by an in-progress or paused mission, and flying can only be set by a mission.
func (mgr *Manager) SetStatus(d *models.Drone, status models.DroneStatus) (Change, error) {
	if !status.Valid() || status == models.DroneStatusFlying {
		return Change{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if d.ActiveMission != nil {
		return Change{}, ErrDroneBusy
	}
	if d.Status == status {
		return Change{}, nil
	}
	d.Status = status
	d.UpdatedAt = mgr.now().UTC()
	return Change{StatusChanged: true}, nil
}

// RequestMaintenance puts an idle drone into maintenance, or defers the request until
// the holding mission releases the drone.
func (mgr *Manager) RequestMaintenance(d *models.Drone) Change {
	if d.ActiveMission != nil {
		if d.MaintenancePending {
			return Change{}
		}
		d.MaintenancePending = true
		d.UpdatedAt = mgr.now().UTC()
		return Change{FieldsChanged: true}
	}
	if d.Status == models.DroneStatusMaintenance {
		return Change{}
	}
	d.Status = models.DroneStatusMaintenance
	d.UpdatedAt = mgr.now().UTC()
	return Change{StatusChanged: true}
}
