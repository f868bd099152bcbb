package models

import (
	"fmt"
	"strings"
	"time"
)

// DroneStatus is the operational status of a drone.
type DroneStatus string

const (
	DroneStatusIdle        DroneStatus = "idle"
	DroneStatusFlying      DroneStatus = "flying"
	DroneStatusMaintenance DroneStatus = "maintenance"
	DroneStatusCharging    DroneStatus = "charging"
	DroneStatusError       DroneStatus = "error"
	DroneStatusOffline     DroneStatus = "offline"
)

// droneStatusAliases maps external vocabulary onto the internal enum.
var droneStatusAliases = map[string]DroneStatus{
	"idle":        DroneStatusIdle,
	"available":   DroneStatusIdle,
	"ready":       DroneStatusIdle,
	"flying":      DroneStatusFlying,
	"active":      DroneStatusFlying,
	"in-mission":  DroneStatusFlying,
	"in_mission":  DroneStatusFlying,
	"maintenance": DroneStatusMaintenance,
	"charging":    DroneStatusCharging,
	"error":       DroneStatusError,
	"fault":       DroneStatusError,
	"offline":     DroneStatusOffline,
}

// ParseDroneStatus maps a status string (including external aliases) to a DroneStatus.
func ParseDroneStatus(s string) (DroneStatus, error) {
	if st, ok := droneStatusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown drone status %q", s)
}

// Valid reports whether s is one of the known drone statuses.
func (s DroneStatus) Valid() bool {
	switch s {
	case DroneStatusIdle, DroneStatusFlying, DroneStatusMaintenance,
		DroneStatusCharging, DroneStatusError, DroneStatusOffline:
		return true
	}
	return false
}

// Drone represents a fleet drone.
// active_mission is the exclusivity lock held by the in-progress or paused mission using it.
type Drone struct {
	ID                 int64       `db:"id" json:"id"`
	Name               string      `db:"name" json:"name"`
	SerialNumber       string      `db:"serial_number" json:"serial_number"`
	Status             DroneStatus `db:"status" json:"status"`
	BatteryLevel       float64     `db:"battery_level" json:"battery_level"`
	Lat                float64     `db:"lat" json:"lat"`
	Lng                float64     `db:"lng" json:"lng"`
	Altitude           float64     `db:"altitude" json:"altitude"`
	ActiveMission      *int64      `db:"active_mission" json:"active_mission"`
	LastMission        *int64      `db:"last_mission" json:"last_mission"`
	MaintenancePending bool        `db:"maintenance_pending" json:"maintenance_pending"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy of the drone.
func (d *Drone) Clone() *Drone {
	if d == nil {
		return nil
	}
	c := *d
	c.ActiveMission = cloneInt64(d.ActiveMission)
	c.LastMission = cloneInt64(d.LastMission)
	return &c
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
