package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MissionStatus represents the lifecycle status of a mission.
type MissionStatus string

const (
	MissionStatusPlanned    MissionStatus = "planned"
	MissionStatusInProgress MissionStatus = "in-progress"
	MissionStatusPaused     MissionStatus = "paused"
	MissionStatusAborted    MissionStatus = "aborted"
	MissionStatusCompleted  MissionStatus = "completed"
	MissionStatusFailed     MissionStatus = "failed"
)

// ParseMissionStatus maps a status string to a MissionStatus.
// "in_progress" and "active" are accepted as aliases of in-progress.
func ParseMissionStatus(s string) (MissionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "planned":
		return MissionStatusPlanned, nil
	case "in-progress", "in_progress", "active":
		return MissionStatusInProgress, nil
	case "paused":
		return MissionStatusPaused, nil
	case "aborted", "cancelled", "canceled":
		return MissionStatusAborted, nil
	case "completed":
		return MissionStatusCompleted, nil
	case "failed":
		return MissionStatusFailed, nil
	}
	return "", fmt.Errorf("unknown mission status %q", s)
}

// IsTerminal reports whether no further transitions are possible.
func (s MissionStatus) IsTerminal() bool {
	return s == MissionStatusAborted || s == MissionStatusCompleted || s == MissionStatusFailed
}

// HoldsDrone reports whether a mission in this status owns its drone.
func (s MissionStatus) HoldsDrone() bool {
	return s == MissionStatusInProgress || s == MissionStatusPaused
}

// Telemetry is the latest telemetry snapshot attached to a mission.
type Telemetry struct {
	Altitude       float64   `json:"altitude"`
	Speed          float64   `json:"speed"`
	SignalStrength float64   `json:"signal_strength"`
	BatteryLevel   float64   `json:"battery_level"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	Timestamp      time.Time `json:"timestamp"`
}

// Mission is a planned flight of one drone through an ordered list of waypoints.
type Mission struct {
	ID                   int64         `db:"id" json:"id"`
	Name                 string        `db:"name" json:"name"`
	DroneID              int64         `db:"drone_id" json:"drone_id"`
	Status               MissionStatus `db:"status" json:"status"`
	Waypoints            []Waypoint    `json:"waypoints"`
	CurrentWaypointIndex int           `db:"current_waypoint_index" json:"current_waypoint_index"`
	Progress             int           `json:"progress"`
	Telemetry            *Telemetry    `db:"telemetry" json:"telemetry,omitempty"`
	LastTelemetryAt      *time.Time    `db:"last_telemetry_at" json:"last_telemetry_at,omitempty"`
	StartTime            *time.Time    `db:"start_time" json:"start_time,omitempty"`
	EndTime              *time.Time    `db:"end_time" json:"end_time,omitempty"`
	StatusReason         string        `db:"status_reason" json:"status_reason,omitempty"`
	Version              int64         `db:"version" json:"version"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
}

// ComputeProgress returns round(index/total*100), or 0 when there are no waypoints.
func ComputeProgress(index, total int) int {
	if total <= 0 {
		return 0
	}
	if index > total {
		index = total
	}
	return int(math.Round(float64(index) / float64(total) * 100))
}

// RefreshProgress recomputes Progress from the waypoint index.
func (m *Mission) RefreshProgress() {
	m.Progress = ComputeProgress(m.CurrentWaypointIndex, len(m.Waypoints))
}

// AllWaypointsReached reports whether the index has passed every waypoint.
func (m *Mission) AllWaypointsReached() bool {
	return m.CurrentWaypointIndex >= len(m.Waypoints)
}

// Clone returns a deep copy of the mission, waypoints included.
func (m *Mission) Clone() *Mission {
	if m == nil {
		return nil
	}
	c := *m
	if m.Waypoints != nil {
		c.Waypoints = make([]Waypoint, len(m.Waypoints))
		for i, wp := range m.Waypoints {
			c.Waypoints[i] = wp
			c.Waypoints[i].TimeReached = cloneTime(wp.TimeReached)
		}
	}
	if m.Telemetry != nil {
		t := *m.Telemetry
		c.Telemetry = &t
	}
	c.LastTelemetryAt = cloneTime(m.LastTelemetryAt)
	c.StartTime = cloneTime(m.StartTime)
	c.EndTime = cloneTime(m.EndTime)
	return &c
}
