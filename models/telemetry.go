package models

import "time"

// TelemetrySample is a single report from the external telemetry source.
// WaypointReached carries an explicit "waypoint reached" signal (waypoint order) when the source sends one.
type TelemetrySample struct {
	MissionID       int64     `json:"mission_id"`
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	Altitude        float64   `json:"altitude"`
	Speed           float64   `json:"speed"`
	BatteryLevel    float64   `json:"battery_level"`
	SignalStrength  float64   `json:"signal_strength"`
	Timestamp       time.Time `json:"timestamp"`
	WaypointReached *int      `json:"waypoint_reached,omitempty"`
}

// Snapshot converts the sample to the telemetry snapshot stored on the mission.
func (s TelemetrySample) Snapshot() *Telemetry {
	return &Telemetry{
		Altitude:       s.Altitude,
		Speed:          s.Speed,
		SignalStrength: s.SignalStrength,
		BatteryLevel:   s.BatteryLevel,
		Lat:            s.Lat,
		Lng:            s.Lng,
		Timestamp:      s.Timestamp,
	}
}
