package models

import "time"

// Waypoint is one ordered point of a mission route.
type Waypoint struct {
	ID          int64      `db:"id" json:"id"`
	MissionID   int64      `db:"mission_id" json:"mission_id"`
	Order       int        `db:"seq" json:"order"`
	Lat         float64    `db:"lat" json:"lat"`
	Lng         float64    `db:"lng" json:"lng"`
	Altitude    float64    `db:"altitude" json:"altitude"`
	Reached     bool       `db:"reached" json:"reached"`
	TimeReached *time.Time `db:"time_reached" json:"time_reached,omitempty"`
}
