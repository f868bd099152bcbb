// Package progress advances a mission's waypoint index from telemetry.
package progress

import (
	"time"

	"fleetops/internal/geo"
	"fleetops/models"
)

// ReachedFunc decides whether a telemetry sample satisfies arrival at a waypoint.
type ReachedFunc func(wp models.Waypoint, s models.TelemetrySample) bool

// Proximity returns a ReachedFunc that accepts samples within radiusMeters horizontally
// and within altitudeTolerance meters vertically (0 disables the altitude check).
func Proximity(radiusMeters, altitudeTolerance float64) ReachedFunc {
	return func(wp models.Waypoint, s models.TelemetrySample) bool {
		return geo.IsWithinRadius(wp.Lat, wp.Lng, s.Lat, s.Lng, radiusMeters) &&
			geo.IsWithinAltitude(wp.Altitude, s.Altitude, altitudeTolerance)
	}
}

// Result reports the effect of one tracker step.
type Result struct {
	Progress int
	// Advanced is the number of waypoints passed by this sample.
	Advanced int
	// Traversed is set once every waypoint has been reached. Always false without waypoints.
	Traversed bool
}

// Tracker advances missions through their waypoints.
type Tracker struct {
	reached ReachedFunc
}

// NewTracker returns a Tracker using reached, or the default proximity predicate when nil.
func NewTracker(reached ReachedFunc) *Tracker {
	if reached == nil {
		reached = Proximity(geo.DefaultProximityMeters, 0)
	}
	return &Tracker{reached: reached}
}

// Advance applies a sample to m. Only in-progress missions move; the index never decreases
// and a reached waypoint is never un-marked.
func (t *Tracker) Advance(m *models.Mission, s models.TelemetrySample, now time.Time) Result {
	return t.step(m, s, now, true)
}

// Signal applies only the sample's explicit waypoint signal and ignores its position.
// It is used for samples that arrive after newer ones.
func (t *Tracker) Signal(m *models.Mission, s models.TelemetrySample, now time.Time) Result {
	return t.step(m, s, now, false)
}

func (t *Tracker) step(m *models.Mission, s models.TelemetrySample, now time.Time, usePosition bool) Result {
	total := len(m.Waypoints)
	if m.Status != models.MissionStatusInProgress {
		return Result{Progress: models.ComputeProgress(m.CurrentWaypointIndex, total), Traversed: total > 0 && m.AllWaypointsReached()}
	}
	now = now.UTC()
	start := m.CurrentWaypointIndex

	// An explicit signal passes every waypoint up to and including the signalled one.
	if s.WaypointReached != nil {
		for m.CurrentWaypointIndex < total && m.Waypoints[m.CurrentWaypointIndex].Order <= *s.WaypointReached {
			markReached(&m.Waypoints[m.CurrentWaypointIndex], now)
			m.CurrentWaypointIndex++
		}
	}
	for usePosition && m.CurrentWaypointIndex < total && t.reached(m.Waypoints[m.CurrentWaypointIndex], s) {
		markReached(&m.Waypoints[m.CurrentWaypointIndex], now)
		m.CurrentWaypointIndex++
	}

	m.RefreshProgress()
	return Result{
		Progress:  m.Progress,
		Advanced:  m.CurrentWaypointIndex - start,
		Traversed: total > 0 && m.AllWaypointsReached(),
	}
}

func markReached(wp *models.Waypoint, now time.Time) {
	if wp.Reached {
		return
	}
	wp.Reached = true
	if wp.TimeReached == nil {
		t := now
		wp.TimeReached = &t
	}
}
