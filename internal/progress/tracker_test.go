package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetops/models"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// route builds an in-progress mission with waypoints ~1.1 km apart along the equator.
func route(n int) *models.Mission {
	m := &models.Mission{ID: 1, Status: models.MissionStatusInProgress}
	for i := 0; i < n; i++ {
		m.Waypoints = append(m.Waypoints, models.Waypoint{Order: i, Lat: 0, Lng: float64(i) * 0.01, Altitude: 50})
	}
	return m
}

func at(wp models.Waypoint) models.TelemetrySample {
	return models.TelemetrySample{MissionID: 1, Lat: wp.Lat, Lng: wp.Lng, Altitude: wp.Altitude, Timestamp: now}
}

func TestAdvance_FourWaypointsThreePassed(t *testing.T) {
	m := route(4)
	tr := NewTracker(nil)

	for i := 0; i < 3; i++ {
		res := tr.Advance(m, at(m.Waypoints[i]), now)
		assert.Equal(t, 1, res.Advanced)
	}
	assert.Equal(t, 3, m.CurrentWaypointIndex)
	assert.Equal(t, 75, m.Progress)
	for i := 0; i < 3; i++ {
		assert.True(t, m.Waypoints[i].Reached)
		require.NotNil(t, m.Waypoints[i].TimeReached)
	}
	assert.False(t, m.Waypoints[3].Reached)
	assert.Equal(t, models.MissionStatusInProgress, m.Status)
}

func TestAdvance_NotReachedDoesNothing(t *testing.T) {
	m := route(3)
	res := NewTracker(nil).Advance(m, models.TelemetrySample{Lat: 5, Lng: 5}, now)
	assert.Equal(t, 0, res.Advanced)
	assert.Equal(t, 0, m.CurrentWaypointIndex)
	assert.False(t, res.Traversed)
}

func TestAdvance_NeverDecrementsOrUnmarks(t *testing.T) {
	m := route(3)
	tr := NewTracker(nil)
	tr.Advance(m, at(m.Waypoints[0]), now)
	tr.Advance(m, at(m.Waypoints[1]), now)
	first := *m.Waypoints[0].TimeReached

	// Going back near waypoint 0 changes nothing.
	res := tr.Advance(m, at(m.Waypoints[0]), now.Add(time.Minute))
	assert.Equal(t, 0, res.Advanced)
	assert.Equal(t, 2, m.CurrentWaypointIndex)
	assert.True(t, m.Waypoints[0].Reached)
	assert.Equal(t, first, *m.Waypoints[0].TimeReached)
}

func TestAdvance_RepeatsWhileNextAlsoSatisfied(t *testing.T) {
	m := route(3)
	// Collapse waypoints 0 and 1 onto the same spot.
	m.Waypoints[1].Lng = m.Waypoints[0].Lng
	res := NewTracker(nil).Advance(m, at(m.Waypoints[0]), now)
	assert.Equal(t, 2, res.Advanced)
	assert.Equal(t, 67, res.Progress)
}

func TestAdvance_ExplicitSignal(t *testing.T) {
	m := route(4)
	reached := 1
	s := models.TelemetrySample{Lat: 40, Lng: 40, WaypointReached: &reached}
	res := NewTracker(nil).Advance(m, s, now)
	assert.Equal(t, 2, res.Advanced)
	assert.Equal(t, 50, res.Progress)

	// A stale signal for an already passed waypoint is ignored.
	old := 0
	res = NewTracker(nil).Advance(m, models.TelemetrySample{Lat: 40, Lng: 40, WaypointReached: &old}, now)
	assert.Equal(t, 0, res.Advanced)
	assert.Equal(t, 2, m.CurrentWaypointIndex)
}

func TestAdvance_FullTraversal(t *testing.T) {
	m := route(2)
	tr := NewTracker(nil)
	tr.Advance(m, at(m.Waypoints[0]), now)
	res := tr.Advance(m, at(m.Waypoints[1]), now)
	assert.True(t, res.Traversed)
	assert.Equal(t, 100, res.Progress)
	// Tracker never completes the mission itself.
	assert.Equal(t, models.MissionStatusInProgress, m.Status)
}

func TestAdvance_NoWaypoints(t *testing.T) {
	m := route(0)
	res := NewTracker(nil).Advance(m, models.TelemetrySample{}, now)
	assert.Equal(t, 0, res.Progress)
	assert.False(t, res.Traversed)
}

func TestAdvance_IgnoresNonActiveMission(t *testing.T) {
	m := route(2)
	m.Status = models.MissionStatusPaused
	res := NewTracker(nil).Advance(m, at(m.Waypoints[0]), now)
	assert.Equal(t, 0, res.Advanced)
	assert.False(t, m.Waypoints[0].Reached)
}

func TestProximity_AltitudeTolerance(t *testing.T) {
	wp := models.Waypoint{Lat: 0, Lng: 0, Altitude: 100}
	reached := Proximity(15, 10)
	assert.True(t, reached(wp, models.TelemetrySample{Altitude: 105}))
	assert.False(t, reached(wp, models.TelemetrySample{Altitude: 150}))
	assert.False(t, reached(wp, models.TelemetrySample{Lng: 0.001, Altitude: 100}))
}

func TestNewTracker_CustomPredicate(t *testing.T) {
	m := route(3)
	always := func(models.Waypoint, models.TelemetrySample) bool { return true }
	res := NewTracker(always).Advance(m, models.TelemetrySample{}, now)
	assert.Equal(t, 3, res.Advanced)
	assert.True(t, res.Traversed)
}

func TestSignal_IgnoresPosition(t *testing.T) {
	m := route(3)
	tr := NewTracker(nil)

	res := tr.Signal(m, at(m.Waypoints[0]), now)
	assert.Equal(t, 0, res.Advanced)
	assert.False(t, m.Waypoints[0].Reached)

	order := 1
	s := at(m.Waypoints[0])
	s.WaypointReached = &order
	res = tr.Signal(m, s, now)
	assert.Equal(t, 2, res.Advanced)
	assert.Equal(t, 2, m.CurrentWaypointIndex)
	assert.False(t, m.Waypoints[2].Reached)
}
