package consistency

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetops/models"
)

func ptr(v int64) *int64 { return &v }

func TestActivate_IdleDrone(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	d := &models.Drone{ID: 7, Status: models.DroneStatusIdle}
	m := &models.Mission{ID: 1, DroneID: 7}

	ch, err := mgr.Activate(d, m)
	require.NoError(t, err)
	assert.True(t, ch.StatusChanged)
	assert.Equal(t, models.DroneStatusFlying, d.Status)
	require.NotNil(t, d.ActiveMission)
	assert.Equal(t, int64(1), *d.ActiveMission)

	// Resume: same mission already holds the drone.
	ch, err = mgr.Activate(d, m)
	require.NoError(t, err)
	assert.False(t, ch.Any())
}

func TestActivate_DroneAlreadyInUse(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	d := &models.Drone{ID: 7, Status: models.DroneStatusFlying, ActiveMission: ptr(2)}
	_, err := mgr.Activate(d, &models.Mission{ID: 1})
	var due *DroneUnavailableError
	require.ErrorAs(t, err, &due)
	require.NotNil(t, due.HeldBy)
	assert.Equal(t, int64(2), *due.HeldBy)
	assert.Equal(t, int64(2), *d.ActiveMission)
	assert.Contains(t, err.Error(), "already in use")
}

func TestActivate_RejectsUnavailableStatuses(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	for _, st := range []models.DroneStatus{models.DroneStatusMaintenance, models.DroneStatusOffline, models.DroneStatusError, models.DroneStatusCharging} {
		d := &models.Drone{ID: 7, Status: st}
		_, err := mgr.Activate(d, &models.Mission{ID: 1})
		var due *DroneUnavailableError
		require.True(t, errors.As(err, &due), "status %s", st)
		assert.Equal(t, st, d.Status)
		assert.Nil(t, d.ActiveMission)
	}
}

func TestRelease(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	m := &models.Mission{ID: 1}

	d := &models.Drone{ID: 7, Status: models.DroneStatusFlying, ActiveMission: ptr(1)}
	ch := mgr.Release(d, m)
	assert.True(t, ch.StatusChanged)
	assert.Equal(t, models.DroneStatusIdle, d.Status)
	assert.Nil(t, d.ActiveMission)
	require.NotNil(t, d.LastMission)
	assert.Equal(t, int64(1), *d.LastMission)

	pending := &models.Drone{ID: 8, Status: models.DroneStatusFlying, ActiveMission: ptr(1), MaintenancePending: true}
	mgr.Release(pending, m)
	assert.Equal(t, models.DroneStatusMaintenance, pending.Status)
	assert.False(t, pending.MaintenancePending)

	faulted := &models.Drone{ID: 9, Status: models.DroneStatusError, ActiveMission: ptr(1)}
	ch = mgr.Release(faulted, m)
	assert.False(t, ch.StatusChanged)
	assert.True(t, ch.FieldsChanged)
	assert.Equal(t, models.DroneStatusError, faulted.Status)
}

func TestApplyTelemetry_LogsBatteryIncrease(t *testing.T) {
	var buf bytes.Buffer
	mgr := NewManager(zerolog.New(&buf))
	d := &models.Drone{ID: 7, BatteryLevel: 50}

	ch := mgr.ApplyTelemetry(d, models.TelemetrySample{MissionID: 1, BatteryLevel: 60, Lat: 1, Lng: 2, Altitude: 30}, true)
	assert.True(t, ch.FieldsChanged)
	assert.False(t, ch.StatusChanged)
	assert.Equal(t, 60.0, d.BatteryLevel)
	assert.Equal(t, 30.0, d.Altitude)
	assert.Contains(t, buf.String(), "battery level increased")

	buf.Reset()
	ch = mgr.ApplyTelemetry(d, models.TelemetrySample{MissionID: 1, BatteryLevel: 60, Lat: 1, Lng: 2, Altitude: 30}, true)
	assert.False(t, ch.Any())
	assert.Empty(t, buf.String())
}

func TestSetStatus(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	busy := &models.Drone{ID: 7, Status: models.DroneStatusFlying, ActiveMission: ptr(1)}
	_, err := mgr.SetStatus(busy, models.DroneStatusIdle)
	assert.ErrorIs(t, err, ErrDroneBusy)
	assert.Equal(t, models.DroneStatusFlying, busy.Status)

	free := &models.Drone{ID: 8, Status: models.DroneStatusIdle}
	_, err = mgr.SetStatus(free, models.DroneStatusFlying)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	ch, err := mgr.SetStatus(free, models.DroneStatusCharging)
	require.NoError(t, err)
	assert.True(t, ch.StatusChanged)
	assert.Equal(t, models.DroneStatusCharging, free.Status)
}

func TestRequestMaintenance(t *testing.T) {
	mgr := NewManager(zerolog.Nop())
	attached := &models.Drone{ID: 7, Status: models.DroneStatusFlying, ActiveMission: ptr(1)}
	ch := mgr.RequestMaintenance(attached)
	assert.False(t, ch.StatusChanged)
	assert.True(t, attached.MaintenancePending)
	assert.Equal(t, models.DroneStatusFlying, attached.Status)

	free := &models.Drone{ID: 8, Status: models.DroneStatusIdle}
	ch = mgr.RequestMaintenance(free)
	assert.True(t, ch.StatusChanged)
	assert.Equal(t, models.DroneStatusMaintenance, free.Status)
}
