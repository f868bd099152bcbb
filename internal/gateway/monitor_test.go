package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetops/internal/testutil"
	"fleetops/models"
)

func TestMonitor_FailsSilentMission(t *testing.T) {
	f := newFixture(t, Config{TelemetryTimeout: time.Minute})
	ctx := context.Background()
	d := testutil.SeedDrone(t, f.store, "D-1")
	quiet := testutil.SeedMission(t, f.store, d.ID, 2)
	d2 := testutil.SeedDrone(t, f.store, "D-2")
	chatty := testutil.SeedMission(t, f.store, d2.ID, 2)

	_, err := f.gw.Start(ctx, operator, quiet.ID)
	require.NoError(t, err)
	_, err = f.gw.Start(ctx, operator, chatty.ID)
	require.NoError(t, err)

	mon := f.gw.NewMonitor()
	failed, err := mon.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)

	f.clock.Advance(50 * time.Second)
	_, err = f.gw.IngestTelemetry(ctx, models.TelemetrySample{MissionID: chatty.ID, Lat: 10, Lng: 10, BatteryLevel: 80})
	require.NoError(t, err)
	f.clock.Advance(20 * time.Second)

	failed, err = mon.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{quiet.ID}, failed)

	got, _ := f.gw.GetMission(ctx, quiet.ID)
	assert.Equal(t, models.MissionStatusFailed, got.Status)
	assert.Contains(t, got.StatusReason, "no telemetry")
	dr, _ := f.gw.GetDrone(ctx, d.ID)
	assert.Nil(t, dr.ActiveMission)
	assert.Equal(t, models.DroneStatusIdle, dr.Status)

	other, _ := f.gw.GetMission(ctx, chatty.ID)
	assert.Equal(t, models.MissionStatusInProgress, other.Status)
}

func TestMonitor_GapMeasuredFromResume(t *testing.T) {
	f := newFixture(t, Config{TelemetryTimeout: time.Minute})
	ctx := context.Background()
	d := testutil.SeedDrone(t, f.store, "D-1")
	m := testutil.SeedMission(t, f.store, d.ID, 2)

	_, err := f.gw.Start(ctx, operator, m.ID)
	require.NoError(t, err)
	_, err = f.gw.Pause(ctx, operator, m.ID)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	resumed, err := f.gw.Resume(ctx, operator, m.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed.LastTelemetryAt)
	assert.Equal(t, f.clock.Now(), *resumed.LastTelemetryAt)

	f.clock.Advance(time.Second)
	mon := f.gw.NewMonitor()
	failed, err := mon.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
	got, _ := f.gw.GetMission(ctx, m.ID)
	assert.Equal(t, models.MissionStatusInProgress, got.Status)

	f.clock.Advance(2 * time.Minute)
	failed, err = mon.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{m.ID}, failed)
}

func TestMonitor_RunStopsWithContext(t *testing.T) {
	f := newFixture(t, Config{HealthCheckInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := f.gw.NewMonitor().Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTelemetryGapError_Code(t *testing.T) {
	err := &TelemetryGapError{MissionID: 3, Last: time.Unix(0, 0).UTC(), Timeout: time.Minute}
	assert.Equal(t, CodeTelemetryGap, ErrorCode(err))
	assert.Contains(t, err.Error(), "mission 3")
	assert.Equal(t, CodeStaleState, ErrorCode(&StaleStateError{MissionID: 1, Attempts: 3}))
	assert.Equal(t, "drone 4 changed concurrently; gave up after 2 attempts", (&StaleStateError{DroneID: 4, Attempts: 2}).Error())
	assert.Equal(t, CodeInternal, ErrorCode(assert.AnError))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock(1)
	acquired := make(chan struct{})
	go func() {
		u := k.Lock(1)
		close(acquired)
		u()
	}()
	other := k.Lock(2)
	other()

	select {
	case <-acquired:
		t.Fatal("second holder acquired key 1 while it was locked")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired key 1")
	}
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}
