package repository

import (
	"context"
	"errors"
	"testing"

	"fleetops/internal/db"
	"fleetops/models"
)

func TestDroneRepository_CRUDAndGuardedUpdate(t *testing.T) {
	d, err := db.Open("file:dronerepo?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	drones := NewDroneRepository(d)
	missions := NewMissionRepository(d)
	ctx := context.Background()

	dr, err := drones.Create(ctx, &models.Drone{SerialNumber: "S-1", Name: "alpha", BatteryLevel: 90})
	if err != nil {
		t.Fatalf("create drone: %v", err)
	}
	if dr.ID == 0 || dr.Status != models.DroneStatusIdle {
		t.Fatalf("unexpected created drone: %+v", dr)
	}
	if _, err := drones.Create(ctx, &models.Drone{SerialNumber: "S-1", Name: "dup"}); err == nil {
		t.Fatalf("expected unique serial violation")
	}

	if got, _ := drones.GetBySerial(ctx, "S-1"); got == nil || got.ID != dr.ID || got.BatteryLevel != 90 {
		t.Fatalf("GetBySerial mismatch: %+v", got)
	}
	if got, err := drones.GetByID(ctx, 9999); err != nil || got != nil {
		t.Fatalf("expected nil,nil for missing drone, got %+v %v", got, err)
	}

	m, err := missions.Create(ctx, &models.Mission{Name: "m", DroneID: dr.ID})
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}

	// Take the drone: expected holder is nil.
	dr.Status = models.DroneStatusFlying
	dr.ActiveMission = &m.ID
	if err := drones.Update(ctx, dr, nil); err != nil {
		t.Fatalf("guarded update: %v", err)
	}
	held, _ := drones.GetByActiveMission(ctx, m.ID)
	if held == nil || held.ID != dr.ID || held.Status != models.DroneStatusFlying {
		t.Fatalf("GetByActiveMission mismatch: %+v", held)
	}

	// A second writer that still believes the drone is free must lose.
	other := int64(4242)
	stale := *dr
	stale.ActiveMission = &other
	if err := drones.Update(ctx, &stale, nil); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	// Release with the correct holder.
	dr.ActiveMission = nil
	dr.LastMission = &m.ID
	dr.Status = models.DroneStatusIdle
	if err := drones.Update(ctx, dr, &m.ID); err != nil {
		t.Fatalf("release update: %v", err)
	}
	rel, _ := drones.GetByID(ctx, dr.ID)
	if rel.ActiveMission != nil || rel.LastMission == nil || *rel.LastMission != m.ID {
		t.Fatalf("release not persisted: %+v", rel)
	}

	st := models.DroneStatusIdle
	list, err := drones.List(ctx, ListDronesParams{Status: &st, NameOrSerialContains: "alp", PageSize: 10})
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %v len=%d", err, len(list))
	}
	active, err := drones.List(ctx, ListDronesParams{ActiveOnly: true})
	if err != nil || len(active) != 0 {
		t.Fatalf("List active: %v len=%d", err, len(active))
	}

	if err := missions.Delete(ctx, m.ID); err != nil {
		t.Fatalf("delete mission: %v", err)
	}
	if err := drones.Delete(ctx, dr.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gone, _ := drones.GetByID(ctx, dr.ID); gone != nil {
		t.Fatalf("expected drone deleted, got: %+v", gone)
	}
}
