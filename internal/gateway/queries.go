package gateway

import (
	"context"
	"fmt"

	"fleetops/models"
	"fleetops/repository"
)

// GetMission returns the current mission state. Reconnecting clients call this to resync.
func (g *Gateway) GetMission(ctx context.Context, id int64) (*models.Mission, error) {
	var m *models.Mission
	err := g.store.InTx(ctx, func(ctx context.Context, tx *repository.Tx) error {
		var err error
		m, err = tx.Missions.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get mission %d: %w", id, err)
	}
	if m == nil {
		return nil, fmt.Errorf("mission %d: %w", id, ErrNotFound)
	}
	return m, nil
}

// GetMissionWaypoints returns the ordered waypoints of a mission.
func (g *Gateway) GetMissionWaypoints(ctx context.Context, id int64) ([]models.Waypoint, error) {
	m, err := g.GetMission(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Waypoints, nil
}

func (g *Gateway) ListMissions(ctx context.Context, p repository.ListMissionsParams) ([]models.Mission, error) {
	out, err := g.store.Missions.List(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	return out, nil
}

func (g *Gateway) GetDrone(ctx context.Context, id int64) (*models.Drone, error) {
	d, err := g.store.Drones.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get drone %d: %w", id, err)
	}
	if d == nil {
		return nil, fmt.Errorf("drone %d: %w", id, ErrNotFound)
	}
	return d, nil
}

func (g *Gateway) ListDrones(ctx context.Context, p repository.ListDronesParams) ([]models.Drone, error) {
	out, err := g.store.Drones.List(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("list drones: %w", err)
	}
	return out, nil
}
