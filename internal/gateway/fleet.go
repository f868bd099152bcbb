package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fleetops/internal/broadcast"
	"fleetops/internal/consistency"
	"fleetops/models"
	"fleetops/repository"
)

// MissionInput describes a mission to plan.
type MissionInput struct {
	Name      string            `json:"name"`
	DroneID   int64             `json:"drone_id"`
	Waypoints []models.Waypoint `json:"waypoints"`
}

// CreateMission stores a planned mission for an existing drone.
func (g *Gateway) CreateMission(ctx context.Context, actor Actor, in MissionInput) (m *models.Mission, err error) {
	defer func() { g.count(ctx, "create_mission", err) }()
	if !actor.canWrite() {
		return nil, fmt.Errorf("create mission: %w", ErrForbidden)
	}
	if strings.TrimSpace(in.Name) == "" || in.DroneID <= 0 {
		return nil, fmt.Errorf("mission needs a name and a drone: %w", ErrInvalidArgument)
	}
	seen := make(map[int]bool, len(in.Waypoints))
	for _, wp := range in.Waypoints {
		if seen[wp.Order] && wp.Order != 0 {
			return nil, fmt.Errorf("duplicate waypoint order %d: %w", wp.Order, ErrInvalidArgument)
		}
		seen[wp.Order] = true
	}

	m = &models.Mission{
		Name:      strings.TrimSpace(in.Name),
		DroneID:   in.DroneID,
		Status:    models.MissionStatusPlanned,
		Waypoints: make([]models.Waypoint, len(in.Waypoints)),
		CreatedAt: g.clock(),
	}
	for i, wp := range in.Waypoints {
		m.Waypoints[i] = models.Waypoint{Order: wp.Order, Lat: wp.Lat, Lng: wp.Lng, Altitude: wp.Altitude}
	}
	err = g.store.InTx(ctx, func(ctx context.Context, tx *repository.Tx) error {
		d, err := tx.Drones.GetByID(ctx, in.DroneID)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("drone %d: %w", in.DroneID, ErrNotFound)
		}
		_, err = tx.Missions.Create(ctx, m)
		return err
	})
	if err != nil {
		return nil, err
	}
	g.bus.Publish(broadcast.MissionUpdate{Mission: m})
	g.log.Info().Int64("mission_id", m.ID).Int64("drone_id", m.DroneID).Int("waypoints", len(m.Waypoints)).Msg("mission planned")
	return m, nil
}

// DeleteMission removes a mission that does not hold its drone. Subscribers get a final
// missionUpdate with Deleted set.
func (g *Gateway) DeleteMission(ctx context.Context, actor Actor, id int64) (err error) {
	defer func() { g.count(ctx, "delete_mission", err) }()
	if !actor.canWrite() {
		return fmt.Errorf("delete mission: %w", ErrForbidden)
	}
	_, unlock, err := g.lockMission(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	var deleted *models.Mission
	err = g.store.InTx(ctx, func(ctx context.Context, tx *repository.Tx) error {
		m, err := tx.Missions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("mission %d: %w", id, ErrNotFound)
		}
		if m.Status.HoldsDrone() {
			return fmt.Errorf("mission %d is %s: %w", id, m.Status, ErrMissionAttached)
		}
		deleted = m
		return tx.Missions.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	g.bus.Publish(broadcast.MissionUpdate{Mission: deleted, Deleted: true})
	g.log.Info().Int64("mission_id", id).Str("actor", actor.Name).Msg("mission deleted")
	return nil
}

// CreateDrone registers a drone. Only idle, charging, maintenance and offline are accepted as initial status.
func (g *Gateway) CreateDrone(ctx context.Context, actor Actor, d *models.Drone) (*models.Drone, error) {
	if !actor.canWrite() {
		return nil, fmt.Errorf("create drone: %w", ErrForbidden)
	}
	if d == nil || strings.TrimSpace(d.SerialNumber) == "" {
		return nil, fmt.Errorf("drone needs a serial number: %w", ErrInvalidArgument)
	}
	if d.Status == models.DroneStatusFlying || (d.Status != "" && !d.Status.Valid()) {
		return nil, fmt.Errorf("initial status %q: %w", d.Status, ErrInvalidArgument)
	}
	if d.BatteryLevel < 0 || d.BatteryLevel > 100 {
		return nil, fmt.Errorf("battery level %.1f out of range: %w", d.BatteryLevel, ErrInvalidArgument)
	}
	d.ActiveMission, d.LastMission, d.MaintenancePending = nil, nil, false
	d.UpdatedAt = g.clock()
	out, err := g.store.Drones.Create(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("create drone: %w", err)
	}
	g.bus.Publish(broadcast.DroneUpdate{Drone: out})
	return out, nil
}

// SetDroneStatus is the operator path for drone status. Drones held by a mission are rejected.
func (g *Gateway) SetDroneStatus(ctx context.Context, actor Actor, droneID int64, status models.DroneStatus) (*models.Drone, error) {
	return g.mutateDrone(ctx, actor, droneID, "set_drone_status", func(d *models.Drone) (consistency.Change, error) {
		return g.drones.SetStatus(d, status)
	})
}

// RequestMaintenance moves a drone into maintenance now, or when its mission ends.
func (g *Gateway) RequestMaintenance(ctx context.Context, actor Actor, droneID int64) (*models.Drone, error) {
	return g.mutateDrone(ctx, actor, droneID, "request_maintenance", func(d *models.Drone) (consistency.Change, error) {
		return g.drones.RequestMaintenance(d), nil
	})
}

func (g *Gateway) mutateDrone(ctx context.Context, actor Actor, droneID int64, op string,
	fn func(d *models.Drone) (consistency.Change, error)) (out *models.Drone, err error) {
	defer func() { g.count(ctx, op, err) }()
	if !actor.canWrite() {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	unlock := g.droneLocks.Lock(droneID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		var ch consistency.Change
		err = g.store.InTx(ctx, func(ctx context.Context, tx *repository.Tx) error {
			d, err := tx.Drones.GetByID(ctx, droneID)
			if err != nil {
				return err
			}
			if d == nil {
				return fmt.Errorf("drone %d: %w", droneID, ErrNotFound)
			}
			nd := d.Clone()
			if ch, err = fn(nd); err != nil {
				return err
			}
			if ch.Any() {
				if err := tx.Drones.Update(ctx, nd, d.ActiveMission); err != nil {
					return err
				}
			}
			out = nd
			return nil
		})
		if errors.Is(err, repository.ErrStale) {
			if attempt >= g.cfg.MaxRetries {
				return nil, &StaleStateError{DroneID: droneID, Attempts: attempt}
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if p := droneEvent(out, ch); p != nil {
			g.bus.Publish(p)
		}
		return out, nil
	}
}
