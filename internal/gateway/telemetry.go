package gateway

import (
	"context"
	"errors"
	"fmt"

	"fleetops/internal/broadcast"
	"fleetops/internal/consistency"
	"fleetops/internal/lifecycle"
	"fleetops/internal/progress"
	"fleetops/models"
	"fleetops/repository"
)

// IngestTelemetry applies one telemetry sample to its mission and drone.
// Planned and terminal missions reject samples; paused missions only refresh the snapshot.
func (g *Gateway) IngestTelemetry(ctx context.Context, s models.TelemetrySample) (m *models.Mission, err error) {
	defer func() { g.count(ctx, "telemetry", err) }()
	if s.MissionID <= 0 {
		return nil, fmt.Errorf("telemetry without mission id: %w", ErrInvalidArgument)
	}
	if s.BatteryLevel < 0 || s.BatteryLevel > 100 {
		return nil, fmt.Errorf("battery level %.1f out of range: %w", s.BatteryLevel, ErrInvalidArgument)
	}

	_, unlock, err := g.lockMission(ctx, s.MissionID)
	if err != nil {
		return nil, err
	}
	res, err := g.ingestLocked(ctx, s)
	unlock()
	if err != nil {
		return nil, err
	}

	// Sinks may block on the network; they run once the mission is unlocked.
	g.recordTelemetry(ctx, res.mission, res.sample)
	if res.completed {
		g.recordTransition(ctx, res.mission, models.MissionStatusInProgress, SystemActor)
	}
	return res.mission, nil
}

func (g *Gateway) ingestLocked(ctx context.Context, s models.TelemetrySample) (*ingestOutcome, error) {
	for attempt := 1; ; attempt++ {
		res, err := g.ingestOnce(ctx, s)
		if !errors.Is(err, repository.ErrStale) {
			return res, err
		}
		g.log.Debug().Int64("mission_id", s.MissionID).Int("attempt", attempt).Msg("stale telemetry write, retrying")
		if attempt >= g.cfg.MaxRetries {
			return nil, &StaleStateError{MissionID: s.MissionID, Attempts: attempt}
		}
	}
}

type ingestOutcome struct {
	mission   *models.Mission
	drone     *models.Drone
	change    consistency.Change
	step      progress.Result
	sample    models.TelemetrySample
	late      bool
	completed bool
}

// ingestOnce applies s in one transaction and publishes the result. A sample older than
// the stored snapshot is late: it keeps the link alive and may carry an explicit
// waypoint signal, but it never overwrites newer mission or drone state.
func (g *Gateway) ingestOnce(ctx context.Context, s models.TelemetrySample) (*ingestOutcome, error) {
	now := g.clock()
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	res := ingestOutcome{sample: s}
	err := g.store.InTx(ctx, func(ctx context.Context, tx *repository.Tx) error {
		cur, err := tx.Missions.GetByID(ctx, s.MissionID)
		if err != nil {
			return fmt.Errorf("load mission %d: %w", s.MissionID, err)
		}
		if cur == nil {
			return fmt.Errorf("mission %d: %w", s.MissionID, ErrNotFound)
		}
		if !cur.Status.HoldsDrone() {
			return fmt.Errorf("mission %d is %s: %w", cur.ID, cur.Status, ErrMissionNotActive)
		}

		next := cur.Clone()
		next.LastTelemetryAt = &now
		res.late = cur.Telemetry != nil && s.Timestamp.Before(cur.Telemetry.Timestamp)
		if res.late {
			res.step = g.tracker.Signal(next, s, now)
		} else {
			next.Telemetry = s.Snapshot()
			res.step = g.tracker.Advance(next, s, now)
		}

		d, err := tx.Drones.GetByID(ctx, next.DroneID)
		if err != nil {
			return fmt.Errorf("load drone %d: %w", next.DroneID, err)
		}
		if d == nil {
			return fmt.Errorf("drone %d: %w", next.DroneID, ErrNotFound)
		}
		nd := d.Clone()
		if !res.late {
			res.change = g.drones.ApplyTelemetry(nd, s, next.Status == models.MissionStatusInProgress)
		}

		if g.cfg.AutoComplete && res.step.Traversed && next.Status == models.MissionStatusInProgress {
			if _, err := lifecycle.Transition(next, lifecycle.CommandComplete, lifecycle.Options{Now: now, Reason: "all waypoints reached"}); err != nil {
				return err
			}
			res.change = mergeChange(res.change, g.drones.Release(nd, next))
			res.completed = true
		}

		if err := tx.Missions.Update(ctx, next); err != nil {
			return err
		}
		if res.change.Any() {
			if err := tx.Drones.Update(ctx, nd, d.ActiveMission); err != nil {
				return err
			}
		}
		res.mission, res.drone = next, nd
		return nil
	})
	if err != nil {
		return nil, err
	}

	var prog *broadcast.MissionProgress
	if res.step.Advanced > 0 {
		prog = &broadcast.MissionProgress{
			MissionID:            res.mission.ID,
			Progress:             res.step.Progress,
			CurrentWaypointIndex: res.mission.CurrentWaypointIndex,
		}
		g.log.Debug().Int64("mission_id", res.mission.ID).Int("progress", res.step.Progress).Msg("waypoint reached")
	}
	if res.late {
		g.log.Debug().Int64("mission_id", res.mission.ID).Time("sample", s.Timestamp).Msg("late telemetry sample")
	}
	g.publish(res.mission, prog, res.drone, res.change)
	if res.completed {
		g.log.Info().Int64("mission_id", res.mission.ID).Msg("mission auto-completed")
	}
	return &res, nil
}
