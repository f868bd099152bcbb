package gateway

import (
	"context"
	"errors"
	"fmt"

	"fleetops/internal/broadcast"
	"fleetops/internal/consistency"
	"fleetops/internal/lifecycle"
	"fleetops/models"
	"fleetops/repository"
)

// CommandOptions carries per-command flags.
type CommandOptions struct {
	// Override lets complete succeed before every waypoint is reached.
	Override bool
	// Reason is stored on the mission for terminal transitions.
	Reason string

	// precondition is re-evaluated on the freshly loaded mission inside the critical section.
	precondition func(m *models.Mission) error
}

func (g *Gateway) Start(ctx context.Context, actor Actor, missionID int64) (*models.Mission, error) {
	return g.Execute(ctx, actor, missionID, lifecycle.CommandStart, CommandOptions{})
}

func (g *Gateway) Pause(ctx context.Context, actor Actor, missionID int64) (*models.Mission, error) {
	return g.Execute(ctx, actor, missionID, lifecycle.CommandPause, CommandOptions{})
}

func (g *Gateway) Resume(ctx context.Context, actor Actor, missionID int64) (*models.Mission, error) {
	return g.Execute(ctx, actor, missionID, lifecycle.CommandResume, CommandOptions{})
}

// Abort cancels a mission. Aborting an aborted mission succeeds without changes.
func (g *Gateway) Abort(ctx context.Context, actor Actor, missionID int64, reason string) (*models.Mission, error) {
	return g.Execute(ctx, actor, missionID, lifecycle.CommandAbort, CommandOptions{Reason: reason})
}

// Complete finishes a mission; override allows completion with waypoints outstanding.
func (g *Gateway) Complete(ctx context.Context, actor Actor, missionID int64, override bool) (*models.Mission, error) {
	return g.Execute(ctx, actor, missionID, lifecycle.CommandComplete, CommandOptions{Override: override})
}

// Execute runs one lifecycle command: lock, load, transition, reconcile the drone,
// persist with version checks, commit, publish. Rejected commands write and emit nothing.
func (g *Gateway) Execute(ctx context.Context, actor Actor, missionID int64, cmd lifecycle.Command, opts CommandOptions) (m *models.Mission, err error) {
	defer func() { g.count(ctx, string(cmd), err) }()

	if !actor.canWrite() {
		return nil, fmt.Errorf("%s: %w", cmd, ErrForbidden)
	}
	if cmd == lifecycle.CommandFail && actor.Role != RoleSystem {
		return nil, fmt.Errorf("fail is reserved for system actors: %w", ErrForbidden)
	}

	_, unlock, err := g.lockMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	res, err := g.executeLocked(ctx, actor, missionID, cmd, opts)
	unlock()
	if err != nil {
		g.log.Info().Err(err).Int64("mission_id", missionID).Str("command", string(cmd)).Str("actor", actor.Name).Msg("command rejected")
		return nil, err
	}
	if !res.noop {
		g.recordTransition(ctx, res.mission, res.from, actor)
	}
	return res.mission, nil
}

func (g *Gateway) executeLocked(ctx context.Context, actor Actor, missionID int64, cmd lifecycle.Command, opts CommandOptions) (*commandOutcome, error) {
	for attempt := 1; ; attempt++ {
		res, err := g.executeOnce(ctx, actor, missionID, cmd, opts)
		if !errors.Is(err, repository.ErrStale) {
			return res, err
		}
		g.log.Debug().Int64("mission_id", missionID).Str("command", string(cmd)).Int("attempt", attempt).Msg("stale write, retrying")
		if attempt >= g.cfg.MaxRetries {
			return nil, &StaleStateError{MissionID: missionID, Attempts: attempt}
		}
	}
}

type commandOutcome struct {
	mission *models.Mission
	drone   *models.Drone
	change  consistency.Change
	from    models.MissionStatus
	noop    bool
}

func (g *Gateway) executeOnce(ctx context.Context, actor Actor, missionID int64, cmd lifecycle.Command, opts CommandOptions) (*commandOutcome, error) {
	now := g.clock()
	var res commandOutcome
	err := g.store.InTx(ctx, func(ctx context.Context, tx *repository.Tx) error {
		cur, err := tx.Missions.GetByID(ctx, missionID)
		if err != nil {
			return fmt.Errorf("load mission %d: %w", missionID, err)
		}
		if cur == nil {
			return fmt.Errorf("mission %d: %w", missionID, ErrNotFound)
		}
		if opts.precondition != nil {
			if err := opts.precondition(cur); err != nil {
				return err
			}
		}

		next := cur.Clone()
		out, err := lifecycle.Transition(next, cmd, lifecycle.Options{Now: now, Override: opts.Override, Reason: opts.Reason})
		if err != nil {
			return err
		}
		res.from = out.From
		if out.From == models.MissionStatusPaused && out.EnteredActive {
			// Silence while paused is expected; the telemetry gap is measured from the resume.
			next.LastTelemetryAt = &now
		}
		if out.NoOp {
			res.mission, res.noop = cur, true
			return nil
		}

		d, err := tx.Drones.GetByID(ctx, next.DroneID)
		if err != nil {
			return fmt.Errorf("load drone %d: %w", next.DroneID, err)
		}
		if d == nil {
			return fmt.Errorf("drone %d: %w", next.DroneID, ErrNotFound)
		}
		nd := d.Clone()
		var ch consistency.Change
		switch {
		case out.EnteredActive:
			if ch, err = g.drones.Activate(nd, next); err != nil {
				return err
			}
		case out.EnteredTerminal && out.From.HoldsDrone():
			ch = g.drones.Release(nd, next)
		}

		if err := tx.Missions.Update(ctx, next); err != nil {
			return err
		}
		if ch.Any() {
			if err := tx.Drones.Update(ctx, nd, d.ActiveMission); err != nil {
				return err
			}
		}
		res.mission, res.drone, res.change = next, nd, ch
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.noop {
		return &res, nil
	}

	g.publish(res.mission, nil, res.drone, res.change)
	g.log.Info().
		Int64("mission_id", missionID).
		Str("command", string(cmd)).
		Str("actor", actor.Name).
		Str("from", string(res.from)).
		Str("to", string(res.mission.Status)).
		Msg("mission transition")
	return &res, nil
}

// publish emits missionUpdate, then missionProgress when given, then the drone event.
func (g *Gateway) publish(m *models.Mission, prog *broadcast.MissionProgress, d *models.Drone, ch consistency.Change) {
	payloads := []broadcast.Payload{broadcast.MissionUpdate{Mission: m}}
	if prog != nil {
		payloads = append(payloads, *prog)
	}
	if d != nil {
		if p := droneEvent(d, ch); p != nil {
			payloads = append(payloads, p)
		}
	}
	g.bus.Publish(payloads...)
}
