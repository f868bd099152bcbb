package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetops/internal/lifecycle"
	"fleetops/models"
)

var errGapCleared = errors.New("telemetry resumed")

// Monitor fails in-progress missions whose telemetry stopped arriving.
type Monitor struct {
	g        *Gateway
	interval time.Duration
	timeout  time.Duration
}

// NewMonitor returns a monitor using the gateway's telemetry timeout and check interval.
func (g *Gateway) NewMonitor() *Monitor {
	return &Monitor{g: g, interval: g.cfg.HealthCheckInterval, timeout: g.cfg.TelemetryTimeout}
}

// Run checks on every tick until ctx is done.
func (mon *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()
	mon.g.log.Info().Dur("interval", mon.interval).Dur("timeout", mon.timeout).Msg("telemetry monitor started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := mon.Check(ctx); err != nil && ctx.Err() == nil {
				mon.g.log.Error().Err(err).Msg("telemetry monitor check")
			}
		}
	}
}

// gap returns a TelemetryGapError if m has been silent for longer than the timeout.
func (mon *Monitor) gap(m *models.Mission, now time.Time) *TelemetryGapError {
	if m.Status != models.MissionStatusInProgress {
		return nil
	}
	last := m.LastTelemetryAt
	if last == nil {
		last = m.StartTime
	}
	if last == nil || now.Sub(*last) <= mon.timeout {
		return nil
	}
	return &TelemetryGapError{MissionID: m.ID, Last: *last, Timeout: mon.timeout}
}

// Check runs one pass and returns the ids of missions it failed.
func (mon *Monitor) Check(ctx context.Context) ([]int64, error) {
	missions, err := mon.g.store.Missions.ListInProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("list in-progress missions: %w", err)
	}
	var failed []int64
	for i := range missions {
		gapErr := mon.gap(&missions[i], mon.g.clock())
		if gapErr == nil {
			continue
		}
		mon.g.log.Warn().Err(gapErr).Int64("mission_id", gapErr.MissionID).Msg("telemetry gap detected")
		opts := CommandOptions{
			Reason: gapErr.Error(),
			precondition: func(cur *models.Mission) error {
				if mon.gap(cur, mon.g.clock()) == nil {
					return errGapCleared
				}
				return nil
			},
		}
		_, err := mon.g.Execute(ctx, SystemActor, gapErr.MissionID, lifecycle.CommandFail, opts)
		switch {
		case errors.Is(err, errGapCleared):
			continue
		case err != nil:
			mon.g.log.Error().Err(err).Int64("mission_id", gapErr.MissionID).Msg("fail mission after telemetry gap")
			continue
		}
		failed = append(failed, gapErr.MissionID)
	}
	return failed, nil
}
