package gateway

import (
	"context"

	"fleetops/models"
)

// Sink receives committed mission activity for storage outside the primary database
// (telemetry cache, flight log, metrics). Sink errors are logged and never fail a command.
type Sink interface {
	Name() string
	RecordTelemetry(ctx context.Context, m *models.Mission, s models.TelemetrySample) error
	RecordTransition(ctx context.Context, m *models.Mission, from models.MissionStatus, actor string) error
}

func (g *Gateway) recordTelemetry(ctx context.Context, m *models.Mission, s models.TelemetrySample) {
	for _, sink := range g.sinks {
		if err := sink.RecordTelemetry(ctx, m, s); err != nil {
			g.log.Warn().Err(err).Str("sink", sink.Name()).Int64("mission_id", m.ID).Msg("record telemetry")
		}
	}
}

func (g *Gateway) recordTransition(ctx context.Context, m *models.Mission, from models.MissionStatus, actor Actor) {
	for _, sink := range g.sinks {
		if err := sink.RecordTransition(ctx, m, from, actor.Name); err != nil {
			g.log.Warn().Err(err).Str("sink", sink.Name()).Int64("mission_id", m.ID).Msg("record transition")
		}
	}
}
