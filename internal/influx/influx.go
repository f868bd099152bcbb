// Package influx writes mission telemetry and transitions as InfluxDB points.
package influx

import (
	"context"
	"errors"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"fleetops/models"
)

const (
	MeasurementTelemetry  = "telemetry"
	MeasurementTransition = "mission_transition"
)

// Options configures the writer.
type Options struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// FlushInterval in milliseconds; the client default is used when zero.
	FlushInterval uint
}

// Writer batches points to one bucket. Writes never block the caller; failures are logged.
type Writer struct {
	client influxdb2.Client
	write  influxdb2_api.WriteAPI
	log    zerolog.Logger
}

// New connects to InfluxDB and verifies the server answers a ping.
func New(ctx context.Context, opts Options, log zerolog.Logger) (*Writer, error) {
	if opts.URL == "" || opts.Bucket == "" {
		return nil, errors.New("influx url and bucket are required")
	}
	clientOpts := influxdb2.DefaultOptions().SetBatchSize(500)
	if opts.FlushInterval > 0 {
		clientOpts.SetFlushInterval(opts.FlushInterval)
	}
	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token, clientOpts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	running, err := client.Ping(ctx)
	if err != nil || !running {
		client.Close()
		if err == nil {
			err = errors.New("influxdb is not running")
		}
		return nil, err
	}

	w := &Writer{
		client: client,
		write:  client.WriteAPI(opts.Org, opts.Bucket),
		log:    log.With().Str("component", "influx").Str("bucket", opts.Bucket).Logger(),
	}
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			w.log.Error().Err(writeErr).Msg("Error sending data to InfluxDB")
		}
	}(w.write.Errors())
	w.log.Info().Msg("InfluxDB writer initialized")
	return w, nil
}

func (w *Writer) Name() string { return "influx" }

func (w *Writer) RecordTelemetry(_ context.Context, m *models.Mission, s models.TelemetrySample) error {
	w.write.WritePoint(telemetryPoint(m, s))
	return nil
}

func (w *Writer) RecordTransition(_ context.Context, m *models.Mission, from models.MissionStatus, actor string) error {
	w.write.WritePoint(transitionPoint(m, from, actor, time.Now()))
	return nil
}

// Flush writes buffered points.
func (w *Writer) Flush() {
	w.write.Flush()
}

// Close flushes pending points and releases the client.
func (w *Writer) Close() {
	w.client.Close()
}

func telemetryPoint(m *models.Mission, s models.TelemetrySample) *influxdb2_write.Point {
	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	p := influxdb2_write.NewPointWithMeasurement(MeasurementTelemetry).
		AddTag("drone_id", strconv.FormatInt(m.DroneID, 10)).
		AddTag("mission_id", strconv.FormatInt(m.ID, 10)).
		AddField("lat", s.Lat).
		AddField("lng", s.Lng).
		AddField("altitude", s.Altitude).
		AddField("speed", s.Speed).
		AddField("battery_level", s.BatteryLevel).
		AddField("signal_strength", s.SignalStrength).
		AddField("waypoint_index", m.CurrentWaypointIndex).
		AddField("progress", m.Progress).
		SetTime(ts)
	return p
}

func transitionPoint(m *models.Mission, from models.MissionStatus, actor string, now time.Time) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(MeasurementTransition).
		AddTag("drone_id", strconv.FormatInt(m.DroneID, 10)).
		AddTag("mission_id", strconv.FormatInt(m.ID, 10)).
		AddTag("status", string(m.Status)).
		AddField("from", string(from)).
		AddField("actor", actor).
		AddField("progress", m.Progress).
		SetTime(now)
	if m.StatusReason != "" {
		p.AddField("reason", m.StatusReason)
	}
	return p
}
