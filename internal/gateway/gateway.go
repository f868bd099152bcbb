// Package gateway is the single entry point for every mission writer: operator
// commands, telemetry ingestion and the telemetry-gap monitor. Writes to one mission
// are serialized and each one commits before its events are published.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"fleetops/internal/broadcast"
	"fleetops/internal/consistency"
	"fleetops/internal/progress"
	"fleetops/models"
	"fleetops/repository"
)

const instrumentationName = "fleetops/internal/gateway"

// RoleSystem identifies internal actors (telemetry source, health monitor).
const RoleSystem = "system"

// Actor is the caller a command is executed for.
type Actor struct {
	Name string
	Role string
}

// SystemActor is used for telemetry-driven and monitor-driven transitions.
var SystemActor = Actor{Name: "system", Role: RoleSystem}

func (a Actor) canWrite() bool {
	switch strings.ToLower(a.Role) {
	case RoleSystem, models.RoleAdmin, models.RoleOperator:
		return true
	}
	return false
}

// Config tunes the gateway.
type Config struct {
	// MaxRetries bounds reload-and-retry on stale writes.
	MaxRetries int
	// AutoComplete completes a mission as soon as telemetry reaches the last waypoint.
	AutoComplete bool
	// TelemetryTimeout is the gap after which an in-progress mission is failed.
	TelemetryTimeout time.Duration
	// HealthCheckInterval is the monitor tick.
	HealthCheckInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.TelemetryTimeout <= 0 {
		c.TelemetryTimeout = 60 * time.Second
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 10 * time.Second
	}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSinks registers post-commit sinks.
func WithSinks(sinks ...Sink) Option {
	return func(g *Gateway) {
		for _, s := range sinks {
			if s != nil {
				g.sinks = append(g.sinks, s)
			}
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// Gateway serializes mission writers and publishes committed changes.
type Gateway struct {
	store   *repository.Store
	bus     *broadcast.Broadcaster
	tracker *progress.Tracker
	drones  *consistency.Manager
	sinks   []Sink
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time

	missionLocks *keyedMutex
	droneLocks   *keyedMutex

	commands metric.Int64Counter
}

// New wires a Gateway. Metrics use the global OTel meter (no-op if not configured).
func New(store *repository.Store, bus *broadcast.Broadcaster, tracker *progress.Tracker, drones *consistency.Manager,
	log zerolog.Logger, cfg Config, opts ...Option) (*Gateway, error) {
	if store == nil || bus == nil || tracker == nil || drones == nil {
		return nil, errors.New("gateway: store, broadcaster, tracker and consistency manager are required")
	}
	cfg.applyDefaults()
	g := &Gateway{
		store:        store,
		bus:          bus,
		tracker:      tracker,
		drones:       drones,
		cfg:          cfg,
		log:          log.With().Str("component", "gateway").Logger(),
		now:          time.Now,
		missionLocks: newKeyedMutex(),
		droneLocks:   newKeyedMutex(),
	}
	for _, o := range opts {
		o(g)
	}
	var err error
	g.commands, err = otel.Meter(instrumentationName).Int64Counter(
		"gateway.commands",
		metric.WithDescription("Mission commands handled, by command and result code"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commands counter: %w", err)
	}
	return g, nil
}

func (g *Gateway) clock() time.Time {
	return g.now().UTC().Round(0)
}

func (g *Gateway) count(ctx context.Context, command string, err error) {
	code := ErrorCode(err)
	if code == "" {
		code = "ok"
	}
	g.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("result", code),
	))
}

// lockMission takes the mission lock and then the lock of the mission's drone.
// Locks are always taken before a transaction is opened.
func (g *Gateway) lockMission(ctx context.Context, missionID int64) (droneID int64, unlock func(), err error) {
	unlockMission := g.missionLocks.Lock(missionID)
	m, err := g.store.Missions.GetByID(ctx, missionID)
	if err != nil {
		unlockMission()
		return 0, nil, fmt.Errorf("load mission %d: %w", missionID, err)
	}
	if m == nil {
		unlockMission()
		return 0, nil, fmt.Errorf("mission %d: %w", missionID, ErrNotFound)
	}
	unlockDrone := g.droneLocks.Lock(m.DroneID)
	return m.DroneID, func() {
		unlockDrone()
		unlockMission()
	}, nil
}

// droneEvent picks the drone event matching a consistency change.
func droneEvent(d *models.Drone, ch consistency.Change) broadcast.Payload {
	switch {
	case ch.StatusChanged:
		return broadcast.DroneStatusUpdate{Drone: d}
	case ch.FieldsChanged:
		return broadcast.DroneUpdate{Drone: d}
	}
	return nil
}

func mergeChange(a, b consistency.Change) consistency.Change {
	return consistency.Change{
		StatusChanged: a.StatusChanged || b.StatusChanged,
		FieldsChanged: a.FieldsChanged || b.FieldsChanged,
	}
}
