// Package flightlog appends mission transitions and telemetry to PostgreSQL for
// after-the-fact analysis. It is wired into the gateway as a sink.
package flightlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"fleetops/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS mission_transitions (
	id          BIGSERIAL PRIMARY KEY,
	mission_id  BIGINT NOT NULL,
	drone_id    BIGINT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	actor       TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mission_transitions_mission ON mission_transitions (mission_id, id);
CREATE TABLE IF NOT EXISTS telemetry_samples (
	time           TIMESTAMPTZ NOT NULL,
	mission_id     BIGINT NOT NULL,
	drone_id       BIGINT NOT NULL,
	lat            DOUBLE PRECISION NOT NULL,
	lng            DOUBLE PRECISION NOT NULL,
	altitude       DOUBLE PRECISION NOT NULL,
	speed          DOUBLE PRECISION NOT NULL,
	battery_level  DOUBLE PRECISION NOT NULL,
	waypoint_index INTEGER NOT NULL
)`

// Transition is one recorded status change of a mission.
type Transition struct {
	MissionID int64                `json:"mission_id"`
	DroneID   int64                `json:"drone_id"`
	From      models.MissionStatus `json:"from"`
	To        models.MissionStatus `json:"to"`
	Actor     string               `json:"actor"`
	Reason    string               `json:"reason,omitempty"`
	At        time.Time            `json:"at"`
}

type Client struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new flight log client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// EnsureSchema creates the flight log tables when missing.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("flightlog schema: %w", err)
	}
	return nil
}

func (c *Client) Name() string { return "flightlog" }

// RecordTransition stores the status change that just committed on m.
func (c *Client) RecordTransition(ctx context.Context, m *models.Mission, from models.MissionStatus, actor string) error {
	at := c.now()
	if m.EndTime != nil && m.Status.IsTerminal() {
		at = m.EndTime.UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO mission_transitions (mission_id, drone_id, from_status, to_status, actor, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.DroneID, string(from), string(m.Status), actor, m.StatusReason, at)
	return err
}

// RecordTelemetry stores the sample along with the waypoint index it produced.
func (c *Client) RecordTelemetry(ctx context.Context, m *models.Mission, s models.TelemetrySample) error {
	at := s.Timestamp
	if at.IsZero() {
		at = c.now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO telemetry_samples (time, mission_id, drone_id, lat, lng, altitude, speed, battery_level, waypoint_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		at.UTC(), m.ID, m.DroneID, s.Lat, s.Lng, s.Altitude, s.Speed, s.BatteryLevel, m.CurrentWaypointIndex)
	return err
}

// Transitions returns the recorded transitions of a mission, oldest first.
func (c *Client) Transitions(ctx context.Context, missionID int64) ([]Transition, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT mission_id, drone_id, from_status, to_status, actor, reason, at
		FROM mission_transitions
		WHERE mission_id = $1
		ORDER BY id ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Transition{}
	for rows.Next() {
		var t Transition
		var from, to string
		if err := rows.Scan(&t.MissionID, &t.DroneID, &from, &to, &t.Actor, &t.Reason, &t.At); err != nil {
			return nil, err
		}
		t.From = models.MissionStatus(from)
		t.To = models.MissionStatus(to)
		out = append(out, t)
	}
	return out, rows.Err()
}
