package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetops/models"
)

type MissionRepository struct {
	db DBTX
}

func NewMissionRepository(db DBTX) *MissionRepository {
	return &MissionRepository{db: db}
}

const missionColumns = `id, name, drone_id, status, current_waypoint_index, telemetry, last_telemetry_at, start_time, end_time, status_reason, version, created_at`

func scanMission(row rowScanner) (*models.Mission, error) {
	var m models.Mission
	var status, created string
	var telemetry, lastTelemetry, start, end sql.NullString
	if err := row.Scan(&m.ID, &m.Name, &m.DroneID, &status, &m.CurrentWaypointIndex, &telemetry,
		&lastTelemetry, &start, &end, &m.StatusReason, &m.Version, &created); err != nil {
		return nil, err
	}
	m.Status = models.MissionStatus(status)
	if telemetry.Valid && telemetry.String != "" {
		var t models.Telemetry
		if err := json.Unmarshal([]byte(telemetry.String), &t); err != nil {
			return nil, fmt.Errorf("decode telemetry for mission %d: %w", m.ID, err)
		}
		m.Telemetry = &t
	}
	var err error
	if m.LastTelemetryAt, err = parseNullTime(lastTelemetry); err != nil {
		return nil, err
	}
	if m.StartTime, err = parseNullTime(start); err != nil {
		return nil, err
	}
	if m.EndTime, err = parseNullTime(end); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a planned mission together with its waypoints.
// Waypoint order is taken from the slice position when Order is zero for every waypoint.
// Callers wanting atomicity run it through Store.InTx.
func (r *MissionRepository) Create(ctx context.Context, m *models.Mission) (*models.Mission, error) {
	if m == nil {
		return nil, errors.New("mission is nil")
	}
	if m.Status == "" {
		m.Status = models.MissionStatusPlanned
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Version == 0 {
		m.Version = 1
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `INSERT INTO missions (name, drone_id, status, current_waypoint_index, status_reason, version, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		m.Name, m.DroneID, string(m.Status), m.CurrentWaypointIndex, m.StatusReason, m.Version, formatTime(m.CreatedAt))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	m.ID = id

	explicitOrder := false
	for _, wp := range m.Waypoints {
		if wp.Order != 0 {
			explicitOrder = true
			break
		}
	}
	for i := range m.Waypoints {
		wp := &m.Waypoints[i]
		wp.MissionID = id
		if !explicitOrder {
			wp.Order = i
		}
		res, err := r.db.ExecContext(ctx, `INSERT INTO waypoints (mission_id, seq, lat, lng, altitude, reached, time_reached) VALUES (?,?,?,?,?,?,?)`,
			id, wp.Order, wp.Lat, wp.Lng, wp.Altitude, boolInt(wp.Reached), nullTime(wp.TimeReached))
		if err != nil {
			return nil, fmt.Errorf("insert waypoint %d: %w", wp.Order, err)
		}
		if wp.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}
	sortWaypoints(m.Waypoints)
	m.RefreshProgress()
	return m, nil
}

// GetByID loads a mission with its ordered waypoints. Returns nil, nil when not found.
func (r *MissionRepository) GetByID(ctx context.Context, id int64) (*models.Mission, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	m, err := scanMission(r.db.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if m.Waypoints, err = r.Waypoints(ctx, id); err != nil {
		return nil, err
	}
	m.RefreshProgress()
	return m, nil
}

// Waypoints returns the waypoints of a mission ordered by seq.
func (r *MissionRepository) Waypoints(ctx context.Context, missionID int64) ([]models.Waypoint, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT id, mission_id, seq, lat, lng, altitude, reached, time_reached FROM waypoints WHERE mission_id = ? ORDER BY seq ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Waypoint{}
	for rows.Next() {
		var wp models.Waypoint
		var reached int
		var reachedAt sql.NullString
		if err := rows.Scan(&wp.ID, &wp.MissionID, &wp.Order, &wp.Lat, &wp.Lng, &wp.Altitude, &reached, &reachedAt); err != nil {
			return nil, err
		}
		wp.Reached = reached != 0
		if wp.TimeReached, err = parseNullTime(reachedAt); err != nil {
			return nil, err
		}
		out = append(out, wp)
	}
	return out, rows.Err()
}

// Update persists the mutable mission fields and reached waypoints if the stored version
// still equals m.Version. On success m.Version is incremented; otherwise ErrStale is returned.
func (r *MissionRepository) Update(ctx context.Context, m *models.Mission) error {
	if m == nil {
		return errors.New("mission is nil")
	}
	var telemetry any
	if m.Telemetry != nil {
		b, err := json.Marshal(m.Telemetry)
		if err != nil {
			return fmt.Errorf("encode telemetry: %w", err)
		}
		telemetry = string(b)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE missions SET status = ?, current_waypoint_index = ?, telemetry = ?, last_telemetry_at = ?,
		start_time = ?, end_time = ?, status_reason = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(m.Status), m.CurrentWaypointIndex, telemetry, nullTime(m.LastTelemetryAt),
		nullTime(m.StartTime), nullTime(m.EndTime), m.StatusReason, m.ID, m.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	for _, wp := range m.Waypoints {
		if !wp.Reached {
			continue
		}
		if _, err := r.db.ExecContext(ctx, `UPDATE waypoints SET reached = 1, time_reached = COALESCE(time_reached, ?) WHERE id = ?`,
			nullTime(wp.TimeReached), wp.ID); err != nil {
			return fmt.Errorf("update waypoint %d: %w", wp.Order, err)
		}
	}
	m.Version++
	return nil
}

// Delete removes a mission; its waypoints are removed by ON DELETE CASCADE.
func (r *MissionRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM missions WHERE id = ?`, id)
	return err
}
