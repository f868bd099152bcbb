package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"fleetops/models"
)

type DroneRepository struct {
	db DBTX
}

func NewDroneRepository(db DBTX) *DroneRepository {
	return &DroneRepository{db: db}
}

const droneColumns = `id, name, serial_number, status, battery_level, lat, lng, altitude, active_mission, last_mission, maintenance_pending, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDrone(row rowScanner) (*models.Drone, error) {
	var d models.Drone
	var status, updated string
	var active, last sql.NullInt64
	var pending int
	if err := row.Scan(&d.ID, &d.Name, &d.SerialNumber, &status, &d.BatteryLevel, &d.Lat, &d.Lng, &d.Altitude,
		&active, &last, &pending, &updated); err != nil {
		return nil, err
	}
	d.Status = models.DroneStatus(status)
	d.ActiveMission = int64Ptr(active)
	d.LastMission = int64Ptr(last)
	d.MaintenancePending = pending != 0
	t, err := parseTime(updated)
	if err != nil {
		return nil, err
	}
	d.UpdatedAt = t
	return &d, nil
}

// Create inserts a new drone. Status defaults to 'idle' and battery to 100 if empty.
func (r *DroneRepository) Create(ctx context.Context, d *models.Drone) (*models.Drone, error) {
	if d == nil {
		return nil, errors.New("drone is nil")
	}
	if d.Status == "" {
		d.Status = models.DroneStatusIdle
	}
	if !d.Status.Valid() {
		return nil, errors.New("invalid drone status")
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `INSERT INTO drones (name, serial_number, status, battery_level, lat, lng, altitude, active_mission, last_mission, maintenance_pending, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.Name, d.SerialNumber, string(d.Status), d.BatteryLevel, d.Lat, d.Lng, d.Altitude,
		nullInt64(d.ActiveMission), nullInt64(d.LastMission), boolInt(d.MaintenancePending), formatTime(d.UpdatedAt))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	d.ID = id
	return d, nil
}

func (r *DroneRepository) GetByID(ctx context.Context, id int64) (*models.Drone, error) {
	return r.getOne(ctx, `SELECT `+droneColumns+` FROM drones WHERE id = ?`, id)
}

func (r *DroneRepository) GetBySerial(ctx context.Context, serial string) (*models.Drone, error) {
	return r.getOne(ctx, `SELECT `+droneColumns+` FROM drones WHERE serial_number = ?`, serial)
}

// GetByActiveMission returns the drone currently held by the given mission.
func (r *DroneRepository) GetByActiveMission(ctx context.Context, missionID int64) (*models.Drone, error) {
	return r.getOne(ctx, `SELECT `+droneColumns+` FROM drones WHERE active_mission = ?`, missionID)
}

func (r *DroneRepository) getOne(ctx context.Context, query string, args ...any) (*models.Drone, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	d, err := scanDrone(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// Update writes every mutable drone field, guarded on the active_mission value the caller
// read (expectedActive). If another writer took or released the drone meanwhile, no row
// matches and ErrStale is returned.
func (r *DroneRepository) Update(ctx context.Context, d *models.Drone, expectedActive *int64) error {
	if d == nil {
		return errors.New("drone is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `UPDATE drones SET name = ?, status = ?, battery_level = ?, lat = ?, lng = ?, altitude = ?,
		active_mission = ?, last_mission = ?, maintenance_pending = ?, updated_at = ?
		WHERE id = ? AND active_mission IS ?`,
		d.Name, string(d.Status), d.BatteryLevel, d.Lat, d.Lng, d.Altitude,
		nullInt64(d.ActiveMission), nullInt64(d.LastMission), boolInt(d.MaintenancePending), formatTime(d.UpdatedAt),
		d.ID, nullInt64(expectedActive))
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
	return nil
}

func (r *DroneRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `DELETE FROM drones WHERE id = ?`, id)
	return err
}

// ListDronesParams contains filters and pagination for drone listings.
type ListDronesParams struct {
	Status               *models.DroneStatus
	ActiveOnly           bool
	NameOrSerialContains string
	PageSize             int
	AfterID              int64
}

// List returns drones matching filters ordered by id asc with keyset pagination by id.
func (r *DroneRepository) List(ctx context.Context, p ListDronesParams) ([]models.Drone, error) {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	where := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if p.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.ActiveOnly {
		where = append(where, "active_mission IS NOT NULL")
	}
	if s := strings.TrimSpace(p.NameOrSerialContains); s != "" {
		like := "%" + s + "%"
		where = append(where, "(name LIKE ? OR serial_number LIKE ?)")
		args = append(args, like, like)
	}
	if p.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, p.AfterID)
	}

	query := "SELECT " + droneColumns + " FROM drones"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, p.PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Drone
	for rows.Next() {
		d, err := scanDrone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
