package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"fleetops/models"
)

// ListMissionsParams represents filters and pagination for mission listings.
type ListMissionsParams struct {
	Statuses []models.MissionStatus
	DroneID  *int64
	PageSize int
	AfterID  int64 // keyset cursor: mission id
}

// List returns missions matching filters ordered by id asc, each with its waypoints loaded.
func (r *MissionRepository) List(ctx context.Context, p ListMissionsParams) ([]models.Mission, error) {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	where := make([]string, 0, 3)
	args := make([]any, 0, len(p.Statuses)+3)
	if len(p.Statuses) > 0 {
		ph := make([]string, len(p.Statuses))
		for i, s := range p.Statuses {
			ph[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if p.DroneID != nil {
		where = append(where, "drone_id = ?")
		args = append(args, *p.DroneID)
	}
	if p.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, p.AfterID)
	}
	query := "SELECT " + missionColumns + " FROM missions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, p.PageSize)

	out, err := r.queryMissions(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Waypoints are loaded after the mission rows are closed; the pool has a single connection.
	for i := range out {
		if out[i].Waypoints, err = r.Waypoints(ctx, out[i].ID); err != nil {
			return nil, err
		}
		out[i].RefreshProgress()
	}
	return out, nil
}

// ListInProgress returns every in-progress mission without waypoints.
func (r *MissionRepository) ListInProgress(ctx context.Context) ([]models.Mission, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.queryMissions(ctx, "SELECT "+missionColumns+" FROM missions WHERE status = ? ORDER BY id ASC", string(models.MissionStatusInProgress))
}

func (r *MissionRepository) queryMissions(ctx context.Context, query string, args ...any) ([]models.Mission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func sortWaypoints(wps []models.Waypoint) {
	sort.SliceStable(wps, func(i, j int) bool { return wps[i].Order < wps[j].Order })
}
