package repository

import (
	"context"

	"fleetops/models"
)

// UserRepositoryI defines operations on User entities.
type UserRepositoryI interface {
	Create(ctx context.Context, username, role string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context, limit int, afterID int64) ([]models.User, error)
	UpdateRole(ctx context.Context, username, role string) (*models.User, error)
	Delete(ctx context.Context, id int64) error
}

// MissionRepositoryI defines operations on Mission entities.
type MissionRepositoryI interface {
	Create(ctx context.Context, m *models.Mission) (*models.Mission, error)
	GetByID(ctx context.Context, id int64) (*models.Mission, error)
	Waypoints(ctx context.Context, missionID int64) ([]models.Waypoint, error)
	Update(ctx context.Context, m *models.Mission) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, p ListMissionsParams) ([]models.Mission, error)
	ListInProgress(ctx context.Context) ([]models.Mission, error)
}

// DroneRepositoryI defines operations on Drone entities.
type DroneRepositoryI interface {
	Create(ctx context.Context, d *models.Drone) (*models.Drone, error)
	GetByID(ctx context.Context, id int64) (*models.Drone, error)
	GetBySerial(ctx context.Context, serial string) (*models.Drone, error)
	GetByActiveMission(ctx context.Context, missionID int64) (*models.Drone, error)
	Update(ctx context.Context, d *models.Drone, expectedActive *int64) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, p ListDronesParams) ([]models.Drone, error)
}

var (
	_ UserRepositoryI    = (*UserRepository)(nil)
	_ MissionRepositoryI = (*MissionRepository)(nil)
	_ DroneRepositoryI   = (*DroneRepository)(nil)
)
