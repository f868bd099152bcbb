// Package httpapi is the REST and WebSocket surface used by the dashboard.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"fleetops/internal/auth"
	"fleetops/internal/broadcast"
	"fleetops/internal/config"
	"fleetops/internal/flightlog"
	"fleetops/internal/gateway"
	"fleetops/models"
	"fleetops/repository"
)

var (
	writeRoles = []string{models.RoleAdmin, models.RoleOperator}
	readRoles  = []string{models.RoleAdmin, models.RoleOperator, models.RoleViewer}
)

// TelemetryCache returns the most recent sample reported for a drone, or nil when none is cached.
type TelemetryCache interface {
	LatestTelemetry(ctx context.Context, droneID int64) (*models.TelemetrySample, error)
}

// MissionHistory lists the recorded status changes of a mission.
type MissionHistory interface {
	Transitions(ctx context.Context, missionID int64) ([]flightlog.Transition, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the REST API and the /ws event stream.
type Server struct {
	Users     repository.UserRepositoryI
	Gateway   *gateway.Gateway
	Bus       *broadcast.Broadcaster
	DB        Pinger
	Telemetry TelemetryCache // optional
	History   MissionHistory // optional
	Secret    string
	Log       zerolog.Logger
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)

	mux.HandleFunc("GET /api/missions", s.listMissions)
	mux.HandleFunc("POST /api/missions", s.createMission)
	mux.HandleFunc("GET /api/missions/{id}", s.getMission)
	mux.HandleFunc("DELETE /api/missions/{id}", s.deleteMission)
	mux.HandleFunc("GET /api/missions/{id}/waypoints", s.getWaypoints)
	mux.HandleFunc("GET /api/missions/{id}/history", s.missionHistory)
	mux.HandleFunc("POST /api/missions/{id}/{command}", s.missionCommand)

	mux.HandleFunc("GET /api/drones", s.listDrones)
	mux.HandleFunc("POST /api/drones", s.createDrone)
	mux.HandleFunc("GET /api/drones/{id}", s.getDrone)
	mux.HandleFunc("PUT /api/drones/{id}/status", s.setDroneStatus)
	mux.HandleFunc("POST /api/drones/{id}/maintenance", s.requestMaintenance)
	mux.HandleFunc("GET /api/drones/{id}/telemetry", s.droneTelemetry)

	mux.HandleFunc("GET /api/users", s.listUsers)
	mux.HandleFunc("POST /api/users", s.createUser)
	mux.HandleFunc("PUT /api/users/{username}/role", s.setUserRole)
	mux.HandleFunc("DELETE /api/users/{id}", s.deleteUser)

	mux.HandleFunc("POST /api/telemetry", s.ingestTelemetry)
	mux.HandleFunc("GET /ws", s.serveWS)

	return auth.Middleware(s.Secret, mux, "/healthz")
}

// Start listens on the configured HTTP address and returns a shutdown function.
func Start(cfg *config.Config, s *Server) (func(context.Context) error, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	addr := cfg.HTTP.Address
	if addr == "" {
		addr = ":8080"
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error().Err(err).Msg("http serve")
		}
	}()
	s.Log.Info().Str("addr", lis.Addr().String()).Msg("http listening")
	return srv.Shutdown, nil
}

type errorBody struct {
	Error gateway.CommandError `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, errorBody{Error: gateway.CommandError{Code: errCode, Message: msg}})
}

// fail writes err with a status derived from its gateway code or auth status.
func (s *Server) fail(w http.ResponseWriter, err error) {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated:
			writeError(w, http.StatusUnauthorized, "unauthenticated", st.Message())
			return
		case codes.PermissionDenied:
			writeError(w, http.StatusForbidden, gateway.CodeForbidden, st.Message())
			return
		}
	}
	code := gateway.ErrorCode(err)
	httpStatus := http.StatusInternalServerError
	switch code {
	case gateway.CodeNotFound:
		httpStatus = http.StatusNotFound
	case gateway.CodeForbidden:
		httpStatus = http.StatusForbidden
	case gateway.CodeInvalidArgument:
		httpStatus = http.StatusBadRequest
	case gateway.CodeMissionAttached, gateway.CodeDroneBusy, gateway.CodeStaleState:
		httpStatus = http.StatusConflict
	}
	if httpStatus == http.StatusInternalServerError {
		s.Log.Error().Err(err).Msg("request failed")
	}
	writeError(w, httpStatus, code, err.Error())
}

func (s *Server) actor(r *http.Request, roles ...string) (gateway.Actor, error) {
	p, err := auth.RequireRole(r.Context(), s.Users, roles...)
	if err != nil {
		return gateway.Actor{}, err
	}
	return gateway.Actor{Name: p.Name, Role: p.Kind}, nil
}

func (s *Server) requireTelemetry(r *http.Request) (gateway.Actor, error) {
	p, err := auth.RequireTelemetry(r.Context())
	if err != nil {
		return gateway.Actor{}, err
	}
	return gateway.Actor{Name: p.Name, Role: gateway.RoleSystem}, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, gateway.ErrInvalidArgument
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, gateway.ErrInvalidArgument)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		if err := s.DB.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, gateway.CodeInternal, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "subscribers": s.Bus.SubscriberCount()})
}
