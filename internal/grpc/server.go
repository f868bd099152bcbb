package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"fleetops/internal/auth"
	"fleetops/internal/broadcast"
	"fleetops/internal/config"
	"fleetops/internal/gateway"
	"fleetops/models"
	"fleetops/repository"
)

var (
	healthMethods = []string{"/grpc.health.v1.Health/Check", "/grpc.health.v1.Health/Watch"}

	writeRoles = []string{models.RoleAdmin, models.RoleOperator}
	readRoles  = []string{models.RoleAdmin, models.RoleOperator, models.RoleViewer}
)

// MissionServer implements MissionService on top of the command gateway.
type MissionServer struct {
	Users   repository.UserRepositoryI
	Gateway *gateway.Gateway
	Bus     *broadcast.Broadcaster
	Log     zerolog.Logger
}

var _ MissionServiceServer = (*MissionServer)(nil)

// NewServer builds a grpc.Server with auth interceptors, MissionService and the health service.
func NewServer(secret string, ms *MissionServer) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.NewUnaryAuthInterceptor(secret, healthMethods...)),
		grpc.StreamInterceptor(auth.NewStreamAuthInterceptor(secret, healthMethods...)),
	)
	RegisterMissionServiceServer(srv, ms)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// StartGRPC starts the gRPC server on the configured address and returns a shutdown function.
func StartGRPC(cfg *config.Config, ms *MissionServer) (func(context.Context) error, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	addr := cfg.GRPC.Address
	if addr == "" {
		addr = ":50051"
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv, hs := NewServer(cfg.Auth.JWTSecret, ms)
	go func() {
		if err := srv.Serve(lis); err != nil {
			ms.Log.Error().Err(err).Msg("grpc serve")
		}
	}()
	ms.Log.Info().Str("addr", lis.Addr().String()).Msg("grpc listening")

	return func(ctx context.Context) error {
		hs.Shutdown()
		done := make(chan struct{})
		go func() { srv.GracefulStop(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			srv.Stop()
			return ctx.Err()
		}
	}, nil
}

func (s *MissionServer) actor(ctx context.Context, roles ...string) (gateway.Actor, error) {
	p, err := auth.RequireRole(ctx, s.Users, roles...)
	if err != nil {
		return gateway.Actor{}, err
	}
	return gateway.Actor{Name: p.Name, Role: p.Kind}, nil
}

// toStatus maps query failures onto gRPC codes. Command failures travel in CommandResult.
func toStatus(err error) error {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, gateway.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, gateway.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	}
	return status.Errorf(codes.Internal, "%v", err)
}

func (s *MissionServer) command(ctx context.Context, req *MissionRequest,
	run func(ctx context.Context, actor gateway.Actor, id int64) (*models.Mission, error)) (*gateway.CommandResult, error) {
	actor, err := s.actor(ctx, writeRoles...)
	if err != nil {
		return nil, err
	}
	if req == nil || req.MissionID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "mission_id is required")
	}
	res := gateway.ResultOf(run(ctx, actor, req.MissionID))
	return &res, nil
}

func (s *MissionServer) StartMission(ctx context.Context, req *MissionRequest) (*gateway.CommandResult, error) {
	return s.command(ctx, req, s.Gateway.Start)
}

func (s *MissionServer) PauseMission(ctx context.Context, req *MissionRequest) (*gateway.CommandResult, error) {
	return s.command(ctx, req, s.Gateway.Pause)
}

func (s *MissionServer) ResumeMission(ctx context.Context, req *MissionRequest) (*gateway.CommandResult, error) {
	return s.command(ctx, req, s.Gateway.Resume)
}

func (s *MissionServer) AbortMission(ctx context.Context, req *MissionRequest) (*gateway.CommandResult, error) {
	return s.command(ctx, req, func(ctx context.Context, actor gateway.Actor, id int64) (*models.Mission, error) {
		return s.Gateway.Abort(ctx, actor, id, req.Reason)
	})
}

func (s *MissionServer) CompleteMission(ctx context.Context, req *MissionRequest) (*gateway.CommandResult, error) {
	return s.command(ctx, req, func(ctx context.Context, actor gateway.Actor, id int64) (*models.Mission, error) {
		return s.Gateway.Complete(ctx, actor, id, req.Override)
	})
}

func (s *MissionServer) GetMission(ctx context.Context, req *MissionRequest) (*MissionResponse, error) {
	if _, err := s.actor(ctx, readRoles...); err != nil {
		return nil, err
	}
	m, err := s.Gateway.GetMission(ctx, req.MissionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MissionResponse{Mission: m}, nil
}

func (s *MissionServer) GetMissionWaypoints(ctx context.Context, req *MissionRequest) (*WaypointsResponse, error) {
	if _, err := s.actor(ctx, readRoles...); err != nil {
		return nil, err
	}
	wps, err := s.Gateway.GetMissionWaypoints(ctx, req.MissionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &WaypointsResponse{Waypoints: wps}, nil
}

// ListMissions lists missions with optional filters and cursor pagination.
func (s *MissionServer) ListMissions(ctx context.Context, req *ListMissionsRequest) (*ListMissionsResponse, error) {
	if _, err := s.actor(ctx, readRoles...); err != nil {
		return nil, err
	}
	if req == nil {
		req = &ListMissionsRequest{}
	}
	size := req.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	p := repository.ListMissionsParams{PageSize: size}
	if strings.TrimSpace(req.PageToken) != "" {
		after, err := decodeCursor(req.PageToken)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid page_token: %v", err)
		}
		p.AfterID = after
	}
	for _, raw := range req.Statuses {
		st, err := models.ParseMissionStatus(raw)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid status filter: %v", err)
		}
		p.Statuses = append(p.Statuses, st)
	}
	if req.DroneID > 0 {
		p.DroneID = &req.DroneID
	}

	missions, err := s.Gateway.ListMissions(ctx, p)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &ListMissionsResponse{Missions: missions}
	if len(missions) == size {
		resp.NextPageToken = encodeCursor(missions[len(missions)-1].ID)
	}
	return resp, nil
}

// ReportTelemetry ingests one sample from a telemetry bridge.
func (s *MissionServer) ReportTelemetry(ctx context.Context, sample *models.TelemetrySample) (*gateway.CommandResult, error) {
	if _, err := auth.RequireTelemetry(ctx); err != nil {
		return nil, err
	}
	if sample == nil {
		return nil, status.Error(codes.InvalidArgument, "sample is required")
	}
	res := gateway.ResultOf(s.Gateway.IngestTelemetry(ctx, *sample))
	return &res, nil
}

// Subscribe streams events until the client goes away. A client that falls behind is
// disconnected with ResourceExhausted and should re-fetch state with GetMission.
func (s *MissionServer) Subscribe(req *SubscribeRequest, stream EventSender) error {
	ctx := stream.Context()
	actor, err := s.actor(ctx, readRoles...)
	if err != nil {
		return err
	}
	sub := s.Bus.Subscribe(req.Topics...)
	defer sub.Close()
	s.Log.Debug().Str("actor", actor.Name).Strs("topics", req.Topics).Msg("grpc subscriber attached")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				if errors.Is(sub.Err(), broadcast.ErrSlowConsumer) {
					return status.Error(codes.ResourceExhausted, sub.Err().Error())
				}
				return status.Error(codes.Unavailable, "event stream closed")
			}
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
	}
}
