package grpcserver

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"fleetops/internal/broadcast"
	"fleetops/internal/gateway"
	"fleetops/models"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "fleetops.mission.v1.MissionService"

// MissionServiceServer is the server API for MissionService.
type MissionServiceServer interface {
	StartMission(context.Context, *MissionRequest) (*gateway.CommandResult, error)
	PauseMission(context.Context, *MissionRequest) (*gateway.CommandResult, error)
	ResumeMission(context.Context, *MissionRequest) (*gateway.CommandResult, error)
	AbortMission(context.Context, *MissionRequest) (*gateway.CommandResult, error)
	CompleteMission(context.Context, *MissionRequest) (*gateway.CommandResult, error)
	GetMission(context.Context, *MissionRequest) (*MissionResponse, error)
	GetMissionWaypoints(context.Context, *MissionRequest) (*WaypointsResponse, error)
	ListMissions(context.Context, *ListMissionsRequest) (*ListMissionsResponse, error)
	ReportTelemetry(context.Context, *models.TelemetrySample) (*gateway.CommandResult, error)
	Subscribe(*SubscribeRequest, EventSender) error
}

// EventSender is the server side of the Subscribe stream.
type EventSender interface {
	Send(*broadcast.Event) error
	grpc.ServerStream
}

// MissionServiceDesc describes MissionService for grpc.Server.RegisterService.
var MissionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MissionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartMission", MissionServiceServer.StartMission),
		unary("PauseMission", MissionServiceServer.PauseMission),
		unary("ResumeMission", MissionServiceServer.ResumeMission),
		unary("AbortMission", MissionServiceServer.AbortMission),
		unary("CompleteMission", MissionServiceServer.CompleteMission),
		unary("GetMission", MissionServiceServer.GetMission),
		unary("GetMissionWaypoints", MissionServiceServer.GetMissionWaypoints),
		unary("ListMissions", MissionServiceServer.ListMissions),
		unary("ReportTelemetry", MissionServiceServer.ReportTelemetry),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
}

// RegisterMissionServiceServer registers srv on s.
func RegisterMissionServiceServer(s grpc.ServiceRegistrar, srv MissionServiceServer) {
	s.RegisterService(&MissionServiceDesc, srv)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(MissionServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(MissionServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

type eventSender struct {
	grpc.ServerStream
}

func (s *eventSender) Send(ev *broadcast.Event) error { return s.SendMsg(ev) }

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MissionServiceServer).Subscribe(in, &eventSender{stream})
}

// MissionClient calls MissionService with the JSON codec.
type MissionClient struct {
	cc grpc.ClientConnInterface
}

func NewMissionClient(cc grpc.ClientConnInterface) *MissionClient {
	return &MissionClient{cc: cc}
}

func (c *MissionClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}

func (c *MissionClient) command(ctx context.Context, method string, in *MissionRequest, opts []grpc.CallOption) (*gateway.CommandResult, error) {
	out := new(gateway.CommandResult)
	if err := c.invoke(ctx, method, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MissionClient) StartMission(ctx context.Context, in *MissionRequest, opts ...grpc.CallOption) (*gateway.CommandResult, error) {
	return c.command(ctx, "StartMission", in, opts)
}

func (c *MissionClient) PauseMission(ctx context.Context, in *MissionRequest, opts ...grpc.CallOption) (*gateway.CommandResult, error) {
	return c.command(ctx, "PauseMission", in, opts)
}

func (c *MissionClient) ResumeMission(ctx context.Context, in *MissionRequest, opts ...grpc.CallOption) (*gateway.CommandResult, error) {
	return c.command(ctx, "ResumeMission", in, opts)
}

func (c *MissionClient) AbortMission(ctx context.Context, in *MissionRequest, opts ...grpc.CallOption) (*gateway.CommandResult, error) {
	return c.command(ctx, "AbortMission", in, opts)
}

func (c *MissionClient) CompleteMission(ctx context.Context, in *MissionRequest, opts ...grpc.CallOption) (*gateway.CommandResult, error) {
	return c.command(ctx, "CompleteMission", in, opts)
}

func (c *MissionClient) GetMission(ctx context.Context, in *MissionRequest, opts ...grpc.CallOption) (*MissionResponse, error) {
	out := new(MissionResponse)
	if err := c.invoke(ctx, "GetMission", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MissionClient) GetMissionWaypoints(ctx context.Context, in *MissionRequest, opts ...grpc.CallOption) (*WaypointsResponse, error) {
	out := new(WaypointsResponse)
	if err := c.invoke(ctx, "GetMissionWaypoints", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MissionClient) ListMissions(ctx context.Context, in *ListMissionsRequest, opts ...grpc.CallOption) (*ListMissionsResponse, error) {
	out := new(ListMissionsResponse)
	if err := c.invoke(ctx, "ListMissions", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MissionClient) ReportTelemetry(ctx context.Context, in *models.TelemetrySample, opts ...grpc.CallOption) (*gateway.CommandResult, error) {
	out := new(gateway.CommandResult)
	if err := c.invoke(ctx, "ReportTelemetry", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe opens the event stream. Events arrive in envelope form and are decoded by Recv.
func (c *MissionClient) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (*EventStream, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &MissionServiceDesc.Streams[0], fullMethod("Subscribe"), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{ClientStream: stream}, nil
}

// EventStream is the client side of Subscribe.
type EventStream struct {
	grpc.ClientStream
}

func (s *EventStream) Recv() (broadcast.Event, error) {
	var raw json.RawMessage
	if err := s.RecvMsg(&raw); err != nil {
		return broadcast.Event{}, err
	}
	return broadcast.DecodeEnvelope(raw)
}
