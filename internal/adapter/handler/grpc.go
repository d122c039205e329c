package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/transport"
	"github.com/hive-corporation/varonis-dsp/internal/adapter/varonis"
	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
	"github.com/hive-corporation/varonis-dsp/internal/core/ports"
)

// CommandsServiceName is the fully qualified gRPC service name. Requests and
// responses are google.protobuf.Struct documents keyed like the REST API.
const CommandsServiceName = "varonis.v1.Commands"

// CommandsServer is the server API of varonis.v1.Commands.
type CommandsServer interface {
	TestModule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAlerts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAlertedEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateAlertStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseAlert(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(CommandsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// CommandsServiceDesc describes varonis.v1.Commands for grpc.Server.
var CommandsServiceDesc = grpc.ServiceDesc{
	ServiceName: CommandsServiceName,
	HandlerType: (*CommandsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TestModule", Handler: unaryHandler("TestModule", CommandsServer.TestModule)},
		{MethodName: "GetAlerts", Handler: unaryHandler("GetAlerts", CommandsServer.GetAlerts)},
		{MethodName: "GetAlertedEvents", Handler: unaryHandler("GetAlertedEvents", CommandsServer.GetAlertedEvents)},
		{MethodName: "UpdateAlertStatus", Handler: unaryHandler("UpdateAlertStatus", CommandsServer.UpdateAlertStatus)},
		{MethodName: "CloseAlert", Handler: unaryHandler("CloseAlert", CommandsServer.CloseAlert)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "varonis/v1/commands.proto",
}

func RegisterCommandsServer(s grpc.ServiceRegistrar, srv CommandsServer) {
	s.RegisterService(&CommandsServiceDesc, srv)
}

func unaryHandler(method string, call structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(CommandsServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + CommandsServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*structpb.Struct))
		})
	}
}

// CommandsClient is the client API of varonis.v1.Commands.
type CommandsClient struct {
	cc grpc.ClientConnInterface
}

func NewCommandsClient(cc grpc.ClientConnInterface) *CommandsClient {
	return &CommandsClient{cc: cc}
}

// Call invokes a method by name, e.g. "GetAlerts".
func (c *CommandsClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+CommandsServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GrpcServer serves varonis.v1.Commands on top of the integration commands.
type GrpcServer struct {
	commands ports.Commands
	logger   zerolog.Logger
}

func NewGrpcServer(commands ports.Commands, logger zerolog.Logger) *GrpcServer {
	return &GrpcServer{
		commands: commands,
		logger:   logger,
	}
}

func (s *GrpcServer) TestModule(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	result, err := s.commands.TestModule(ctx)
	if err != nil {
		return nil, grpcError(varonis.CmdTestModule, err)
	}
	return structpb.NewStruct(map[string]any{"result": result})
}

func (s *GrpcServer) GetAlerts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	q := domain.AlertsQuery{
		ThreatModels: listArg(req, "threat_model_name"),
		Statuses:     listArg(req, "alert_status"),
		Severities:   listArg(req, "severity"),
	}

	var err error
	if q.MaxResults, err = intArg(req, "max_results", defaultMaxResults); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if q.Start, err = timeArg(req, "start_time"); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if q.End, err = timeArg(req, "end_time"); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if q.Start.IsZero() && !q.End.IsZero() {
		return nil, status.Error(codes.InvalidArgument, errEndWithoutStart.Error())
	}
	if !q.Start.IsZero() && q.End.IsZero() {
		q.End = time.Now().UTC()
	}

	alerts, err := s.commands.GetAlerts(ctx, q)
	if err != nil {
		return nil, grpcError(varonis.CmdGetAlerts, err)
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	return toStruct(map[string]any{"count": len(alerts), "alerts": alerts})
}

func (s *GrpcServer) GetAlertedEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ids := listArg(req, "alert_id")
	if len(ids) == 0 {
		return nil, status.Error(codes.InvalidArgument, "alert_id is required")
	}
	maxResults, err := intArg(req, "max_results", defaultMaxResults)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	events, err := s.commands.GetAlertedEvents(ctx, ids, maxResults)
	if err != nil {
		return nil, grpcError(varonis.CmdGetAlertedEvents, err)
	}
	if events == nil {
		events = []domain.AlertedEvent{}
	}
	return toStruct(map[string]any{"count": len(events), "events": events})
}

func (s *GrpcServer) UpdateAlertStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	err := s.commands.UpdateAlertStatus(ctx, stringArg(req, "status"), listArg(req, "alert_id"))
	if err != nil {
		return nil, grpcError(varonis.CmdUpdateStatus, err)
	}
	return structpb.NewStruct(map[string]any{"updated": true})
}

func (s *GrpcServer) CloseAlert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	err := s.commands.CloseAlert(ctx, stringArg(req, "close_reason"), listArg(req, "alert_id"))
	if err != nil {
		return nil, grpcError(varonis.CmdCloseAlert, err)
	}
	return structpb.NewStruct(map[string]any{"closed": true})
}

// UnaryLoggingInterceptor logs every call with its duration and status code.
func UnaryLoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call handled")
		return resp, err
	}
}

// grpcError converts a command error into a status carrying the operator
// facing message.
func grpcError(command string, err error) error {
	msg := varonis.FailureMessage(command, err)

	var httpErr *transport.HTTPError
	switch {
	case errors.Is(err, domain.ErrUnknownStatus),
		errors.Is(err, domain.ErrUnknownSeverity),
		errors.Is(err, domain.ErrUnknownCloseReason),
		errors.Is(err, domain.ErrUnknownThreatModel),
		errors.Is(err, domain.ErrInvalidAlertID):
		return status.Error(codes.InvalidArgument, msg)
	case errors.Is(err, varonis.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, msg)
	case errors.As(err, &httpErr),
		errors.Is(err, varonis.ErrNoRowLocation),
		errors.Is(err, domain.ErrSchemaDrift):
		return status.Error(codes.Unavailable, msg)
	}
	return status.Error(codes.Internal, msg)
}

// toStruct converts any JSON-marshalable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func stringArg(req *structpb.Struct, key string) string {
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return strings.TrimSpace(k.StringValue)
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	}
	return ""
}

// listArg accepts either a comma separated string or a list of strings.
func listArg(req *structpb.Struct, key string) []string {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil
	}
	if list := v.GetListValue(); list != nil {
		var out []string
		for _, item := range list.GetValues() {
			if s := strings.TrimSpace(item.GetStringValue()); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return domain.SplitList(v.GetStringValue())
}

func intArg(req *structpb.Struct, key string, def int) (int, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return def, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n < 0 || n > maxResultsLimit || n != math.Trunc(n) {
			return 0, fmt.Errorf("invalid %s", key)
		}
		return int(n), nil
	case *structpb.Value_StringValue:
		return parseMaxResults(k.StringValue)
	}
	return 0, fmt.Errorf("invalid %s", key)
}

func timeArg(req *structpb.Struct, key string) (time.Time, error) {
	s := stringArg(req, key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s (use RFC 3339)", key)
	}
	return t, nil
}
