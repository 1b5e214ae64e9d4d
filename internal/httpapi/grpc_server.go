package httpapi

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"eduportal.org/internal/auth"
	"eduportal.org/internal/obs"
)

const (
	introspectionService = "eduportal.auth.v1.Introspection"
	introspectMethod     = "/" + introspectionService + "/Introspect"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// IntrospectionServer resolves a bearer token to an identity for other
// services.
type IntrospectionServer interface {
	Introspect(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

var introspectionServiceDesc = grpc.ServiceDesc{
	ServiceName: introspectionService,
	HandlerType: (*IntrospectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Introspect", Handler: introspectHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "eduportal/auth/v1/introspection.proto",
}

func introspectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntrospectionServer).Introspect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: introspectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IntrospectionServer).Introspect(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterIntrospectionServer registers srv on s.
func RegisterIntrospectionServer(s grpc.ServiceRegistrar, srv IntrospectionServer) {
	s.RegisterService(&introspectionServiceDesc, srv)
}

// Introspect calls the introspection service over conn.
func Introspect(ctx context.Context, conn grpc.ClientConnInterface, token string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, introspectMethod, wrapperspb.String(token), out); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCServer serves grpc.health.v1 and token introspection.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
	guard     *auth.Guard
	version   string
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(r readinessChecker, guard *auth.Guard, version string) *GRPCServer {
	return &GRPCServer{
		readiness: r,
		guard:     guard,
		version:   version,
	}
}

// Register attaches every service to s.
func (s *GRPCServer) Register(gs grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(gs, s)
	RegisterIntrospectionServer(gs, s)
}

// Check evaluates readiness. On failure returns NOT_SERVING.
func (s *GRPCServer) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			obs.Logger().Warn("grpc health check failed", zap.Error(err))
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// Introspect accepts either a raw token or a full "Bearer <token>" value.
func (s *GRPCServer) Introspect(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if s.guard == nil {
		return nil, status.Error(codes.Unimplemented, "introspection is not configured")
	}
	value := strings.TrimSpace(in.GetValue())
	var (
		id  auth.Identity
		err error
	)
	if strings.Contains(value, " ") {
		id, err = s.guard.Authenticate(ctx, value)
	} else {
		id, err = s.guard.AuthenticateToken(ctx, value)
	}
	if err != nil {
		return nil, grpcStatus(err)
	}

	perms := make([]any, 0, len(id.Permissions))
	for _, p := range id.Permissions {
		perms = append(perms, p)
	}
	out, err := structpb.NewStruct(map[string]any{
		"id":            id.UserID,
		"email":         id.Email,
		"role":          id.Role,
		"permissions":   perms,
		"sessionId":     id.SessionID,
		"institutionId": id.InstitutionID,
		"checkedAt":     time.Now().UTC().Format(time.RFC3339),
		"version":       s.version,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "encode identity")
	}
	return out, nil
}

func grpcStatus(err error) error {
	kind := auth.KindOf(err)
	var code codes.Code
	switch kind {
	case auth.KindWrongTokenType, auth.KindForbidden:
		code = codes.PermissionDenied
	case auth.KindInternal:
		obs.Logger().Error("introspection failed", zap.Error(err))
		code = codes.Internal
	default:
		code = codes.Unauthenticated
	}
	return status.Error(code, kind.String())
}

// UnaryLogging logs every unary call the way LoggingJSON logs HTTP requests.
func UnaryLogging(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	obs.Logger().Info("grpc_complete",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)
	return resp, err
}
