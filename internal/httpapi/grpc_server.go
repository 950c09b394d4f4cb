package httpapi

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	vestingv1 "gradify.org/api/vestingv1"
	"gradify.org/internal/auth"
	"gradify.org/internal/obs"
	"gradify.org/internal/vesting"
)

// GRPCServer implements vesting.v1.VestingService and grpc.health.v1.Health.
type GRPCServer struct {
	vestingv1.UnimplementedVestingServiceServer
	healthpb.UnimplementedHealthServer

	vesting   VestingService
	readiness readinessChecker
	version   string
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(svc VestingService, r readinessChecker, version string) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &GRPCServer{
		vesting:   svc,
		readiness: r,
		version:   version,
	}
}

// Register attaches both services to gs.
func (s *GRPCServer) Register(gs grpc.ServiceRegistrar) {
	vestingv1.RegisterVestingServiceServer(gs, s)
	healthpb.RegisterHealthServer(gs, s)
}

// ServerOptions returns the interceptor chain: panic recovery, then bearer
// authentication for everything except the health service.
func ServerOptions(tokens *auth.Tokens) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryRecovery, UnaryAuth(tokens)),
	}
}

// UnaryRecovery turns a panic into codes.Internal.
func UnaryRecovery(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if p := recover(); p != nil {
			obs.Logger().ErrorContext(ctx, "grpc: panic recovered",
				"method", info.FullMethod,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			resp, err = nil, status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

// UnaryAuth authenticates the bearer token carried in the authorization
// metadata.
func UnaryAuth(tokens *auth.Tokens) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/"+healthpb.Health_ServiceDesc.ServiceName+"/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
		token, err := extractBearerToken(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		principal, err := tokens.Authenticate(ctx, token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				return nil, status.Error(codes.Unauthenticated, "invalid token")
			}
			return nil, status.Error(codes.Internal, "authentication error")
		}
		ctx = auth.ContextWithPrincipal(ctx, principal)
		ctx = auth.ContextWithToken(ctx, token)
		return handler(ctx, req)
	}
}

func (s *GRPCServer) CreateVestingAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := permitted(ctx, auth.PermProgramCreate)
	if err != nil {
		return nil, err
	}
	var req vestingv1.CreateVestingAccountRequest
	if err := vestingv1.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	prog, err := s.vesting.CreateProgram(ctx, p.Subject, req.CompanyName)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return encode(programMessage(prog))
}

func (s *GRPCServer) CreateEmployeeAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := permitted(ctx, auth.PermEmployeeCreate)
	if err != nil {
		return nil, err
	}
	var req vestingv1.CreateEmployeeAccountRequest
	if err := vestingv1.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rec, err := s.vesting.CreateEmployee(ctx, p.Subject, req.Program, req.Beneficiary, vesting.Schedule{
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		CliffTime:   req.CliffTime,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	// The record is committed; evaluating it must not turn success into an error.
	return encode(employeeMessage(s.vesting.View(rec)))
}

func (s *GRPCServer) ClaimToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := permitted(ctx, auth.PermClaim)
	if err != nil {
		return nil, err
	}
	var req vestingv1.ClaimTokenRequest
	if err := vestingv1.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	receipt, err := s.vesting.Claim(ctx, p.Subject, req.CompanyName, req.Owner)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return encode(vestingv1.ClaimTokenResponse{
		Program:        receipt.Program,
		Employee:       receipt.Employee,
		Beneficiary:    receipt.Beneficiary,
		Amount:         receipt.Amount,
		Vested:         receipt.Vested,
		TotalWithdrawn: receipt.TotalWithdrawn,
		ClaimedAt:      receipt.ClaimedAt,
		TransactionID:  receipt.TransactionID,
	})
}

func (s *GRPCServer) GetEmployee(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, ok := auth.PrincipalFromContext(ctx); !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	var req vestingv1.GetEmployeeRequest
	if err := vestingv1.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	view, err := s.vesting.GetEmployee(ctx, req.Address)
	if err != nil {
		return nil, grpcError(ctx, err)
	}
	return encode(employeeMessage(view))
}

// Check reports SERVING while the readiness probe passes.
func (s *GRPCServer) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func permitted(ctx context.Context, perm string) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.Principal{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	if !p.HasPermission(perm) {
		return auth.Principal{}, status.Error(codes.PermissionDenied, "missing permission "+perm)
	}
	return p, nil
}

// grpcError converts err to a status and attaches its reason code as a
// trailer so clients can recover the sentinel.
func grpcError(ctx context.Context, err error) error {
	_, code, expose := classify(err)
	if !expose {
		obs.Logger().ErrorContext(ctx, "grpc: request failed", "error", err)
		return status.Error(code, "internal error")
	}
	if reason := vesting.Reason(err); reason != "" {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(vestingv1.ReasonTrailer, reason))
	}
	return status.Error(code, err.Error())
}

func encode(v any) (*structpb.Struct, error) {
	out, err := vestingv1.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func programMessage(p vesting.Program) vestingv1.Program {
	return vestingv1.Program{
		Address:       p.Address,
		Owner:         p.Owner,
		CompanyName:   p.CompanyName,
		Treasury:      p.Treasury,
		Token:         p.Token,
		EmployeeCount: p.EmployeeCount,
	}
}

func employeeMessage(v vesting.EmployeeView) vestingv1.Employee {
	return vestingv1.Employee{
		Address:        v.Address,
		Program:        v.Program,
		Beneficiary:    v.Beneficiary,
		StartTime:      v.Schedule.StartTime,
		EndTime:        v.Schedule.EndTime,
		CliffTime:      v.Schedule.CliffTime,
		TotalAmount:    v.Schedule.TotalAmount,
		TotalWithdrawn: v.TotalWithdrawn,
		Vested:         v.Vested,
		Claimable:      v.Claimable,
		Status:         v.Status,
		Error:          v.Error,
	}
}
