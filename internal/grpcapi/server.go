package grpcapi

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tisp.org/internal/audit"
	"tisp.org/internal/auth"
	"tisp.org/internal/ids"
	"tisp.org/internal/trust"
)

const requestIDKey = "x-request-id"

// Server implements TrustQueryServer on top of the trust service.
type Server struct {
	UnimplementedTrustQueryServer

	trust  *trust.Service
	issuer *auth.Issuer
	logger *zap.Logger
}

// NewServer wraps svc. With a nil issuer calls are not authenticated.
func NewServer(svc *trust.Service, issuer *auth.Issuer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{trust: svc, issuer: issuer, logger: logger}
}

// NewGRPCServer builds a grpc.Server with the query and health services
// registered. The returned health server lets callers flip serving status on
// shutdown.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(s.requestID, s.logging, s.authenticate)}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterTrustQueryServer(gs, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

func (s *Server) CheckTrust(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	source := callerOrg(ctx, field(in, "source"))
	target := field(in, "target")
	if source == "" || target == "" {
		return nil, status.Error(codes.InvalidArgument, "source and target are required")
	}
	if !mayQuery(ctx, source, target) {
		return nil, status.Error(codes.PermissionDenied, "cannot query trust between other organizations")
	}
	res, found, err := s.trust.CheckTrustLevel(ctx, source, target)
	if err != nil {
		return nil, s.statusFor(ctx, err)
	}
	out := map[string]any{
		"source": source,
		"target": target,
		"found":  found,
	}
	if found {
		out["trust_level"] = levelValue(res.Level)
		out["link"] = linkValue(res.Link)
	}
	return toStruct(out)
}

func (s *Server) CanAccess(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	requester := callerOrg(ctx, field(in, "requester"))
	owner := field(in, "owner")
	if requester == "" || owner == "" {
		return nil, status.Error(codes.InvalidArgument, "requester and owner are required")
	}
	if !mayQuery(ctx, requester, owner) {
		return nil, status.Error(codes.PermissionDenied, "cannot query access between other organizations")
	}
	required := trust.AccessRead
	if raw := field(in, "access_level"); raw != "" {
		lvl, err := trust.ParseAccessLevel(raw)
		if err != nil {
			return nil, s.statusFor(ctx, err)
		}
		required = lvl
	}
	decision, err := s.trust.CanAccessIntelligence(ctx, requester, owner, required)
	if err != nil {
		return nil, s.statusFor(ctx, err)
	}
	return toStruct(map[string]any{
		"requester":    requester,
		"owner":        owner,
		"access_level": string(required),
		"allowed":      decision.Allowed,
		"reason":       decision.Reason,
		"link":         linkValue(decision.Link),
	})
}

func (s *Server) SharingPartners(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	source := callerOrg(ctx, field(in, "source"))
	if source == "" {
		return nil, status.Error(codes.InvalidArgument, "source is required")
	}
	if !mayQuery(ctx, source) {
		return nil, status.Error(codes.PermissionDenied, "cannot list partners of another organization")
	}
	partners, err := s.trust.SharingOrganizations(ctx, source, field(in, "min_level"))
	if err != nil {
		return nil, s.statusFor(ctx, err)
	}
	if in.GetFields()["unique"].GetBoolValue() {
		partners = trust.UniqueRecipients(partners)
	}
	list := make([]any, 0, len(partners))
	for _, p := range partners {
		list = append(list, map[string]any{
			"organization": p.OrganizationID,
			"trust_level":  levelValue(p.Level),
			"link":         linkValue(p.Link),
		})
	}
	return toStruct(map[string]any{
		"source":   source,
		"partners": list,
	})
}

// requestID propagates or mints a request id for the trust log.
func (s *Server) requestID(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
	rid := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(requestIDKey); len(vals) > 0 && len(vals[0]) <= 128 {
			rid = strings.TrimSpace(vals[0])
		}
	}
	if rid == "" {
		rid = ids.RequestID()
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDKey, rid))
	return next(audit.WithRequestID(ctx, rid), req)
}

func (s *Server) logging(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	s.logger.Info("grpc request",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(start)),
		zap.String("request_id", audit.RequestIDFromContext(ctx)),
	)
	return resp, err
}

func (s *Server) authenticate(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
	if s.issuer == nil || strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
		return next(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	token := strings.TrimSpace(vals[0])
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	claims, err := s.issuer.ParseAndValidate(token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	return next(auth.ContextWithPrincipal(ctx, claims.Principal()), req)
}

func (s *Server) statusFor(ctx context.Context, err error) error {
	code := codeFor(trust.KindOf(err))
	if code == codes.Internal {
		s.logger.Error("trust query failed",
			zap.Error(err),
			zap.String("request_id", audit.RequestIDFromContext(ctx)),
		)
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

// mayQuery reports whether the caller belongs to one of orgs. Platform
// administrators and unauthenticated servers see everything.
func mayQuery(ctx context.Context, orgs ...string) bool {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok || p.RoleName == trust.RolePlatformAdmin {
		return true
	}
	for _, org := range orgs {
		if p.Organization == org {
			return true
		}
	}
	return false
}

// callerOrg defaults an omitted organization to the caller's own.
func callerOrg(ctx context.Context, requested string) string {
	if requested != "" {
		return requested
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		return p.Organization
	}
	return ""
}

func field(in *structpb.Struct, name string) string {
	return strings.TrimSpace(in.GetFields()[name].GetStringValue())
}

func levelValue(l trust.TrustLevel) map[string]any {
	return map[string]any{
		"name":            l.Name,
		"level":           l.Level,
		"numerical_value": l.NumericalValue,
		"access_level":    string(l.EffectiveAccess()),
	}
}

func linkValue(l trust.Link) any {
	switch link := l.(type) {
	case trust.DirectLink:
		return map[string]any{
			"kind":            string(link.Kind()),
			"relationship_id": link.Relationship.ID,
			"reverse":         link.Reverse,
			"status":          string(link.Relationship.Status),
		}
	case trust.CommunityLink:
		return map[string]any{
			"kind":       string(link.Kind()),
			"group_id":   link.GroupID,
			"group_name": link.GroupName,
		}
	default:
		return nil
	}
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
