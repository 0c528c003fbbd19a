package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client issues trust queries against a TrustQuery server.
type Client struct {
	cc     *grpc.ClientConn
	query  TrustQueryClient
	health healthpb.HealthClient
	token  string

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

// Dial connects to target over plaintext. token, when set, is sent as a bearer
// credential on every call.
func Dial(target, token string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		cc:     cc,
		query:  NewTrustQueryClient(cc),
		health: healthpb.NewHealthClient(cc),
		token:  token,
	}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := parent
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return context.WithCancel(ctx)
}

// Healthy reports whether the server reports SERVING for the query service.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// CheckTrust resolves trust from source to target. An empty source means the
// caller's organization.
func (c *Client) CheckTrust(ctx context.Context, source, target string) (map[string]any, error) {
	return c.call(ctx, c.query.CheckTrust, map[string]any{"source": source, "target": target})
}

// CanAccess asks whether requester may consume owner's intelligence at level.
func (c *Client) CanAccess(ctx context.Context, requester, owner, level string) (map[string]any, error) {
	return c.call(ctx, c.query.CanAccess, map[string]any{
		"requester":    requester,
		"owner":        owner,
		"access_level": level,
	})
}

// SharingPartners lists fan-out recipients of source at or above minLevel.
func (c *Client) SharingPartners(ctx context.Context, source, minLevel string, unique bool) (map[string]any, error) {
	return c.call(ctx, c.query.SharingPartners, map[string]any{
		"source":    source,
		"min_level": minLevel,
		"unique":    unique,
	})
}

type rpc func(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)

func (c *Client) call(ctx context.Context, fn rpc, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := fn(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
