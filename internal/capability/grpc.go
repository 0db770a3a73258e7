package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/contentpipeline/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names served by a remote content capability. Requests and
// responses are google.protobuf.Struct messages.
const (
	MethodGenerate   = "/contentpipeline.capability.v1.ContentCapability/Generate"
	MethodOptimize   = "/contentpipeline.capability.v1.ContentCapability/Optimize"
	MethodDistribute = "/contentpipeline.capability.v1.ContentCapability/Distribute"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration for addr.
func DefaultGrpcClientConfig(addr string) GrpcClientConfig {
	return GrpcClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcClient is a Producer backed by a remote content capability service.
type GrpcClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *slog.Logger
}

var _ Producer = (*GrpcClient)(nil)

// NewGrpcClient connects to a remote capability and waits until it is ready.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("capability address is empty")
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to capability at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("capability at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to content capability service", "address", cfg.Address)

	return &GrpcClient{conn: conn, timeout: cfg.RequestTimeout, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

func (c *GrpcClient) invoke(ctx context.Context, method string, req map[string]any) (map[string]*structpb.Value, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		c.logger.Warn("Capability call failed", "method", method, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrCapabilityFailed, method, err)
	}
	return out.GetFields(), nil
}

// Generate asks the remote capability for a draft.
func (c *GrpcClient) Generate(ctx context.Context, brief Brief) (*Draft, error) {
	fields, err := c.invoke(ctx, MethodGenerate, map[string]any{
		"content_type":    brief.ContentType,
		"topic":           brief.Topic,
		"target_audience": brief.TargetAudience,
		"agents":          toList(brief.Agents),
	})
	if err != nil {
		return nil, err
	}

	draft := &Draft{
		Headline:             fields["headline"].GetStringValue(),
		Body:                 fields["content"].GetStringValue(),
		PredictedEngagement:  fields["predicted_engagement"].GetNumberValue(),
		PredictedConversions: fields["predicted_conversions"].GetNumberValue(),
	}
	for _, v := range fields["seo_keywords"].GetListValue().GetValues() {
		draft.Keywords = append(draft.Keywords, v.GetStringValue())
	}
	if draft.Headline == "" {
		return nil, fmt.Errorf("%w: %s returned an empty headline", domain.ErrCapabilityFailed, MethodGenerate)
	}
	return draft, nil
}

// Optimize asks the remote capability for improvement metrics.
func (c *GrpcClient) Optimize(ctx context.Context, item *domain.ContentItem, optimizationType string, agents []string) (map[string]float64, error) {
	fields, err := c.invoke(ctx, MethodOptimize, map[string]any{
		"content_id":        item.ID,
		"content_type":      item.ContentType,
		"topic":             item.Topic,
		"headline":          item.Headline,
		"optimization_type": optimizationType,
		"agents":            toList(agents),
	})
	if err != nil {
		return nil, err
	}

	improvements := make(map[string]float64)
	for name, v := range fields["improvements"].GetStructValue().GetFields() {
		improvements[name] = v.GetNumberValue()
	}
	return improvements, nil
}

// Distribute asks the remote capability to publish and returns its reach estimate.
func (c *GrpcClient) Distribute(ctx context.Context, item *domain.ContentItem, channels []string, agents []string) (int64, error) {
	fields, err := c.invoke(ctx, MethodDistribute, map[string]any{
		"content_id": item.ID,
		"headline":   item.Headline,
		"channels":   toList(channels),
		"agents":     toList(agents),
	})
	if err != nil {
		return 0, err
	}
	return int64(fields["estimated_reach"].GetNumberValue()), nil
}

// toList converts a string slice into the []any form structpb accepts.
func toList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
