package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service an assistant sidecar serves.
const ServiceName = "onboarding.v1.AssistantService"

const completeMethod = "/" + ServiceName + "/Complete"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errNotServing               = errors.New("assistant sidecar is not serving")
	errMissingText              = errors.New("response has no text field")
)

// GrpcConfig holds configuration for the sidecar client.
type GrpcConfig struct {
	Address          string
	Model            string
	Temperature      float64
	MaxTokens        int
	Timeout          time.Duration
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultGrpcConfig returns default configuration.
func DefaultGrpcConfig() GrpcConfig {
	return GrpcConfig{
		Address:          "localhost:50051",
		Timeout:          120 * time.Second,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcClient forwards completions to an assistant sidecar. Messages are
// google.protobuf.Struct values so no generated stubs are needed.
type GrpcClient struct {
	conn        *grpc.ClientConn
	addr        string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

var _ Provider = (*GrpcClient)(nil)

// NewGrpcClient connects to the sidecar and fails fast if it is not ready.
func NewGrpcClient(ctx context.Context, cfg GrpcConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultGrpcConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, &Error{Provider: ProviderGRPC, Err: fmt.Errorf("connect to %s: %w", cfg.Address, err)}
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, &Error{Provider: ProviderGRPC, Err: fmt.Errorf("sidecar at %s not ready: %w", cfg.Address, err)}
	}
	if err := checkHealth(connectCtx, conn, logger); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after health failure", "error", closeErr)
		}
		return nil, &Error{Provider: ProviderGRPC, Err: fmt.Errorf("sidecar at %s: %w", cfg.Address, err)}
	}

	logger.Info("Connected to assistant sidecar", "address", cfg.Address)

	return &GrpcClient{
		conn:        conn,
		addr:        cfg.Address,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		logger:      logger,
	}, nil
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

// checkHealth asks the standard health service about the assistant service.
// Sidecars without a health service are accepted.
func checkHealth(ctx context.Context, conn *grpc.ClientConn, logger *slog.Logger) error {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if status.Code(err) == codes.Unimplemented {
		logger.Debug("assistant sidecar has no health service")
		return nil
	}
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Name returns the provider name.
func (c *GrpcClient) Name() string { return ProviderGRPC }

// Close closes the gRPC connection.
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Complete performs one unary Complete call.
func (c *GrpcClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	in, err := c.encodeRequest(req)
	if err != nil {
		return "", &Error{Provider: ProviderGRPC, Err: fmt.Errorf("encode request: %w", err)}
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, completeMethod, in, out); err != nil {
		c.logger.Warn("assistant sidecar call failed", "address", c.addr, "code", status.Code(err).String(), "error", err)
		return "", &Error{Provider: ProviderGRPC, Err: err}
	}

	text, ok := out.GetFields()["text"]
	if !ok {
		return "", &Error{Provider: ProviderGRPC, Err: errMissingText}
	}
	reply := text.GetStringValue()
	if reply == "" {
		return "", &Error{Provider: ProviderGRPC, Err: errEmptyReply}
	}
	return reply, nil
}

func (c *GrpcClient) encodeRequest(req Request) (*structpb.Struct, error) {
	history := make([]any, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	return structpb.NewStruct(map[string]any{
		"instructions": req.Instructions,
		"history":      history,
		"message":      req.Message,
		"prompt":       req.Prompt(),
		"model":        c.model,
		"temperature":  c.temperature,
		"max_tokens":   c.maxTokens,
	})
}

// assistantServer is implemented by in-process sidecars serving ServiceName.
type assistantServer interface {
	Complete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func completeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(assistantServer).Complete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: completeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(assistantServer).Complete(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// serviceDesc describes the sidecar service for grpc.Server registration.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*assistantServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Complete", Handler: completeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "onboarding/v1/assistant.proto",
}

// registerAssistantServer registers srv on s.
func registerAssistantServer(s grpc.ServiceRegistrar, srv assistantServer) {
	s.RegisterService(&serviceDesc, srv)
}
