// ABOUTME: gRPC interceptors gating the machine channel behind API keys
// ABOUTME: Extracts keys from metadata and seeds the security context

package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// metadataAPIKeyHeader is the lowercase gRPC metadata key for machine keys.
const metadataAPIKeyHeader = "x-api-key"

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

// extractAPIKeyFromMetadata pulls a candidate machine key from gRPC metadata,
// mirroring the HTTP header rules: dedicated key header first, then a
// bearer-style authorization value, prefix required either way.
func extractAPIKeyFromMetadata(md metadata.MD) (string, bool) {
	if vals := md.Get(metadataAPIKeyHeader); len(vals) > 0 && strings.HasPrefix(vals[0], APIKeyPrefix) {
		return vals[0], true
	}
	if vals := md.Get("authorization"); len(vals) > 0 {
		if bearer, ok := strings.CutPrefix(vals[0], "Bearer "); ok && strings.HasPrefix(bearer, APIKeyPrefix) {
			return bearer, true
		}
	}
	return "", false
}

// gateContext authenticates one inbound unit of traffic. Either rejection
// short-circuits before the protected handler is ever invoked.
func gateContext(ctx context.Context, validator ApiKeyValidator, logger *slog.Logger) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(logger, ctx, "missing_metadata")
		return nil, status.Error(codes.Unauthenticated, ErrAPIKeyRequired.Error())
	}

	key, ok := extractAPIKeyFromMetadata(md)
	if !ok {
		logAuthFailure(logger, ctx, "api_key_missing")
		return nil, status.Error(codes.Unauthenticated, ErrAPIKeyRequired.Error())
	}

	user, err := validator.ValidateKey(ctx, key)
	if err != nil {
		// Fail closed: any validator error is a failed credential.
		logAuthFailure(logger, ctx, "api_key_invalid", "error", err.Error())
		return nil, status.Error(codes.Unauthenticated, ErrAPIKeyInvalid.Error())
	}

	return WithIdentity(ctx, user, ""), nil
}

// UnaryInterceptor returns a gRPC unary interceptor that rejects traffic
// without a valid machine API key.
func UnaryInterceptor(validator ApiKeyValidator, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := gateContext(ctx, validator, logger)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that rejects traffic
// without a valid machine API key.
func StreamInterceptor(validator ApiKeyValidator, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := gateContext(ss.Context(), validator, logger)
		if err != nil {
			return err
		}
		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          ctx,
		}
		return handler(srv, wrapped)
	}
}

// NoAuthUnaryInterceptor returns a gRPC unary interceptor for no-auth mode.
// Traffic passes through unconditionally under the anonymous identity, so
// handlers that call MustUserFrom never panic.
func NoAuthUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		return handler(WithIdentity(ctx, AnonymousUser(), ""), req)
	}
}

// NoAuthStreamInterceptor returns a gRPC stream interceptor for no-auth mode.
func NoAuthStreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithIdentity(ss.Context(), AnonymousUser(), ""),
		}
		return handler(srv, wrapped)
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
