package grpc

import (
	"context"
	"errors"
	"net"
	"path"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/dmitrijs2005/paywall/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type ctxKey string

const principalKey ctxKey = "principal"

// principalFrom returns the caller resolved by accessTokenInterceptor, or an
// empty principal on public methods.
func principalFrom(ctx context.Context) *auth.Principal {
	if p, ok := ctx.Value(principalKey).(*auth.Principal); ok {
		return p
	}
	return &auth.Principal{}
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {

	if publicMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	p, err := auth.ResolvePrincipal(accessToken, s.jwtSecret)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, status.Error(codes.Unauthenticated, "token expired")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	if adminMethods[info.FullMethod] && !p.HasRole(common.RoleAdmin) {
		s.logger.Warn(ctx, "admin method denied", "method", info.FullMethod, "account_id", p.AccountID)
		return nil, status.Error(codes.PermissionDenied, "admin role required")
	}

	ctx = context.WithValue(ctx, principalKey, p)
	ctx = logging.ContextWith(ctx, "account_id", p.AccountID)

	return handler(ctx, req)
}

// rateLimitInterceptor counts calls per (method, account) or, for anonymous
// calls, per (method, peer host). A failing counter store rejects the call.
func (s *GRPCServer) rateLimitInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.limiter == nil {
		return handler(ctx, req)
	}

	endpoint := path.Base(info.FullMethod)
	id := principalFrom(ctx).AccountID
	if id == "" {
		id = peerHost(ctx)
	}

	ok, err := s.limiter.Allow(ctx, endpoint, id)
	if err != nil {
		s.logger.Error(ctx, "rate limit store failed", "endpoint", endpoint, "error", err)
		return nil, status.Error(codes.Unavailable, "rate limiter unavailable")
	}
	if !ok {
		s.metrics.RateLimited(endpoint)
		return nil, status.Error(codes.ResourceExhausted, "rate limited")
	}
	return handler(ctx, req)
}

func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
