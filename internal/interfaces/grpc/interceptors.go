package grpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/turtacn/riskguard/internal/application"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/internal/infrastructure/crypto"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	VerifyJWT(tokenString string) (*crypto.Claims, error)
}

// InterceptorChain 拦截器链
type InterceptorChain struct {
	log              logger.Logger
	verifier         TokenVerifier
	rateLimitService service.RateLimitService
}

// NewInterceptorChain 创建拦截器链。verifier 为 nil 时不做认证，rateLimitService 为 nil 时不限流。
func NewInterceptorChain(
	log logger.Logger,
	verifier TokenVerifier,
	rateLimitService service.RateLimitService,
) *InterceptorChain {
	return &InterceptorChain{
		log:              log.WithComponent("GRPCInterceptor"),
		verifier:         verifier,
		rateLimitService: rateLimitService,
	}
}

// UnaryRecoveryInterceptor 恢复拦截器(捕获 panic)
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Error(grpcCodes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor 日志拦截器
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()
		resp, err := handler(ctx, req)

		statusCode := grpcCodes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				statusCode = st.Code()
			}
		}

		fields := []logger.Field{
			logger.String("method", info.FullMethod),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", statusCode.String()),
			logger.String("client_ip", clientIP(ctx)),
		}
		if statusCode == grpcCodes.Internal || statusCode == grpcCodes.Unavailable {
			ic.log.Warn(ctx, "gRPC request failed", fields...)
		} else {
			ic.log.Debug(ctx, "gRPC request completed", fields...)
		}
		return resp, err
	}
}

// UnaryAuthInterceptor 认证拦截器，校验 authorization 元数据中的 Bearer 令牌
func (ic *InterceptorChain) UnaryAuthInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if ic.verifier == nil {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var token string
		if values := md.Get("authorization"); len(values) > 0 {
			parts := strings.SplitN(values[0], " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				token = parts[1]
			}
		}
		if token == "" {
			return nil, status.Error(grpcCodes.Unauthenticated, "missing bearer token")
		}

		claims, err := ic.verifier.VerifyJWT(token)
		if err != nil {
			ic.log.Warn(ctx, "JWT verification failed", logger.String("method", info.FullMethod), logger.Error(err))
			return nil, status.Error(grpcCodes.Unauthenticated, err.Error())
		}
		return handler(application.ContextWithActor(ctx, claims.Subject), req)
	}
}

// UnaryRateLimitInterceptor 限流拦截器，按调用方限流，匿名调用按对端 IP 限流
func (ic *InterceptorChain) UnaryRateLimitInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if ic.rateLimitService == nil {
			return handler(ctx, req)
		}

		dimension := service.RateLimitDimensionIP
		identifier := clientIP(ctx)
		if actor := application.ActorFromContext(ctx); actor != application.SystemActor {
			dimension = service.RateLimitDimensionClient
			identifier = actor
		}

		allowed, _, _, err := ic.rateLimitService.Allow(ctx, dimension, identifier)
		if err != nil {
			ic.log.Error(ctx, "rate limit check failed", err,
				logger.String("identifier", identifier),
				logger.String("method", info.FullMethod),
			)
			// 限流服务故障时降级放行
			return handler(ctx, req)
		}

		if !allowed {
			ic.log.Warn(ctx, "rate limit exceeded",
				logger.String("identifier", identifier),
				logger.String("method", info.FullMethod),
			)
			return nil, status.Errorf(grpcCodes.ResourceExhausted, "rate limit exceeded for %s", identifier)
		}

		return handler(ctx, req)
	}
}

// UnaryErrorInterceptor 错误转换拦截器(将领域错误转换为 gRPC 状态码)
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if errors.ShouldLogError(err) {
			ic.log.Error(ctx, "gRPC request failed", err, logger.String("method", info.FullMethod))
		}
		return nil, convertDomainErrorToGRPC(err)
	}
}

// convertDomainErrorToGRPC 将领域错误转换为 gRPC 错误
func convertDomainErrorToGRPC(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	riskErr, ok := errors.AsRiskError(err)
	if !ok {
		return status.Error(grpcCodes.Internal, "internal server error")
	}

	switch riskErr.HTTPStatus() {
	case 400:
		return status.Error(grpcCodes.InvalidArgument, riskErr.Error())
	case 401:
		return status.Error(grpcCodes.Unauthenticated, riskErr.Error())
	case 404:
		return status.Error(grpcCodes.NotFound, riskErr.Error())
	case 409:
		return status.Error(grpcCodes.Aborted, riskErr.Error())
	case 429:
		return status.Error(grpcCodes.ResourceExhausted, riskErr.Error())
	case 503:
		return status.Error(grpcCodes.Unavailable, riskErr.Error())
	default:
		return status.Error(grpcCodes.Internal, "internal server error")
	}
}

// Interceptors returns the chain in execution order.
func (ic *InterceptorChain) Interceptors() []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{
		ic.UnaryRecoveryInterceptor(),  // 1. 恢复 panic
		ic.UnaryLoggingInterceptor(),   // 2. 日志
		ic.UnaryAuthInterceptor(),      // 3. 认证
		ic.UnaryRateLimitInterceptor(), // 4. 限流
		ic.UnaryErrorInterceptor(),     // 5. 错误转换
	}
}

func clientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ips := md.Get("x-forwarded-for"); len(ips) > 0 {
			return strings.TrimSpace(strings.Split(ips[0], ",")[0])
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
