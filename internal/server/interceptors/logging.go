package interceptors

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"phone-auth/backend/internal/logger"
)

const requestIDHeader = "x-request-id"

// LoggingUnary logs one line per RPC and puts a request-scoped logger (request_id, method)
// into the context for logger.From. A client-supplied x-request-id is reused; otherwise one
// is generated and echoed back in the response header.
func LoggingUnary(base *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		requestID := incomingRequestID(ctx)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, requestID))

		l := base.With(zap.String("request_id", requestID), zap.String("method", info.FullMethod))
		ctx = logger.ToContext(ctx, l)

		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", ClientIP(ctx)),
		}
		if ce := l.Check(levelFor(code), "grpc request"); ce != nil {
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			ce.Write(fields...)
		}
		return resp, err
	}
}

// levelFor keeps client mistakes at info and reserves error for server faults.
func levelFor(c codes.Code) zapcore.Level {
	switch c {
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return zapcore.ErrorLevel
	case codes.Unavailable, codes.DeadlineExceeded:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(requestIDHeader); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// RecoveryUnary turns a handler panic into codes.Internal and logs the stack.
func RecoveryUnary(base *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.From(ctx, base).Error("panic recovered in grpc handler",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
