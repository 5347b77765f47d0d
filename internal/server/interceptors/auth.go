package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"phone-auth/backend/internal/autherr"
	"phone-auth/backend/internal/security"
)

const bearerPrefix = "bearer "

// Authenticator verifies an access token.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*security.VerifiedToken, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token
// from gRPC metadata and stores the caller Identity in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token
// (SendChallenge, VerifyAndLogin, Refresh, the health service). A public method called
// with a bad token still runs, unauthenticated.
func AuthUnary(auth Authenticator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		vt, err := auth.Authenticate(ctx, token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			if autherr.KindOf(err) == autherr.KindTokenExpired {
				return nil, status.Error(codes.Unauthenticated, "access token expired")
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		ctx = WithIdentity(ctx, Identity{
			UserID:    vt.UserID,
			OrgID:     vt.OrgID,
			Role:      vt.Role,
			SessionID: vt.SessionID,
		})
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
