// Package server assembles the gRPC server: interceptor chain, stats handler and service registration.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	healthhandler "phone-auth/backend/internal/health/handler"
	identityhandler "phone-auth/backend/internal/identity/handler"
	"phone-auth/backend/internal/server/interceptors"
)

// healthCheckMethod is excluded from request logging.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// AuthService is what the transport needs from the identity service: the RPC operations plus
// access-token verification for the auth interceptor.
type AuthService interface {
	identityhandler.Service
	interceptors.Authenticator
}

// Deps holds the server's collaborators.
type Deps struct {
	// Auth backs AuthService and the Bearer check. If nil, auth RPCs return Unimplemented and
	// protected RPCs are rejected.
	Auth AuthService
	// Health is registered as grpc.health.v1.Health when set.
	Health *healthhandler.Server
	Log    *zap.Logger
	// TrustedProxies are the peers whose forwarding headers name the client. Nil trusts nobody.
	TrustedProxies *interceptors.TrustedProxies
	// TracerProvider and MeterProvider feed the otelgrpc stats handler; nil means the globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// NewServer returns a gRPC server with the recovery, client IP, logging and auth interceptors and every
// service registered. Extra options are appended after the defaults.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	var otelOpts []otelgrpc.Option
	if deps.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgrpc.WithTracerProvider(deps.TracerProvider))
	}
	if deps.MeterProvider != nil {
		otelOpts = append(otelOpts, otelgrpc.WithMeterProvider(deps.MeterProvider))
	}

	var auth interceptors.Authenticator = rejectAll{}
	if deps.Auth != nil {
		auth = deps.Auth
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler(otelOpts...)),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(log),
			interceptors.ClientIPUnary(deps.TrustedProxies),
			interceptors.LoggingUnary(log, map[string]bool{healthCheckMethod: true}),
			interceptors.AuthUnary(auth, publicMethods()),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterServices(s, deps)
	return s
}

// publicMethods are the RPCs callable without an access token.
func publicMethods() map[string]bool {
	m := map[string]bool{
		healthCheckMethod:              true,
		"/grpc.health.v1.Health/Watch": true,
		"/grpc.health.v1.Health/List":  true,
	}
	for k, v := range identityhandler.PublicMethods {
		m[k] = v
	}
	return m
}

// RegisterServices registers AuthService and, when configured, the health service with s.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	var svc identityhandler.Service
	if deps.Auth != nil {
		svc = deps.Auth
	}
	identityhandler.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(svc, deps.Log))
	if deps.Health != nil {
		deps.Health.Register(s)
		deps.Health.Track(identityhandler.ServiceName)
	}
}
