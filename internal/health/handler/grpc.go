// Package handler drives the standard gRPC health service from dependency readiness checks.
package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger is a datastore that can be pinged (e.g. *pgxpool.Pool, kv.RedisStore).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker reports whether the standing policy still compiles and evaluates.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server wraps the gRPC health server. Both the overall ("") status and each service name
// registered with Track follow the readiness checks.
type Server struct {
	grpc     *health.Server
	db       Pinger
	kv       Pinger
	policy   PolicyChecker
	services []string
	timeout  time.Duration
	log      *zap.Logger
}

// NewServer returns a health server. Nil checkers are skipped. log may be nil.
func NewServer(db, kv Pinger, policy PolicyChecker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		grpc:    health.NewServer(),
		db:      db,
		kv:      kv,
		policy:  policy,
		timeout: 2 * time.Second,
		log:     log,
	}
}

// Register adds the health service to s.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(r, s.grpc)
}

// Track makes service report the same status as the whole server.
func (s *Server) Track(service string) {
	s.services = append(s.services, service)
}

// Check runs every configured check once and publishes the result. It returns the first failure.
func (s *Server) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.firstFailure(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.log.Warn("readiness check failed", zap.Error(err))
	}
	s.grpc.SetServingStatus("", st)
	for _, svc := range s.services {
		s.grpc.SetServingStatus(svc, st)
	}
	return err
}

func (s *Server) firstFailure(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			return err
		}
	}
	if s.kv != nil {
		if err := s.kv.Ping(ctx); err != nil {
			return err
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run checks immediately and then every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	_ = s.Check(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = s.Check(ctx)
		}
	}
}

// Shutdown marks everything NOT_SERVING so load balancers drain before GracefulStop.
func (s *Server) Shutdown() {
	s.grpc.Shutdown()
}
