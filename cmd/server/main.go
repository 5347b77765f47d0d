package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"phone-auth/backend/internal/audit"
	auditrepo "phone-auth/backend/internal/audit/repository"
	"phone-auth/backend/internal/config"
	"phone-auth/backend/internal/db"
	"phone-auth/backend/internal/devotp"
	healthhandler "phone-auth/backend/internal/health/handler"
	identityrepo "phone-auth/backend/internal/identity/repository"
	"phone-auth/backend/internal/identity/service"
	"phone-auth/backend/internal/kv"
	"phone-auth/backend/internal/lockout"
	"phone-auth/backend/internal/logger"
	"phone-auth/backend/internal/mfa"
	mfarepo "phone-auth/backend/internal/mfa/repository"
	"phone-auth/backend/internal/mfa/sms"
	"phone-auth/backend/internal/policy/engine"
	"phone-auth/backend/internal/ratelimit"
	"phone-auth/backend/internal/security"
	"phone-auth/backend/internal/server"
	"phone-auth/backend/internal/server/interceptors"
	"phone-auth/backend/internal/session"
	sessionrepo "phone-auth/backend/internal/session/repository"
	"phone-auth/backend/internal/telemetry"
	telemetryotel "phone-auth/backend/internal/telemetry/otel"
	userrepo "phone-auth/backend/internal/user/repository"
)

const readinessInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, ServiceName: cfg.OTelServiceName})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if !cfg.HasTokenKeys() {
		return errors.New("no JWT signing material: set JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY")
	}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Insecure:    cfg.OTelInsecure,
	}, zl)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter(telemetry.InstrumentationName))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	store, kvPinger, err := openKV(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer store.Close()

	auditLog := audit.Multi{
		audit.NewLogger(auditrepo.NewPostgresRepository(pool), interceptors.ClientIP, zl),
		telemetryotel.NewAuditEmitter(providers.LoggerProvider),
	}

	users := userrepo.NewPostgresRepository(pool)
	lock, err := lockout.New(users, cfg.LockoutThreshold, cfg.LockDuration(), auditLog, zl)
	if err != nil {
		return fmt.Errorf("lockout: %w", err)
	}
	phoneLimiter, err := ratelimit.New(store, "rl:otp:phone:", cfg.RateLimitPhoneMax, cfg.PhoneRateWindow())
	if err != nil {
		return fmt.Errorf("phone rate limiter: %w", err)
	}
	ipLimiter, err := ratelimit.New(store, "rl:otp:ip:", cfg.RateLimitIPMax, cfg.IPRateWindow())
	if err != nil {
		return fmt.Errorf("ip rate limiter: %w", err)
	}

	tokens, err := newTokenIssuer(cfg)
	if err != nil {
		return fmt.Errorf("tokens: %w", err)
	}

	var standing *engine.OPAEvaluator
	if cfg.StandingPolicyFile != "" {
		standing, err = engine.NewOPAEvaluatorFromFile(ctx, cfg.StandingPolicyFile, zl)
	} else {
		standing, err = engine.NewOPAEvaluator(ctx, "", zl)
	}
	if err != nil {
		return fmt.Errorf("standing policy: %w", err)
	}

	challenges := mfa.NewChallengeManager(mfarepo.NewKVRepository(store), cfg.OTPChallengeTTL(), zl)
	var sender sms.Sender
	if cfg.OTPDevMode {
		zl.Warn("OTP_DEV_MODE is on: codes are logged and kept in memory, no SMS is sent")
		sender = devotp.NewSender(devotp.NewMemoryStore(), cfg.OTPChallengeTTL(), zl)
	} else {
		if cfg.SMSLocalAPIKey == "" {
			return errors.New("SMS_LOCAL_API_KEY is required unless OTP_DEV_MODE is set")
		}
		sender = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	}

	authSvc, err := service.NewAuthService(service.Deps{
		Accounts:     identityrepo.NewPostgresRepository(pool),
		Logins:       users,
		Sessions:     session.NewStore(sessionrepo.NewPostgresRepository(pool)),
		Challenges:   challenges,
		SMS:          sender,
		PhoneLimiter: phoneLimiter,
		IPLimiter:    ipLimiter,
		Lockout:      lock,
		Tokens:       tokens,
		Standing:     standing,
		Audit:        auditLog,
		Metrics:      metrics,
		Tracer:       otel.Tracer(telemetry.InstrumentationName),
		Log:          zl,
	})
	if err != nil {
		return err
	}

	trusted, err := interceptors.ParseTrustedProxies(cfg.TrustedProxyList())
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	health := healthhandler.NewServer(pool, kvPinger, standing, zl)
	srv := server.NewServer(server.Deps{
		Auth:           authSvc,
		Health:         health,
		Log:            zl,
		TrustedProxies: trusted,
		TracerProvider: providers.TracerProvider,
		MeterProvider:  providers.MeterProvider,
	})
	go health.Run(ctx, readinessInterval)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		zl.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		serveErr <- srv.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	zl.Info("shutting down gRPC server")
	health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		zl.Warn("graceful stop timed out; forcing")
		srv.Stop()
	}
	zl.Info("gRPC server stopped")
	return nil
}

// openKV returns Redis when REDIS_ADDR is set, otherwise the in-process store. The pinger is nil
// for the in-process store.
func openKV(ctx context.Context, cfg *config.Config, zl *zap.Logger) (kv.Store, healthhandler.Pinger, error) {
	if cfg.RedisAddr == "" {
		zl.Warn("REDIS_ADDR is empty: OTP challenges and rate limits are kept in process memory")
		return kv.NewMemoryStore(time.Minute), nil, nil
	}
	rs, err := kv.NewRedisStore(ctx, kv.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	})
	if err != nil {
		return nil, nil, err
	}
	return rs, rs, nil
}

func newTokenIssuer(cfg *config.Config) (*security.TokenIssuer, error) {
	access, refresh, err := security.ResolveKeys(security.KeySource{
		Secret:            cfg.JWTSecret,
		AccessSecret:      cfg.JWTAccessSecret,
		RefreshSecret:     cfg.JWTRefreshSecret,
		PrivateKey:        cfg.JWTPrivateKey,
		PublicKey:         cfg.JWTPublicKey,
		RefreshPrivateKey: cfg.JWTRefreshPrivateKey,
		RefreshPublicKey:  cfg.JWTRefreshPublicKey,
	})
	if err != nil {
		return nil, err
	}
	return security.NewTokenIssuer(security.TokenIssuerConfig{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
		AccessKey:  access,
		RefreshKey: refresh,
	})
}
