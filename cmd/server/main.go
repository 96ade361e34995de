package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"identity-service/backend/internal/audit"
	audithandler "identity-service/backend/internal/audit/handler"
	"identity-service/backend/internal/config"
	"identity-service/backend/internal/events"
	healthhandler "identity-service/backend/internal/health/handler"
	identityhandler "identity-service/backend/internal/identity/handler"
	identityservice "identity-service/backend/internal/identity/service"
	membershiphandler "identity-service/backend/internal/membership/handler"
	membershipservice "identity-service/backend/internal/membership/service"
	organizationhandler "identity-service/backend/internal/organization/handler"
	organizationservice "identity-service/backend/internal/organization/service"
	"identity-service/backend/internal/platform/ratelimit"
	"identity-service/backend/internal/security"
	"identity-service/backend/internal/server"
	"identity-service/backend/internal/telemetry"
	telemetryotel "identity-service/backend/internal/telemetry/otel"
	"identity-service/backend/internal/token"
	userhandler "identity-service/backend/internal/user/handler"
	userservice "identity-service/backend/internal/user/service"
)

const (
	healthInterval = 10 * time.Second
	sweepInterval  = time.Minute
	shutdownBudget = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer func() { _ = store.close() }()

	keys, err := loadKeys(cfg)
	if err != nil {
		log.Fatalf("signing keys: %v", err)
	}
	provider := security.NewTokenProvider(keys, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.OTelServiceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	metrics := telemetry.NewMetrics()

	sinks := events.Fanout{telemetryotel.NewEventSink(providers.LoggerProvider)}
	var nats *events.NATSPublisher
	if cfg.NATSURL != "" {
		codec, err := events.CodecByName(cfg.EventsCodec)
		if err != nil {
			log.Fatalf("events: %v", err)
		}
		nats, err = events.ConnectNATS(events.NATSOptions{
			URL:      cfg.NATSURL,
			NkeySeed: cfg.NATSNkeySeed,
			UserJWT:  cfg.NATSUserJWT,
			Codec:    codec,
			Name:     cfg.OTelServiceName,
		})
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		sinks = append(sinks, nats)
	}
	publisher := events.Observed(sinks, metrics.EventPublished)

	recorder := audit.NewRecorder(store.audit, publisher, metrics)
	tokens := token.NewService(token.Deps{
		Tx:       store.tx,
		Users:    store.users,
		Roles:    store.members,
		Orgs:     store.orgs,
		Families: store.families,
		Audit:    recorder,
		Tokens:   provider,
		Metrics:  metrics,
	})
	auth := identityservice.NewAuthService(store.tx, store.users, tokens, security.NewHasher(cfg.BcryptCost), recorder, publisher,
		identityservice.Options{CodeTTL: cfg.EmailCodeTTL(), LogCodes: !cfg.IsProduction()})
	members := membershipservice.NewService(store.tx, store.members, store.users, recorder)
	orgs := organizationservice.NewService(store.tx, store.orgs, store.members, members, recorder, publisher)
	users := userservice.NewService(store.tx, store.users, store.orgs, tokens, recorder)

	authLimiter, apiLimiter, closeLimiters := newLimiters(ctx, cfg)
	defer closeLimiters()

	checker := healthhandler.NewChecker(store.pinger)
	router := server.NewRouter(server.Deps{
		Auth:          identityhandler.NewAuthHandler(auth, provider.Keys()),
		Orgs:          organizationhandler.NewOrgHandler(orgs),
		Members:       membershiphandler.NewMembershipHandler(members),
		Audit:         audithandler.NewAuditHandler(recorder, store.members),
		Users:         userhandler.NewUserHandler(users),
		Health:        checker,
		Verifier:      tokens,
		AuthLimiter:   authLimiter,
		APILimiter:    apiLimiter,
		Metrics:       metrics,
		CORSOrigins:   cfg.CORSOriginList(),
		InternalToken: cfg.InternalAPIToken,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	health := healthhandler.NewServer(checker)
	grpcSrv := server.NewGRPCServer(health)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	go health.Run(ctx, healthInterval)

	go func() {
		log.Printf("gRPC health server listening on %s", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Printf("grpc serve: %v", err)
		}
	}()
	go func() {
		log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http serve: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcSrv.GracefulStop()

	// Async publishes scheduled by the last requests may still be in flight.
	time.Sleep(events.ShutdownDrainDuration)
	if nats != nil {
		if err := nats.Close(); err != nil {
			log.Printf("nats close: %v", err)
		}
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("server stopped")
}

func loadKeys(cfg *config.Config) (*security.KeySet, error) {
	secret := []byte(cfg.JWTSecret)
	if cfg.JWTAlgorithm == security.AlgHS256 && len(secret) == 0 {
		// validate() already refused this in production.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		log.Printf("JWT_SECRET is empty; using an ephemeral secret, tokens will not survive a restart")
	}
	return security.LoadKeySet(security.KeyConfig{
		Algorithm:         cfg.JWTAlgorithm,
		Secret:            secret,
		SecretID:          cfg.JWTSecretID,
		PrivateKey:        cfg.JWTPrivateKey,
		PublicKey:         cfg.JWTPublicKey,
		KeyID:             cfg.JWTKeyID,
		PreviousPublicKey: cfg.JWTPreviousPublicKey,
		PreviousKeyID:     cfg.JWTPreviousKeyID,
		Grace:             cfg.KeyGrace(),
	})
}

// newLimiters returns the auth and API budgets: shared through Redis when REDIS_URL is set,
// otherwise per process.
func newLimiters(ctx context.Context, cfg *config.Config) (auth, api ratelimit.Limiter, closeFn func()) {
	if cfg.RedisURL == "" {
		authLocal, apiLocal := ratelimit.NewLocal(cfg.RateLimitAuthRPM), ratelimit.NewLocal(cfg.RateLimitAPIRPM)
		go authLocal.RunSweeper(ctx, sweepInterval)
		go apiLocal.RunSweeper(ctx, sweepInterval)
		return authLocal, apiLocal, func() {}
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	client := redis.NewClient(opts)
	return ratelimit.NewRedis(client, "auth", cfg.RateLimitAuthRPM),
		ratelimit.NewRedis(client, "api", cfg.RateLimitAPIRPM),
		func() { _ = client.Close() }
}
