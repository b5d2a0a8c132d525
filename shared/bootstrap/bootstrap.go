// Package bootstrap wires the shared infrastructure every service starts with.
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/pavitra93/go-multi-tenant-pos/shared/config"
	"github.com/pavitra93/go-multi-tenant-pos/shared/events"
	"github.com/pavitra93/go-multi-tenant-pos/shared/middleware"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/registry"
	"github.com/pavitra93/go-multi-tenant-pos/shared/session"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Runtime holds the connections shared by the handlers of one service
type Runtime struct {
	Config   *config.Config
	Master   *gorm.DB
	Redis    *redis.Client // nil when REDIS_ADDR is unset or unreachable
	Pool     *tenancy.Pool
	Registry *registry.Registry
	Tokens   *session.TokenIssuer
}

// Start connects the master store, Redis and the tenant pool
func Start(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	master, err := config.ConnectDatabase(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := registry.Migrate(master); err != nil {
		return nil, err
	}

	secret, err := cfg.SigningSecret(ctx)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config: cfg,
		Master: master,
		Tokens: session.NewTokenIssuer(secret, cfg.JWTIssuer),
	}

	var regOpts []registry.Option
	if cfg.RedisAddr != "" {
		client, err := utils.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logrus.WithError(err).Warn("Redis unavailable, tenant cache and distributed session lock disabled")
		} else {
			rt.Redis = client
			regOpts = append(regOpts, registry.WithCache(utils.NewRedisCache(client), cfg.TenantCacheTTL))
		}
	}
	regOpts = append(regOpts,
		registry.WithResolveTimeout(cfg.TenantResolveTimeout),
		registry.WithTrialPeriod(cfg.TrialPeriod),
	)
	rt.Registry = registry.New(master, regOpts...)

	rt.Pool = tenancy.NewPool(
		config.NewPostgresDialer(&cfg.Database, master),
		NewGuard(cfg),
		tenancy.WithMigrations(models.TenantModels()...),
		tenancy.WithAcquireTimeout(cfg.PoolAcquireTimeout),
		tenancy.WithBreaker(utils.NewNamedCircuitBreaker("tenant-dialer", 5, 30*time.Second)),
	)
	return rt, nil
}

// NewGuard returns the scoping guard for cfg. Development and test processes
// panic on a statement without a tenant context; production fails the statement.
func NewGuard(cfg *config.Config) *tenancy.Guard {
	return tenancy.NewGuard(cfg.IsDevelopment())
}

// Authority builds the session authority from configuration. Logins are
// serialized across replicas through Redis when it is available.
func (rt *Runtime) Authority(publisher events.Publisher) *session.Authority {
	cfg := rt.Config
	opts := []session.Option{
		session.WithPublisher(publisher),
		session.WithRestrictedRoles(cfg.RestrictedRoles...),
		session.WithVerification(cfg.RequireVerified),
		session.WithTokenTTLs(cfg.TokenTTLShared, cfg.TokenTTLPersonal),
	}
	if rt.Redis != nil {
		opts = append(opts, session.WithLocker(session.NewRedisLocker(rt.Redis, 10*time.Second)))
	}
	return session.NewAuthority(rt.Tokens, session.NewHasher(cfg.BcryptCost), opts...)
}

// Publisher returns a Kafka session event producer, or a no-op publisher when
// KAFKA_BROKER is unset. The returned func closes it.
func (rt *Runtime) Publisher() (events.Publisher, func()) {
	if rt.Config.KafkaBroker == "" {
		logrus.Info("KAFKA_BROKER not set, session events disabled")
		return events.NopPublisher{}, func() {}
	}
	p := events.NewKafkaProducer(rt.Config.KafkaBroker, rt.Config.SessionEventsTopic)
	return p, func() {
		if err := p.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close session event producer")
		}
	}
}

// Close releases every connection
func (rt *Runtime) Close() {
	rt.Pool.Close()
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if sqlDB, err := rt.Master.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// NewRouter returns a gin engine with recovery, request logging, /health and /metrics
func NewRouter(service string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, service+" is healthy", nil)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// Serve runs handler on port until SIGINT or SIGTERM, then drains in-flight requests
func Serve(service, port string, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("%s starting on port %s", service, port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Infof("%s shutting down", service)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
