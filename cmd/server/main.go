package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"consentd/internal/audit"
	auditkafka "consentd/internal/audit/kafka"
	auditpg "consentd/internal/audit/store/postgres"
	"consentd/internal/consent"
	consenthandler "consentd/internal/consent/handler"
	consentmetrics "consentd/internal/consent/metrics"
	consentmem "consentd/internal/consent/store/memory"
	consentpg "consentd/internal/consent/store/postgres"
	consentsvc "consentd/internal/consent/service"
	"consentd/internal/platform/config"
	"consentd/internal/platform/database"
	"consentd/internal/platform/httpserver"
	"consentd/internal/platform/logger"
	platformredis "consentd/internal/platform/redis"
	"consentd/internal/platform/resolver"
	"consentd/internal/platform/token"
	"consentd/internal/policy"
	policycache "consentd/internal/policy/cache"
	policyhandler "consentd/internal/policy/handler"
	policymetrics "consentd/internal/policy/metrics"
	policymem "consentd/internal/policy/store/memory"
	policypg "consentd/internal/policy/store/postgres"
	policysvc "consentd/internal/policy/service"
	httptransport "consentd/internal/transport/http"
)

// main wires adapters to services and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.New(cfg.Database)
	if err != nil {
		log.Error("database connection failed", "error", err.Error())
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err.Error())
		os.Exit(1)
	}

	kafkaSink, err := auditkafka.NewSink(cfg.Kafka, log)
	if err != nil {
		log.Error("kafka client failed", "error", err.Error())
		os.Exit(1)
	}

	// Stores: PostgreSQL when configured, in-memory otherwise.
	var (
		policyStore  policy.Store
		consentStore consent.Store
		auditStore   audit.Store
	)
	if pool != nil {
		policyStore = policypg.NewStore(pool.DB())
		consentStore = consentpg.NewStore(pool.DB())
		auditStore = auditpg.NewStore(pool.DB())
	} else {
		log.Warn("no DATABASE_URL configured, using in-memory stores")
		policyStore = policymem.NewStore()
		consentStore = consentmem.NewStore()
		auditStore = audit.NewInMemoryStore()
	}

	var sink audit.Sink
	if kafkaSink != nil {
		sink = kafkaSink
	}

	auditResolver := resolver.New(func(store audit.Store) *audit.Publisher {
		return audit.NewPublisher(store, sink)
	})
	auditor, err := auditResolver.Resolve(ctx, auditStore)
	if err != nil {
		log.Error("audit store initialization failed", "error", err.Error())
		os.Exit(1)
	}

	var policyCache policysvc.Cache
	if redisClient != nil {
		policyCache = policycache.NewRedisCache(redisClient.Client, cfg.ActivePolicyCacheTTL)
	}

	policyResolver := resolver.New(func(store policy.Store) *policysvc.Service {
		opts := []policysvc.Option{
			policysvc.WithLogger(log),
			policysvc.WithMetrics(policymetrics.New()),
			policysvc.WithAuditPublisher(auditor),
		}
		if policyCache != nil {
			opts = append(opts, policysvc.WithCache(policyCache))
		}
		return policysvc.New(store, opts...)
	})
	policyService, err := policyResolver.Resolve(ctx, policyStore)
	if err != nil {
		log.Error("policy store initialization failed", "error", err.Error())
		os.Exit(1)
	}

	consentResolver := resolver.New(func(store consent.Store) *consentsvc.Service {
		return consentsvc.New(store, policyService,
			consentsvc.WithLogger(log),
			consentsvc.WithMetrics(consentmetrics.New()),
			consentsvc.WithAuditPublisher(auditor),
		)
	})
	consentService, err := consentResolver.Resolve(ctx, consentStore)
	if err != nil {
		log.Error("consent store initialization failed", "error", err.Error())
		os.Exit(1)
	}

	jwtService := token.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)

	router := httptransport.NewRouter(
		policyhandler.New(policyService, log, jwtService),
		consenthandler.New(consentService, auditor, log, jwtService),
	)
	if pool != nil {
		router.WithHealthCheck("database", pool)
	}
	if redisClient != nil {
		router.WithHealthCheck("redis", redisClient)
	}

	srv := httpserver.New(cfg.Addr, router.Handler())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting consentd", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if kafkaSink != nil {
			if err := kafkaSink.Close(shutdownCtx); err != nil {
				log.Warn("kafka sink close failed", "error", err.Error())
			}
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Warn("redis close failed", "error", err.Error())
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
	log.Info("consentd stopped")
}
