package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/C-NASIR/API-Gateway/internal/admin"
	"github.com/C-NASIR/API-Gateway/internal/circuitbreaker"
	"github.com/C-NASIR/API-Gateway/internal/concurrency"
	"github.com/C-NASIR/API-Gateway/internal/config"
	"github.com/C-NASIR/API-Gateway/internal/forwarder"
	"github.com/C-NASIR/API-Gateway/internal/metrics"
	"github.com/C-NASIR/API-Gateway/internal/proxy"
	"github.com/C-NASIR/API-Gateway/internal/ratelimiter"
	"github.com/C-NASIR/API-Gateway/internal/routes"
)

var (
	version   = "dev"
	buildTime = "unknown"
	commit    = "none"
)

func main() {
	var (
		configPath  = flag.String("config", "configs/gateway.yaml", "path to config file")
		showVersion = flag.Bool("version", false, "show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("api-gateway version=%s commit=%s buildTime=%s\n", version, commit, buildTime)
		os.Exit(0)
	}

	// Bootstrap logger
	rawLogger, _ := zap.NewProduction()
	log := rawLogger.Sugar()
	defer log.Sync() //nolint:errcheck

	log.Infow("starting api-gateway", "version", version, "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalw("failed to load config", "err", err)
	}

	// Redis is only dialed when something actually uses it
	var redisClient *redis.Client
	if cfg.RateLimit.Backend == "redis" || cfg.Routes.Source == "redis" {
		env, err := config.LoadRedisEnv()
		if err != nil {
			log.Fatalw("failed to read redis env", "err", err)
		}
		redisClient = redis.NewClient(&redis.Options{Addr: env.Addr()})
		log.Infow("redis configured", "addr", env.Addr())
	}

	// Route table: initial load through the same loader /__reload uses
	var loader admin.RouteLoader
	switch cfg.Routes.Source {
	case "redis":
		loader = &config.RedisLoader{Client: redisClient, Key: cfg.Routes.RedisKey}
	default:
		loader = &config.FileLoader{Path: cfg.Routes.File}
	}

	ctx := context.Background()
	data, err := loader.Load(ctx)
	if err != nil {
		log.Fatalw("failed to load route table", "err", err)
	}
	entries, err := routes.Parse(data)
	if err != nil {
		log.Fatalw("failed to parse route table", "err", err)
	}
	table := routes.New(entries)
	log.Infow("route table loaded", "routes", len(entries))

	// Shared components
	m := metrics.New()
	breaker := circuitbreaker.New(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.RecoveryTime())
	conc := concurrency.New(cfg.Concurrency.MaxConcurrent)

	var limiter ratelimiter.Limiter
	if cfg.RateLimit.Backend == "redis" {
		limiter = ratelimiter.NewRedisLimiter(redisClient, cfg.RateLimit.Limit, cfg.RateLimit.Window(), log)
	} else {
		limiter = ratelimiter.NewFixedWindow(cfg.RateLimit.Limit, cfg.RateLimit.Window())
	}

	fwd := forwarder.New(breaker, log)
	gw := proxy.NewGateway(table, fwd, m, proxy.Defaults{
		Retries:    cfg.Defaults.Retries,
		RetryDelay: cfg.Defaults.RetryDelay(),
		Timeout:    cfg.Defaults.Timeout(),
	}, log)
	if redisClient != nil {
		gw.AddCleanup(func(context.Context) error { return redisClient.Close() })
	}

	adm := admin.New(gw, breaker, limiter, conc, m, loader, log)
	handler := proxy.Compose(gw, adm, conc, limiter, m, log)

	// File-backed tables also reload automatically on change
	if cfg.Routes.Source == "file" {
		watcher, err := config.WatchRoutes(cfg.Routes.File, log)
		if err != nil {
			log.Fatalw("failed to watch routes file", "err", err)
		}
		defer watcher.Close()
		go func() {
			for data := range watcher.Updates() {
				entries, err := routes.Parse(data)
				if err != nil {
					log.Errorw("routes reload failed, keeping old table", "err", err)
					continue
				}
				table.Replace(entries)
				log.Infow("route table reloaded from file", "routes", len(entries))
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infow("gateway listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "err", err)
		}
	}()

	// Graceful shutdown on SIGTERM / SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Infow("shutting down gracefully…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("graceful shutdown failed", "err", err)
	}
	gw.Shutdown(shutdownCtx)
	log.Infow("goodbye")
}
