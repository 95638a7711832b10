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

	"medlink/internal/core/services"
	httphandlers "medlink/internal/handlers/http"
	"medlink/internal/infrastructure/middleware"
	"medlink/internal/infrastructure/monitoring"
	registrymem "medlink/internal/infrastructure/registry/memory"
	"medlink/internal/infrastructure/reliability"
	"medlink/internal/infrastructure/repositories"
	signalrelay "medlink/internal/infrastructure/signal"
	"medlink/pkg/circuitbreaker"
	"medlink/pkg/config"
	"medlink/pkg/logger"
	"medlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer log.Sync()
	sugar := log.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "medlink-relay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Fatalw("failed to initialize tracing", "error", err)
	}

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.ConsultTokenTTL)
	registry := registrymem.NewRoomRegistry()

	repoFactory := repositories.NewFactory(cfg, sugar)
	consultations := reliability.NewConsultationRepository(
		repoFactory.ConsultationRepository(),
		circuitbreaker.DefaultConfig(),
		sugar,
	)

	metrics := monitoring.NewCollector()

	relayOpts := signalrelay.Options{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
	}
	if cfg.RateLimiting.Enabled {
		relayOpts.MessageRate = cfg.RateLimiting.WebSocket.MessagesPerSecond
		relayOpts.MessageBurst = cfg.RateLimiting.WebSocket.Burst
	}
	relay := signalrelay.NewRelayServer(registry, authService, metrics, relayOpts, log)

	health := monitoring.NewHealthChecker()
	health.AddCheck("registry", func(ctx context.Context) (bool, error) {
		registry.Stats(ctx)
		return true, nil
	}, 2*time.Second)
	if redisClient := repoFactory.RedisClient(); redisClient != nil {
		health.AddCheck("redis", func(ctx context.Context) (bool, error) {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return false, err
			}
			return true, nil
		}, 2*time.Second)
	}

	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", relay.HandleWebSocket)
	signalMux.HandleFunc("/health", relay.HealthCheck)
	signalServer := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: signalMux,
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	handler := httphandlers.NewConsultationHandler(consultations, authService, relay, health)
	handler.SetupRoutes(router)

	apiServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsServer *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler: metricsMux,
		}
		go func() {
			sugar.Infow("metrics listening", "address", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				sugar.Errorw("metrics server error", "error", err)
			}
		}()
	}

	go func() {
		sugar.Infow("signaling relay listening", "address", cfg.Signal.Address)
		if err := signalServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("signaling server error", "error", err)
		}
	}()

	go func() {
		sugar.Infow("api listening", "address", cfg.Server.Address)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("api server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	shutdown(ctx, sugar, "signaling", signalServer)
	shutdown(ctx, sugar, "api", apiServer)
	if metricsServer != nil {
		shutdown(ctx, sugar, "metrics", metricsServer)
	}

	if err := repoFactory.Close(); err != nil {
		sugar.Warnw("error closing repositories", "error", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		sugar.Warnw("error shutting down tracing", "error", err)
	}
	sugar.Info("shutdown complete")
}

func shutdown(ctx context.Context, sugar *zap.SugaredLogger, name string, srv *http.Server) {
	if err := srv.Shutdown(ctx); err != nil {
		sugar.Warnw("server shutdown error", "server", name, "error", err)
	}
}
