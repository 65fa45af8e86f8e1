package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httphandlers "signalhub/internal/handlers/http"

	"signalhub/internal/core/domain"
	"signalhub/internal/core/services"
	"signalhub/internal/infrastructure/distributed"
	"signalhub/internal/infrastructure/middleware"
	"signalhub/internal/infrastructure/monitoring"
	redisrepo "signalhub/internal/infrastructure/repositories/redis"
	signalws "signalhub/internal/infrastructure/signal"
	"signalhub/pkg/circuitbreaker"
	"signalhub/pkg/config"
	pkgdistributed "signalhub/pkg/distributed"
	"signalhub/pkg/logger"
	"signalhub/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zl := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zl.Sync()
	log := zl.Sugar()

	if err := run(cfg, log); err != nil {
		log.Fatalw("server exited with error", "error", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "signalhub",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer tp.Shutdown(context.Background())

	var (
		redisClient  *redis.Client
		fanout       *distributed.RedisFanout
		sweeperLock  *pkgdistributed.Lock
		roomsOptions = services.RoomServiceOptions{
			DefaultMaxParticipants: cfg.Rooms.DefaultMaxParticipants,
			MaxParticipantsLimit:   cfg.Rooms.MaxParticipantsLimit,
			LockTimeout:            cfg.Rooms.LockTimeout,
			Logger:                 log,
		}
	)

	var snapshots *redisrepo.SnapshotStore
	if cfg.Redis.Enabled {
		redisClient, err = redisrepo.NewClient(ctx, redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()

		snapshots = redisrepo.NewSnapshotStore(redisClient, cfg.Rooms.SnapshotTTL, log)
		roomsOptions.Snapshots = snapshots
		fanout = distributed.NewRedisFanout(redisClient, cfg.Fanout.Channel, cfg.Fanout.PublishTimeout, log)
		sweeperLock = pkgdistributed.NewLock(redisClient, "signalhub:sweeper:lock", time.Minute)
		log.Infow("redis enabled", "address", cfg.Redis.Address, "instance_id", fanout.InstanceID())
	} else {
		log.Infow("redis disabled, running single-instance without persistence")
	}

	rooms := services.NewRoomService(roomsOptions)
	if err := rooms.RecoverSnapshots(ctx); err != nil {
		log.Warnw("snapshot recovery failed, starting empty", "error", err)
	}

	stats := services.NewStatsService(rooms, cfg.Stats.TTL, cfg.Stats.SummaryCacheTTL, log)
	defer stats.Stop()
	rooms.SetOnLeave(stats.Remove)

	metrics := monitoring.NewMetrics(rooms.Counts, stats.Size)

	auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	wsCfg := signalws.Config{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendBuffer:     cfg.Signal.SendBuffer,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		wsCfg.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsCfg.MessageBurst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := signalws.NewServer(wsCfg, rooms, stats, nil, auth, metrics, log)

	var relay *services.RelayService
	if fanout != nil {
		relay = services.NewRelayService(rooms, stats, wsServer, monitoring.InstrumentBus(fanout, metrics), log)
	} else {
		relay = services.NewRelayService(rooms, stats, wsServer, nil, log)
	}
	wsServer.SetRelay(relay)

	if fanout != nil {
		go runFanout(ctx, fanout, relay, metrics, log)
	}

	sweeper := services.NewSweeper(rooms, stats, cfg.Sweeper.Interval, cfg.Sweeper.IdleThreshold, sweeperLock, log)
	sweeper.SetOnSweep(func(evicted, expired int) {
		metrics.RoomsEvicted.Add(float64(evicted))
		metrics.StatsExpired.Add(float64(expired))
	})
	go sweeper.Run(ctx)

	health := monitoring.NewHealthChecker()
	health.AddOptionalCheck("snapshot_breaker", func(context.Context) error {
		if rooms.Breaker().State() == circuitbreaker.StateOpen {
			return errors.New("snapshot circuit breaker is open")
		}
		return nil
	})
	if snapshots != nil {
		health.AddOptionalCheck("redis", snapshots.Ping)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.Tracing())
	}
	if cfg.RateLimiting.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimiting.HTTP.RequestsPerSecond, cfg.RateLimiting.HTTP.Burst)
		defer limiter.Stop()
		router.Use(limiter.Middleware())
	}

	handler := httphandlers.NewHandler(rooms, stats, auth, health, cfg.ICEServers(), log)
	handler.RegisterRoutes(router, middleware.Auth(auth))
	router.GET("/ws", wsServer.HandleWS)

	if cfg.Monitoring.PrometheusEnabled {
		go servePrometheus(cfg.Monitoring.PrometheusPort, log)
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("server listening", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if fanout != nil {
		_ = fanout.Close()
	}
	log.Infow("shutdown complete")
	return nil
}

// runFanout keeps the cross-process subscription alive, reconnecting
// with a flat backoff until shutdown.
func runFanout(ctx context.Context, fanout *distributed.RedisFanout, relay *services.RelayService, metrics *monitoring.Metrics, log *zap.SugaredLogger) {
	for {
		err := fanout.Subscribe(ctx, func(msg *domain.SignalingMessage) {
			metrics.FanoutReceived.Inc()
			relay.HandleFanout(msg)
		})
		if ctx.Err() != nil {
			return
		}
		log.Warnw("fan-out subscription lost, reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func servePrometheus(port int, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Infow("prometheus metrics listening", "address", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorw("prometheus server failed", "error", err)
	}
}
