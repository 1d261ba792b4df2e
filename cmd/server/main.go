package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"partyapp-referral-engine/internal/audit"
	"partyapp-referral-engine/internal/config"
	"partyapp-referral-engine/internal/database"
	"partyapp-referral-engine/internal/engine"
	"partyapp-referral-engine/internal/grpcapi"
	gateway "partyapp-referral-engine/internal/http"
	"partyapp-referral-engine/internal/logging"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/scheduler"
	"partyapp-referral-engine/internal/store"
	"partyapp-referral-engine/internal/tracing"
	"partyapp-referral-engine/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.Log.Production, cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("🚀 Starting Referral Engine...", zap.String("env", cfg.AppEnv), zap.String("db", string(cfg.Database.Dialect)))
	for _, w := range cfg.Warnings {
		log.Warn("⚠️ " + w)
	}

	if cfg.AppEnv == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var profiler *tracing.Profiler
	if cfg.AppEnv == "dev" && cfg.Server.PProfPort != "" {
		profiler = tracing.NewProfiler(cfg.Server.PProfPort, log.Named("pprof"))
		profiler.Start()
		tracing.StartMemoryMonitor(ctx, log.Named("memory"), time.Minute, 512)
	}

	db, err := database.Open(cfg.Database.Dialect, cfg.Database.DSN, log)
	if err != nil {
		log.Fatal("❌ Database connection failed", zap.Error(err))
	}
	defer database.CloseSQL(db, log)

	if cfg.AppEnv == "dev" || cfg.Database.Dialect == database.SQLite {
		if err := database.CreateTables(ctx, db, cfg.Database.Dialect, log); err != nil {
			log.Warn("⚠️ Schema creation failed (tables may already exist)", zap.Error(err))
		}
	}
	repo := store.NewSQLStore(db, cfg.Database.Dialect)

	checks := []scheduler.HealthCheck{{Name: "sql", Ping: repo.Ping}}

	var cache ranking.Cache = ranking.NopCache{}
	if cfg.Redis.Enabled {
		client, err := database.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warn("⚠️ Redis unavailable, leaderboards are served uncached", zap.Error(err))
		} else {
			defer database.CloseRedis(client, log)
			cache = ranking.NewRedisCache(client, cfg.Ranking.CacheTTL)
			checks = append(checks, scheduler.HealthCheck{
				Name: "redis",
				Ping: func(ctx context.Context) error { return database.CheckRedisHealth(ctx, client) },
			})
		}
	}

	var recorder audit.Recorder = audit.Nop{}
	if cfg.Scylla.Enabled {
		scylla, err := database.NewScylla(cfg.Scylla.Hosts, cfg.Scylla.Keyspace, log)
		if err != nil {
			log.Warn("⚠️ ScyllaDB unavailable, audit trail disabled", zap.Error(err))
		} else {
			defer scylla.Close()
			recorder = scylla
			checks = append(checks, scheduler.HealthCheck{Name: "scylla", Ping: scylla.Ping})
		}
	}

	parts := engine.Build(engine.Deps{
		Repo:             repo,
		Cache:            cache,
		Audit:            recorder,
		Log:              log,
		LeaderboardLimit: cfg.Ranking.LeaderboardSize,
	})

	sched := scheduler.NewScheduler(parts.Computer, recorder, log.Named("scheduler"),
		scheduler.Specs{Rankings: cfg.Ranking.Cron, Health: cfg.Ranking.HealthCron}, checks...)
	if err := sched.Start(ctx); err != nil {
		log.Fatal("❌ Scheduler failed to start", zap.Error(err))
	}

	grpcServer := grpcapi.NewGRPCServer(parts.Service, cfg.Auth.AdminJWTSecret, log.Named("grpc"))
	utils.SafeGo(log, "GRPCServer", func() {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			log.Fatal("❌ gRPC listen failed", zap.Error(err))
		}
		log.Info("✅ gRPC server listening", zap.String("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatal("❌ gRPC server error", zap.Error(err))
		}
	})

	r := gin.New()
	r.Use(gin.Recovery())
	gateway.NewGateway(parts.Service, sched, cfg.Auth.AdminJWTSecret, log.Named("http")).SetupRoutes(r)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	utils.SafeGo(log, "HTTPServer", func() {
		log.Info("✅ HTTP server listening", zap.String("port", cfg.Server.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("❌ HTTP server error", zap.Error(err))
		}
	})

	waitForShutdown(log, grpcServer, httpSrv, profiler, sched, cancel)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then stops the profiler, the
// scheduler, HTTP and gRPC in that order.
func waitForShutdown(log *zap.Logger, grpcServer *grpc.Server, httpSrv *http.Server, profiler *tracing.Profiler, sched *scheduler.Scheduler, cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("🛑 Shutdown signal received", zap.String("signal", sig.String()))

	if profiler != nil {
		log.Info("⏹️ 0. Stopping pprof server...")
		profiler.Stop()
	}

	log.Info("⏹️ 1. Stopping scheduler...")
	sched.Stop()
	cancel()

	log.Info("⏹️ 2. Stopping HTTP server...")
	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("❌ HTTP shutdown error", zap.Error(err))
	}

	log.Info("⏹️ 3. Stopping gRPC server (GracefulStop)...")
	grpcServer.GracefulStop()
	log.Info("✅ Shutdown complete")
}
