package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerCMS/config"
	appmodel "github.com/sifan077/PowerCMS/internal/app/model"
	"github.com/sifan077/PowerCMS/internal/app/notify"
	apprepository "github.com/sifan077/PowerCMS/internal/app/repository"
	appserver "github.com/sifan077/PowerCMS/internal/app/server"
	"github.com/sifan077/PowerCMS/internal/app/service"
	"github.com/sifan077/PowerCMS/internal/infra/logger"
	infraNATS "github.com/sifan077/PowerCMS/internal/infra/nats"
	infraPostgres "github.com/sifan077/PowerCMS/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/PowerCMS/internal/infra/prometheus"
	infraRedis "github.com/sifan077/PowerCMS/internal/infra/redis"
	"github.com/sifan077/PowerCMS/internal/infra/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCfg := logger.FromEnv()
	isDev := logCfg.Development
	log := logger.MustInit(logCfg)
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		host, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	}
	log = log.With(zap.String("instance_id", instanceID))

	log.Info("Configuration loaded successfully",
		zap.String("addr", cfg.Server.Addr),
		zap.String("store_driver", cfg.Storage.Driver),
		zap.String("uploads_driver", cfg.Uploads.Driver),
		zap.String("notify_relay", cfg.Notify.Relay),
		zap.Bool("scheduler_enabled", cfg.Scheduler.Enabled),
		zap.String("scheduler_spec", cfg.Scheduler.Spec),
		zap.Bool("changelog_enabled", cfg.ChangeLog.Enabled),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("nats_host", cfg.NATS.Host),
	)

	var (
		gormDB *gorm.DB
		pool   *pgxpool.Pool
	)
	if cfg.Postgres.Enabled() {
		gormDB, err = infraPostgres.NewGorm(cfg.Postgres, log.Named("gorm"))
		if err != nil {
			log.Fatal("Failed to open GORM connection", zap.Error(err))
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
		}
		defer sqlDB.Close()

		if err := infraPostgres.AutoMigrate(ctx, gormDB, &apprepository.RecordRow{}, &appmodel.ChangeLog{}); err != nil {
			log.Fatal("Failed to run database migrations", zap.Error(err))
		}

		pool, err = infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer pool.Close()
		log.Info("Connected to Postgres successfully")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = infraRedis.NewClient(ctx, cfg.Redis, instanceID)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		log.Info("Connected to Redis successfully")
	}

	var (
		natsConn *nats.Conn
		js       nats.JetStreamContext
	)
	if cfg.NATS.Enabled() {
		natsConn, js, err = infraNATS.Connect(cfg.NATS, instanceID, log.Named("nats"))
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Drain()
		log.Info("Connected to NATS successfully", zap.Bool("jetstream_ready", js != nil))
	}

	store, err := apprepository.Open(cfg.Storage, gormDB, log)
	if err != nil {
		log.Fatal("Failed to open record store", zap.Error(err))
	}
	defer store.Close()

	uploader, err := storage.New(cfg.Uploads, log)
	if err != nil {
		log.Fatal("Failed to initialize upload storage", zap.Error(err))
	}

	relay, err := notify.NewRelay(cfg.Notify.Relay, cfg.Notify.Channel, redisClient, natsConn)
	if err != nil {
		log.Fatal("Failed to initialize notification relay", zap.Error(err))
	}
	hub := notify.NewHub(notify.Deps{
		InstanceID: instanceID,
		BufferSize: cfg.Notify.BufferSize,
		Relay:      relay,
		Logger:     log.Named("notify"),
	})
	defer hub.Close()
	go func() {
		if err := hub.Run(ctx); err != nil {
			log.Error("Notification relay stopped", zap.Error(err))
		}
	}()

	publishers := notify.Multi{hub}
	var changeLogRepo apprepository.ChangeLogRepository
	if cfg.ChangeLog.Enabled {
		if js == nil || gormDB == nil {
			log.Fatal("Change log requires both NATS and Postgres to be configured")
		}
		changeLogRepo = apprepository.NewChangeLogRepository(gormDB)
		if err := service.EnsureChangeStream(js); err != nil {
			log.Fatal("Failed to create change log stream", zap.Error(err))
		}
		changePublisher := service.NewChangePublisher(js, log.Named("changelog"), instanceID)
		defer changePublisher.Close()
		publishers = append(publishers, changePublisher)

		consumer := service.NewChangeLogConsumer(js, log.Named("changelog"), changeLogRepo)
		if err := consumer.Start(ctx); err != nil {
			log.Fatal("Failed to start change log consumer", zap.Error(err))
		}
		log.Info("Change log consumer started")
	}

	loc := time.Local
	if cfg.Scheduler.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			log.Fatal("Invalid scheduler timezone", zap.String("timezone", cfg.Scheduler.Timezone), zap.Error(err))
		}
	}

	content := service.NewContentService(service.ContentDeps{
		Store:     store,
		Publisher: publishers,
		Images:    uploader,
		ChangeLog: changeLogRepo,
		Logger:    log.Named("content"),
	})

	if cfg.Scheduler.Enabled {
		scheduler, err := service.NewPublishScheduler(service.PublishSchedulerDeps{
			Content:  content,
			Logger:   log.Named("scheduler"),
			Spec:     cfg.Scheduler.Spec,
			Location: loc,
		})
		if err != nil {
			log.Fatal("Failed to create publish scheduler", zap.Error(err))
		}
		if err := scheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start publish scheduler", zap.Error(err))
		}
		defer scheduler.Stop()
	} else {
		log.Info("Publish scheduler disabled")
	}

	if !isDev {
		promServer := infraPrometheus.NewServer(cfg.Prometheus, instanceID, cfg.Storage.Driver)
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	server := appserver.New(appserver.Dependencies{
		Config:   cfg,
		Logger:   log,
		Postgres: pool,
		Redis:    redisClient,
		Content:  content,
		Hub:      hub,
		Uploader: uploader,
		Location: loc,
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		serverErr <- server.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error("Fiber server exited", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	// Closing the hub ends open event streams so shutdown does not wait on them.
	_ = hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down HTTP server cleanly", zap.Error(err))
	}
}
