package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/marches-api/api/swagger"
	"github.com/noah-isme/marches-api/internal/handler"
	"github.com/noah-isme/marches-api/internal/middleware"
	"github.com/noah-isme/marches-api/internal/models"
	"github.com/noah-isme/marches-api/internal/repository"
	"github.com/noah-isme/marches-api/internal/service"
	"github.com/noah-isme/marches-api/migrations"
	"github.com/noah-isme/marches-api/pkg/broadcast"
	"github.com/noah-isme/marches-api/pkg/cache"
	"github.com/noah-isme/marches-api/pkg/config"
	"github.com/noah-isme/marches-api/pkg/database"
	"github.com/noah-isme/marches-api/pkg/export"
	"github.com/noah-isme/marches-api/pkg/jobs"
	"github.com/noah-isme/marches-api/pkg/lock"
	"github.com/noah-isme/marches-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/marches-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/marches-api/pkg/middleware/requestid"
	"github.com/noah-isme/marches-api/pkg/storage"
)

// @title Marchés Publics API
// @version 1.0.0
// @description Back office for public tender intake, decisions and bid dossiers
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, migrations.FS); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// cache and live push need a reachable Redis; the script lock tolerates an outage
	var (
		cacheRepo service.CacheRepository
		publisher service.Publisher
	)
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, cache and live push disabled", zap.Error(err))
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	} else {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		publisher = broadcast.NewRedisPublisher(redisClient)
	}
	defer redisClient.Close()

	files, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare file storage", zap.Error(err))
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	tenderRepo := repository.NewTenderRepository(db)
	dossierRepo := repository.NewDossierRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	employeeRepo := repository.NewEmployeeRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	historySvc := service.NewHistoryService(historyRepo, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, userRepo, publisher, metricsSvc, logr, service.NotificationConfig{
		ChannelPrefix: cfg.Notifications.ChannelPrefix,
		OutboxEnabled: cfg.Notifications.OutboxEnabled,
	})

	var queue *jobs.Queue
	if cfg.Notifications.OutboxEnabled {
		queue = jobs.NewQueue("notifications", notificationSvc.HandlePushJob, jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
			OnGiveUp: func(job jobs.Job, err error) {
				logr.Error("notification push abandoned", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			},
		})
		queue.Start(ctx)
		notificationSvc.UseQueue(queue)
		if _, err := notificationSvc.RecoverPending(ctx); err != nil {
			logr.Warn("failed to recover pending notifications", zap.Error(err))
		}
	}

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "marches-api",
	})
	dossierSvc := service.NewDossierService(dossierRepo, employeeRepo, tenderRepo, notificationSvc, historySvc, validate, logr)
	exportSvc := service.NewExportService(export.NewCSVExporter(export.WithSemicolon()), export.NewPDFExporter())
	tenderSvc := service.NewTenderService(service.TenderServiceDeps{
		Repo:      tenderRepo,
		Dossiers:  dossierSvc,
		Notifier:  notificationSvc,
		History:   historySvc,
		Cache:     cacheSvc,
		Metrics:   metricsSvc,
		Exporter:  exportSvc,
		Files:     files,
		Audit:     userRepo,
		Validator: validate,
		Logger:    logr,
	})
	importSvc := service.NewImportService(tenderRepo, cacheSvc, metricsSvc, userRepo, logr, models.ImportSource{
		DataDir:      cfg.Import.DataDir,
		FilesDir:     cfg.Import.FilesDir,
		DeleteSource: cfg.Import.DeleteSource,
	})
	scriptSvc := service.NewScriptService(service.ScriptConfig{
		Dir:          cfg.Scripts.Dir,
		Interpreter:  cfg.Scripts.Interpreter,
		Allowed:      cfg.Scripts.Allowed,
		DataDir:      cfg.Import.DataDir,
		LockTTL:      cfg.Scripts.LockTTL,
		WaitTimeout:  cfg.Scripts.WaitTimeout,
		PollInterval: cfg.Scripts.PollInterval,
	}, lock.NewRedisLocker(redisClient, ""), importSvc, metricsSvc, userRepo, logr)
	documentSvc := service.NewDocumentService(documentRepo, files, storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL), userRepo, logr, service.DocumentConfig{
		MaxFileSizeBytes: cfg.Documents.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Documents.AllowedMIMEs,
		DownloadPrefix:   cfg.APIPrefix,
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{
		"postgres": db.PingContext,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	router := &handler.Router{
		Auth:          handler.NewAuthHandler(authSvc),
		Tenders:       handler.NewTenderHandler(tenderSvc, historySvc, dossierSvc),
		Dossiers:      handler.NewDossierHandler(dossierSvc),
		Notifications: handler.NewNotificationHandler(notificationSvc),
		Imports:       handler.NewImportHandler(importSvc, scriptSvc),
		Documents:     handler.NewDocumentHandler(documentSvc),
		Metrics:       metricsHandler,
		Tokens:        authSvc,
		Audit:         userRepo,
		Logger:        logr,
	}
	router.Register(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if queue != nil {
		queue.Stop()
	}
}
