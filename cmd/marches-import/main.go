package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/models"
	"github.com/noah-isme/marches-api/internal/repository"
	"github.com/noah-isme/marches-api/internal/service"
	"github.com/noah-isme/marches-api/pkg/cache"
	"github.com/noah-isme/marches-api/pkg/config"
	"github.com/noah-isme/marches-api/pkg/database"
	"github.com/noah-isme/marches-api/pkg/lock"
	"github.com/noah-isme/marches-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var (
		dataDir      string
		filesDir     string
		deleteSource bool
		script       string
	)
	flag.StringVar(&dataDir, "data-dir", cfg.Import.DataDir, "Directory holding the scraper CSV/JSON output")
	flag.StringVar(&filesDir, "files-dir", cfg.Import.FilesDir, "Directory holding per-reference zips and extracted folders")
	flag.BoolVar(&deleteSource, "delete-source", cfg.Import.DeleteSource, "Remove the scraper output once imported")
	flag.StringVar(&script, "launch", "", "Run this scraping script first and import its fresh output")
	flag.Parse()

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

	metricsSvc := service.NewMetricsService()
	var cacheRepo service.CacheRepository
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, stats cache will not be invalidated", zap.Error(err))
	} else {
		defer redisClient.Close()
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	userRepo := repository.NewUserRepository(db)
	src := models.ImportSource{DataDir: dataDir, FilesDir: filesDir, DeleteSource: deleteSource}
	importSvc := service.NewImportService(repository.NewTenderRepository(db), cacheSvc, metricsSvc, userRepo, logr, src)

	var report *models.ImportReport
	if script != "" {
		if redisClient == nil {
			logr.Fatal("script launch needs redis for its lock")
		}
		scriptSvc := service.NewScriptService(service.ScriptConfig{
			Dir:          cfg.Scripts.Dir,
			Interpreter:  cfg.Scripts.Interpreter,
			Allowed:      cfg.Scripts.Allowed,
			DataDir:      dataDir,
			LockTTL:      cfg.Scripts.LockTTL,
			WaitTimeout:  cfg.Scripts.WaitTimeout,
			PollInterval: cfg.Scripts.PollInterval,
		}, lock.NewRedisLocker(redisClient, ""), importSvc, metricsSvc, userRepo, logr)
		launch, err := scriptSvc.Launch(ctx, script, true, nil)
		if err != nil {
			logr.Fatal("script launch failed", zap.String("script", script), zap.Error(err))
		}
		if launch.Status != models.ScriptCompleted {
			logr.Fatal("script produced no output", zap.String("script", script), zap.String("status", launch.Status))
		}
		report = launch.Import
	} else {
		report, err = importSvc.Import(ctx, src, nil)
		if err != nil {
			logr.Fatal("import failed", zap.Error(err))
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logr.Fatal("failed to print report", zap.Error(err))
	}
}
