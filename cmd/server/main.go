package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gene9831/one-app-api/internal/database"
	"github.com/gene9831/one-app-api/internal/drives"
	"github.com/gene9831/one-app-api/internal/server"
	"github.com/gene9831/one-app-api/internal/syncer"
	"github.com/gene9831/one-app-api/internal/uploader"
	"github.com/gene9831/one-app-api/pkg/auth"
	"github.com/gene9831/one-app-api/pkg/config"
	"github.com/gene9831/one-app-api/pkg/graph"
	"github.com/gene9831/one-app-api/pkg/logger"
)

const appVersion = "1.0.0"

func main() {
	var (
		configFile     = flag.String("config", "", "Path to configuration file")
		generateConfig = flag.String("generate-config", "", "Generate example configuration file at specified path")
		validateConfig = flag.Bool("validate-config", false, "Validate configuration and exit")
		addr           = flag.String("addr", "", "Listen address, overrides configuration")
		logLevel       = flag.String("log-level", "", "Log level, overrides configuration")
		version        = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("one-app-api v%s\n", appVersion)
		os.Exit(0)
	}

	if *generateConfig != "" {
		example := &config.Config{}
		loader := config.NewLoader(config.EnvPrefix)
		if err := loader.ApplyDefaults(example); err != nil {
			log.Fatalf("Failed to build example config: %v", err)
		}
		if err := loader.WriteExample(*generateConfig, example); err != nil {
			log.Fatalf("Failed to generate config file: %v", err)
		}
		fmt.Printf("Example configuration file generated at: %s\n", *generateConfig)
		fmt.Println("Edit the file to customize your configuration.")
		os.Exit(0)
	}

	if *configFile != "" {
		if err := config.ValidateConfigPath(*configFile); err != nil {
			log.Fatalf("Invalid config file: %v", err)
		}
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Command line flags take priority over file and environment.
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if *validateConfig {
		if err := cfg.Validate(); err != nil {
			fmt.Printf("Configuration validation failed:\n%v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration validation passed successfully.")
		os.Exit(0)
	}

	logFormat := logger.JSONFormat
	if cfg.Logging.Format == "text" {
		logFormat = logger.TextFormat
	}
	appLogger := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLogLevel(cfg.Logging.Level),
		Format:  logFormat,
		Output:  os.Stdout,
		Service: "one-app-api",
		Fields:  make(map[string]interface{}),
	})
	logger.SetDefault(appLogger)

	if cfg.Auth.ClientID == "" || cfg.Auth.ClientSecret == "" {
		appLogger.Fatal("auth.client_id and auth.client_secret are required; register an application with the provider first")
	}
	if cfg.Admin.Password == "" {
		appLogger.Fatal("admin.password is required. Set ONEAPP_ADMIN_PASSWORD or the admin.password config key.")
	}

	appLogger.WithFields(map[string]interface{}{
		"driver":   cfg.Database.Driver,
		"database": cfg.Database.Database,
	}).Info("Connecting to database")

	waitCtx, cancelWait := context.WithTimeout(context.Background(), 30*time.Second)
	err = database.WaitForDatabase(waitCtx, &cfg.Database, 10, 3*time.Second)
	cancelWait()
	if err != nil {
		appLogger.Fatal("Database not reachable: %v", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		appLogger.Fatal("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Connect(ctx)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to connect to database: %v", err)
	}
	store := db.Store()

	graphClient := graph.NewClient(graph.WithRetryPolicy(graph.RetryPolicy{
		MaxRetries:         cfg.Sync.RequestRetries,
		InitialDelay:       time.Second,
		ExponentialBackoff: true,
	}))
	authManager := graph.NewAuthManager(cfg.Auth)

	driveManager := drives.NewManager(store, authManager, graphClient, appLogger)
	watcher := drives.NewRefresher(driveManager, cfg.Drives.TokenRefreshInterval, appLogger)

	syncEngine := syncer.New(store, graphClient, driveManager, appLogger)
	scheduler := syncer.NewScheduler(syncEngine, store, appLogger, cfg.Sync.CronSpec)

	worker := uploader.NewWorker(store, graphClient, driveManager, syncEngine, uploader.WorkerConfig{
		ChunkSize:  cfg.Upload.ChunkSize(),
		RetryDelay: cfg.Upload.RetryDelay,
	}, appLogger)
	pool := uploader.NewPool(worker, cfg.Upload.MaxConcurrent, appLogger)
	uploads := uploader.NewService(store, graphClient, pool, appLogger)

	// Orphaned jobs from a previous run must be parked before the pool
	// starts promoting.
	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = uploads.Recover(startupCtx)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to recover upload jobs: %v", err)
	}
	pool.Start()

	// Keep every known drive's refresh token exercised.
	listCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	known, err := store.ListDrives(listCtx)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to list drives: %v", err)
	}
	for _, d := range known {
		if !d.NeedsReauth {
			watcher.Watch(d.ID)
		}
	}

	if err := scheduler.Start(); err != nil {
		appLogger.Fatal("Failed to start sync scheduler: %v", err)
	}

	jwtManager, err := auth.NewJWTManager(&auth.JWTConfig{
		SigningKey: cfg.Admin.JWTKey,
		Password:   cfg.Admin.Password,
		TokenTTL:   cfg.Admin.TokenTTL,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize admin auth: %v", err)
	}

	srv := server.New(cfg.Server, server.Dependencies{
		DB:      db,
		Store:   store,
		Syncer:  syncEngine,
		Uploads: uploads,
		Drives:  driveManager,
		Watcher: watcher,
		Graph:   graphClient,
		JWT:     jwtManager,
		Log:     appLogger,
	})

	appLogger.WithFields(map[string]interface{}{
		"addr":           cfg.Server.Addr,
		"drives":         len(known),
		"sync_cron":      cfg.Sync.CronSpec,
		"chunk_mib":      cfg.Upload.ChunkMiB,
		"max_concurrent": cfg.Upload.MaxConcurrent,
		"log_level":      cfg.Logging.Level,
	}).Info("Starting one-app-api server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			appLogger.Fatal("Server failed: %v", err)
		}
		return
	case sig := <-stop:
		appLogger.Info("Received signal %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP shutdown: %v", err)
	}

	scheduler.Stop()
	pool.Shutdown()
	watcher.Close()
	jwtManager.Stop()

	appLogger.Info("Shutdown complete")
}
