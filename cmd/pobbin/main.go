package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pobbin/cfg"
	"pobbin/pkg/secrets"
	"pobbin/svc/api"
	"pobbin/svc/bg"
	"pobbin/svc/cache"
	"pobbin/svc/db"
	"pobbin/svc/session"
	"pobbin/svc/store"
	"pobbin/svc/svc"
	"pobbin/svc/util"

	"github.com/joho/godotenv"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthCheck())
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		util.Warn().Err(err).Msg("failed to load .env")
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader, err := secrets.NewLoader(ctx)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize secret loader")
	}
	if c.SessionSecretFromKMS {
		secret, err := loader.GetSecret(ctx, "SESSION_SECRET")
		if err != nil {
			util.Fatal().Err(err).Str("source", loader.Source()).Msg("CRITICAL: failed to load session secret")
		}
		c.SessionSecret = cfg.NewSecret(secret)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Str("secrets", loader.Source()).Msg("starting pobbin")

	var (
		objects store.ObjectStore
		objPing api.Pinger
		sqlDB   *db.SQLite
		walDone = make(chan struct{})
		walCtx  context.Context
		walStop context.CancelFunc
	)
	switch c.ObjectStore {
	case cfg.ObjectStoreS3:
		s3, err := store.NewS3(ctx, store.S3Opts{
			Bucket:          c.S3.Bucket,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			AccessKey:       c.S3.AccessKey,
			SecretKey:       c.S3.SecretKey.Value(),
			ListConcurrency: c.S3.ListConcurrency,
		})
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize s3 object store")
		}
		objects, objPing = s3, s3
		close(walDone)
		util.Info().Str("bucket", c.S3.Bucket).Msg("s3 object store initialized")
	default:
		sqlDB, err = db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize database")
		}
		defer sqlDB.Close()
		objects, objPing = sqlDB, sqlDB
		walCtx, walStop = context.WithCancel(ctx)
		go func() {
			defer close(walDone)
			sqlDB.RunWALMaintenance(walCtx, 0)
		}()
		util.Info().Str("path", c.DatabasePath).Msg("database initialized")
	}

	var mirror *store.Mirror
	if c.LegacyMirrorURL != "" {
		mirror = store.NewMirror(store.MirrorOpts{
			BaseURL: c.LegacyMirrorURL,
			RPS:     c.LegacyMirrorRPS,
			Timeout: c.LegacyMirrorTimeout,
		})
		util.Info().Str("url", c.LegacyMirrorURL).Msg("legacy mirror enabled")
	}

	var (
		backend   cache.Backend
		cachePing api.Pinger
	)
	switch c.CacheBackend {
	case cfg.CacheRedis:
		rdb, err := db.NewRedis(c.RedisURL, c)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		backend, cachePing = rdb, rdb
		util.Info().Msg("redis cache connected")
	default:
		lru, err := cache.NewLRU(c.LRUCacheSize)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to create LRU cache")
		}
		backend = lru
		util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")
	}

	tasks := bg.New(c.BackgroundTaskTimeout)
	edge := cache.NewController(backend, tasks, cache.ControllerOpts{
		DefaultTTL:   c.CacheDefaultTTL,
		PublicOrigin: c.PublicOrigin,
	})
	pasteSvc := svc.NewPaste(store.New(objects, mirror), cache.NewPurger(backend, tasks), c.MaxPasteSize)

	verifier, err := session.NewVerifier([]byte(c.SessionSecret.Value()))
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize session verifier")
	}

	server := api.NewServer(c, pasteSvc, edge, verifier, objPing, cachePing)
	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	pasteSvc.Shutdown()
	if err := tasks.Drain(shutdownCtx); err != nil {
		util.Warn().Err(err).Msg("background tasks did not finish, cache may hold stale entries until expiry")
	}
	if walStop != nil {
		walStop()
	}
	select {
	case <-walDone:
	case <-shutdownCtx.Done():
		util.Warn().Msg("WAL maintenance did not stop gracefully")
	}
	util.Info().Msg("shutdown complete")
}

func healthCheck() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	res, err := client.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		return 1
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
