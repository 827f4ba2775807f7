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

	"github.com/codechat-app/backend/internal/config"
	"github.com/codechat-app/backend/internal/db"
	"github.com/codechat-app/backend/internal/httpapi"
	"github.com/codechat-app/backend/internal/httpapi/handlers"
	"github.com/codechat-app/backend/internal/logger"
	"github.com/codechat-app/backend/internal/storage"
	"github.com/codechat-app/backend/internal/store/rabbitmq"
	"github.com/codechat-app/backend/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("database connection failed", "err", err)
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal("database migration failed", "err", err)
	}

	store, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCDNDomain)
	if err != nil {
		log.Fatal("storage client failed", "err", err)
	}

	var cache *redisstore.Store
	if cfg.RedisAddr != "" {
		cache = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := cache.Ping(ctx); err != nil {
			log.Warn("redis unreachable, content cache disabled", "addr", cfg.RedisAddr, "err", err)
			cache = nil
		}
	}

	var jobs handlers.CleanupPublisher
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Warn("rabbitmq unreachable, session cleanup will run inline", "err", err)
	} else {
		jobs = pub
		defer pub.Close()
	}

	h := handlers.NewHandler(cfg, log, gdb, store, cache, jobs)
	router := httpapi.NewRouter(h, cfg.FrontendURL, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", "err", err)
	}
	log.Info("server stopped")
}
