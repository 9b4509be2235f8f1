package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/backend"
	"github.com/ariefcatur/rockband-pos/internal/config"
	"github.com/ariefcatur/rockband-pos/internal/httpx"
	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/metrics"
	"github.com/ariefcatur/rockband-pos/internal/redisx"
	"github.com/ariefcatur/rockband-pos/internal/session"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	m := metrics.New("api")

	api := backend.New(cfg.BackendURL, cfg.RequestTimeout, log, m)
	resolver := session.NewResolver(api, log)

	// Redis is optional: without it locks stay in process and GET /board
	// always reads the backend.
	var locker session.Locker = &session.MemLocker{}
	var snapshots httpx.SnapshotCache
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, continuing without it", "addr", cfg.RedisAddr, "err", err)
		} else {
			locker = redisx.NewLocker(rdb, log)
			snapshots = redisx.NewSnapshotStore(rdb)
		}
		cancel()
	}

	router := httpx.NewRouter(m)
	h := &httpx.Handler{
		API:            api,
		Resolver:       resolver,
		Terminals:      session.NewRegistry(resolver, locker, log),
		Snapshots:      snapshots,
		TerminalHeader: cfg.TerminalHeader,
		Log:            log,
		Metrics:        m,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "backend", cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
}
