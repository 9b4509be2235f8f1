package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/rockband-pos/internal/backend"
	"github.com/ariefcatur/rockband-pos/internal/board"
	"github.com/ariefcatur/rockband-pos/internal/config"
	"github.com/ariefcatur/rockband-pos/internal/httpx"
	kafkax "github.com/ariefcatur/rockband-pos/internal/kafka"
	"github.com/ariefcatur/rockband-pos/internal/logging"
	"github.com/ariefcatur/rockband-pos/internal/metrics"
	"github.com/ariefcatur/rockband-pos/internal/orders"
	"github.com/ariefcatur/rockband-pos/internal/realtime"
	"github.com/ariefcatur/rockband-pos/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-kitchen"
	log := logging.New(service, cfg.LogLevel)
	m := metrics.New("kitchen")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := backend.New(cfg.BackendURL, cfg.RequestTimeout, log, m)
	b := board.New(api, log, m)
	b.RefetchTimeout = cfg.RequestTimeout

	// Redis: board snapshot for the API, dedup for the Kafka source
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		store := redisx.NewSnapshotStore(rdb)
		b.Subscribe(func(s board.Snapshot) {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			if err := store.Save(sctx, s); err != nil {
				log.Warn("board snapshot not saved", "err", err)
			}
		})
	}
	b.Subscribe(func(s board.Snapshot) {
		log.Debug("board changed", "pending", len(s.Pending), "preparing", len(s.Preparing), "ready", len(s.Ready))
	})

	if err := b.Refresh(ctx); err != nil {
		log.Warn("initial board load incomplete", "err", err)
	}

	var prod *kafkax.Producer
	var ch *realtime.Channel
	switch cfg.EventSource {
	case config.EventSourceKafka:
		var dedup kafkax.Deduper
		if rdb != nil {
			dedup = redisx.NewDeduper(rdb, service)
		}
		// one worker keeps the topic order per board
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.KafkaTopic, 1, log)
		go func() {
			log.Info("kitchen consumer started", "group", cfg.KafkaGroup, "topic", cfg.KafkaTopic)
			if err := cons.Start(ctx, kafkax.EnvelopeHandler(b.Handle, dedup, log)); err != nil {
				log.Error("consumer exit", "err", err)
				cancel()
			}
		}()

	default:
		handle := b.Handle
		if len(cfg.KafkaBrokers) > 0 {
			prod = kafkax.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, service, 1024, log)
			prod.Start(ctx)
			handle = func(ctx context.Context, env orders.Envelope) {
				b.Handle(ctx, env)
				prod.PublishEnvelope(ctx, env)
			}
		}
		ch = realtime.New(cfg.KitchenWSURL, log, m)
		ch.ReconnectDelay = cfg.ReconnectDelay
		connected := false
		ch.OnConnect = func() {
			// events missed while disconnected are recovered by a refetch
			if connected {
				go func() {
					if err := b.Refresh(ctx); err != nil {
						log.Warn("board resync failed", "err", err)
					}
				}()
			}
			connected = true
		}
		ch.Start(ctx, handle)
	}

	router := httpx.NewRouter(m)
	router.Get("/board", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(b.Snapshot())
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("kitchen board listening", "addr", cfg.HTTPAddr, "source", cfg.EventSource)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", "err", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down kitchen board")

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	if ch != nil {
		_ = ch.Close()
		ch.Wait()
	}
	b.Close()
	cancel()
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
}
