package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/carpool/internal/config"
	"github.com/example/carpool/internal/engine"
	"github.com/example/carpool/internal/events"
	httpapi "github.com/example/carpool/internal/http"
	"github.com/example/carpool/internal/identity"
	"github.com/example/carpool/internal/lifecycle"
	"github.com/example/carpool/internal/logging"
	"github.com/example/carpool/internal/notify"
	"github.com/example/carpool/internal/payments"
	"github.com/example/carpool/internal/recurrence"
	"github.com/example/carpool/internal/schedule"
	"github.com/example/carpool/internal/sequence"
	"github.com/example/carpool/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	type fullStore interface {
		storage.RideStore
		storage.RequestStore
	}
	var store fullStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("PG_DSN not set, using in-memory store")
	}

	var seq sequence.Allocator
	var ident identity.Provider
	if cfg.RedisAddr != "" {
		seq = sequence.NewRedisAllocator(cfg.RedisAddr, cfg.RedisPassword, cfg.RideSeqKey)
		ident = identity.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		seq = sequence.NewCounter(0)
		ident = identity.NewStaticProvider(nil)
		logger.Warn("REDIS_ADDR not set, using in-process id allocator")
	}

	var pub events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		pub = kp
	}

	wsreg := notify.NewWSRegistry()
	var sink notify.Sink = notify.NewPushSink(cfg.PushEndpoint, wsreg)
	if cfg.PushEndpoint == "" {
		sink = &notify.LogSink{Logger: logger}
	}

	var fares payments.FareProcessor
	if os.Getenv("STRIPE_API_KEY") != "" {
		fares = payments.NewStripeClient()
	}

	eng := &engine.Engine{
		Rides:         store,
		Requests:      store,
		Identity:      ident,
		Sink:          sink,
		Events:        pub,
		Fares:         fares,
		Currency:      cfg.FareCurrency,
		Logger:        logger,
		CommitRetries: cfg.CommitRetries,
	}
	regen := &recurrence.Regenerator{Rides: store, Requests: store, Seq: seq, Sink: sink, Logger: logger}
	lc := &lifecycle.Controller{
		Rides:         store,
		Requests:      store,
		Seq:           seq,
		Conflicts:     schedule.NewChecker(store, cfg.MinConflictGap),
		Regen:         regen,
		Sink:          sink,
		Events:        pub,
		Clock:         lifecycle.SystemClock{},
		Logger:        logger,
		CommitRetries: cfg.CommitRetries,
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(eng, lc, wsreg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("booking engine listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_schema.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_schema.sql")
}
