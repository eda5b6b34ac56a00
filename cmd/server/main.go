package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"vigil/internal/cipher"
	"vigil/internal/credentials"
	"vigil/internal/events"
	"vigil/internal/georisk"
	"vigil/internal/platform/config"
	"vigil/internal/platform/httpserver"
	"vigil/internal/platform/logger"
	"vigil/internal/platform/metrics"
	"vigil/internal/platform/middleware"
	"vigil/internal/platform/redis"
	"vigil/internal/rotation"
	"vigil/internal/twofactor"
	"vigil/pkg/notifier"
)

// main wires the services together and supervises the background loops.
// Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Env)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	alerts := notifier.NewLogNotifier(log)

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventLog := events.NewLog(
		events.WithLogger(log),
		events.WithNotifier(alerts),
		events.WithMetrics(m),
	)

	sinks := []events.Sink{events.NewConsoleSink(log)}
	if redisClient != nil {
		sinks = append(sinks, events.NewRedisSink(redisClient.Client))
	}
	var archiveDB *sql.DB
	if cfg.PostgresDSN != "" {
		archiveDB, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer archiveDB.Close()
		sinks = append(sinks, events.NewPostgresArchive(archiveDB))
	}
	sinkWorker := events.NewWorker(eventLog.Outbox(), log, sinks...)

	cipherSvc, err := cipher.New(cfg.EncryptionBaseSecret,
		cipher.WithLogger(log),
		cipher.WithEventRecorder(eventLog),
		cipher.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	var backend credentials.Backend
	if redisClient != nil {
		rb := credentials.NewRedisBackend(redisClient.Client)
		for _, material := range []string{cfg.PublicCredential, cfg.PrivilegedCredential} {
			if material != "" {
				if err := rb.Seed(ctx, material); err != nil {
					return err
				}
			}
		}
		backend = rb
	} else {
		backend = credentials.NewMemoryBackend(cfg.PublicCredential, cfg.PrivilegedCredential)
	}

	credStore := credentials.New(backend, cfg.PublicCredential, cfg.PrivilegedCredential, cfg.Rotation,
		credentials.WithLogger(log),
		credentials.WithEventRecorder(eventLog),
		credentials.WithMetrics(m),
		credentials.WithValidationTimeout(cfg.ValidationTimeout),
	)

	scheduler := rotation.New(credStore, backend, cipherSvc, cfg.Rotation, eventLog,
		rotation.WithLogger(log),
		rotation.WithMetrics(m),
	)
	credStore.SetRotator(scheduler)

	twoFactorSvc := twofactor.New(twofactor.NewInMemoryStore(), cipherSvc, eventLog,
		twofactor.WithLogger(log),
		twofactor.WithNotifier(alerts),
		twofactor.WithMetrics(m),
	)

	var classifier *georisk.Classifier
	if cfg.Geo.CityDBPath != "" && cfg.Geo.ASNDBPath != "" {
		lookup, err := georisk.NewMaxMindLookup(cfg.Geo.CityDBPath, cfg.Geo.ASNDBPath)
		if err != nil {
			return err
		}
		defer lookup.Close()
		classifier = georisk.New(lookup, cfg.Geo, eventLog,
			georisk.WithLogger(log),
			georisk.WithMetrics(m),
		)
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.Recoverer)
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequirePrivileged(credStore, log))
		adminRoutes(r, twoFactorSvc, classifier)
	})
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ignoreCancel(sinkWorker.Run(ctx))
	})
	group.Go(func() error {
		return ignoreCancel(scheduler.Run(ctx))
	})
	if cfg.IsProduction() {
		group.Go(func() error {
			return ignoreCancel(credStore.RunValidationLoop(ctx, cfg.ValidationInterval))
		})
	}
	group.Go(func() error {
		log.Info("vigil listening", "addr", cfg.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
