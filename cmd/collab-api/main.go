package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/taskloop/backend/internal/app/collab"
	"github.com/taskloop/backend/internal/app/httpapi"
	"github.com/taskloop/backend/internal/app/identity"
	"github.com/taskloop/backend/internal/app/relay"
	"github.com/taskloop/backend/internal/app/task"
	"github.com/taskloop/backend/internal/platform/auth"
	"github.com/taskloop/backend/internal/platform/dbpool"
	"github.com/taskloop/backend/internal/platform/env"
	"github.com/taskloop/backend/internal/platform/logger"
	"github.com/taskloop/backend/internal/platform/metrics"
	"github.com/taskloop/backend/internal/platform/natsutil"
	"go.uber.org/zap"
)

func main() {
	env.Load()

	log, err := logger.New(logger.Config{
		Level:    env.String("LOG_LEVEL", "info"),
		Encoding: env.String("LOG_ENCODING", "json"),
	})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	addr := env.String("API_ADDR", env.DefaultAPIAddr)
	databaseURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	jwtSecret := env.String("JWT_SECRET", "dev-secret-change-me")
	bootTimeout := env.Duration("BOOT_TIMEOUT", 30*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancelBoot := context.WithTimeout(ctx, bootTimeout)
	defer cancelBoot()

	pool, err := dbpool.New(bootCtx, databaseURL)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	userRepo := identity.NewPostgresRepository(pool)
	taskRepo := task.NewPostgresRepository(pool)
	collabRepo := collab.NewPostgresRepository(pool)
	if err := ensureSchemas(bootCtx, userRepo, taskRepo, collabRepo); err != nil {
		log.Fatal("ensure schemas", zap.Error(err))
	}

	nc, err := natsutil.ConnectJetStreamWithRetry(natsURL, bootTimeout)
	if err != nil {
		log.Fatal("connect nats", zap.Error(err))
	}
	defer nc.Close()

	tokens := auth.NewVerifier(jwtSecret, auth.DefaultTTL)
	publisher := natsutil.JetStreamPublisher{JS: nc.JS}

	identitySvc := identity.NewService(userRepo, tokens)
	taskSvc := task.NewService(taskRepo, publisher.Publish)
	taskSvc.Logger = log.Named("task")
	collabSvc := collab.NewService(collabRepo, taskRepo)

	hub := relay.NewHub()
	bridge, err := relay.StartBridge(nc.JS, hub, log.Named("relay"))
	if err != nil {
		log.Fatal("start relay bridge", zap.Error(err))
	}
	defer func() { _ = bridge.Unsubscribe() }()

	api := httpapi.NewHandler(identitySvc, taskSvc, collabSvc, hub, tokens, log.Named("http"))

	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Get("/readyz", readinessHandler(pool, nc.Conn))
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.Mount("/", api.Router())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: the realtime stream endpoint holds its
		// connection open indefinitely.
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// ensureSchemas retries until every table exists or the boot window closes,
// so the API can start before the database finishes coming up.
func ensureSchemas(ctx context.Context, repos ...schemaEnsurer) error {
	var lastErr error
	for {
		lastErr = nil
		for _, repo := range repos {
			if err := repo.EnsureSchema(ctx); err != nil {
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), lastErr)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func readinessHandler(pool *pgxpool.Pool, conn *nats.Conn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
			return
		}
		if conn.Status() != nats.CONNECTED {
			http.Error(w, "nats unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
