package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/keyfs/keyfs/internal/config"
	"github.com/keyfs/keyfs/internal/engine"
	"github.com/keyfs/keyfs/internal/handler"
	"github.com/keyfs/keyfs/internal/kvstore"
	"github.com/keyfs/keyfs/internal/kvstore/memory"
	"github.com/keyfs/keyfs/internal/kvstore/minio"
	"github.com/keyfs/keyfs/internal/kvstore/postgres"
	"github.com/keyfs/keyfs/internal/middleware"
	"github.com/keyfs/keyfs/pkg/logging"
	"github.com/keyfs/keyfs/pkg/logging/slogext"
	"github.com/keyfs/keyfs/pkg/logging/slogpretty"
)

const configPath = "configs/config.yaml"

// registerBackends populates the backend registry. Registration happens
// here, once, before any store is opened; nothing mutates the registry
// afterwards.
func registerBackends() {
	kvstore.Register("memory", memory.Factory)
	kvstore.Register("postgres", postgres.Factory)
	kvstore.Register("minio", minio.Factory)
}

func main() {
	cfg := config.MustLoad(configPath)

	prettyLogger := setupPrettySlog()

	// Root context
	ctx := context.Background()
	ctx = logging.MakeContextWithLogger(ctx, prettyLogger)

	logger := logging.GetLoggerFromContext(ctx)

	registerBackends()

	store, err := kvstore.Open(ctx, cfg.Backend, cfg)
	if err != nil {
		logger.Error("Failed to open key-value store", slogext.Err(err))
		os.Exit(1)
	}

	eng, err := engine.New(ctx, store, cfg.Cache.MaxEntries)
	if err != nil {
		logger.Error("Failed to initialize filesystem engine", slogext.Err(err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	handler.NewHandler(eng).RegisterRoutes(mux)

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.App.Port),
		Handler: middleware.RequestIDMiddleware(
			withContextLogger(ctx, mux),
		),
		ReadTimeout:  cfg.App.DefaultTimeout,
		WriteTimeout: cfg.App.DefaultTimeout,
	}

	logger.Info("keyfs server listening",
		slog.Int("port", cfg.App.Port),
		slog.String("backend", store.Name()),
	)
	if err := server.ListenAndServe(); err != nil {
		logger.Error("Server stopped", slogext.Err(err))
		os.Exit(1)
	}
}

// withContextLogger attaches the root logger to every request context so
// handlers and the engine log through the same configured handler.
func withContextLogger(root context.Context, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.MakeContextWithLogger(r.Context(), logging.GetLoggerFromContext(root))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
