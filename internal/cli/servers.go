package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"reserva/internal/submission"
)

func startHealthServer(ctx context.Context, port int, a *app, monitor *submission.Monitor, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := a.db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if a.rdb != nil {
			if err := a.rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if !a.avail.Loaded() {
			http.Error(w, "availability not loaded", http.StatusServiceUnavailable)
			return
		}
		backend := "online"
		if !monitor.Online() {
			backend = "offline"
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready, backend " + backend))
	})

	listen(ctx, port, mux, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	listen(ctx, port, mux, "metrics", logger)
}

// listen serves h on port until ctx is done, then shuts down gracefully.
func listen(ctx context.Context, port int, h http.Handler, name string, logger *zerolog.Logger) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Int("port", port).Str("server", name).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
