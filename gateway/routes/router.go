package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tranchebook/native/lending"
	"tranchebook/storage/ledgerstore"
)

// Config carries the collaborators the read gateway serves from.
type Config struct {
	Engine *lending.Engine
	Store  *ledgerstore.Store
}

// New builds the read-only REST router: sub-loan lookups, previews, the event
// journal, health and metrics.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	lr := &lendingRoutes{
		engine: cfg.Engine,
		store:  cfg.Store,
		now:    func() uint64 { return uint64(time.Now().Unix()) },
	}
	r.Route("/v1/lending", lr.mount)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)
		slog.Info("gateway request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"durationMs", time.Since(started).Milliseconds(),
		)
	})
}
